package models

import "errors"

// Pipeline error taxonomy. Callers wrap these with fmt.Errorf("...: %w", ...) and
// test with errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtraction        = errors.New("extraction error")
	ErrEmbeddingService  = errors.New("embedding service error")
	ErrVectorWrite       = errors.New("vector write error")
	ErrGeneration        = errors.New("generation error")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNetwork           = errors.New("network error")
	ErrTimeout           = errors.New("timeout")
	ErrAuth              = errors.New("authentication error")
	ErrNotFound          = errors.New("not found")
)
