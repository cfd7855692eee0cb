package models

// Mode tags how an answer was produced.
type Mode string

const (
	ModeGrounded  Mode = "gemini_with_rag"
	ModeDirect    Mode = "gemini_direct"
	ModeRateLimit Mode = "rate_limit"
	ModeError     Mode = "error"
)

// Source is a citation attached to a grounded answer.
type Source struct {
	Title      string `json:"title"`
	Excerpt    string `json:"excerpt"`
	PageNumber int    `json:"pageNumber,omitempty"`
	Locator    string `json:"locator,omitempty"`
}

// Timing records how long each stage of an answer took, in milliseconds.
type Timing struct {
	RetrievalMs  int64 `json:"retrievalMs"`
	GenerationMs int64 `json:"generationMs"`
	TotalMs      int64 `json:"totalMs"`
}

// RAGResponse is the result of the answer generator.
type RAGResponse struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Mode     Mode     `json:"mode"`
	Cached   bool     `json:"cached"`
	TopScore float64  `json:"topScore"`
	Timing   Timing   `json:"timing"`
}
