package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Lllllllleong/cropsense-rag/internal/models"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Class is the retry decision for an error.
type Class int

const (
	// Permanent errors abort immediately.
	Permanent Class = iota
	// Retryable errors consume another attempt.
	Retryable
	// Auth errors are permanent and surfaced as models.ErrAuth.
	Auth
	// Canceled means the caller gave up; nothing more is attempted.
	Canceled
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Auth:
		return "auth"
	case Canceled:
		return "canceled"
	default:
		return "permanent"
	}
}

// Classify decides whether err is worth another attempt. Unknown errors are permanent.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Canceled
	case errors.Is(err, models.ErrAuth):
		return Auth
	case errors.Is(err, models.ErrRateLimitExceeded):
		return Permanent
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, models.ErrTimeout),
		errors.Is(err, models.ErrNetwork):
		return Retryable
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyHTTP(gerr.Code)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		return classifyGRPC(st.Code())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}

	return Permanent
}

func classifyHTTP(code int) Class {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return Auth
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return Retryable
	case code >= 500:
		return Retryable
	default:
		return Permanent
	}
}

func classifyGRPC(code codes.Code) Class {
	switch code {
	case codes.Unauthenticated, codes.PermissionDenied:
		return Auth
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Internal, codes.Unknown:
		return Retryable
	case codes.Canceled:
		return Canceled
	default:
		return Permanent
	}
}

// Tag wraps err with the taxonomy sentinel matching its class so callers can test it
// with errors.Is.
func Tag(err error) error {
	if err == nil {
		return nil
	}
	switch Classify(err) {
	case Auth:
		if !errors.Is(err, models.ErrAuth) {
			return fmt.Errorf("%w: %w", models.ErrAuth, err)
		}
	case Retryable:
		if isTimeout(err) && !errors.Is(err, models.ErrTimeout) {
			return fmt.Errorf("%w: %w", models.ErrTimeout, err)
		}
		if !isTimeout(err) && !errors.Is(err, models.ErrNetwork) {
			return fmt.Errorf("%w: %w", models.ErrNetwork, err)
		}
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, models.ErrTimeout) {
		return true
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.DeadlineExceeded {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusRequestTimeout {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
