package retrieval

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedMethod is returned by backends that only serve GET.
	ErrUnsupportedMethod = errors.New("unsupported method")
	// ErrSoftFailure marks a placeholder page served in place of the real document.
	ErrSoftFailure = errors.New("soft failure")
	// ErrHardFailure marks a response with a known non-200 status.
	ErrHardFailure = errors.New("hard failure")
	// ErrRetrievalExhausted is returned once the retry budget is spent on soft failures.
	ErrRetrievalExhausted = errors.New("retrieval exhausted")
)

// HardFailureError carries the status of a non-200 response. The document is still returned.
type HardFailureError struct {
	Identity   Identity
	StatusCode int
}

func (e *HardFailureError) Error() string {
	return fmt.Sprintf("%s: status %d for %s", ErrHardFailure, e.StatusCode, e.Identity)
}

// Is matches ErrHardFailure.
func (e *HardFailureError) Is(target error) bool {
	return target == ErrHardFailure
}

// ExhaustedError reports an identity that kept failing softly for every attempt.
type ExhaustedError struct {
	Identity Identity
	Attempts int
	// Last is the message of the final soft failure.
	Last string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts", ErrRetrievalExhausted, e.Identity, e.Attempts)
}

// Is matches ErrRetrievalExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetrievalExhausted
}

// Unwrap exposes the soft failure that exhausted the budget.
func (e *ExhaustedError) Unwrap() error {
	if e.Last == "" {
		return ErrSoftFailure
	}
	return fmt.Errorf("%w: %s", ErrSoftFailure, e.Last)
}
