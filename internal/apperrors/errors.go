// Package apperrors provides the error taxonomy for the search core.
// Every remote-call site classifies failures into missing-index,
// transient or other before deciding between retry and surface.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors. Check with errors.Is.
var (
	// ErrMissingIndex indicates the store rejected a query because the
	// predicate/order combination has no composite index. Recoverable by
	// re-planning without the ordering clause; never surfaced.
	ErrMissingIndex = errors.New("missing composite index")

	// ErrTransient indicates a temporary store failure. Surfaced as a
	// retryable state; the current query generation stays valid.
	ErrTransient = errors.New("transient store failure")

	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates a malformed caller request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrExhausted indicates a forward jump ran past the last page the
	// store can produce.
	ErrExhausted = errors.New("result set exhausted")
)

// Kind is the coarse failure class used at retry/surface decision points.
type Kind int

const (
	// KindTransient covers temporary failures and, per policy, anything
	// unclassifiable.
	KindTransient Kind = iota
	// KindMissingIndex covers composite-index rejections.
	KindMissingIndex
	// KindOther covers failures that are neither retryable nor
	// recoverable by re-planning (bad input, canceled context).
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindMissingIndex:
		return "missing_index"
	case KindOther:
		return "other"
	default:
		return "transient"
	}
}

// Classify maps an error to its Kind. Unclassifiable errors are treated
// as transient so callers surface a retryable state rather than crash.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrMissingIndex):
		return KindMissingIndex
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindOther
	default:
		return KindTransient
	}
}

// MissingIndex tags an error as a composite-index rejection, preserving
// the underlying cause for logging.
func MissingIndex(detail string) error {
	return fmt.Errorf("%w: %s", ErrMissingIndex, detail)
}

// Transient tags an error as a temporary store failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
