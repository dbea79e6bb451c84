package jobs

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSourceUnavailable     = errors.New("source unavailable")
	ErrSourceRateLimited     = errors.New("source rate limited")
	ErrMatcherUnavailable    = errors.New("matcher unavailable")
	ErrMatcherQuotaExhausted = errors.New("matcher quota exhausted")
	ErrMatcherNotFound       = errors.New("matcher reference not found")
	ErrInvalidQuery          = errors.New("invalid query")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrRunInProgress         = errors.New("sync run already in progress")
)

// Error is a classified failure. Kind is one of the sentinel errors above and
// is what callers match on with errors.Is.
type Error struct {
	Kind       error
	Op         string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable and RetryAfterHint satisfy the retry package classifier.
func (e *Error) IsRetryable() bool { return e.Retryable }

func (e *Error) RetryAfterHint() time.Duration { return e.RetryAfter }

// Transient builds a retryable error of the given kind.
func Transient(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Retryable: true, Err: err}
}

// Permanent builds a non-retryable error of the given kind.
func Permanent(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// StoreError wraps a storage-layer failure.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return Permanent(ErrStoreUnavailable, op, err)
}

func InvalidQuery(format string, args ...any) error {
	return Permanent(ErrInvalidQuery, "", fmt.Errorf(format, args...))
}
