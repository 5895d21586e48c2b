// Package errs classifies pipeline failures into the kinds the
// orchestrators branch on. Everything else propagates as plain wrapped
// errors.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindStorageTransient Kind = "StorageTransient"
	KindStorageFatal     Kind = "StorageFatal"
	KindRagUnavailable   Kind = "RagUnavailable"
	KindLLMThrottled     Kind = "LLMThrottled"
	KindLLMTransient     Kind = "LLMTransient"
	KindLLMBadOutput     Kind = "LLMBadOutput"
	KindLocationResolve  Kind = "LocationResolveError"
	KindPublish          Kind = "PublishError"
	KindDeadline         Kind = "Deadline"
)

// Error tags an underlying failure with a kind and the operation that hit it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err, or "" when err carries no tag.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) carries kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// Retryable reports whether the failure is worth retrying.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindStorageTransient, KindLLMThrottled, KindLLMTransient, KindRagUnavailable:
		return true
	}
	return false
}
