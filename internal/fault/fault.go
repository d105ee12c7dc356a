// Package fault defines the error taxonomy shared by the pipeline stages and the workflows.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller must react to it.
type Kind string

const (
	// KindTransient covers network failures, timeouts, throttling and 5xx responses. Retried with backoff.
	KindTransient Kind = "TransientServiceError"
	// KindInvalidTransition is a ledger or record state guard violation. Logged and dropped.
	KindInvalidTransition Kind = "InvalidTransition"
	// KindNotFound means a referenced entity does not exist. Never retried.
	KindNotFound Kind = "NotFound"
	// KindUnclassified is everything else. Terminal.
	KindUnclassified Kind = "UnclassifiedError"
)

// Sentinels for errors.Is checks.
var (
	ErrTransient         = errors.New("transient service error")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
)

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrInvalidTransition:
		return e.Kind == KindInvalidTransition
	case ErrNotFound:
		return e.Kind == KindNotFound
	}
	return false
}

// Transient wraps err as a retryable service error.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// NotFound reports a missing entity.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

// InvalidTransition reports a state guard violation.
func InvalidTransition(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidTransition, Op: op, Err: fmt.Errorf(format, args...)}
}

// Unclassified wraps err as terminal.
func Unclassified(op string, err error) error {
	return &Error{Kind: KindUnclassified, Op: op, Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return Classify(err) == KindTransient }

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidTransition reports whether err is a state guard violation.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
