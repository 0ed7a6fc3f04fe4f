package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by human operations
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOverrideRequired  = errors.New("manual override required to send this message")
	ErrNoDraft           = errors.New("message has no draft")
	ErrSendInProgress    = errors.New("message is already being sent")
)

// Kind classifies a stage failure
type Kind int

const (
	KindTransientConnection Kind = iota + 1 // mail server unreachable
	KindTransientService                    // AI service overloaded, rate limited or unreachable
	KindContent                             // unusable generated text
	KindFatal                               // retrying cannot help
)

func (k Kind) String() string {
	switch k {
	case KindTransientConnection:
		return "transient connection"
	case KindTransientService:
		return "transient service"
	case KindContent:
		return "content"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Stage names a pipeline step
type Stage string

const (
	StageLoad     Stage = "load"
	StageClassify Stage = "classify"
	StageDraft    Stage = "draft"
	StageValidate Stage = "validate"
	StageDispatch Stage = "dispatch"
)

// Error is a classified stage failure
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. Errors exposing Temporary() are service errors,
// errors exposing Transient() are connection errors, context errors are
// fatal and anything else is treated as a transient service failure.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}

	var conn interface{ Transient() bool }
	if errors.As(err, &conn) {
		if conn.Transient() {
			return KindTransientConnection
		}
		return KindFatal
	}

	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		if temp.Temporary() {
			return KindTransientService
		}
		return KindFatal
	}
	return KindTransientService
}

// IsRetryable reports whether retrying the failed stage may succeed
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientConnection, KindTransientService, KindContent:
		return true
	}
	return false
}

func wrap(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: KindOf(err), Stage: stage, Err: err}
}
