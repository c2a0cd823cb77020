package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest marks malformed input to a gateway call. Never retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrGenerationUnavailable marks a transient capability failure (transport, quota, timeout).
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrGenerationRejected marks a capability refusal (content policy, malformed payload).
	ErrGenerationRejected = errors.New("generation rejected")
	// ErrVariationGenerationFailed marks a batch that stayed below three variations after retries.
	ErrVariationGenerationFailed = errors.New("variation generation failed")
	// ErrRefinementLimitReached marks a refine request past the configured maximum.
	ErrRefinementLimitReached = errors.New("refinement limit reached")
	// ErrInvalidStateTransition marks an operation whose session prerequisite is missing.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
)

const (
	CodeInvalidRequest            = "invalid_request"
	CodeGenerationUnavailable     = "generation_unavailable"
	CodeGenerationRejected        = "generation_rejected"
	CodeVariationGenerationFailed = "variation_generation_failed"
	CodeRefinementLimitReached    = "refinement_limit_reached"
	CodeInvalidStateTransition    = "invalid_state_transition"
	CodeNotFound                  = "not_found"
	CodeInternal                  = "internal_error"
)

// StageError attaches orchestration context to a taxonomy error.
type StageError struct {
	Stage       string
	TaskKind    string
	VariationID int
	Iteration   int
	Reason      string
	Err         error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	if e.TaskKind != "" {
		fmt.Fprintf(&b, " task=%s", e.TaskKind)
	}
	if e.VariationID > 0 {
		fmt.Fprintf(&b, " variation=%d", e.VariationID)
	}
	if e.Iteration > 0 {
		fmt.Fprintf(&b, " iteration=%d", e.Iteration)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// TransitionError names the prerequisite an operation was missing.
type TransitionError struct {
	Op      string
	Missing string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s requires %s", ErrInvalidStateTransition.Error(), e.Op, e.Missing)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// Transition builds a TransitionError.
func Transition(op, missing string) error {
	return &TransitionError{Op: op, Missing: missing}
}

// Recoverable reports whether the caller may retry the failed call.
// An abandoned or timed-out call left no partial state behind, so it counts too.
func Recoverable(err error) bool {
	return errors.Is(err, ErrGenerationUnavailable) || abandoned(err)
}

func abandoned(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Reason returns the rejection reason carried by err, if any.
func Reason(err error) string {
	for err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			return ""
		}
		if se.Reason != "" {
			return se.Reason
		}
		err = se.Err
	}
	return ""
}

// Code maps an error to its stable API code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrVariationGenerationFailed):
		return CodeVariationGenerationFailed
	case errors.Is(err, ErrRefinementLimitReached):
		return CodeRefinementLimitReached
	case errors.Is(err, ErrInvalidStateTransition):
		return CodeInvalidStateTransition
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrGenerationRejected):
		return CodeGenerationRejected
	case errors.Is(err, ErrGenerationUnavailable), abandoned(err):
		return CodeGenerationUnavailable
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
