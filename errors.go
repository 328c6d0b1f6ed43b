package gcompute

import (
	"errors"
	"fmt"
)

// Configuration errors. These are returned synchronously and never leave
// partial state behind.
var (
	// ErrDuplicateName is returned by Register when the name is taken.
	ErrDuplicateName = errors.New("gcompute: duplicate buffer name")

	// ErrConflictingUsage is returned when usage flags contradict the layout.
	ErrConflictingUsage = errors.New("gcompute: conflicting buffer usage")

	// ErrInvalidLayout is returned for unusable sizes, strides or names.
	ErrInvalidLayout = errors.New("gcompute: invalid buffer layout")

	// ErrUnknownBuffer is returned when a name is not in the buffer set.
	ErrUnknownBuffer = errors.New("gcompute: unknown buffer")

	// ErrGroupValidation is wrapped by every *GroupValidationError and by
	// request-level validation failures.
	ErrGroupValidation = errors.New("gcompute: group validation failed")

	// ErrUnknownPipeline is returned for handles that are not live.
	ErrUnknownPipeline = errors.New("gcompute: unknown pipeline")

	// ErrPipelineInUse is returned by DestroyPipeline while requests use it.
	ErrPipelineInUse = errors.New("gcompute: pipeline in use")

	// ErrUnknownRequest is returned by Withdraw for ids that are not queued
	// or active.
	ErrUnknownRequest = errors.New("gcompute: unknown request")

	// ErrNotCancellable is returned by Withdraw once a group has started
	// dispatching.
	ErrNotCancellable = errors.New("gcompute: request already dispatching")

	// ErrClosed is returned by engine methods after Close.
	ErrClosed = errors.New("gcompute: engine closed")
)

// Runtime errors, delivered in GroupDoneEvent.Err.
var (
	// ErrDispatchFailed wraps the cause of a failed dispatch submission.
	ErrDispatchFailed = errors.New("gcompute: dispatch failed")

	// ErrReadbackFailed wraps the cause of a failed copy or staging read.
	ErrReadbackFailed = errors.New("gcompute: readback failed")
)

// ErrInvariant is wrapped by *InvariantError.
var ErrInvariant = errors.New("gcompute: invariant violated")

// GroupValidationError reports why a start request was rejected.
type GroupValidationError struct {
	GroupID GroupID

	// PassIndex is the offending pass, or -1 for group-level problems.
	PassIndex int

	Reason string

	// Err is an optional underlying sentinel such as ErrUnknownBuffer.
	Err error
}

func (e *GroupValidationError) Error() string {
	if e.PassIndex < 0 {
		return fmt.Sprintf("gcompute: group %d: %s", e.GroupID, e.Reason)
	}
	return fmt.Sprintf("gcompute: group %d pass %d: %s", e.GroupID, e.PassIndex, e.Reason)
}

// Unwrap exposes ErrGroupValidation and the underlying sentinel, if any.
func (e *GroupValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGroupValidation}
	}
	return []error{ErrGroupValidation, e.Err}
}

// InvariantError is the panic value for broken contracts between the engine
// and its callers, such as releasing a buffer that holds no retains or
// replacing a buffer that is in flight. It is never returned as an error.
type InvariantError struct {
	Op     string
	Buffer string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("gcompute: invariant violated: %s %q: %s", e.Op, e.Buffer, e.Detail)
}

// Unwrap returns ErrInvariant.
func (e *InvariantError) Unwrap() error { return ErrInvariant }

func invariant(op, buffer, format string, args ...any) {
	panic(&InvariantError{Op: op, Buffer: buffer, Detail: fmt.Sprintf(format, args...)})
}
