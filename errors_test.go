package gcompute

import (
	"errors"
	"testing"
)

func TestGroupValidationError(t *testing.T) {
	err := &GroupValidationError{GroupID: 3, PassIndex: 1, Reason: "buffer \"x\" is not declared", Err: ErrUnknownBuffer}
	if got, want := err.Error(), `gcompute: group 3 pass 1: buffer "x" is not declared`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrGroupValidation) || !errors.Is(err, ErrUnknownBuffer) {
		t.Error("error does not unwrap to both sentinels")
	}

	group := &GroupValidationError{GroupID: 2, PassIndex: -1, Reason: "group has no passes"}
	if got, want := group.Error(), "gcompute: group 2: group has no passes"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if errors.Is(group, ErrUnknownBuffer) {
		t.Error("group-level error matched an unrelated sentinel")
	}
}

func TestInvariantErrorIsNotARuntimeError(t *testing.T) {
	err := error(&InvariantError{Op: "release", Buffer: "b", Detail: "no read retain held"})
	if !errors.Is(err, ErrInvariant) {
		t.Error("InvariantError does not unwrap to ErrInvariant")
	}
	for _, sentinel := range []error{ErrDispatchFailed, ErrReadbackFailed, ErrGroupValidation} {
		if errors.Is(err, sentinel) {
			t.Errorf("InvariantError matches %v", sentinel)
		}
	}
}
