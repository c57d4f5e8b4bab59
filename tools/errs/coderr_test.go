package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same code", ErrNotFound.WrapMsg("challenge"), ErrNotFound, true},
		{"different code", ErrNotFound.WrapMsg("challenge"), ErrConflict, false},
		{"child of invalid state", ErrAlreadyAuthorized.Wrap(), ErrInvalidState, true},
		{"consumed is invalid state", ErrAlreadyConsumed.WrapMsg("x", "id", 1), ErrInvalidState, true},
		{"parent is not child", ErrInvalidState.Wrap(), ErrNotAuthorized, false},
		{"wrapped by fmt", fmt.Errorf("outer: %w", ErrTransient.Wrap()), ErrTransient, true},
		{"plain error", errors.New("boom"), ErrNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapMsgDoesNotMutatePredefined(t *testing.T) {
	err := ErrNotFound.WrapMsg("challenge missing", "token", "abc")
	if ErrNotFound.Detail != "" {
		t.Fatalf("predefined error mutated: %q", ErrNotFound.Detail)
	}
	ce := Code(err)
	if ce == nil {
		t.Fatal("Code() returned nil")
	}
	if ce.Code != NotFoundError {
		t.Errorf("Code = %d, want %d", ce.Code, NotFoundError)
	}
	if !strings.Contains(ce.Detail, "token=abc") {
		t.Errorf("Detail = %q, want it to contain token=abc", ce.Detail)
	}
}

func TestCodeOnPlainError(t *testing.T) {
	if Code(errors.New("x")) != nil {
		t.Error("expected nil CodeError for plain error")
	}
	if WrapMsg(nil, "m") != nil {
		t.Error("wrapping nil must stay nil")
	}
}

func TestErrPanic(t *testing.T) {
	if ErrPanic(nil) != nil {
		t.Error("ErrPanic(nil) != nil")
	}
	err := ErrPanic("boom")
	if !errors.Is(err, ErrInternal) {
		t.Errorf("ErrPanic() = %v, want internal", err)
	}
	if ce := Code(err); ce == nil || !strings.Contains(ce.Detail, "value=boom") {
		t.Errorf("detail = %+v", ce)
	}
}
