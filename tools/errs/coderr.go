// Package errs is the coded error taxonomy shared by every layer. Services
// return CodeErrors wrapped with a stack; the gateway maps the code to an
// HTTP status and writes the CodeError as the response body.
package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) ECode() int { return e.Code }

// Wrap returns a copy of e carrying the caller's stack.
func (e *CodeError) Wrap() error {
	c := *e
	return pkgerrors.WithStack(&c)
}

// WrapMsg is Wrap with msg and the key/value pairs appended to the detail.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	c := *e
	if d := toString(msg, kv); d != "" {
		if c.Detail != "" {
			c.Detail += ", "
		}
		c.Detail += d
	}
	return pkgerrors.WithStack(&c)
}

// Is matches a target of the same code or of a registered parent class,
// so errors.Is(ErrAlreadyAuthorized.Wrap(), ErrInvalidState) holds.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if e == nil || !errors.As(target, &t) || t == nil {
		return false
	}
	return t.Code == e.Code || relations.has(t.Code, e.Code)
}

func (e *CodeError) Error() string {
	s := strconv.Itoa(e.Code) + " " + e.Msg
	if e.Detail != "" {
		s += " " + e.Detail
	}
	return s
}

// Code extracts the CodeError from err's chain; nil when there is none.
func Code(err error) *CodeError {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func New(msg string, kv ...any) error {
	return pkgerrors.New(toString(msg, kv))
}

// ErrPanic turns a recovered value into an internal error with a stack.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return ErrInternal.WrapMsg("panic", "value", fmt.Sprint(r))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprint(&sb, kv[i])
		sb.WriteByte('=')
		if i+1 < len(kv) {
			fmt.Fprint(&sb, kv[i+1])
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}

// relation records which codes belong to a broader class.
type relation struct {
	mu       sync.RWMutex
	children map[int]map[int]struct{}
}

var relations = &relation{children: make(map[int]map[int]struct{})}

// Relate makes every child code match parent in errors.Is.
func Relate(parent int, children ...int) {
	relations.mu.Lock()
	defer relations.mu.Unlock()
	s, ok := relations.children[parent]
	if !ok {
		s = make(map[int]struct{}, len(children))
		relations.children[parent] = s
	}
	for _, c := range children {
		s[c] = struct{}{}
	}
}

func (r *relation) has(parent, child int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.children[parent][child]
	return ok
}
