// Package errs defines the error taxonomy shared by the binder, executor,
// training loop and persistence bridge.
package errs

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this module wraps exactly one of them.
var (
	ErrConfig        = errors.New("configuration error")
	ErrSchema        = errors.New("schema error")
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrUnsupported   = errors.New("unsupported")
	ErrDecode        = errors.New("decode error")
	ErrIO            = errors.New("i/o error")
	ErrEngine        = errors.New("engine error")
)

// Error records the operation and the offending name alongside the kind.
type Error struct {
	Kind error  // One of the Err* sentinels
	Op   string // Operation that failed (e.g. "bind", "train", "load")
	Name string // Column, tensor or file name involved, if any
	Err  error  // Underlying cause, may be nil
	Msg  string // Human-readable detail
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Name != "" {
		s += fmt.Sprintf(" (%q)", e.Name)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error of the given kind.
func New(kind error, op, name, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Name: name, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around err.
func Wrap(kind error, op, name string, err error) *Error {
	return &Error{Kind: kind, Op: op, Name: name, Err: err}
}
