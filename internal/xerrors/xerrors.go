// Package xerrors adds call-site information to errors for the structured
// logger. New and Newf capture a stack. Wrap and Wrapf record only the single
// frame that wrapped. The log package reads both through the StackPCs and PC
// methods and never needs to know these types.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }

// skip counts frames above the function calling withStackSkip
func withStackSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return &withStack{err: err, pcs: pcs[:n]}
}

// WithStack attaches the caller's stack to err. nil stays nil.
func WithStack(err error) error { return withStackSkip(err, 1) }

// EnsureTrace attaches a stack unless err already carries one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return withStackSkip(err, 1)
}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error { return w.err }
func (w *wrap) PC() uintptr   { return w.pc }

func callerPC() uintptr {
	var pcs [1]uintptr
	// skip runtime.Callers, callerPC and the Wrap/Wrapf frame
	if runtime.Callers(3, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// Wrap prefixes err with msg and records the wrapping call site. nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC()}
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC()}
}

// New returns an error with the caller's stack.
func New(msg string) error { return withStackSkip(errors.New(msg), 1) }

// Newf is New with a format string. %w verbs wrap as with fmt.Errorf.
func Newf(format string, args ...any) error {
	return withStackSkip(fmt.Errorf(format, args...), 1)
}
