// Package merrors is a unified errors package for the module binding layer so
// that bootstrap, handle recovery, and dispatch failures can be formatted and
// handled in a uniform way before they are surfaced to the engine.
package merrors

import "fmt"

type (
	// ErrorKind is an enum to describe where the error originates from.
	ErrorKind int
	// Error captures all errors raised by the binding layer. It distinguishes
	// between protocol violations, bad script-level arguments, and module
	// naming collisions so that shim boundaries can decide how to report them.
	Error struct {
		Kind   ErrorKind
		Module string
		Err    error
	}
)

const (
	// ProtocolErr is a host/engine contract violation: wrong value type at a
	// recovery point, mismatched type key, malformed descriptor.
	ProtocolErr ErrorKind = iota
	// ArgumentErr is a bad script-level argument. Expected and recoverable by
	// the calling script.
	ArgumentErr
	// CollisionErr is a module naming collision detected at bootstrap.
	CollisionErr
)

func (err *Error) Error() string {
	switch err.Kind {
	case ProtocolErr:
		return fmt.Sprintf("%v: protocol violation: %v", err.Module, err.Err)
	case CollisionErr:
		return fmt.Sprintf("%v: %v", err.Module, err.Err)
	default:
		return err.Err.Error()
	}
}

func (err *Error) Unwrap() error { return err.Err }

// Newf formats a new binding error of the given kind.
func Newf(kind ErrorKind, module, format string, args ...any) *Error {
	return &Error{Kind: kind, Module: module, Err: fmt.Errorf(format, args...)}
}
