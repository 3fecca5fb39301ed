// Package bind implements the context-scoped object binding protocol between
// a loadable native module and the host's embedded stack engine. It
// bootstraps the module against a host capability table, anchors all exposed
// values to a per-module [Context], and boxes native values behind opaque
// engine slots so that the engine's collector is the single owner of their
// lifetime. Native code only ever borrows back through validated recovery,
// never through raw casts.
package bind

import (
	"fmt"

	"github.com/tanema/modbind/src/engine"
)

// Runtime bundles the borrowed capability table with the module identity it
// was handed to. It is constructed once at bootstrap and threaded explicitly
// through every subsequent call instead of living in process globals, so two
// modules loaded into one process can never observe each other's identity.
type Runtime struct {
	api    *engine.CapabilityTable
	module string
}

// ModuleName reports the identity the host assigned to this module at load
// time.
func (rt *Runtime) ModuleName() string { return rt.module }

// Capabilities returns the borrowed capability table. The table is immutable
// and shared; callers must never retain it past the process lifetime rules
// described in package engine.
func (rt *Runtime) Capabilities() *engine.CapabilityTable { return rt.api }

// PushNil pushes a nil value onto the stack.
func (rt *Runtime) PushNil(s engine.State) { rt.api.PushNil(s) }

// PushString pushes a string onto the stack. The string can contain any
// binary data, including embedded zeros.
func (rt *Runtime) PushString(s engine.State, value string) { rt.api.PushString(s, value) }

// PushInteger pushes an integer onto the stack.
func (rt *Runtime) PushInteger(s engine.State, value int64) { rt.api.PushInteger(s, value) }

// PushNumber pushes a float onto the stack.
func (rt *Runtime) PushNumber(s engine.State, value float64) { rt.api.PushNumber(s, value) }

// PushBoolean pushes a boolean onto the stack.
func (rt *Runtime) PushBoolean(s engine.State, value bool) { rt.api.PushBoolean(s, value) }

// PushFunc pushes a plain function with no upvalues onto the stack. When the
// engine calls it, the corresponding native function is invoked.
func (rt *Runtime) PushFunc(s engine.State, value engine.Func) { rt.api.PushClosure(s, value, 0) }

// CreateTable creates a new empty table and pushes it onto the stack. The
// elements and fields arguments are preallocation hints for how many sequence
// and hash entries the table will hold.
func (rt *Runtime) CreateTable(s engine.State, elements, fields int) {
	rt.api.CreateTable(s, elements, fields)
}

// SetFuncs registers all entries into the table on the top of the stack.
// When upvalues is not zero, every function is created sharing copies of the
// upvalues values previously pushed above the table; those values are popped
// after registration.
func (rt *Runtime) SetFuncs(s engine.State, entries []engine.Reg, upvalues int) {
	rt.api.SetFuncs(s, entries, upvalues)
}

// CheckString checks that the function argument arg is a string and returns
// it; raises through the engine otherwise.
func (rt *Runtime) CheckString(s engine.State, arg int) string {
	return rt.api.CheckLString(s, arg)
}

// CheckInteger checks that the function argument arg is an integer and
// returns it; raises through the engine otherwise.
func (rt *Runtime) CheckInteger(s engine.State, arg int) int64 {
	return rt.api.CheckInteger(s, arg)
}

// CheckNumber checks that the function argument arg is a number and returns
// it; raises through the engine otherwise.
func (rt *Runtime) CheckNumber(s engine.State, arg int) float64 {
	return rt.api.CheckNumber(s, arg)
}

// OptString returns the function argument arg as a string, or def when the
// argument is absent or nil.
func (rt *Runtime) OptString(s engine.State, arg int, def string) string {
	return rt.api.OptLString(s, arg, def)
}

// OptInteger returns the function argument arg as an integer, or def when
// the argument is absent or nil.
func (rt *Runtime) OptInteger(s engine.State, arg int, def int64) int64 {
	return rt.api.OptInteger(s, arg, def)
}

// TypeError raises a type error for argument arg using a standard message;
// expect names the expected type. Control does not return past the raise.
func (rt *Runtime) TypeError(s engine.State, arg int, expect string) int32 {
	return rt.api.TypeError(s, arg, expect)
}

// ArgError raises an error reporting a problem with argument arg, including
// comment in the standard message. Control does not return past the raise.
func (rt *Runtime) ArgError(s engine.State, arg int, comment string) int32 {
	return rt.api.ArgError(s, arg, comment)
}

// RaiseError reports err through the engine's error mechanism. Control does
// not return past the raise; the int32 exists so that dispatch shims can
// write `return rt.RaiseError(...)`.
func (rt *Runtime) RaiseError(s engine.State, err error) int32 {
	return rt.api.AuxError(s, err.Error())
}

// RaiseErrorf formats and raises an engine error.
func (rt *Runtime) RaiseErrorf(s engine.State, format string, args ...any) int32 {
	return rt.api.AuxError(s, fmt.Sprintf(format, args...))
}
