package bind

import (
	"runtime/cgo"

	"github.com/tanema/modbind/src/conf"
	"github.com/tanema/modbind/src/engine"
	"github.com/tanema/modbind/src/merrors"
)

// Context is the per-module anchor created during bootstrap. It records the
// module identity, the working directory the host resolved for it, and the
// borrowed host handle, and it namespaces every type key of the objects the
// module exposes. Exactly one Context exists per loaded module; the engine's
// collector owns it exclusively and native code only borrows it through
// [FromHandle]. A Context is immutable after construction.
type Context struct {
	rt         *Runtime
	name       string
	workingDir string
	host       engine.HostHandle
}

// Runtime returns the runtime handle this context was bootstrapped with.
func (c *Context) Runtime() *Runtime { return c.rt }

// ModuleName reports the name of the module owning this context.
func (c *Context) ModuleName() string { return c.name }

// WorkingDirectory reports the full path to the directory the current script
// is working in.
func (c *Context) WorkingDirectory() string { return c.workingDir }

// ConfigurationsPath resolves the full path where this module stores its
// configurations, in the form <host data root>/config/<module>. Resolution is
// delegated to the host: the buffer starts at conf.INITIALPATHBUFFER bytes
// and doubles while the host reports a required length that does not fit.
// The reported length includes the host's terminating zero byte, so a zero
// report cannot name any path and is rejected as a contract violation.
func (c *Context) ConfigurationsPath() (string, error) {
	size := conf.INITIALPATHBUFFER
	for {
		buffer := make([]byte, size)
		required := c.rt.api.ModuleConfigurationsPath(c.host, c.name, buffer)
		if required == 0 {
			return "", merrors.Newf(merrors.ProtocolErr, c.name, "host reported a zero-length configurations path")
		}
		if int(required) <= size {
			return string(buffer[:required-1]), nil
		}
		size *= 2
	}
}

// typeKey produces the context-and-module-qualified metatable name for an
// exposed type. Only the registry constructs keys, so a key for a type can
// only ever originate from code instantiated for that type.
func (c *Context) typeKey(typeName string) string {
	return c.name + ".userdata." + typeName
}

// FromHandle recovers a borrowed Context from the opaque slot at index. It
// validates before dereferencing anything: the value must be an opaque slot,
// must carry a metatable, the metatable's declared name must be readable, and
// the name must be the bare module name rather than the qualified key of an
// exposed object. Any failure is reported without touching the stored
// address, since type confusion here is exactly what this routine exists to
// prevent.
func FromHandle(rt *Runtime, s engine.State, index int) (*Context, error) {
	api := rt.api
	if !api.IsUserdata(s, index) {
		return nil, merrors.Newf(merrors.ProtocolErr, rt.module, "value at #%v is not an opaque slot", index)
	}
	if !api.GetMetatable(s, index) {
		return nil, merrors.Newf(merrors.ProtocolErr, rt.module, "slot at #%v has no metatable", index)
	}
	api.SetTop(s, api.GetTop(s)-1)
	if api.GetMetafield(s, index, "__name") == engine.TypeNil {
		return nil, merrors.Newf(merrors.ProtocolErr, rt.module, "slot at #%v has no readable type tag", index)
	}
	name, readable := api.ToLString(s, -1)
	api.SetTop(s, api.GetTop(s)-1)
	if !readable {
		return nil, merrors.Newf(merrors.ProtocolErr, rt.module, "slot at #%v has an unreadable type tag", index)
	}
	if name != rt.module {
		return nil, merrors.Newf(merrors.ProtocolErr, rt.module, "slot at #%v is tagged %q, not the module context", index, name)
	}
	cell := api.ToUserdata(s, index)
	if cell == nil || *cell == 0 {
		return nil, merrors.Newf(merrors.ProtocolErr, rt.module, "context slot at #%v is empty", index)
	}
	ctx, ok := cgo.Handle(*cell).Value().(*Context)
	if !ok {
		return nil, merrors.Newf(merrors.ProtocolErr, rt.module, "slot tagged %q holds a foreign value", name)
	}
	return ctx, nil
}

// CheckContext recovers the Context at index or raises through the engine.
// Use it inside dispatch code where failure must not return.
func CheckContext(rt *Runtime, s engine.State, index int) *Context {
	ctx, err := FromHandle(rt, s, index)
	if err != nil {
		rt.RaiseError(s, err)
	}
	return ctx
}
