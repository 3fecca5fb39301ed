package bind

import (
	"runtime/cgo"

	"github.com/tanema/modbind/src/engine"
	"github.com/tanema/modbind/src/merrors"
)

// EntryFunc is the module's declared entry point. Bootstrap wraps it in a
// dispatch shim that recovers the owning context before forwarding, so the
// entry receives a validated borrow rather than an engine index. A returned
// error is reported through the engine's error mechanism.
type EntryFunc func(*Context, engine.State) (int32, error)

// Bootstrap performs the load-time exchange with the host. It validates the
// capability table and descriptor revisions, builds the module Context from
// the descriptor fields, moves the Context behind an engine-owned opaque
// slot guarded by a finalizer, and leaves two values on the stack: the
// callable entry point and the context slot. The returned arity is always 2
// on success.
//
// If a metatable carrying this module's name already exists, a distinct load
// has claimed the same identity. Bootstrap then discards the partially built
// Context, restores the stack to its depth before the call, and raises an
// engine error naming the module; control does not return on that path.
func Bootstrap(desc *engine.BootstrapDescriptor, api *engine.CapabilityTable, entry EntryFunc) (int32, error) {
	if err := api.Check(); err != nil {
		return 0, err
	}
	if err := desc.Check(); err != nil {
		return 0, err
	}

	rt := &Runtime{api: api, module: desc.Name}
	ctx := &Context{
		rt:         rt,
		name:       desc.Name,
		workingDir: desc.WorkingDirectory,
		host:       desc.Host,
	}

	s := desc.State
	base := api.GetTop(s)
	cell := api.NewUserdata(s, 1)
	box := cgo.NewHandle(ctx)
	*cell = uintptr(box)

	if !api.NewMetatable(s, desc.Name) {
		box.Delete()
		*cell = 0
		api.SetTop(s, base)
		err := merrors.Newf(merrors.CollisionErr, desc.Name, "module %q is already loaded: metatable name collision", desc.Name)
		return rt.RaiseError(s, err), nil
	}
	api.PushString(s, "__gc")
	api.PushClosure(s, contextFinalizer(rt), 0)
	api.SetTable(s, -3)
	api.SetMetatable(s, -2)

	api.PushValue(s, -1)
	api.PushClosure(s, entryShim(rt, entry), 1)
	api.Rotate(s, -2, 1)
	return 2, nil
}

// entryShim is the trampoline the engine calls to enter the module. The
// context slot travels as upvalue 1.
func entryShim(rt *Runtime, entry EntryFunc) engine.Func {
	return func(s engine.State) int32 {
		ctx, err := FromHandle(rt, s, engine.UpvalueIndex(1))
		if err != nil {
			return rt.RaiseError(s, err)
		}
		results, err := entry(ctx, s)
		if err != nil {
			return rt.RaiseError(s, err)
		}
		return results
	}
}

// contextFinalizer destroys the Context when the engine collects its slot.
// The engine guarantees a single collection per slot; this relies on that
// guarantee and performs exactly one deallocation.
func contextFinalizer(rt *Runtime) engine.Func {
	return func(s engine.State) int32 {
		cell := rt.api.CheckUserdata(s, 1, rt.module)
		if cell == nil || *cell == 0 {
			return rt.RaiseError(s, merrors.Newf(merrors.ProtocolErr, rt.module, "context finalizer invoked on an empty slot"))
		}
		box := cgo.Handle(*cell)
		if _, ok := box.Value().(*Context); !ok {
			return rt.RaiseError(s, merrors.Newf(merrors.ProtocolErr, rt.module, "context slot holds a foreign value"))
		}
		box.Delete()
		*cell = 0
		return 0
	}
}
