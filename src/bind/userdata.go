package bind

import (
	"runtime/cgo"

	"github.com/tanema/modbind/src/engine"
	"github.com/tanema/modbind/src/merrors"
)

type (
	// UserData marks a native value that can be moved behind an engine-owned
	// opaque slot and collected by the engine. TypeName reports a constant,
	// module-unique name for the type; it must not depend on receiver state
	// because recovery calls it on zero values.
	UserData interface {
		TypeName() string
	}

	// Closure is a UserData with call behavior and no methods. Exposing one
	// yields a value the engine can invoke directly. The return value is the
	// number of results pushed.
	Closure interface {
		UserData
		Call(*Context, engine.State) (int32, error)
	}

	// Method is a single method of an exposed object. The receiver arrives
	// recovered and validated from stack position 1, so the first script
	// argument of a method call is at position 2.
	Method[T any] func(T, *Context, engine.State) (int32, error)

	// MethodEntry names one method of an exposed object type. Method sets
	// are immutable, defined per type, never per instance.
	MethodEntry[T any] struct {
		Name string
		Func Method[T]
	}

	// Object is a UserData with a method set dispatched through the engine's
	// index mechanism. Methods must report the receiver's own type so that
	// dispatch shims recover the correct native pointer.
	Object[T any] interface {
		UserData
		Methods() []MethodEntry[T]
	}
)

// PushUserData moves value behind a new engine-owned opaque slot and pushes
// the slot onto the stack. ctxIndex is the stack position of the owning
// context slot; it is resolved to an absolute position up front so it stays
// valid across the pushes below. The slot's metatable is created at most once
// per process per type key, with the finalizer installed on first creation
// only. Exactly one boxing happens per call; the value is owned by the
// engine's collector from here on.
func PushUserData[T UserData](ctx *Context, s engine.State, ctxIndex int, value T) {
	pushBoxed(ctx, s, ctxIndex, value, nil)
}

// PushObject exposes value with its method table. On the first exposure of
// the type, a method table is built under the metatable's index entry with
// one dispatch shim per method; later exposures reuse it.
func PushObject[T Object[T]](ctx *Context, s engine.State, ctxIndex int, value T) {
	api := ctx.rt.api
	pushBoxed(ctx, s, ctxIndex, value, func() {
		methods := value.Methods()
		if len(methods) == 0 {
			return
		}
		api.PushString(s, "__index")
		api.CreateTable(s, 0, len(methods))
		for _, method := range methods {
			api.PushString(s, method.Name)
			api.PushClosure(s, methodShim(ctx, method), 0)
			api.SetTable(s, -3)
		}
		api.SetTable(s, -3)
	})
}

// PushClosure exposes value and wraps its slot into a directly callable
// engine value. The boxed slot travels as upvalue 1 of the call shim, so
// two closures of the same type never alias each other's allocation.
func PushClosure[T Closure](ctx *Context, s engine.State, ctxIndex int, value T) {
	PushUserData(ctx, s, ctxIndex, value)
	ctx.rt.api.PushClosure(s, closureShim[T](ctx), 1)
}

// ToUserData recovers the native value boxed behind the opaque slot at
// index. The slot's metatable must match the type key of T within the owning
// context; the string comparison is defense in depth on top of the checked
// unboxing below it.
func ToUserData[T UserData](ctx *Context, s engine.State, index int) (T, error) {
	var zero T
	key := ctx.typeKey(zero.TypeName())
	cell := ctx.rt.api.TestUserdata(s, index, key)
	if cell == nil || *cell == 0 {
		return zero, merrors.Newf(merrors.ArgumentErr, ctx.name, "expect a value with type %q at #%v", key, index)
	}
	value, ok := cgo.Handle(*cell).Value().(T)
	if !ok {
		return zero, merrors.Newf(merrors.ProtocolErr, ctx.name, "slot tagged %q holds a foreign value", key)
	}
	return value, nil
}

// CheckUserData recovers the value at index or raises through the engine.
func CheckUserData[T UserData](ctx *Context, s engine.State, index int) T {
	value, err := ToUserData[T](ctx, s, index)
	if err != nil {
		ctx.rt.RaiseError(s, err)
	}
	return value
}

// pushBoxed is the single allocate-and-expose sequence shared by every
// capability profile. There is no state in which the value is boxed but not
// yet guarded: the metatable carrying the finalizer is attached before the
// slot becomes visible to script code.
func pushBoxed[T UserData](ctx *Context, s engine.State, ctxIndex int, value T, setup func()) {
	api := ctx.rt.api
	ctxAbs := api.AbsIndex(s, ctxIndex)
	cell := api.NewUserdata(s, 1)
	*cell = uintptr(cgo.NewHandle(value))
	key := ctx.typeKey(value.TypeName())
	if api.NewMetatable(s, key) {
		api.PushString(s, "__gc")
		api.PushValue(s, ctxAbs)
		api.PushClosure(s, finalizerShim[T](ctx.rt, value.TypeName()), 1)
		api.SetTable(s, -3)
		if setup != nil {
			setup()
		}
	}
	api.SetMetatable(s, -2)
}

// closureShim recovers the boxed closure from upvalue 1 and forwards the
// call. Recovery failures raise; native control does not continue past them.
func closureShim[T Closure](ctx *Context) engine.Func {
	return func(s engine.State) int32 {
		receiver, err := ToUserData[T](ctx, s, engine.UpvalueIndex(1))
		if err != nil {
			return ctx.rt.RaiseError(s, err)
		}
		results, err := receiver.Call(ctx, s)
		if err != nil {
			return ctx.rt.RaiseError(s, err)
		}
		return results
	}
}

// methodShim recovers the receiver from stack position 1, validating that
// its metatable matches the method's declaring type, then forwards.
func methodShim[T Object[T]](ctx *Context, method MethodEntry[T]) engine.Func {
	return func(s engine.State) int32 {
		receiver, err := ToUserData[T](ctx, s, 1)
		if err != nil {
			return ctx.rt.RaiseError(s, err)
		}
		results, err := method.Func(receiver, ctx, s)
		if err != nil {
			return ctx.rt.RaiseError(s, err)
		}
		return results
	}
}

// finalizerShim destroys the boxed value when the engine collects its slot.
// The owning context is re-resolved from upvalue 1 so the type key is
// recomputed in the same namespace it was created in. A slot whose metatable
// does not match the key is a host contract violation and is reported, not
// freed.
func finalizerShim[T UserData](rt *Runtime, typeName string) engine.Func {
	return func(s engine.State) int32 {
		owner, err := FromHandle(rt, s, engine.UpvalueIndex(1))
		if err != nil {
			return rt.RaiseError(s, err)
		}
		key := owner.typeKey(typeName)
		cell := rt.api.TestUserdata(s, 1, key)
		if cell == nil || *cell == 0 {
			return rt.RaiseError(s, merrors.Newf(merrors.ProtocolErr, rt.module, "finalizer for %q invoked on a mismatched slot", key))
		}
		box := cgo.Handle(*cell)
		if _, ok := box.Value().(T); !ok {
			return rt.RaiseError(s, merrors.Newf(merrors.ProtocolErr, rt.module, "slot tagged %q holds a foreign value", key))
		}
		box.Delete()
		*cell = 0
		return 0
	}
}
