package enginetest

import (
	"fmt"

	"github.com/tanema/modbind/src/conf"
	"github.com/tanema/modbind/src/engine"
)

func (e *Engine) throwf(format string, args ...any) {
	panic(raised{value: fmt.Sprintf(format, args...)})
}

func (e *Engine) throwValue(v any) {
	panic(raised{value: v})
}

func (e *Engine) base() int {
	if len(e.frames) == 0 {
		return 0
	}
	return e.frames[len(e.frames)-1].base
}

func (e *Engine) currentFrame() *frame {
	if len(e.frames) == 0 {
		return nil
	}
	return &e.frames[len(e.frames)-1]
}

// absPos resolves a real (non-pseudo) index to a 1-based absolute stack
// position. Positive indices are relative to the running function's base.
func (e *Engine) absPos(idx int) int {
	if idx > 0 {
		return e.base() + idx
	}
	return len(e.stack) + idx + 1
}

// value reads the value at any index, including the registry and upvalue
// pseudo indices. Reading an empty or out of range position yields nil.
func (e *Engine) value(idx int) any {
	switch {
	case idx == conf.REGISTRYINDEX:
		return e.registry
	case idx < conf.REGISTRYINDEX:
		ordinal := conf.REGISTRYINDEX - idx
		if fr := e.currentFrame(); fr != nil && ordinal <= len(fr.cl.upvalues) {
			return fr.cl.upvalues[ordinal-1]
		}
		return nil
	default:
		if p := e.absPos(idx); p >= 1 && p <= len(e.stack) {
			return e.stack[p-1]
		}
		return nil
	}
}

func (e *Engine) setStack(idx int, v any) {
	if p := e.absPos(idx); p >= 1 && p <= len(e.stack) {
		e.stack[p-1] = v
	}
}

func (e *Engine) push(v any) {
	if len(e.stack) >= conf.MAXSTACK {
		e.throwf("stack overflow")
	}
	e.stack = append(e.stack, v)
}

func (e *Engine) pop() any {
	if len(e.stack) == e.base() {
		e.throwf("stack underflow")
	}
	v := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	return v
}

func (e *Engine) popN(n int) []any {
	values := make([]any, n)
	for i := n - 1; i >= 0; i-- {
		values[i] = e.pop()
	}
	return values
}

func (e *Engine) top() int { return len(e.stack) - e.base() }

func (e *Engine) setTop(n int) {
	target := e.base() + n
	if target < e.base() {
		e.throwf("invalid new top")
	}
	for len(e.stack) < target {
		e.stack = append(e.stack, nil)
	}
	e.stack = e.stack[:target]
}

// rotate shifts the segment between idx and the top by n positions toward
// the top, implemented as the classic triple reverse.
func (e *Engine) rotate(idx, n int) {
	p := e.absPos(idx)
	if p < 1 || p > len(e.stack) {
		e.throwf("invalid rotate index")
	}
	segment := e.stack[p-1:]
	if n < 0 {
		n = len(segment) + n
	}
	if n < 0 || n > len(segment) {
		e.throwf("invalid rotate count")
	}
	reverse(segment[:len(segment)-n])
	reverse(segment[len(segment)-n:])
	reverse(segment)
}

func reverse(values []any) {
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
}

// callValue invokes the function sitting below nargs arguments on the top of
// the stack, replacing function and arguments with its results, adjusted to
// nresults unless nresults is engine.MultRet.
func (e *Engine) callValue(nargs, nresults int) {
	p := len(e.stack) - nargs
	if p < 1 {
		e.throwf("not enough stack values for call")
	}
	cl, ok := e.stack[p-1].(*closure)
	if !ok {
		e.throwf("attempt to call a %v value", valueName(e.stack[p-1]))
	}
	e.frames = append(e.frames, frame{cl: cl, base: p})
	var returned int32
	func() {
		defer func() { e.frames = e.frames[:len(e.frames)-1] }()
		returned = cl.fn(e.state)
	}()
	n := int(returned)
	if n < 0 || n > len(e.stack)-p+1 {
		e.throwf("function returned an invalid result count %v", n)
	}
	results := append([]any{}, e.stack[len(e.stack)-n:]...)
	e.stack = e.stack[:p-1]
	e.stack = append(e.stack, results...)
	if nresults != engine.MultRet {
		e.setTopAbsolute(p - 1 + nresults)
	}
}

func (e *Engine) setTopAbsolute(target int) {
	for len(e.stack) < target {
		e.stack = append(e.stack, nil)
	}
	e.stack = e.stack[:target]
}

func (e *Engine) protectedCall(nargs, nresults, msgh int) (status int) {
	_ = msgh
	stackMark := len(e.stack) - nargs - 1
	frameMark := len(e.frames)
	defer func() {
		if r := recover(); r != nil {
			rv, ok := r.(raised)
			if !ok {
				panic(r)
			}
			e.frames = e.frames[:frameMark]
			e.stack = e.stack[:stackMark]
			e.push(rv.value)
			status = engine.StatusRuntime
		}
	}()
	e.callValue(nargs, nresults)
	return engine.StatusOK
}

// index reads container[key] honoring metatable delegation for tables and
// userdata.
func (e *Engine) index(container, key any) any {
	switch tv := container.(type) {
	case *Table:
		if raw := tv.get(key); raw != nil {
			return raw
		}
		return e.metaIndex(tv.meta, container, key)
	case *Userdata:
		return e.metaIndex(tv.meta, container, key)
	default:
		e.throwf("attempt to index a %v value", valueName(container))
		return nil
	}
}

func (e *Engine) metaIndex(meta *Table, container, key any) any {
	if meta == nil {
		return nil
	}
	switch handler := meta.get("__index").(type) {
	case nil:
		return nil
	case *Table:
		if handler == meta {
			return handler.get(key)
		}
		return e.index(handler, key)
	case *closure:
		e.push(handler)
		e.push(container)
		e.push(key)
		e.callValue(2, 1)
		return e.pop()
	default:
		return nil
	}
}

func (e *Engine) setIndex(container, key, val any) {
	tv, ok := container.(*Table)
	if !ok {
		e.throwf("attempt to index a %v value", valueName(container))
	}
	if field, isStr := key.(string); isStr && field == "__index" {
		if name, named := tv.get("__name").(string); named {
			e.counters.IndexBuilds[name]++
		}
	}
	tv.set(key, val)
}
