package enginetest

import (
	"fmt"
	"io"
	"strconv"

	"github.com/tanema/modbind/src/conf"
	"github.com/tanema/modbind/src/engine"
)

// Capabilities builds the capability table the host would hand to a module
// loaded into this process. Every slot resolves the engine instance from the
// state token it is called with, so one table serves any number of engines,
// exactly as the production host shares its table between loads.
func (e *Engine) Capabilities() *engine.CapabilityTable {
	return &engine.CapabilityTable{
		Revision: conf.MINCAPABILITYREVISION,

		PushBoolean: func(s engine.State, v bool) { find(s).push(v) },
		PushClosure: func(s engine.State, fn engine.Func, nup int) {
			e := find(s)
			e.push(&closure{fn: fn, upvalues: e.popNBelow(nup)})
		},
		PushFString: func(s engine.State, format string, args ...any) string {
			str := fmt.Sprintf(format, args...)
			find(s).push(str)
			return str
		},
		PushInteger:       func(s engine.State, v int64) { find(s).push(v) },
		PushLightUserdata: func(s engine.State, p uintptr) { find(s).push(light(p)) },
		PushNil:           func(s engine.State) { find(s).push(nil) },
		PushNumber:        func(s engine.State, v float64) { find(s).push(v) },
		PushString:        func(s engine.State, v string) { find(s).push(v) },
		PushThread: func(s engine.State) bool {
			find(s).push(s)
			return true
		},
		PushValue:   func(s engine.State, idx int) { e := find(s); e.push(e.value(idx)) },
		CreateTable: func(s engine.State, _, _ int) { find(s).push(newTable()) },
		NewUserdata: func(s engine.State, nuvalue int) *uintptr {
			e := find(s)
			ud := &Userdata{uservalues: make([]any, nuvalue)}
			e.collectable = append(e.collectable, ud)
			e.push(ud)
			return &ud.cell
		},

		SetTable: func(s engine.State, idx int) {
			e := find(s)
			container := e.value(idx)
			val := e.pop()
			key := e.pop()
			e.setIndex(container, key, val)
		},
		RawSet: func(s engine.State, idx int) {
			e := find(s)
			container := e.value(idx)
			val := e.pop()
			key := e.pop()
			e.setIndex(container, key, val)
		},
		SetI: func(s engine.State, idx int, n int64) {
			e := find(s)
			container := e.value(idx)
			e.setIndex(container, n, e.pop())
		},
		RawSetI: func(s engine.State, idx int, n int64) {
			e := find(s)
			container := e.value(idx)
			e.setIndex(container, n, e.pop())
		},
		SetField: func(s engine.State, idx int, field string) {
			e := find(s)
			container := e.value(idx)
			e.setIndex(container, field, e.pop())
		},
		SetMetatable: func(s engine.State, idx int) bool {
			e := find(s)
			target := e.value(idx)
			meta, _ := e.pop().(*Table)
			switch tv := target.(type) {
			case *Table:
				tv.meta = meta
			case *Userdata:
				tv.meta = meta
			default:
				e.throwf("cannot set a metatable on a %v value", valueName(tv))
			}
			return true
		},
		SetIUserValue: func(s engine.State, idx, n int) bool {
			e := find(s)
			ud, ok := e.value(idx).(*Userdata)
			val := e.pop()
			if !ok || n < 1 || n > len(ud.uservalues) {
				return false
			}
			ud.uservalues[n-1] = val
			return true
		},

		IsFunction: func(s engine.State, idx int) bool { return find(s).typeAt(idx) == engine.TypeFunction },
		IsInteger: func(s engine.State, idx int) bool {
			_, ok := find(s).value(idx).(int64)
			return ok
		},
		IsNumber: func(s engine.State, idx int) bool {
			_, ok := toFloat(find(s).value(idx))
			return ok
		},
		IsString: func(s engine.State, idx int) bool {
			_, ok := asString(find(s).value(idx))
			return ok
		},
		IsUserdata: func(s engine.State, idx int) bool {
			tag := find(s).typeAt(idx)
			return tag == engine.TypeUserdata || tag == engine.TypeLightUserdata
		},
		Type:     func(s engine.State, idx int) int { return find(s).typeAt(idx) },
		TypeName: func(_ engine.State, tag int) string { return tagName(tag) },
		GetMetatable: func(s engine.State, idx int) bool {
			e := find(s)
			meta := metatableOf(e.value(idx))
			if meta == nil {
				return false
			}
			e.push(meta)
			return true
		},

		ToBoolean: func(s engine.State, idx int) bool {
			v := find(s).value(idx)
			return v != nil && v != false
		},
		ToFunction: func(s engine.State, idx int) engine.Func {
			if cl, ok := find(s).value(idx).(*closure); ok {
				return cl.fn
			}
			return nil
		},
		ToInteger: func(s engine.State, idx int) (int64, bool) { return toInt(find(s).value(idx)) },
		ToLString: func(s engine.State, idx int) (string, bool) { return asString(find(s).value(idx)) },
		ToNumber:  func(s engine.State, idx int) (float64, bool) { return toFloat(find(s).value(idx)) },
		ToPointer: func(s engine.State, idx int) uintptr { return pointerOf(find(s).value(idx)) },
		ToThread: func(s engine.State, idx int) engine.State {
			if thread, ok := find(s).value(idx).(engine.State); ok {
				return thread
			}
			return 0
		},
		ToUserdata: func(s engine.State, idx int) *uintptr {
			if ud, ok := find(s).value(idx).(*Userdata); ok {
				return &ud.cell
			}
			return nil
		},

		GetI: func(s engine.State, idx int, n int64) int {
			e := find(s)
			result := e.index(e.value(idx), n)
			e.push(result)
			return typeTag(result)
		},
		RawGetI: func(s engine.State, idx int, n int64) int {
			e := find(s)
			result := rawGet(e, idx, n)
			e.push(result)
			return typeTag(result)
		},
		GetTable: func(s engine.State, idx int) int {
			e := find(s)
			container := e.value(idx)
			result := e.index(container, e.pop())
			e.push(result)
			return typeTag(result)
		},
		RawGet: func(s engine.State, idx int) int {
			e := find(s)
			container := e.value(idx)
			key := e.pop()
			result := rawGetValue(e, container, key)
			e.push(result)
			return typeTag(result)
		},
		GetField: func(s engine.State, idx int, field string) int {
			e := find(s)
			result := e.index(e.value(idx), field)
			e.push(result)
			return typeTag(result)
		},
		Next: func(s engine.State, idx int) bool {
			e := find(s)
			tbl, ok := e.value(idx).(*Table)
			if !ok {
				e.throwf("attempt to iterate a %v value", valueName(e.value(idx)))
			}
			key := e.pop()
			keys := tbl.sortedKeys()
			next := 0
			if key != nil {
				for i, k := range keys {
					if k == key {
						next = i + 1
						break
					}
				}
			}
			if next >= len(keys) {
				return false
			}
			e.push(keys[next])
			e.push(tbl.get(keys[next]))
			return true
		},
		GetIUserValue: func(s engine.State, idx, n int) int {
			e := find(s)
			ud, ok := e.value(idx).(*Userdata)
			if !ok || n < 1 || n > len(ud.uservalues) {
				e.push(nil)
				return engine.TypeNone
			}
			e.push(ud.uservalues[n-1])
			return typeTag(ud.uservalues[n-1])
		},

		GetGlobal: func(s engine.State, name string) int {
			e := find(s)
			v := e.globals.get(name)
			e.push(v)
			return typeTag(v)
		},
		SetGlobal: func(s engine.State, name string) {
			e := find(s)
			e.globals.set(name, e.pop())
		},

		GetTop: func(s engine.State) int { return find(s).top() },
		SetTop: func(s engine.State, n int) { find(s).setTop(n) },

		Call:  func(s engine.State, nargs, nresults int) { find(s).callValue(nargs, nresults) },
		PCall: func(s engine.State, nargs, nresults, msgh int) int { return find(s).protectedCall(nargs, nresults, msgh) },
		Error: func(s engine.State) int32 {
			e := find(s)
			e.throwValue(e.pop())
			return 0
		},
		Warning: func(s engine.State, msg string, tocont bool) {
			e := find(s)
			if tocont {
				e.LastWarning += msg
			} else {
				e.LastWarning = msg
			}
		},

		CheckStack: func(engine.State, int) bool { return true },
		AbsIndex: func(s engine.State, idx int) int {
			e := find(s)
			if idx > 0 || idx <= conf.REGISTRYINDEX {
				return idx
			}
			return e.absPos(idx) - e.base()
		},
		Copy: func(s engine.State, from, to int) {
			e := find(s)
			e.setStack(to, e.value(from))
		},
		Rotate: func(s engine.State, idx, n int) { find(s).rotate(idx, n) },

		Len: func(s engine.State, idx int) {
			e := find(s)
			e.push(e.lengthOf(idx))
		},
		RawLen: func(s engine.State, idx int) uint64 {
			return uint64(find(s).lengthOf(idx))
		},
		Compare: func(s engine.State, i1, i2, op int) bool {
			return find(s).compare(i1, i2, op)
		},
		RawEqual: func(s engine.State, i1, i2 int) bool {
			e := find(s)
			return e.value(i1) == e.value(i2)
		},
		Concat: func(s engine.State, n int) {
			e := find(s)
			parts := e.popN(n)
			joined := ""
			for _, part := range parts {
				str, ok := asString(part)
				if !ok {
					e.throwf("attempt to concatenate a %v value", valueName(part))
				}
				joined += str
			}
			e.push(joined)
		},

		Load: func(s engine.State, _ io.Reader, _, _ string) int {
			find(s).push("test engine cannot load chunks")
			return engine.StatusSyntax
		},
		Dump: func(engine.State, io.Writer, bool) int { return 1 },

		StringToNumber: func(s engine.State, str string) int {
			e := find(s)
			if n, err := strconv.ParseInt(str, 0, 64); err == nil {
				e.push(n)
				return len(str) + 1
			}
			if f, err := strconv.ParseFloat(str, 64); err == nil {
				e.push(f)
				return len(str) + 1
			}
			return 0
		},
		GC:      func(s engine.State, _ int) int { return find(s).Collect() },
		Version: func(engine.State) float64 { return 504 },

		CheckAny: func(s engine.State, arg int) {
			e := find(s)
			if e.typeAt(arg) == engine.TypeNone {
				e.argError(arg, "value expected")
			}
		},
		CheckInteger: func(s engine.State, arg int) int64 {
			e := find(s)
			n, ok := toInt(e.value(arg))
			if !ok {
				e.typeError(arg, "number")
			}
			return n
		},
		CheckLString: func(s engine.State, arg int) string {
			e := find(s)
			str, ok := asString(e.value(arg))
			if !ok {
				e.typeError(arg, "string")
			}
			return str
		},
		CheckNumber: func(s engine.State, arg int) float64 {
			e := find(s)
			f, ok := toFloat(e.value(arg))
			if !ok {
				e.typeError(arg, "number")
			}
			return f
		},
		CheckOption: func(s engine.State, arg int, def string, options []string) int {
			e := find(s)
			str := def
			if e.typeAt(arg) != engine.TypeNone && e.typeAt(arg) != engine.TypeNil {
				str = e.capCheckString(arg)
			}
			for i, option := range options {
				if option == str {
					return i
				}
			}
			e.argError(arg, fmt.Sprintf("invalid option %q", str))
			return 0
		},
		CheckUserdata: func(s engine.State, arg int, name string) *uintptr {
			e := find(s)
			cell := e.testUserdata(arg, name)
			if cell == nil {
				e.typeError(arg, name)
			}
			return cell
		},
		TestUserdata: func(s engine.State, arg int, name string) *uintptr {
			return find(s).testUserdata(arg, name)
		},
		CheckType: func(s engine.State, arg, tag int) {
			e := find(s)
			if e.typeAt(arg) != tag {
				e.typeError(arg, tagName(tag))
			}
		},
		TypeError: func(s engine.State, arg int, expect string) int32 {
			find(s).typeError(arg, expect)
			return 0
		},
		ArgError: func(s engine.State, arg int, comment string) int32 {
			find(s).argError(arg, comment)
			return 0
		},

		OptInteger: func(s engine.State, arg int, def int64) int64 {
			e := find(s)
			if e.typeAt(arg) == engine.TypeNone || e.typeAt(arg) == engine.TypeNil {
				return def
			}
			n, ok := toInt(e.value(arg))
			if !ok {
				e.typeError(arg, "number")
			}
			return n
		},
		OptLString: func(s engine.State, arg int, def string) string {
			e := find(s)
			if e.typeAt(arg) == engine.TypeNone || e.typeAt(arg) == engine.TypeNil {
				return def
			}
			return e.capCheckString(arg)
		},
		OptNumber: func(s engine.State, arg int, def float64) float64 {
			e := find(s)
			if e.typeAt(arg) == engine.TypeNone || e.typeAt(arg) == engine.TypeNil {
				return def
			}
			f, ok := toFloat(e.value(arg))
			if !ok {
				e.typeError(arg, "number")
			}
			return f
		},

		AuxError: func(s engine.State, msg string) int32 {
			find(s).throwValue(msg)
			return 0
		},
		AuxCheckStack: func(engine.State, int, string) {},
		AuxToLString:  func(s engine.State, idx int) string { return describe(find(s).value(idx)) },

		AuxLen:      func(s engine.State, idx int) int64 { return find(s).lengthOf(idx) },
		GetSubTable: func(s engine.State, idx int, name string) bool { return find(s).getSubTable(idx, name) },
		Ref: func(s engine.State, idx int) int {
			e := find(s)
			container, ok := e.value(idx).(*Table)
			if !ok {
				e.throwf("ref target is not a table")
			}
			v := e.pop()
			if v == nil {
				return -1
			}
			e.nextRef++
			container.set(e.nextRef, v)
			return int(e.nextRef)
		},
		Unref: func(s engine.State, idx, ref int) {
			e := find(s)
			if container, ok := e.value(idx).(*Table); ok {
				container.set(int64(ref), nil)
			}
		},

		NewMetatable: func(s engine.State, name string) bool {
			e := find(s)
			if existing := e.registry.get(name); existing != nil {
				e.push(existing)
				return false
			}
			meta := newTable()
			meta.set("__name", name)
			e.registry.set(name, meta)
			e.counters.MetatableCreated[name]++
			e.push(meta)
			return true
		},
		AuxSetMetatable: func(s engine.State, name string) {
			e := find(s)
			meta, _ := e.registry.get(name).(*Table)
			switch tv := e.value(-1).(type) {
			case *Table:
				tv.meta = meta
			case *Userdata:
				tv.meta = meta
			}
		},
		CallMeta: func(s engine.State, idx int, event string) bool {
			e := find(s)
			obj := e.value(idx)
			meta := metatableOf(obj)
			if meta == nil || meta.get(event) == nil {
				return false
			}
			e.push(meta.get(event))
			e.push(obj)
			e.callValue(1, 1)
			return true
		},
		GetMetafield: func(s engine.State, idx int, field string) int {
			e := find(s)
			meta := metatableOf(e.value(idx))
			if meta == nil {
				return engine.TypeNil
			}
			v := meta.get(field)
			if v == nil {
				return engine.TypeNil
			}
			e.push(v)
			return typeTag(v)
		},

		LoadString: func(s engine.State, _ string) int {
			find(s).push("test engine cannot load chunks")
			return engine.StatusSyntax
		},
		LoadFile: func(s engine.State, _, _ string) int {
			find(s).push("test engine cannot load chunks")
			return engine.StatusSyntax
		},
		LoadBuffer: func(s engine.State, _ []byte, _, _ string) int {
			find(s).push("test engine cannot load chunks")
			return engine.StatusSyntax
		},

		SetFuncs: func(s engine.State, entries []engine.Reg, nup int) {
			e := find(s)
			for _, entry := range entries {
				for i := 0; i < nup; i++ {
					e.push(e.value(-nup))
				}
				e.push(&closure{fn: entry.Func, upvalues: e.popNBelow(nup)})
				container := e.value(-(nup + 2))
				e.setIndex(container, entry.Name, e.pop())
			}
			e.popN(nup)
		},
		Where: func(s engine.State, _ int) { find(s).push("") },
		Traceback: func(s engine.State, _ engine.State, msg string, _ int) {
			find(s).push(msg)
		},

		ModuleConfigurationsPath: func(h engine.HostHandle, module string, buffer []byte) uint32 {
			mu.RLock()
			host := hosts[h]
			mu.RUnlock()
			if host == nil {
				panic(fmt.Sprintf("enginetest: unknown host handle %v", h))
			}
			return host.resolvePath(module, buffer)
		},
	}
}

// popNBelow pops n upvalues preserving push order, for closure creation.
func (e *Engine) popNBelow(n int) []any {
	if n == 0 {
		return nil
	}
	return e.popN(n)
}

func (e *Engine) typeAt(idx int) int {
	if idx <= conf.REGISTRYINDEX {
		return typeTag(e.value(idx))
	}
	if p := e.absPos(idx); p < 1 || p > len(e.stack) {
		return engine.TypeNone
	}
	return typeTag(e.value(idx))
}

func (e *Engine) capCheckString(arg int) string {
	str, ok := asString(e.value(arg))
	if !ok {
		e.typeError(arg, "string")
	}
	return str
}

func (e *Engine) typeError(arg int, expect string) {
	e.throwf("bad argument #%v (%v expected, got %v)", arg, expect, tagName(e.typeAt(arg)))
}

func (e *Engine) argError(arg int, comment string) {
	e.throwf("bad argument #%v (%v)", arg, comment)
}

func (e *Engine) testUserdata(idx int, name string) *uintptr {
	ud, ok := e.value(idx).(*Userdata)
	if !ok {
		return nil
	}
	meta, ok := e.registry.get(name).(*Table)
	if !ok || ud.meta != meta {
		return nil
	}
	return &ud.cell
}

func (e *Engine) lengthOf(idx int) int64 {
	switch tv := e.value(idx).(type) {
	case string:
		return int64(len(tv))
	case *Table:
		return tv.seqLen()
	default:
		e.throwf("attempt to get length of a %v value", valueName(tv))
		return 0
	}
}

func (e *Engine) getSubTable(idx int, name string) bool {
	container, ok := e.value(idx).(*Table)
	if !ok {
		e.throwf("subtable target is not a table")
	}
	if sub, exists := container.get(name).(*Table); exists {
		e.push(sub)
		return true
	}
	sub := newTable()
	container.set(name, sub)
	e.push(sub)
	return false
}

func (e *Engine) compare(i1, i2, op int) bool {
	a, b := e.value(i1), e.value(i2)
	switch op {
	case 0:
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if aok && bok {
			return af == bf
		}
		return a == b
	case 1, 2:
		if af, ok := toFloat(a); ok {
			bf, bok := toFloat(b)
			if !bok {
				e.throwf("attempt to compare number with %v", valueName(b))
			}
			if op == 1 {
				return af < bf
			}
			return af <= bf
		}
		as, aok := a.(string)
		bs, bok := b.(string)
		if !aok || !bok {
			e.throwf("attempt to compare %v with %v", valueName(a), valueName(b))
		}
		if op == 1 {
			return as < bs
		}
		return as <= bs
	default:
		e.throwf("invalid comparison operator %v", op)
		return false
	}
}

func rawGet(e *Engine, idx int, key any) any {
	return rawGetValue(e, e.value(idx), key)
}

func rawGetValue(e *Engine, container, key any) any {
	tbl, ok := container.(*Table)
	if !ok {
		e.throwf("attempt to index a %v value", valueName(container))
	}
	return tbl.get(key)
}

func toFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case int64:
		return float64(tv), true
	case float64:
		return tv, true
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	switch tv := v.(type) {
	case int64:
		return tv, true
	case float64:
		if tv == float64(int64(tv)) {
			return int64(tv), true
		}
		return 0, false
	default:
		return 0, false
	}
}
