package enginetest

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/tanema/modbind/src/engine"
)

type (
	// Table is the engine's associative value. Metatables are Tables
	// registered in the registry under their type name.
	Table struct {
		hashtable map[any]any
		meta      *Table
	}
	// Userdata is an engine-owned opaque slot holding exactly one native
	// word. The engine is the sole owner; collection runs its metatable's
	// finalizer at most once.
	Userdata struct {
		cell       uintptr
		meta       *Table
		uservalues []any
		finalized  bool
	}
	closure struct {
		fn       engine.Func
		upvalues []any
	}
	light  uintptr
	raised struct{ value any }
)

func newTable() *Table { return &Table{hashtable: map[any]any{}} }

func (t *Table) get(key any) any { return t.hashtable[key] }

func (t *Table) set(key, val any) {
	if val == nil {
		delete(t.hashtable, key)
		return
	}
	t.hashtable[key] = val
}

// sortedKeys gives Next a stable iteration order.
func (t *Table) sortedKeys() []any {
	keys := make([]any, 0, len(t.hashtable))
	for k := range t.hashtable {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
	return keys
}

func (t *Table) seqLen() int64 {
	var n int64
	for t.hashtable[n+1] != nil {
		n++
	}
	return n
}

func typeTag(v any) int {
	switch v.(type) {
	case nil:
		return engine.TypeNil
	case bool:
		return engine.TypeBoolean
	case int64, float64:
		return engine.TypeNumber
	case string:
		return engine.TypeString
	case *Table:
		return engine.TypeTable
	case *closure:
		return engine.TypeFunction
	case *Userdata:
		return engine.TypeUserdata
	case light:
		return engine.TypeLightUserdata
	case engine.State:
		return engine.TypeThread
	default:
		return engine.TypeNone
	}
}

func tagName(tag int) string {
	switch tag {
	case engine.TypeNone:
		return "no value"
	case engine.TypeNil:
		return "nil"
	case engine.TypeBoolean:
		return "boolean"
	case engine.TypeLightUserdata, engine.TypeUserdata:
		return "userdata"
	case engine.TypeNumber:
		return "number"
	case engine.TypeString:
		return "string"
	case engine.TypeTable:
		return "table"
	case engine.TypeFunction:
		return "function"
	case engine.TypeThread:
		return "thread"
	default:
		return "unknown"
	}
}

func valueName(v any) string { return tagName(typeTag(v)) }

// asString converts the value the way the engine does for string contexts:
// strings as-is, numbers formatted, everything else inconvertible.
func asString(v any) (string, bool) {
	switch tv := v.(type) {
	case string:
		return tv, true
	case int64:
		return strconv.FormatInt(tv, 10), true
	case float64:
		return strconv.FormatFloat(tv, 'g', -1, 64), true
	default:
		return "", false
	}
}

func describe(v any) string {
	if str, ok := asString(v); ok {
		return str
	}
	switch tv := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(tv)
	case *Userdata:
		if tv.meta != nil {
			if name, ok := tv.meta.get("__name").(string); ok {
				return fmt.Sprintf("%s: %p", name, tv)
			}
		}
		return fmt.Sprintf("userdata: %p", tv)
	default:
		return fmt.Sprintf("%s: %#x", valueName(v), pointerOf(v))
	}
}

func pointerOf(v any) uintptr {
	switch tv := v.(type) {
	case light:
		return uintptr(tv)
	case *Table, *closure, *Userdata:
		return reflect.ValueOf(tv).Pointer()
	default:
		return 0
	}
}

func metatableOf(v any) *Table {
	switch tv := v.(type) {
	case *Table:
		return tv.meta
	case *Userdata:
		return tv.meta
	default:
		return nil
	}
}
