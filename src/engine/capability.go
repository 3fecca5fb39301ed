package engine

import (
	"fmt"
	"io"

	"github.com/tanema/modbind/src/conf"
)

// CapabilityTable is the host-supplied vtable of engine operations. It is
// immutable after bootstrap and shared by every module loaded into the
// process. The slot set is append-only across revisions: a slot documented
// with a revision higher than Revision must not be called. The module borrows
// the table for the process lifetime and never frees it.
//
// Stack indices follow the engine convention: positive indices count from the
// bottom, negative from the top, and values at or below conf.REGISTRYINDEX
// address the registry and the running function's upvalues.
type CapabilityTable struct {
	Revision uint32

	// Push operations. Each pushes exactly one value.
	PushBoolean       func(State, bool)
	PushClosure       func(State, Func, int)
	PushFString       func(State, string, ...any) string
	PushInteger       func(State, int64)
	PushLightUserdata func(State, uintptr)
	PushNil           func(State)
	PushNumber        func(State, float64)
	PushString        func(State, string)
	PushThread        func(State) bool
	PushValue         func(State, int)
	CreateTable       func(State, int, int)
	// NewUserdata allocates an opaque engine-owned slot holding exactly one
	// native word and pushes it. The second argument is the number of
	// associated user values.
	NewUserdata func(State, int) *uintptr

	// Write operations. Keys and values are taken from the stack.
	SetTable      func(State, int)
	RawSet        func(State, int)
	SetI          func(State, int, int64)
	RawSetI       func(State, int, int64)
	SetField      func(State, int, string)
	SetMetatable  func(State, int) bool
	SetIUserValue func(State, int, int) bool

	// Type interrogation.
	IsFunction   func(State, int) bool
	IsInteger    func(State, int) bool
	IsNumber     func(State, int) bool
	IsString     func(State, int) bool
	IsUserdata   func(State, int) bool
	Type         func(State, int) int
	TypeName     func(State, int) string
	GetMetatable func(State, int) bool

	// Conversions. The bool result reports whether the value was convertible.
	ToBoolean  func(State, int) bool
	ToFunction func(State, int) Func
	ToInteger  func(State, int) (int64, bool)
	ToLString  func(State, int) (string, bool)
	ToNumber   func(State, int) (float64, bool)
	ToPointer  func(State, int) uintptr
	ToThread   func(State, int) State
	ToUserdata func(State, int) *uintptr

	// Read operations. Each pushes the result and returns its type tag.
	GetI          func(State, int, int64) int
	RawGetI       func(State, int, int64) int
	GetTable      func(State, int) int
	RawGet        func(State, int) int
	GetField      func(State, int, string) int
	Next          func(State, int) bool
	GetIUserValue func(State, int, int) int

	GetGlobal func(State, string) int
	SetGlobal func(State, string)

	GetTop func(State) int
	SetTop func(State, int)

	// Calls and errors. Error is non-returning: it transfers control to the
	// engine's unwind mechanism and native execution past the call point is
	// abandoned.
	Call    func(State, int, int)
	PCall   func(State, int, int, int) int
	Error   func(State) int32
	Warning func(State, string, bool)

	CheckStack func(State, int) bool
	AbsIndex   func(State, int) int
	Copy       func(State, int, int)
	Rotate     func(State, int, int)

	Len      func(State, int)
	RawLen   func(State, int) uint64
	Compare  func(State, int, int, int) bool
	RawEqual func(State, int, int) bool
	Concat   func(State, int)

	Load func(State, io.Reader, string, string) int
	Dump func(State, io.Writer, bool) int

	StringToNumber func(State, string) int
	GC             func(State, int) int
	Version        func(State) float64

	// Auxiliary operations, mirroring the host's helper library. The Check*
	// and *Error slots raise through the engine's error mechanism and do not
	// return on failure.
	CheckAny      func(State, int)
	CheckInteger  func(State, int) int64
	CheckLString  func(State, int) string
	CheckNumber   func(State, int) float64
	CheckOption   func(State, int, string, []string) int
	CheckUserdata func(State, int, string) *uintptr
	TestUserdata  func(State, int, string) *uintptr
	CheckType     func(State, int, int)
	TypeError     func(State, int, string) int32
	ArgError      func(State, int, string) int32

	OptInteger func(State, int, int64) int64
	OptLString func(State, int, string) string
	OptNumber  func(State, int, float64) float64

	AuxError      func(State, string) int32
	AuxCheckStack func(State, int, string)
	AuxToLString  func(State, int) string

	AuxLen      func(State, int) int64
	GetSubTable func(State, int, string) bool
	Ref         func(State, int) int
	Unref       func(State, int, int)

	// NewMetatable creates the metatable registered under name, or pushes the
	// existing one. The bool reports whether it was newly created.
	NewMetatable    func(State, string) bool
	AuxSetMetatable func(State, string)
	CallMeta        func(State, int, string) bool
	GetMetafield    func(State, int, string) int

	LoadString  func(State, string) int
	LoadFile    func(State, string, string) int
	LoadBuffer  func(State, []byte, string, string) int

	SetFuncs  func(State, []Reg, int)
	Where     func(State, int)
	Traceback func(State, State, string, int)

	// ModuleConfigurationsPath is the one host-specific slot. It resolves the
	// configuration directory for module name into buf and returns the
	// required length in bytes including the terminating zero byte. When the
	// return value exceeds len(buf) nothing was written and the caller must
	// retry with a larger buffer.
	ModuleConfigurationsPath func(HostHandle, string, []byte) uint32
}

// Check validates the table revision against the floor this SDK requires. A
// module must reject operation rather than call slots whose behavior it
// cannot rely on.
func (t *CapabilityTable) Check() error {
	if t == nil {
		return fmt.Errorf("no capability table supplied")
	} else if t.Revision < conf.MINCAPABILITYREVISION {
		return fmt.Errorf("capability table revision %v is older than the supported minimum %v", t.Revision, conf.MINCAPABILITYREVISION)
	}
	return nil
}
