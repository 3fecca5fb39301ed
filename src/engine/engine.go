// Package engine defines the foreign boundary between a loadable module and
// the host's embedded stack engine. Everything the module is allowed to do to
// the engine goes through a [CapabilityTable] the host hands over at load
// time; everything the host tells the module about itself arrives in a
// [BootstrapDescriptor]. The types here are the whole wire protocol: they are
// declared once and never change shape except by appending capability slots.
package engine

import (
	"fmt"

	"github.com/tanema/modbind/src/conf"
)

type (
	// State identifies one engine thread. It is only meaningful to the host;
	// the module treats it as an opaque token and passes it back through
	// capability slots.
	State uintptr
	// HostHandle identifies the host process state behind the engine. Like
	// State it is opaque and borrowed for the lifetime of the process.
	HostHandle uintptr
	// Func is the fixed trampoline signature the engine calls directly. The
	// return value is the number of results the function pushed.
	Func func(State) int32
	// Reg names a single function for table registration.
	Reg struct {
		Name string
		Func Func
	}
	// BootstrapDescriptor is passed by the host to the module entry point at
	// load time only. It is not retained beyond the bootstrap call except by
	// copying its fields.
	BootstrapDescriptor struct {
		Revision         uint32
		Name             string
		Host             HostHandle
		State            State
		WorkingDirectory string
	}
)

// Engine value type tags as reported by the Type capability slot.
const (
	TypeNone          = -1
	TypeNil           = 0
	TypeBoolean       = 1
	TypeLightUserdata = 2
	TypeNumber        = 3
	TypeString        = 4
	TypeTable         = 5
	TypeFunction      = 6
	TypeUserdata      = 7
	TypeThread        = 8
)

// MultRet requests all results from a call instead of a fixed count.
const MultRet = -1

// Status codes returned by protected calls and load operations.
const (
	StatusOK      = 0
	StatusYield   = 1
	StatusRuntime = 2
	StatusSyntax  = 3
	StatusMemory  = 4
	StatusError   = 5
)

// UpvalueIndex returns the pseudo index that addresses the i-th upvalue of
// the running function. i must be in the range [1, conf.MAXUPVALUES].
func UpvalueIndex(i int) int {
	return conf.REGISTRYINDEX - i
}

// Check validates the descriptor against the revision floor this SDK was
// built for.
func (d *BootstrapDescriptor) Check() error {
	if d.Revision < conf.MINBOOTSTRAPREVISION {
		return fmt.Errorf("bootstrap descriptor revision %v is older than the supported minimum %v", d.Revision, conf.MINBOOTSTRAPREVISION)
	} else if d.Name == "" {
		return fmt.Errorf("bootstrap descriptor carries no module name")
	}
	return nil
}
