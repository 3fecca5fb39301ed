// Package conf holds the protocol constants shared by every package in
// modbind. They mirror the values the host compiles against, so changing any
// of them is a wire-protocol break.
package conf

const (
	// VERSION is the version of the modbind SDK.
	VERSION = "modbind 0.1.0"
	// MINCAPABILITYREVISION is the lowest capability-table revision this SDK
	// can operate against. Revision 1 is the first revision that carries the
	// module_configurations_path slot.
	MINCAPABILITYREVISION = 1
	// MINBOOTSTRAPREVISION is the lowest bootstrap descriptor revision this
	// SDK accepts at load time.
	MINBOOTSTRAPREVISION = 1
	// MAXSTACK is the largest engine stack the protocol addresses. Indices
	// beyond it are reserved for pseudo indices.
	MAXSTACK = 1_000_000
	// REGISTRYINDEX is the pseudo index of the engine registry table. Upvalue
	// pseudo indices count down from it.
	REGISTRYINDEX = -MAXSTACK - 1000
	// MAXUPVALUES is the largest upvalue ordinal addressable through a pseudo
	// index.
	MAXUPVALUES = 256
	// INITIALPATHBUFFER is the starting buffer size for the host path
	// resolution protocol. The buffer doubles until the host reports that the
	// required length fits.
	INITIALPATHBUFFER = 256
)
