// Package enginetest provides an in-process engine and host honoring the
// capability contract defined in package engine, in the spirit of
// net/http/httptest: a real, small implementation that the test suite and
// demo tooling drive instead of the production host. It keeps the engine's
// guarantees the binding layer depends on (stack discipline, named
// metatables, single collection per slot, panic-based error unwinding behind
// protected calls) and instruments them so tests can assert on metatable
// creations, method table builds, and finalizer runs.
package enginetest

import (
	"fmt"
	"sync"

	"github.com/tanema/modbind/src/conf"
	"github.com/tanema/modbind/src/engine"
)

type (
	// Counters records the engine-side events the binding layer promises to
	// keep rare: metatable creation and method-table construction happen at
	// most once per type key, finalizers run at most once per slot.
	Counters struct {
		MetatableCreated map[string]int
		IndexBuilds      map[string]int
		FinalizerRuns    map[string]int
		Collections      int
	}
	frame struct {
		cl   *closure
		base int
	}
	// Engine is one engine instance with a single thread of control. Create
	// one with New and release it with Close, which finalizes every
	// remaining slot.
	Engine struct {
		state       engine.State
		host        engine.HostHandle
		hostImpl    *Host
		stack       []any
		registry    *Table
		globals     *Table
		frames      []frame
		collectable []*Userdata
		counters    Counters
		nextRef     int64

		// LastWarning holds the most recent warning emitted through the
		// Warning slot.
		LastWarning string
		// FinalizerErrors collects errors raised inside finalizers; the
		// engine reports them rather than propagating, matching collector
		// semantics.
		FinalizerErrors []string
	}
)

var (
	mu        sync.RWMutex
	states    = map[engine.State]*Engine{}
	hosts     = map[engine.HostHandle]*Host{}
	nextState engine.State = 1
	nextHost  engine.HostHandle = 1
)

// New registers a fresh engine bound to the given host. A nil host gets
// default paths.
func New(host *Host) *Engine {
	if host == nil {
		host = &Host{ConfigRoot: "/tmp/enginetest", WorkingDirectory: "/tmp/enginetest/work"}
	}
	e := &Engine{
		hostImpl: host,
		registry: newTable(),
		globals:  newTable(),
		counters: Counters{
			MetatableCreated: map[string]int{},
			IndexBuilds:      map[string]int{},
			FinalizerRuns:    map[string]int{},
		},
	}
	mu.Lock()
	e.state, e.host = nextState, nextHost
	states[e.state] = e
	hosts[e.host] = host
	nextState++
	nextHost++
	mu.Unlock()
	return e
}

func find(s engine.State) *Engine {
	mu.RLock()
	defer mu.RUnlock()
	e := states[s]
	if e == nil {
		panic(fmt.Sprintf("enginetest: unknown engine state %v", s))
	}
	return e
}

// State returns the opaque engine thread token.
func (e *Engine) State() engine.State { return e.state }

// HostHandle returns the opaque host token.
func (e *Engine) HostHandle() engine.HostHandle { return e.host }

// Counters exposes the instrumentation record.
func (e *Engine) Counters() *Counters { return &e.counters }

// Descriptor builds the bootstrap descriptor the host would pass when
// loading a module named module into this engine.
func (e *Engine) Descriptor(module string) *engine.BootstrapDescriptor {
	return &engine.BootstrapDescriptor{
		Revision:         conf.MINBOOTSTRAPREVISION,
		Name:             module,
		Host:             e.host,
		State:            e.state,
		WorkingDirectory: e.hostImpl.WorkingDirectory,
	}
}

// Close finalizes every remaining slot in reverse creation order and
// unregisters the engine.
func (e *Engine) Close() {
	for i := len(e.collectable) - 1; i >= 0; i-- {
		e.finalize(e.collectable[i])
	}
	mu.Lock()
	delete(states, e.state)
	delete(hosts, e.host)
	mu.Unlock()
}

// Collect runs a full collection: every slot unreachable from the stack,
// globals, or registry has its finalizer invoked exactly once. It returns
// the number of slots collected.
func (e *Engine) Collect() int {
	marked := e.reachable()
	collected := 0
	for i := len(e.collectable) - 1; i >= 0; i-- {
		ud := e.collectable[i]
		if ud.finalized || marked[ud] {
			continue
		}
		e.finalize(ud)
		collected++
	}
	e.counters.Collections++
	return collected
}

// Protect runs fn catching the engine's error unwinding, restoring the stack
// and call frames to their depth before the call. This is the test-side
// equivalent of running fn under a protected call.
func (e *Engine) Protect(fn func()) (err error) {
	stackMark, frameMark := len(e.stack), len(e.frames)
	defer func() {
		if r := recover(); r != nil {
			rv, ok := r.(raised)
			if !ok {
				panic(r)
			}
			e.frames = e.frames[:frameMark]
			e.stack = e.stack[:stackMark]
			err = fmt.Errorf("%v", describe(rv.value))
		}
	}()
	fn()
	return nil
}

func (e *Engine) finalize(ud *Userdata) {
	if ud.finalized {
		return
	}
	ud.finalized = true
	if ud.meta == nil {
		return
	}
	gc := ud.meta.get("__gc")
	if gc == nil {
		return
	}
	if name, ok := ud.meta.get("__name").(string); ok {
		e.counters.FinalizerRuns[name]++
	}
	if err := e.Protect(func() {
		e.push(gc)
		e.push(ud)
		e.callValue(1, 0)
	}); err != nil {
		e.FinalizerErrors = append(e.FinalizerErrors, err.Error())
	}
}

// reachable marks every userdata transitively referenced by the stack, the
// globals, or the registry. Metatables live in the registry, so a finalizer
// closure holding the context slot as an upvalue keeps that slot alive for
// as long as its type is registered, exactly as in the production engine.
func (e *Engine) reachable() map[*Userdata]bool {
	seen := map[any]bool{}
	marked := map[*Userdata]bool{}
	var mark func(v any)
	mark = func(v any) {
		switch tv := v.(type) {
		case *Userdata:
			if tv == nil || marked[tv] {
				return
			}
			marked[tv] = true
			mark(tv.meta)
			for _, uv := range tv.uservalues {
				mark(uv)
			}
		case *Table:
			if tv == nil || seen[tv] {
				return
			}
			seen[tv] = true
			for k, val := range tv.hashtable {
				mark(k)
				mark(val)
			}
			mark(tv.meta)
		case *closure:
			if seen[tv] {
				return
			}
			seen[tv] = true
			for _, uv := range tv.upvalues {
				mark(uv)
			}
		}
	}
	for _, v := range e.stack {
		mark(v)
	}
	mark(e.globals)
	mark(e.registry)
	return marked
}
