package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanema/modbind/src/bind"
	"github.com/tanema/modbind/src/engine"
	"github.com/tanema/modbind/src/enginetest"
)

// load bootstraps the module and calls its entry, leaving the module table
// at stack position 3.
func load(t *testing.T, host *enginetest.Host) (*enginetest.Engine, *engine.CapabilityTable, engine.State) {
	t.Helper()
	e := enginetest.New(host)
	t.Cleanup(e.Close)
	api, s := e.Capabilities(), e.State()
	require.NoError(t, e.Protect(func() {
		arity, err := bind.Bootstrap(e.Descriptor("clock"), api, Entry)
		require.NoError(t, err)
		require.Equal(t, int32(2), arity)
		api.PushValue(s, 1)
		api.Call(s, 0, 1)
	}))
	require.Equal(t, engine.TypeTable, api.Type(s, 3))
	return e, api, s
}

// callField calls a module table function with already-pushed arguments.
func callField(t *testing.T, e *enginetest.Engine, api *engine.CapabilityTable, s engine.State, name string, push func(), nargs, nresults int) {
	t.Helper()
	require.Equal(t, engine.TypeFunction, api.GetField(s, 3, name))
	if push != nil {
		push()
	}
	require.NoError(t, e.Protect(func() { api.Call(s, nargs, nresults) }))
}

func TestModuleTable(t *testing.T) {
	t.Parallel()
	_, api, s := load(t, nil)
	for _, name := range []string{"now", "at", "counter", "adder", "tag", "is_tag", "config_path", "workdir"} {
		assert.Equal(t, engine.TypeFunction, api.GetField(s, 3, name), name)
		api.SetTop(s, 3)
	}
}

func TestClockFormat(t *testing.T) {
	t.Parallel()
	e, api, s := load(t, nil)

	callField(t, e, api, s, "at", func() { api.PushInteger(s, 0) }, 1, 1)
	require.Equal(t, engine.TypeFunction, api.GetField(s, -1, "format"))
	api.Rotate(s, -2, 1)
	api.PushString(s, "%Y-%m-%d")
	require.NoError(t, e.Protect(func() { api.Call(s, 2, 1) }))
	got, ok := api.ToLString(s, -1)
	require.True(t, ok)
	assert.Equal(t, "1970-01-01", got)
}

func TestClockFormatRejectsBadPattern(t *testing.T) {
	t.Parallel()
	e, api, s := load(t, nil)

	callField(t, e, api, s, "at", func() { api.PushInteger(s, 0) }, 1, 1)
	require.Equal(t, engine.TypeFunction, api.GetField(s, -1, "format"))
	api.Rotate(s, -2, 1)
	api.PushString(s, "%!")
	err := e.Protect(func() { api.Call(s, 2, 1) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid time format")
}

func TestClockSinceAndUnix(t *testing.T) {
	t.Parallel()
	e, api, s := load(t, nil)

	callField(t, e, api, s, "at", func() { api.PushInteger(s, 60) }, 1, 1)
	callField(t, e, api, s, "at", func() { api.PushInteger(s, 0) }, 1, 1)

	require.Equal(t, engine.TypeFunction, api.GetField(s, 4, "since"))
	api.PushValue(s, 4)
	api.PushValue(s, 5)
	require.NoError(t, e.Protect(func() { api.Call(s, 2, 1) }))
	secs, ok := api.ToNumber(s, -1)
	require.True(t, ok)
	assert.Equal(t, 60.0, secs)
	api.SetTop(s, 4)

	require.Equal(t, engine.TypeFunction, api.GetField(s, 4, "unix"))
	api.PushValue(s, 4)
	require.NoError(t, e.Protect(func() { api.Call(s, 1, 1) }))
	unix, ok := api.ToInteger(s, -1)
	require.True(t, ok)
	assert.Equal(t, int64(60), unix)
}

func TestCounterMethods(t *testing.T) {
	t.Parallel()
	e, api, s := load(t, nil)

	callField(t, e, api, s, "counter", func() { api.PushInteger(s, 5) }, 1, 1)
	invoke := func(method string, push func()) {
		require.Equal(t, engine.TypeFunction, api.GetField(s, 4, method))
		api.PushValue(s, 4)
		nargs := 1
		if push != nil {
			push()
			nargs = 2
		}
		require.NoError(t, e.Protect(func() { api.Call(s, nargs, 1) }))
	}

	invoke("incr", nil)
	n, _ := api.ToInteger(s, -1)
	assert.Equal(t, int64(6), n)
	api.SetTop(s, 4)

	invoke("incr", func() { api.PushInteger(s, 10) })
	n, _ = api.ToInteger(s, -1)
	assert.Equal(t, int64(16), n)
	api.SetTop(s, 4)

	invoke("set", func() { api.PushInteger(s, 2) })
	api.SetTop(s, 4)
	invoke("get", nil)
	n, _ = api.ToInteger(s, -1)
	assert.Equal(t, int64(2), n)
}

func TestAdderInstanceIsolation(t *testing.T) {
	t.Parallel()
	e, api, s := load(t, nil)

	callField(t, e, api, s, "adder", func() { api.PushInteger(s, 3) }, 1, 1)
	callField(t, e, api, s, "adder", func() { api.PushInteger(s, 10) }, 1, 1)

	call := func(fnIndex int) int64 {
		api.PushValue(s, fnIndex)
		api.PushInteger(s, 1)
		require.NoError(t, e.Protect(func() { api.Call(s, 1, 1) }))
		n, ok := api.ToInteger(s, -1)
		require.True(t, ok)
		api.SetTop(s, api.GetTop(s)-1)
		return n
	}
	assert.Equal(t, int64(4), call(4))
	assert.Equal(t, int64(11), call(5))
}

func TestTagRoundTrip(t *testing.T) {
	t.Parallel()
	e, api, s := load(t, nil)

	callField(t, e, api, s, "tag", func() { api.PushString(s, "marker") }, 1, 1)
	require.Equal(t, engine.TypeFunction, api.GetField(s, 3, "is_tag"))
	api.PushValue(s, 4)
	require.NoError(t, e.Protect(func() { api.Call(s, 1, 2) }))
	assert.True(t, api.ToBoolean(s, -2))
	label, _ := api.ToLString(s, -1)
	assert.Equal(t, "marker", label)
	api.SetTop(s, 3)

	callField(t, e, api, s, "is_tag", func() { api.PushInteger(s, 42) }, 1, 2)
	assert.False(t, api.ToBoolean(s, -2))
}

func TestConfigPathAndWorkdir(t *testing.T) {
	t.Parallel()
	host := &enginetest.Host{ConfigRoot: "/srv/host", WorkingDirectory: "/srv/work"}
	e, api, s := load(t, host)

	callField(t, e, api, s, "config_path", nil, 0, 1)
	path, _ := api.ToLString(s, -1)
	assert.Equal(t, "/srv/host/config/clock", path)
	api.SetTop(s, 3)

	callField(t, e, api, s, "workdir", nil, 0, 1)
	dir, _ := api.ToLString(s, -1)
	assert.Equal(t, "/srv/work", dir)
}

func TestCollectionFinalizesObjects(t *testing.T) {
	t.Parallel()
	e, api, s := load(t, nil)

	callField(t, e, api, s, "now", nil, 0, 1)
	callField(t, e, api, s, "counter", nil, 0, 1)
	assert.Equal(t, 1, e.Counters().MetatableCreated["clock.userdata.clock"])
	assert.Equal(t, 1, e.Counters().MetatableCreated["clock.userdata.counter"])

	api.SetTop(s, 3)
	assert.Equal(t, 2, e.Collect())
	assert.Equal(t, 1, e.Counters().FinalizerRuns["clock.userdata.clock"])
	assert.Equal(t, 1, e.Counters().FinalizerRuns["clock.userdata.counter"])
	assert.Empty(t, e.FinalizerErrors)

	assert.Equal(t, 0, e.Collect())
}
