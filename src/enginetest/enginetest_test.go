package enginetest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanema/modbind/src/engine"
)

func TestStackDiscipline(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	api.PushInteger(s, 1)
	api.PushString(s, "two")
	api.PushBoolean(s, true)
	assert.Equal(t, 3, api.GetTop(s))

	api.PushValue(s, 1)
	n, ok := api.ToInteger(s, -1)
	require.True(t, ok)
	assert.Equal(t, int64(1), n)

	api.Rotate(s, 1, 1)
	str, ok := api.ToLString(s, 3)
	require.True(t, ok)
	assert.Equal(t, "two", str)

	api.Copy(s, 3, 1)
	str, ok = api.ToLString(s, 1)
	require.True(t, ok)
	assert.Equal(t, "two", str)

	api.SetTop(s, 1)
	assert.Equal(t, 1, api.GetTop(s))
	assert.Equal(t, engine.TypeNone, api.Type(s, 2))
}

func TestCallAndResults(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	api.PushClosure(s, func(s engine.State) int32 {
		a := api.CheckInteger(s, 1)
		b := api.CheckInteger(s, 2)
		api.PushInteger(s, a+b)
		return 1
	}, 0)
	api.PushInteger(s, 2)
	api.PushInteger(s, 3)
	api.Call(s, 2, 1)
	n, ok := api.ToInteger(s, -1)
	require.True(t, ok)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, 1, api.GetTop(s))
}

func TestProtectedCallUnwinds(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	api.PushString(s, "kept")
	api.PushClosure(s, func(s engine.State) int32 {
		api.PushNil(s)
		api.PushNil(s)
		return api.AuxError(s, "boom")
	}, 0)
	status := api.PCall(s, 0, 0, 0)
	assert.Equal(t, engine.StatusRuntime, status)
	msg, ok := api.ToLString(s, -1)
	require.True(t, ok)
	assert.Equal(t, "boom", msg)
	assert.Equal(t, 2, api.GetTop(s))
	str, _ := api.ToLString(s, 1)
	assert.Equal(t, "kept", str)
}

func TestUpvalues(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	api.PushString(s, "first")
	api.PushString(s, "second")
	api.PushClosure(s, func(s engine.State) int32 {
		one, _ := api.ToLString(s, engine.UpvalueIndex(1))
		two, _ := api.ToLString(s, engine.UpvalueIndex(2))
		api.PushString(s, one+"/"+two)
		return 1
	}, 2)
	assert.Equal(t, 1, api.GetTop(s))
	api.Call(s, 0, 1)
	joined, _ := api.ToLString(s, -1)
	assert.Equal(t, "first/second", joined)
}

func TestIndexDelegation(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	api.CreateTable(s, 0, 0)
	api.CreateTable(s, 0, 1)
	api.PushString(s, "answer")
	api.PushInteger(s, 42)
	api.SetTable(s, -3)
	api.CreateTable(s, 0, 1)
	api.PushString(s, "__index")
	api.PushValue(s, -3)
	api.SetTable(s, -3)
	api.SetMetatable(s, -3)
	api.SetTop(s, 1)

	assert.Equal(t, engine.TypeNumber, api.GetField(s, 1, "answer"))
	n, _ := api.ToInteger(s, -1)
	assert.Equal(t, int64(42), n)
}

func TestNextIteration(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	api.CreateTable(s, 0, 2)
	api.PushString(s, "a")
	api.PushInteger(s, 1)
	api.SetTable(s, -3)
	api.PushString(s, "b")
	api.PushInteger(s, 2)
	api.SetTable(s, -3)

	found := map[string]int64{}
	api.PushNil(s)
	for api.Next(s, 1) {
		key, _ := api.ToLString(s, -2)
		val, _ := api.ToInteger(s, -1)
		found[key] = val
		api.SetTop(s, api.GetTop(s)-1)
	}
	assert.Equal(t, map[string]int64{"a": 1, "b": 2}, found)
}

func TestNamedMetatables(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	require.True(t, api.NewMetatable(s, "demo.userdata.thing"))
	assert.False(t, api.NewMetatable(s, "demo.userdata.thing"))
	assert.Equal(t, 1, e.Counters().MetatableCreated["demo.userdata.thing"])

	cell := api.NewUserdata(s, 1)
	*cell = 7
	api.PushValue(s, -2)
	api.SetMetatable(s, -2)
	got := api.TestUserdata(s, -1, "demo.userdata.thing")
	require.NotNil(t, got)
	assert.Equal(t, uintptr(7), *got)
	assert.Nil(t, api.TestUserdata(s, -1, "demo.userdata.other"))

	field := api.GetMetafield(s, -1, "__name")
	assert.Equal(t, engine.TypeString, field)
	name, _ := api.ToLString(s, -1)
	assert.Equal(t, "demo.userdata.thing", name)
}

func TestCollectRunsFinalizersOnce(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	runs := 0
	api.NewUserdata(s, 1)
	require.True(t, api.NewMetatable(s, "demo.userdata.f"))
	api.PushString(s, "__gc")
	api.PushClosure(s, func(engine.State) int32 { runs++; return 0 }, 0)
	api.SetTable(s, -3)
	api.SetMetatable(s, -2)

	assert.Equal(t, 0, e.Collect())
	assert.Equal(t, 0, runs)

	api.SetTop(s, 0)
	assert.Equal(t, 1, e.Collect())
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, e.Counters().FinalizerRuns["demo.userdata.f"])

	assert.Equal(t, 0, e.Collect())
	assert.Equal(t, 1, runs)
}

func TestCollectTraversesBareValues(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	api.CreateTable(s, 0, 1)
	api.PushString(s, "child")
	api.CreateTable(s, 0, 0)
	api.SetTable(s, -3)
	api.NewUserdata(s, 1)
	assert.Equal(t, 0, e.Collect())

	api.SetTop(s, 0)
	assert.Equal(t, 1, e.Collect())
	assert.Empty(t, e.FinalizerErrors)
}

func TestSetFuncsSharesUpvalues(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	shared := func(s engine.State) int32 {
		str, _ := api.ToLString(s, engine.UpvalueIndex(1))
		api.PushString(s, str)
		return 1
	}
	api.CreateTable(s, 0, 2)
	api.PushString(s, "token")
	api.SetFuncs(s, []engine.Reg{
		{Name: "one", Func: shared},
		{Name: "two", Func: shared},
	}, 1)
	assert.Equal(t, 1, api.GetTop(s))

	for _, name := range []string{"one", "two"} {
		require.Equal(t, engine.TypeFunction, api.GetField(s, 1, name))
		api.Call(s, 0, 1)
		str, _ := api.ToLString(s, -1)
		assert.Equal(t, "token", str)
		api.SetTop(s, 1)
	}
}

func TestHostPathResolution(t *testing.T) {
	t.Parallel()
	host := &Host{ConfigRoot: "/data/root"}
	small := make([]byte, 4)
	required := host.resolvePath("mymod", small)
	assert.Equal(t, uint32(len("/data/root/config/mymod")+1), required)
	assert.Equal(t, make([]byte, 4), small)

	buf := make([]byte, 64)
	required = host.resolvePath("mymod", buf)
	assert.Equal(t, "/data/root/config/mymod", string(buf[:required-1]))
	assert.Equal(t, byte(0), buf[required-1])
	assert.Equal(t, 2, host.Resolutions)
}

func TestProtectRestoresDepth(t *testing.T) {
	t.Parallel()
	e := New(nil)
	defer e.Close()
	api, s := e.Capabilities(), e.State()

	api.PushInteger(s, 1)
	err := e.Protect(func() {
		api.PushNil(s)
		api.PushNil(s)
		api.AuxError(s, "unwound")
	})
	require.EqualError(t, err, "unwound")
	assert.Equal(t, 1, api.GetTop(s))
}
