package bind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanema/modbind/src/conf"
	"github.com/tanema/modbind/src/engine"
	"github.com/tanema/modbind/src/enginetest"
	"github.com/tanema/modbind/src/merrors"
)

// boot loads a module named name into a fresh test engine and returns the
// engine handles plus the context captured from the first entry call.
func boot(t *testing.T, name string, host *enginetest.Host) (*enginetest.Engine, *engine.CapabilityTable, engine.State, *Context) {
	t.Helper()
	e := enginetest.New(host)
	t.Cleanup(e.Close)
	api, s := e.Capabilities(), e.State()

	var captured *Context
	require.NoError(t, e.Protect(func() {
		arity, err := Bootstrap(e.Descriptor(name), api, func(ctx *Context, _ engine.State) (int32, error) {
			captured = ctx
			return 0, nil
		})
		require.NoError(t, err)
		require.Equal(t, int32(2), arity)
	}))

	require.NoError(t, e.Protect(func() {
		api.PushValue(s, 1)
		api.Call(s, 0, 0)
	}))
	require.NotNil(t, captured)
	return e, api, s, captured
}

func TestBootstrapLeavesEntryAndSlot(t *testing.T) {
	t.Parallel()
	_, api, s, ctx := boot(t, "mod", nil)

	assert.Equal(t, 2, api.GetTop(s))
	assert.True(t, api.IsFunction(s, 1))
	assert.True(t, api.IsUserdata(s, 2))

	require.Equal(t, engine.TypeString, api.GetMetafield(s, 2, "__name"))
	name, _ := api.ToLString(s, -1)
	assert.Equal(t, "mod", name)
	api.SetTop(s, 2)

	assert.Equal(t, "mod", ctx.ModuleName())
	assert.Equal(t, ctx, CheckContext(ctx.Runtime(), s, 2))
}

func TestBootstrapEntryForwardsResults(t *testing.T) {
	t.Parallel()
	e := enginetest.New(nil)
	t.Cleanup(e.Close)
	api, s := e.Capabilities(), e.State()

	require.NoError(t, e.Protect(func() {
		arity, err := Bootstrap(e.Descriptor("mod"), api, func(ctx *Context, s engine.State) (int32, error) {
			ctx.Runtime().PushString(s, ctx.ModuleName())
			return 1, nil
		})
		require.NoError(t, err)
		require.Equal(t, int32(2), arity)
	}))

	require.NoError(t, e.Protect(func() {
		api.PushValue(s, 1)
		api.Call(s, 0, 1)
	}))
	got, _ := api.ToLString(s, -1)
	assert.Equal(t, "mod", got)
}

func TestBootstrapEntryRaisesErrors(t *testing.T) {
	t.Parallel()
	e := enginetest.New(nil)
	t.Cleanup(e.Close)
	api, s := e.Capabilities(), e.State()

	require.NoError(t, e.Protect(func() {
		arity, err := Bootstrap(e.Descriptor("mod"), api, func(*Context, engine.State) (int32, error) {
			return 0, merrors.Newf(merrors.ArgumentErr, "mod", "entry refused to run")
		})
		require.NoError(t, err)
		require.Equal(t, int32(2), arity)
	}))

	before := api.GetTop(s)
	err := e.Protect(func() {
		api.PushValue(s, 1)
		api.Call(s, 0, 0)
	})
	require.EqualError(t, err, "entry refused to run")
	assert.Equal(t, before, api.GetTop(s))
}

func TestBootstrapCollisionBalancesStack(t *testing.T) {
	t.Parallel()
	e, api, s, _ := boot(t, "mod", nil)

	before := api.GetTop(s)
	err := e.Protect(func() {
		_, _ = Bootstrap(e.Descriptor("mod"), api, func(*Context, engine.State) (int32, error) {
			return 0, nil
		})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `module "mod" is already loaded`)
	assert.Equal(t, before, api.GetTop(s))
}

func TestBootstrapRejectsWrongRevisions(t *testing.T) {
	t.Parallel()
	e := enginetest.New(nil)
	t.Cleanup(e.Close)
	api := e.Capabilities()

	stale := *api
	stale.Revision = conf.MINCAPABILITYREVISION - 1
	_, err := Bootstrap(e.Descriptor("mod"), &stale, func(*Context, engine.State) (int32, error) {
		return 0, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "older than the supported minimum")

	desc := e.Descriptor("mod")
	desc.Revision = conf.MINBOOTSTRAPREVISION - 1
	_, err = Bootstrap(desc, api, func(*Context, engine.State) (int32, error) {
		return 0, nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, api.GetTop(e.State()))
}
