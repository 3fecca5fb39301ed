// Package clock is a loadable module built on package bind. It exposes a
// timestamp object, a counter object, an adder closure family and a plain
// tag value, which together cover every way a module can hand native values
// to the engine. The host loads it through Bootstrap and calls the returned
// entry to receive the module table.
package clock

import (
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/tanema/modbind/src/bind"
	"github.com/tanema/modbind/src/engine"
	"github.com/tanema/modbind/src/merrors"
)

const defaultFormat = "%Y-%m-%d %H:%M:%S"

type (
	// Clock is an immutable point in time exposed as an engine object.
	Clock struct {
		at time.Time
	}
	// Counter is a mutable tally exposed as an engine object. The engine is
	// single threaded per state, so no locking is needed.
	Counter struct {
		n int64
	}
	// Adder is a callable value that adds a fixed amount to its argument.
	// Every adder owns its own boxed slot, so two adders never share state.
	Adder struct {
		amount int64
	}
	// Tag is a plain opaque value with no methods and no call behavior. It
	// only exists to be carried through script code and recognized back.
	Tag struct {
		Label string
	}
)

func (*Clock) TypeName() string   { return "clock" }
func (*Counter) TypeName() string { return "counter" }
func (*Adder) TypeName() string   { return "adder" }
func (*Tag) TypeName() string     { return "tag" }

// Methods implements bind.Object for Clock.
func (*Clock) Methods() []bind.MethodEntry[*Clock] {
	return []bind.MethodEntry[*Clock]{
		{Name: "format", Func: (*Clock).formatMethod},
		{Name: "since", Func: (*Clock).sinceMethod},
		{Name: "unix", Func: (*Clock).unixMethod},
	}
}

func (c *Clock) formatMethod(ctx *bind.Context, s engine.State) (int32, error) {
	rt := ctx.Runtime()
	format := rt.OptString(s, 2, defaultFormat)
	strf, err := strftime.New(format)
	if err != nil {
		return 0, merrors.Newf(merrors.ArgumentErr, ctx.ModuleName(), "invalid time format '%v'", format)
	}
	rt.PushString(s, strf.FormatString(c.at))
	return 1, nil
}

func (c *Clock) sinceMethod(ctx *bind.Context, s engine.State) (int32, error) {
	other, err := bind.ToUserData[*Clock](ctx, s, 2)
	if err != nil {
		return 0, err
	}
	ctx.Runtime().PushNumber(s, c.at.Sub(other.at).Seconds())
	return 1, nil
}

func (c *Clock) unixMethod(ctx *bind.Context, s engine.State) (int32, error) {
	ctx.Runtime().PushInteger(s, c.at.Unix())
	return 1, nil
}

// Methods implements bind.Object for Counter.
func (*Counter) Methods() []bind.MethodEntry[*Counter] {
	return []bind.MethodEntry[*Counter]{
		{Name: "get", Func: (*Counter).getMethod},
		{Name: "set", Func: (*Counter).setMethod},
		{Name: "incr", Func: (*Counter).incrMethod},
	}
}

func (c *Counter) getMethod(ctx *bind.Context, s engine.State) (int32, error) {
	ctx.Runtime().PushInteger(s, c.n)
	return 1, nil
}

func (c *Counter) setMethod(ctx *bind.Context, s engine.State) (int32, error) {
	c.n = ctx.Runtime().CheckInteger(s, 2)
	return 0, nil
}

func (c *Counter) incrMethod(ctx *bind.Context, s engine.State) (int32, error) {
	rt := ctx.Runtime()
	c.n += rt.OptInteger(s, 2, 1)
	rt.PushInteger(s, c.n)
	return 1, nil
}

// Call implements bind.Closure for Adder.
func (a *Adder) Call(ctx *bind.Context, s engine.State) (int32, error) {
	rt := ctx.Runtime()
	rt.PushInteger(s, rt.CheckInteger(s, 1)+a.amount)
	return 1, nil
}

// Entry is the module entry point handed to bind.Bootstrap. It builds and
// returns the module table. Every table function carries the context slot as
// its first upvalue, copied from the entry shim's own, so later calls can
// anchor the objects they expose to the same context.
func Entry(ctx *bind.Context, s engine.State) (int32, error) {
	rt := ctx.Runtime()
	api := rt.Capabilities()
	api.CreateTable(s, 0, 8)
	api.PushValue(s, engine.UpvalueIndex(1))
	rt.SetFuncs(s, []engine.Reg{
		{Name: "now", Func: nowFunc(ctx)},
		{Name: "at", Func: atFunc(ctx)},
		{Name: "counter", Func: counterFunc(ctx)},
		{Name: "adder", Func: adderFunc(ctx)},
		{Name: "tag", Func: tagFunc(ctx)},
		{Name: "is_tag", Func: isTagFunc(ctx)},
		{Name: "config_path", Func: configPathFunc(ctx)},
		{Name: "workdir", Func: workdirFunc(ctx)},
	}, 1)
	return 1, nil
}

func nowFunc(ctx *bind.Context) engine.Func {
	return func(s engine.State) int32 {
		bind.PushObject(ctx, s, engine.UpvalueIndex(1), &Clock{at: time.Now()})
		return 1
	}
}

func atFunc(ctx *bind.Context) engine.Func {
	return func(s engine.State) int32 {
		sec := ctx.Runtime().CheckInteger(s, 1)
		bind.PushObject(ctx, s, engine.UpvalueIndex(1), &Clock{at: time.Unix(sec, 0).UTC()})
		return 1
	}
}

func counterFunc(ctx *bind.Context) engine.Func {
	return func(s engine.State) int32 {
		initial := ctx.Runtime().OptInteger(s, 1, 0)
		bind.PushObject(ctx, s, engine.UpvalueIndex(1), &Counter{n: initial})
		return 1
	}
}

func adderFunc(ctx *bind.Context) engine.Func {
	return func(s engine.State) int32 {
		amount := ctx.Runtime().CheckInteger(s, 1)
		bind.PushClosure(ctx, s, engine.UpvalueIndex(1), &Adder{amount: amount})
		return 1
	}
}

func tagFunc(ctx *bind.Context) engine.Func {
	return func(s engine.State) int32 {
		label := ctx.Runtime().CheckString(s, 1)
		bind.PushUserData(ctx, s, engine.UpvalueIndex(1), &Tag{Label: label})
		return 1
	}
}

func isTagFunc(ctx *bind.Context) engine.Func {
	return func(s engine.State) int32 {
		rt := ctx.Runtime()
		tag, err := bind.ToUserData[*Tag](ctx, s, 1)
		if err != nil {
			rt.PushBoolean(s, false)
			return 1
		}
		rt.PushBoolean(s, true)
		rt.PushString(s, tag.Label)
		return 2
	}
}

func configPathFunc(ctx *bind.Context) engine.Func {
	return func(s engine.State) int32 {
		rt := ctx.Runtime()
		path, err := ctx.ConfigurationsPath()
		if err != nil {
			return rt.RaiseError(s, err)
		}
		rt.PushString(s, path)
		return 1
	}
}

func workdirFunc(ctx *bind.Context) engine.Func {
	return func(s engine.State) int32 {
		ctx.Runtime().PushString(s, ctx.WorkingDirectory())
		return 1
	}
}
