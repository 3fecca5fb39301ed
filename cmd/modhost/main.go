// Package main is a demonstration host. It stands up an in-process test
// engine, bootstraps the clock module against it, and exposes an interactive
// prompt of host commands for calling module functions, invoking methods on
// returned objects, and forcing collections.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tanema/modbind/src/bind"
	"github.com/tanema/modbind/src/clock"
	"github.com/tanema/modbind/src/conf"
	"github.com/tanema/modbind/src/engine"
	"github.com/tanema/modbind/src/enginetest"
)

var (
	moduleName  string
	configRoot  string
	workdir     string
	showVersion bool
)

func init() {
	flag.StringVar(&moduleName, "m", "clock", "name to load the module under")
	flag.StringVar(&configRoot, "c", "/tmp/modhost", "host data root for module configurations")
	flag.StringVar(&workdir, "w", ".", "working directory handed to the module")
	flag.BoolVar(&showVersion, "v", false, "show version information")
}

type host struct {
	eng *enginetest.Engine
	api *engine.CapabilityTable
	s   engine.State
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if showVersion {
		fmt.Fprintf(os.Stderr, "%v\n", conf.VERSION)
		return
	}

	eng := enginetest.New(&enginetest.Host{ConfigRoot: configRoot, WorkingDirectory: workdir})
	defer eng.Close()
	h := &host{eng: eng, api: eng.Capabilities(), s: eng.State()}

	checkErr(eng.Protect(func() {
		arity, err := bind.Bootstrap(eng.Descriptor(moduleName), h.api, clock.Entry)
		checkErr(err)
		if arity != 2 {
			checkErr(fmt.Errorf("bootstrap returned arity %v", arity))
		}
	}))

	// The stack now holds the entry function and the context slot. Calling
	// the entry yields the module table, kept at position 3 for the session.
	checkErr(eng.Protect(func() {
		h.api.PushValue(h.s, 1)
		h.api.Call(h.s, 0, 1)
	}))

	fmt.Fprintf(os.Stderr, "%v\nmodule %q loaded. Type help for commands, ctrl-c to quit.\n", conf.VERSION, moduleName)
	checkErr(h.repl())
}

func (h *host) repl() error {
	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "help":
			printHelp()
		case "gc":
			fmt.Fprintf(os.Stderr, "collected %v\n", h.api.GC(h.s, 0))
		case "counters":
			c := h.eng.Counters()
			fmt.Fprintf(os.Stderr, "metatables %v\nindex builds %v\nfinalizers %v\ncollections %v\n",
				c.MetatableCreated, c.IndexBuilds, c.FinalizerRuns, c.Collections)
		case "call":
			if len(fields) < 2 {
				fmt.Fprintln(os.Stderr, "usage: call <fn> [args...]")
				continue
			}
			if h.callModule(fields[1], fields[2:]) {
				h.api.SetTop(h.s, 3)
			}
		case "let":
			if len(fields) < 4 || fields[2] != "=" {
				fmt.Fprintln(os.Stderr, "usage: let <name> = <fn> [args...]")
				continue
			}
			if h.callModule(fields[3], fields[4:]) {
				h.api.SetGlobal(h.s, fields[1])
				fmt.Fprintf(os.Stderr, "%v set\n", fields[1])
			}
		case "invoke":
			if len(fields) < 3 {
				fmt.Fprintln(os.Stderr, "usage: invoke <name> <method> [args...]")
				continue
			}
			h.invokeMethod(fields[1], fields[2], fields[3:])
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q, type help\n", fields[0])
		}
	}
}

// callModule calls a function from the module table with the given literal
// arguments and prints the result, which is left on top of the stack for the
// caller to store or discard.
func (h *host) callModule(name string, args []string) bool {
	ok := true
	err := h.eng.Protect(func() {
		if h.api.GetField(h.s, 3, name) != engine.TypeFunction {
			h.api.SetTop(h.s, 3)
			fmt.Fprintf(os.Stderr, "module has no function %q\n", name)
			ok = false
			return
		}
		for _, arg := range args {
			h.pushArg(arg)
		}
		h.api.Call(h.s, len(args), 1)
		fmt.Fprintln(os.Stderr, h.api.AuxToLString(h.s, -1))
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		h.api.SetTop(h.s, 3)
		return false
	}
	return ok
}

// invokeMethod resolves a stored global, looks the method up through the
// value's index mechanism, and calls it with the value as the receiver.
func (h *host) invokeMethod(global, method string, args []string) {
	err := h.eng.Protect(func() {
		if h.api.GetGlobal(h.s, global) == engine.TypeNil {
			h.api.SetTop(h.s, 3)
			fmt.Fprintf(os.Stderr, "no stored value named %q\n", global)
			return
		}
		if h.api.GetField(h.s, -1, method) != engine.TypeFunction {
			h.api.SetTop(h.s, 3)
			fmt.Fprintf(os.Stderr, "value %q has no method %q\n", global, method)
			return
		}
		h.api.Rotate(h.s, -2, 1)
		for _, arg := range args {
			h.pushArg(arg)
		}
		h.api.Call(h.s, len(args)+1, 1)
		fmt.Fprintln(os.Stderr, h.api.AuxToLString(h.s, -1))
		h.api.SetTop(h.s, 3)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		h.api.SetTop(h.s, 3)
	}
}

// pushArg pushes one literal command argument: integers as integers, $name
// as the stored global of that name, everything else as a string.
func (h *host) pushArg(arg string) {
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		h.api.PushInteger(h.s, n)
		return
	}
	if name, isRef := strings.CutPrefix(arg, "$"); isRef {
		h.api.GetGlobal(h.s, name)
		return
	}
	h.api.PushString(h.s, arg)
}

func printHelp() {
	fmt.Fprint(os.Stderr, `commands:
  call <fn> [args...]             call a module function and print the result
  let <name> = <fn> [args...]     call and store the result under a name
  invoke <name> <method> [args..] call a method on a stored value
  gc                              run a full collection
  counters                        show engine instrumentation counters
  quit                            exit
arguments: integers are numbers, $name reads a stored value, anything else is a string
`)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "%v\n\nUsage: modhost [options]\n", conf.VERSION)
	flag.PrintDefaults()
}

func checkErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
