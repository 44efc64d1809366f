package builtins

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
	"unicode"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
)

// Core implements the core library.
type Core struct {
	start time.Time
	rng   *rand.Rand
}

// NewCore returns the core library.
func NewCore() *Core {
	return &Core{rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))}
}

// Name implements Library.
func (c *Core) Name() string { return "core" }

// Init implements Library.
func (c *Core) Init(inst vm.Instance) error {
	c.start = time.Now()

	return inst.Register(
		vm.Native{Name: "funcidx", Func: c.funcidx},
		vm.Native{Name: "min", Func: c.min},
		vm.Native{Name: "max", Func: c.max},
		vm.Native{Name: "clamp", Func: c.clamp},
		vm.Native{Name: "random", Func: c.random},
		vm.Native{Name: "tolower", Func: c.tolower},
		vm.Native{Name: "toupper", Func: c.toupper},
		vm.Native{Name: "swapchars", Func: c.swapchars},
		vm.Native{Name: "tickcount", Func: c.tickcount},
	)
}

// Cleanup implements Library.
func (c *Core) Cleanup(vm.Instance) error { return nil }

func (c *Core) funcidx(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	name, err := inst.GetString(vm.Arg(params, 0))
	if err != nil {
		inst.RaiseError(errorcodes.ErrNative.Code)
		return 0
	}

	idx, err := inst.FindPublic(name)
	if err != nil {
		return -1
	}

	return vm.Cell(idx)
}

func (c *Core) min(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	return min(vm.Arg(params, 0), vm.Arg(params, 1))
}

func (c *Core) max(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	return max(vm.Arg(params, 0), vm.Arg(params, 1))
}

// clamp(value, min = cellmin, max = cellmax)
func (c *Core) clamp(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	value := vm.Arg(params, 0)
	lo := argOr(params, 1, math.MinInt32)
	hi := argOr(params, 2, math.MaxInt32)
	if lo > hi {
		inst.RaiseError(errorcodes.ErrNative.Code)
		return 0
	}

	return min(max(value, lo), hi)
}

func (c *Core) random(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	limit := vm.Arg(params, 0)
	if limit <= 0 {
		return 0
	}

	return vm.Cell(c.rng.Int32N(int32(limit)))
}

func (c *Core) tolower(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	return vm.Cell(unicode.ToLower(rune(vm.Arg(params, 0))))
}

func (c *Core) toupper(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	return vm.Cell(unicode.ToUpper(rune(vm.Arg(params, 0))))
}

// swapchars reverses the bytes of a cell.
func (c *Core) swapchars(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	v := uint32(vm.Arg(params, 0))

	return vm.Cell(int32(v>>24 | (v>>8)&0xff00 | (v<<8)&0xff0000 | v<<24))
}

// tickcount returns milliseconds since the library was initialized.
func (c *Core) tickcount(context.Context, vm.Instance, []vm.Cell) vm.Cell {
	return vm.Cell(int32(time.Since(c.start).Milliseconds()))
}
