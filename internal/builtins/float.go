package builtins

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
)

// Rounding methods for floatround.
const (
	floatRound = iota
	floatFloor
	floatCeil
	floatToZero
)

// Angle modes for the trigonometric natives.
const (
	angleRadian = iota
	angleDegrees
	angleGrades
)

// Float implements the float library. Floats travel as IEEE-754 single
// precision bits inside cells.
type Float struct{}

// NewFloat returns the float library.
func NewFloat() *Float {
	return &Float{}
}

// Name implements Library.
func (f *Float) Name() string { return "float" }

// Init implements Library.
func (f *Float) Init(inst vm.Instance) error {
	return inst.Register(
		vm.Native{Name: "float", Func: f.float},
		vm.Native{Name: "floatstr", Func: f.floatstr},
		vm.Native{Name: "floatmul", Func: binary(func(a, b float64) float64 { return a * b })},
		vm.Native{Name: "floatdiv", Func: f.floatdiv},
		vm.Native{Name: "floatadd", Func: binary(func(a, b float64) float64 { return a + b })},
		vm.Native{Name: "floatsub", Func: binary(func(a, b float64) float64 { return a - b })},
		vm.Native{Name: "floatfract", Func: unary(func(a float64) float64 { return a - math.Trunc(a) })},
		vm.Native{Name: "floatround", Func: f.floatround},
		vm.Native{Name: "floatcmp", Func: f.floatcmp},
		vm.Native{Name: "floatsqrt", Func: f.floatsqrt},
		vm.Native{Name: "floatpower", Func: binary(math.Pow)},
		vm.Native{Name: "floatlog", Func: f.floatlog},
		vm.Native{Name: "floatsin", Func: trig(math.Sin)},
		vm.Native{Name: "floatcos", Func: trig(math.Cos)},
		vm.Native{Name: "floattan", Func: trig(math.Tan)},
		vm.Native{Name: "floatabs", Func: unary(math.Abs)},
	)
}

// Cleanup implements Library.
func (f *Float) Cleanup(vm.Instance) error { return nil }

func unary(op func(float64) float64) vm.NativeFunc {
	return func(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
		return cellFloat(op(floatCell(vm.Arg(params, 0))))
	}
}

func binary(op func(a, b float64) float64) vm.NativeFunc {
	return func(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
		return cellFloat(op(floatCell(vm.Arg(params, 0)), floatCell(vm.Arg(params, 1))))
	}
}

func trig(op func(float64) float64) vm.NativeFunc {
	return func(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
		value := floatCell(vm.Arg(params, 0))
		switch vm.Arg(params, 1) {
		case angleDegrees:
			value = value * math.Pi / 180
		case angleGrades:
			value = value * math.Pi / 200
		}

		return cellFloat(op(value))
	}
}

func (f *Float) float(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	return cellFloat(float64(vm.Arg(params, 0)))
}

func (f *Float) floatstr(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	s, err := inst.GetString(vm.Arg(params, 0))
	if err != nil {
		inst.RaiseError(errorcodes.ErrNative.Code)
		return 0
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return cellFloat(0)
	}

	return cellFloat(v)
}

func (f *Float) floatdiv(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	divisor := floatCell(vm.Arg(params, 1))
	if divisor == 0 {
		inst.RaiseError(errorcodes.ErrDivide.Code)
		return 0
	}

	return cellFloat(floatCell(vm.Arg(params, 0)) / divisor)
}

func (f *Float) floatround(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	value := floatCell(vm.Arg(params, 0))

	switch vm.Arg(params, 1) {
	case floatFloor:
		value = math.Floor(value)
	case floatCeil:
		value = math.Ceil(value)
	case floatToZero:
		value = math.Trunc(value)
	default:
		value = math.Round(value)
	}

	return vm.Cell(int32(value))
}

func (f *Float) floatcmp(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
	a, b := floatCell(vm.Arg(params, 0)), floatCell(vm.Arg(params, 1))

	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (f *Float) floatsqrt(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	value := floatCell(vm.Arg(params, 0))
	if value < 0 {
		inst.RaiseError(errorcodes.ErrDomain.Code)
		return 0
	}

	return cellFloat(math.Sqrt(value))
}

// floatlog(value, base = 10.0)
func (f *Float) floatlog(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	value := floatCell(vm.Arg(params, 0))
	base := 10.0
	if vm.ArgCount(params) > 1 {
		base = floatCell(vm.Arg(params, 1))
	}
	if value <= 0 || base <= 0 || base == 1 {
		inst.RaiseError(errorcodes.ErrDomain.Code)
		return 0
	}

	switch base {
	case 10:
		return cellFloat(math.Log10(value))
	case 2:
		return cellFloat(math.Log2(value))
	}

	return cellFloat(math.Log(value) / math.Log(base))
}
