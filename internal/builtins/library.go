// Package builtins provides the script libraries every program gets: core,
// console, float, string and file. The host only sees them through Init and
// Cleanup.
package builtins

import (
	"io"
	"math"

	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/spf13/afero"
)

// Library is a set of natives with per-instance state.
type Library interface {
	Name() string
	// Init registers the library's natives into inst.
	Init(inst vm.Instance) error
	// Cleanup releases state created for inst.
	Cleanup(inst vm.Instance) error
}

// Default returns the built-in libraries in initialization order. Console
// output goes to out; the file library works on fs.
func Default(out io.Writer, fs afero.Fs) []Library {
	return []Library{
		NewCore(),
		NewConsole(out),
		NewFloat(),
		NewString(),
		NewFile(fs),
	}
}

// Cell helpers shared by the libraries.

func cellBool(b bool) vm.Cell {
	if b {
		return 1
	}

	return 0
}

func cellFloat(f float64) vm.Cell {
	return vm.Cell(int32(math.Float32bits(float32(f))))
}

func floatCell(c vm.Cell) float64 {
	return float64(math.Float32frombits(uint32(c)))
}

// argOr returns argument i, or def when the caller passed fewer arguments.
func argOr(params []vm.Cell, i int, def vm.Cell) vm.Cell {
	if i >= vm.ArgCount(params) {
		return def
	}

	return vm.Arg(params, i)
}
