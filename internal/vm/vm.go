// Package vm defines the contract between the host and the script engine.
//
// The host never looks inside a running script. It loads a program through an
// Engine, registers native functions into the resulting Instance, checks that
// every native the program references is bound, and then executes publics by
// index. Plugins reach the same Instance through the host export table.
package vm

import (
	"context"
)

// Cell is the engine's machine word. Integers, packed floats and string
// addresses are all carried as cells.
type Cell int32

// CellSize is the size of a cell in bytes.
const CellSize = 4

// ExecMain selects the program's entry point in Instance.Exec.
const ExecMain = -1

// NativeFunc implements a script-callable native. params[0] holds the size in
// bytes of the argument block that follows, so the argument count is
// params[0]/CellSize.
type NativeFunc func(ctx context.Context, inst Instance, params []Cell) Cell

// Native binds a name referenced by a program to its implementation.
type Native struct {
	Name string
	Func NativeFunc
}

// Instance is one loaded program.
type Instance interface {
	// FindPublic returns the index of the named public function.
	FindPublic(name string) (int, error)
	// NumPublics returns how many public functions the program exports.
	NumPublics() int
	// Exec runs the public at index (or ExecMain) with the cells pushed since
	// the previous Exec as its arguments, in push order.
	Exec(ctx context.Context, index int) (Cell, error)
	// Push queues an argument for the next Exec.
	Push(value Cell) error
	// PushString copies s into engine memory, queues its address for the next
	// Exec and returns the address so the caller can Release it.
	PushString(s string) (Cell, error)
	// Release frees memory obtained through PushString.
	Release(addr Cell) error
	// GetString reads the NUL-terminated string stored at addr.
	GetString(addr Cell) (string, error)
	// SetString stores s at addr, truncated to fit size bytes including the
	// terminator.
	SetString(addr Cell, s string, size int) error
	// Register binds natives by name. Later registrations replace earlier ones.
	Register(natives ...Native) error
	// UnresolvedNatives lists natives the program references that are not bound.
	UnresolvedNatives() []string
	// RaiseError aborts the currently executing call with the given code once the
	// native that raised it returns.
	RaiseError(code int)
	// Close releases every resource held by the program.
	Close(ctx context.Context) error
}

// Engine loads compiled programs.
type Engine interface {
	Load(ctx context.Context, path string) (Instance, error)
}

// ArgCount returns the number of arguments carried by a native params block,
// clamped to what is actually present.
func ArgCount(params []Cell) int {
	if len(params) == 0 {
		return 0
	}

	n := int(params[0]) / CellSize
	if n < 0 {
		return 0
	}
	if n > len(params)-1 {
		n = len(params) - 1
	}

	return n
}

// Arg returns argument i (zero-based) of a native params block, or 0 when the
// caller supplied fewer arguments.
func Arg(params []Cell, i int) Cell {
	if i < 0 || i >= ArgCount(params) {
		return 0
	}

	return params[i+1]
}

// Params builds a native params block from arguments.
func Params(args ...Cell) []Cell {
	params := make([]Cell, 0, len(args)+1)
	params = append(params, Cell(len(args)*CellSize))

	return append(params, args...)
}
