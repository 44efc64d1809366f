package builtins

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
)

// String implements the string library.
type String struct{}

// NewString returns the string library.
func NewString() *String {
	return &String{}
}

// Name implements Library.
func (s *String) Name() string { return "string" }

// Init implements Library.
func (s *String) Init(inst vm.Instance) error {
	return inst.Register(
		vm.Native{Name: "strlen", Func: s.strlen},
		vm.Native{Name: "strcmp", Func: s.strcmp},
		vm.Native{Name: "strfind", Func: s.strfind},
		vm.Native{Name: "strval", Func: s.strval},
		vm.Native{Name: "valstr", Func: s.valstr},
		vm.Native{Name: "strcat", Func: s.strcat},
	)
}

// Cleanup implements Library.
func (s *String) Cleanup(vm.Instance) error { return nil }

func getString(inst vm.Instance, addr vm.Cell) (string, bool) {
	str, err := inst.GetString(addr)
	if err != nil {
		inst.RaiseError(errorcodes.ErrNative.Code)
		return "", false
	}

	return str, true
}

func (s *String) strlen(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	str, ok := getString(inst, vm.Arg(params, 0))
	if !ok {
		return 0
	}

	return vm.Cell(len(str))
}

// strcmp(const string1[], const string2[], bool:ignorecase = false, length = cellmax)
func (s *String) strcmp(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	a, ok := getString(inst, vm.Arg(params, 0))
	if !ok {
		return 0
	}
	b, ok := getString(inst, vm.Arg(params, 1))
	if !ok {
		return 0
	}

	if n := int(argOr(params, 3, math.MaxInt32)); n >= 0 {
		a, b = truncate(a, n), truncate(b, n)
	}
	if vm.Arg(params, 2) != 0 {
		a, b = strings.ToLower(a), strings.ToLower(b)
	}

	return vm.Cell(strings.Compare(a, b))
}

// strfind(const string[], const sub[], bool:ignorecase = false, pos = 0)
func (s *String) strfind(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	str, ok := getString(inst, vm.Arg(params, 0))
	if !ok {
		return 0
	}
	sub, ok := getString(inst, vm.Arg(params, 1))
	if !ok {
		return 0
	}

	pos := int(vm.Arg(params, 3))
	if pos < 0 || pos > len(str) {
		return -1
	}
	if vm.Arg(params, 2) != 0 {
		str, sub = strings.ToLower(str), strings.ToLower(sub)
	}

	idx := strings.Index(str[pos:], sub)
	if idx < 0 {
		return -1
	}

	return vm.Cell(idx + pos)
}

// strval parses a leading decimal integer, ignoring leading whitespace.
func (s *String) strval(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	str, ok := getString(inst, vm.Arg(params, 0))
	if !ok {
		return 0
	}

	str = strings.TrimLeft(str, " \t\r\n")
	end := 0
	if end < len(str) && (str[end] == '-' || str[end] == '+') {
		end++
	}
	for end < len(str) && str[end] >= '0' && str[end] <= '9' {
		end++
	}

	v, err := strconv.ParseInt(str[:end], 10, 32)
	if err != nil {
		return 0
	}

	return vm.Cell(v)
}

// valstr(dest[], value, bool:pack = false)
func (s *String) valstr(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	str := strconv.Itoa(int(vm.Arg(params, 1)))
	if err := inst.SetString(vm.Arg(params, 0), str, len(str)+1); err != nil {
		inst.RaiseError(errorcodes.ErrNative.Code)
		return 0
	}

	return vm.Cell(len(str))
}

// strcat(dest[], const source[], maxlength = sizeof dest)
func (s *String) strcat(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	dest, ok := getString(inst, vm.Arg(params, 0))
	if !ok {
		return 0
	}
	src, ok := getString(inst, vm.Arg(params, 1))
	if !ok {
		return 0
	}

	out := dest + src
	size := int(argOr(params, 2, vm.Cell(len(out)+1)))
	if err := inst.SetString(vm.Arg(params, 0), out, size); err != nil {
		inst.RaiseError(errorcodes.ErrNative.Code)
		return 0
	}

	return vm.Cell(len(truncate(out, size-1)))
}

func truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	if len(s) > n {
		return s[:n]
	}

	return s
}
