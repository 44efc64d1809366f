package builtins

import (
	"context"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/valyala/bytebufferpool"
)

// Console implements the console library.
type Console struct {
	out io.Writer
}

// NewConsole returns a console library writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Name implements Library.
func (c *Console) Name() string { return "console" }

// Init implements Library.
func (c *Console) Init(inst vm.Instance) error {
	return inst.Register(
		vm.Native{Name: "print", Func: c.print},
		vm.Native{Name: "printf", Func: c.printf},
	)
}

// Cleanup implements Library.
func (c *Console) Cleanup(vm.Instance) error { return nil }

func (c *Console) print(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	s, err := inst.GetString(vm.Arg(params, 0))
	if err != nil {
		inst.RaiseError(errorcodes.ErrNative.Code)
		return 0
	}

	n, _ := io.WriteString(c.out, s)

	return vm.Cell(n)
}

// printf supports %d %i %x %c %s %f and %%. Arguments are cells passed by
// value; %s takes a string address.
func (c *Console) printf(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	format, err := inst.GetString(vm.Arg(params, 0))
	if err != nil {
		inst.RaiseError(errorcodes.ErrNative.Code)
		return 0
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	FormatCells(buf, inst, format, params, 1)

	n, _ := c.out.Write(buf.B)

	return vm.Cell(n)
}

// FormatCells expands format into buf, taking arguments from params starting
// at argument index first.
func FormatCells(buf *bytebufferpool.ByteBuffer, inst vm.Instance, format string, params []vm.Cell, first int) {
	arg := first
	next := func() vm.Cell {
		v := vm.Arg(params, arg)
		arg++

		return v
	}

	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' || i+1 == len(format) {
			_ = buf.WriteByte(ch)
			continue
		}

		i++
		switch format[i] {
		case 'd', 'i':
			buf.B = strconv.AppendInt(buf.B, int64(next()), 10)
		case 'x':
			buf.B = strconv.AppendUint(buf.B, uint64(uint32(next())), 16)
		case 'c':
			buf.B = utf8.AppendRune(buf.B, rune(next()))
		case 's':
			s, err := inst.GetString(next())
			if err == nil {
				_, _ = buf.WriteString(s)
			}
		case 'f':
			buf.B = strconv.AppendFloat(buf.B, floatCell(next()), 'f', 6, 32)
		case '%':
			_ = buf.WriteByte('%')
		default:
			_ = buf.WriteByte('%')
			_ = buf.WriteByte(format[i])
		}
	}
}
