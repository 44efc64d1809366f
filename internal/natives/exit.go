package natives

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/rs/zerolog/log"
)

// Exit implements native ExitProcess(code). By default it ends the process on
// the spot. In graceful mode it records the code, runs the stop hook and
// aborts the script with ErrExit so the host can tear down normally.
type Exit struct {
	exit     func(code int)
	graceful bool
	stop     func()

	requested atomic.Bool
	code      atomic.Int32
}

// ExitOption configures Exit.
type ExitOption func(*Exit)

// WithExitFunc replaces os.Exit.
func WithExitFunc(fn func(code int)) ExitOption {
	return func(e *Exit) { e.exit = fn }
}

// Graceful makes ExitProcess stop the host instead of the process. stop runs
// when the script asks to exit.
func Graceful(stop func()) ExitOption {
	return func(e *Exit) {
		e.graceful = true
		e.stop = stop
	}
}

// NewExit returns the ExitProcess native.
func NewExit(opts ...ExitOption) *Exit {
	e := &Exit{exit: os.Exit}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Native is the vm.NativeFunc for ExitProcess.
func (e *Exit) Native(_ context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	code := int32(vm.Arg(params, 0))

	log.Info().
		Str("event", "exit_process").
		Int32("code", code).
		Bool("graceful", e.graceful).
		Msg("script requested exit")

	if !e.graceful {
		e.exit(int(code))
		return 0
	}

	e.code.Store(code)
	e.requested.Store(true)
	if e.stop != nil {
		e.stop()
	}
	inst.RaiseError(errorcodes.ErrExit.Code)

	return 0
}

// Requested returns the code passed to ExitProcess in graceful mode.
func (e *Exit) Requested() (int, bool) {
	return int(e.code.Load()), e.requested.Load()
}

// Natives returns the host natives in registration order.
func Natives(exit *Exit) []vm.Native {
	return []vm.Native{
		{Name: "ExitProcess", Func: exit.Native},
		{Name: "CallLocalFunction", Func: CallLocalFunction},
	}
}
