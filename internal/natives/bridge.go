// Package natives holds the natives the host itself registers into every
// script: CallLocalFunction and ExitProcess.
package natives

import (
	"context"

	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/rs/zerolog/log"
)

// CallLocalFunction implements
//
//	native CallLocalFunction(const function[], const format[], {Float,_}:...);
//
// It calls the named public with the trailing arguments described by format:
// 'd', 'i' and 'f' pass the cell as is, 's' passes a copy of the string the
// cell points to. Other format characters consume an argument and pass
// nothing. Returns the callee's value, or 0 when there is no such public.
func CallLocalFunction(ctx context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
	name, err := inst.GetString(vm.Arg(params, 0))
	if err != nil {
		return 0
	}

	index, err := inst.FindPublic(name)
	if err != nil {
		return 0
	}

	format, err := inst.GetString(vm.Arg(params, 1))
	if err != nil {
		format = ""
	}

	numArgs := vm.ArgCount(params)
	var pushed []vm.Cell

	for i, arg := 0, 2; i < len(format) && arg < numArgs; i, arg = i+1, arg+1 {
		value := vm.Arg(params, arg)

		switch format[i] {
		case 'd', 'i', 'f':
			if err := inst.Push(value); err != nil {
				log.Debug().Err(err).Str("function", name).Msg("failed to push argument")
			}
		case 's':
			s, err := inst.GetString(value)
			if err != nil {
				s = ""
			}

			addr, err := inst.PushString(s)
			if err != nil {
				log.Debug().Err(err).Str("function", name).Msg("failed to push string argument")
				continue
			}
			pushed = append(pushed, addr)
		}
	}

	ret, err := inst.Exec(ctx, index)
	if err != nil {
		log.Debug().Err(err).Str("function", name).Msg("local function failed")
	}

	for i := len(pushed) - 1; i >= 0; i-- {
		if err := inst.Release(pushed[i]); err != nil {
			log.Debug().Err(err).Str("function", name).Msg("failed to release string argument")
		}
	}

	return ret
}
