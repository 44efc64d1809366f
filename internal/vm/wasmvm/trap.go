package wasmvm

import (
	"errors"
	"strings"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/tetratelabs/wazero/sys"
)

// trapCode maps a wazero execution failure to an engine error code.
func trapCode(err error) errorcodes.VMError {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return errorcodes.ErrExit
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "integer divide by zero"), strings.Contains(msg, "integer overflow"):
		return errorcodes.ErrDivide
	case strings.Contains(msg, "out of bounds memory access"):
		return errorcodes.ErrMemAccess
	case strings.Contains(msg, "stack overflow"):
		return errorcodes.ErrStackErr
	case strings.Contains(msg, "unreachable"),
		strings.Contains(msg, "invalid table access"),
		strings.Contains(msg, "indirect call type mismatch"):
		return errorcodes.ErrInvInstr
	default:
		return errorcodes.ErrGeneral
	}
}
