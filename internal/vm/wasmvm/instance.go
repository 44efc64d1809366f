package wasmvm

import (
	"context"
	"fmt"
	"sort"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/andrei-cloud/plugin_runner/internal/wasmutil"
	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Instance is a loaded script. It is not safe for concurrent use; natives and
// plugins reach it re-entrantly from the goroutine running Exec.
type Instance struct {
	name    string
	runtime wazero.Runtime
	mod     api.Module
	imports []nativeImport
	publics []string
	natives map[string]vm.NativeFunc
	heap    map[vm.Cell]struct{}
	pending []vm.Cell
	raised  int
}

var _ vm.Instance = (*Instance)(nil)

// Name returns the module name the script was loaded under.
func (i *Instance) Name() string {
	return i.name
}

// FindPublic implements vm.Instance.
func (i *Instance) FindPublic(name string) (int, error) {
	idx := sort.SearchStrings(i.publics, name)
	if idx < len(i.publics) && i.publics[idx] == name {
		return idx, nil
	}

	return 0, errorcodes.ErrNotFound
}

// NumPublics implements vm.Instance.
func (i *Instance) NumPublics() int {
	return len(i.publics)
}

// Exec implements vm.Instance. Pushed cells fill the function's parameters in
// push order; missing ones are zero and extra ones are dropped.
func (i *Instance) Exec(ctx context.Context, index int) (vm.Cell, error) {
	args := i.pending
	i.pending = nil

	var name string
	switch {
	case index == vm.ExecMain:
		name = exportMain
	case index >= 0 && index < len(i.publics):
		name = i.publics[index]
	default:
		return 0, errorcodes.ErrIndex
	}

	// A fresh function per call keeps nested Exec from natives independent.
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return 0, errorcodes.ErrIndex
	}

	params := make([]uint64, len(fn.Definition().ParamTypes()))
	for j := range params {
		if j < len(args) {
			params[j] = api.EncodeI32(int32(args[j]))
		}
	}

	i.raised = 0
	results, err := fn.Call(ctx, params...)
	if code := i.raised; code != 0 {
		i.raised = 0
		return 0, errorcodes.FromCode(code)
	}
	if err != nil {
		code := trapCode(err)
		log.Debug().
			Err(err).
			Str("script", i.name).
			Str("function", name).
			Int("code", code.Code).
			Msg("script trapped")

		return 0, code
	}
	if len(results) == 0 {
		return 0, nil
	}

	return vm.Cell(api.DecodeI32(results[0])), nil
}

// Push implements vm.Instance.
func (i *Instance) Push(value vm.Cell) error {
	i.pending = append(i.pending, value)
	return nil
}

// PushString implements vm.Instance. The string lives in memory obtained from
// the script's Alloc export until Release.
func (i *Instance) PushString(s string) (vm.Cell, error) {
	alloc := i.mod.ExportedFunction(exportAlloc)
	if alloc == nil {
		return 0, errorcodes.ErrMemory
	}

	buf := append([]byte(s), 0)
	ptr, err := wasmutil.AllocBuffer(context.Background(), i.mod, alloc, buf)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errorcodes.ErrHeapLow, err)
	}

	addr := vm.Cell(ptr)
	i.heap[addr] = struct{}{}

	return addr, i.Push(addr)
}

// Release implements vm.Instance.
func (i *Instance) Release(addr vm.Cell) error {
	if _, ok := i.heap[addr]; !ok {
		return errorcodes.ErrMemAccess
	}
	delete(i.heap, addr)

	if free := i.mod.ExportedFunction(exportFree); free != nil {
		if _, err := free.Call(context.Background(), api.EncodeI32(int32(addr))); err != nil {
			return fmt.Errorf("%w: %w", errorcodes.ErrMemAccess, err)
		}
	}

	return nil
}

// GetString implements vm.Instance.
func (i *Instance) GetString(addr vm.Cell) (string, error) {
	if addr < 0 {
		return "", errorcodes.ErrMemAccess
	}

	s, err := wasmutil.ReadCString(i.mod, uint32(addr))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errorcodes.ErrMemAccess, err)
	}

	return s, nil
}

// SetString implements vm.Instance.
func (i *Instance) SetString(addr vm.Cell, s string, size int) error {
	if size <= 0 {
		return errorcodes.ErrParams
	}
	if addr < 0 {
		return errorcodes.ErrMemAccess
	}
	if len(s) > size-1 {
		s = s[:size-1]
	}

	if err := wasmutil.WriteMemory(i.mod, uint32(addr), append([]byte(s), 0)); err != nil {
		return fmt.Errorf("%w: %w", errorcodes.ErrMemAccess, err)
	}

	return nil
}

// Register implements vm.Instance.
func (i *Instance) Register(natives ...vm.Native) error {
	for _, n := range natives {
		if n.Func == nil {
			return fmt.Errorf("%w: native %q has no implementation", errorcodes.ErrParams, n.Name)
		}
		i.natives[n.Name] = n.Func
	}

	return nil
}

// UnresolvedNatives implements vm.Instance.
func (i *Instance) UnresolvedNatives() []string {
	var missing []string
	for _, imp := range i.imports {
		if _, ok := i.natives[imp.name]; !ok {
			missing = append(missing, imp.name)
		}
	}

	return missing
}

// RaiseError implements vm.Instance.
func (i *Instance) RaiseError(code int) {
	i.raised = code
}

// Close implements vm.Instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.runtime.Close(ctx)
}
