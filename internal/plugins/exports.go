package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/andrei-cloud/plugin_runner/internal/wasmutil"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostModule is the module name plugins import the export table from.
const HostModule = "host"

// Slot names in ABI order. Slots are only ever appended.
var slotNames = []string{
	"logprintf",
	"amx_register",
	"amx_find_public",
	"amx_push",
	"amx_push_string",
	"amx_release",
	"amx_exec",
	"amx_get_string",
	"amx_set_string",
	"amx_raise_error",
}

// SlotNames returns the export table slots in ABI order.
func SlotNames() []string {
	return append([]string(nil), slotNames...)
}

// Instances maps the small integer handles plugins see to script instances.
type Instances struct {
	m    cmap.ConcurrentMap[uint32, vm.Instance]
	next atomic.Uint32
}

// NewInstances returns an empty handle table.
func NewInstances() *Instances {
	return &Instances{
		m: cmap.NewWithCustomShardingFunction[uint32, vm.Instance](func(key uint32) uint32 { return key }),
	}
}

// Add stores inst and returns its handle. Handles start at 1.
func (t *Instances) Add(inst vm.Instance) uint32 {
	h := t.next.Add(1)
	t.m.Set(h, inst)

	return h
}

// Get returns the instance behind h.
func (t *Instances) Get(h uint32) (vm.Instance, bool) {
	return t.m.Get(h)
}

// Remove forgets h.
func (t *Instances) Remove(h uint32) {
	t.m.Remove(h)
}

// Len returns the number of live handles.
func (t *Instances) Len() int {
	return t.m.Count()
}

// ExportTable is the set of host entry points every plugin imports from the
// host module.
type ExportTable struct {
	logger    zerolog.Logger
	instances *Instances
}

// NewExportTable returns a table whose logprintf logs plugin messages to
// logger with source=plugin.
func NewExportTable(logger zerolog.Logger, instances *Instances) *ExportTable {
	return &ExportTable{logger: logger, instances: instances}
}

// SetLogger replaces the plugin message logger. It must not be called while
// plugins are running.
func (t *ExportTable) SetLogger(logger zerolog.Logger) {
	t.logger = logger
}

// Len returns the slot count passed to each plugin's Load.
func (t *ExportTable) Len() int {
	return len(slotNames)
}

// Instances returns the handle table the entry points resolve against.
func (t *ExportTable) Instances() *Instances {
	return t.instances
}

// Instantiate defines the host module in rt.
func (t *ExportTable) Instantiate(ctx context.Context, rt wazero.Runtime) error {
	funcs := []any{
		t.logprintf,
		t.register,
		t.findPublic,
		t.push,
		t.pushString,
		t.release,
		t.exec,
		t.getString,
		t.setString,
		t.raiseError,
	}
	if len(funcs) != len(slotNames) {
		return fmt.Errorf("export table has %d functions for %d slots", len(funcs), len(slotNames))
	}

	builder := rt.NewHostModuleBuilder(HostModule)
	for i, fn := range funcs {
		builder.NewFunctionBuilder().WithFunc(fn).Export(slotNames[i])
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module: %w", err)
	}

	return nil
}

func codeOf(err error) uint32 {
	if err == nil {
		return uint32(errorcodes.ErrNone.Code)
	}

	var vmErr errorcodes.VMError
	if errors.As(err, &vmErr) {
		return uint32(vmErr.Code)
	}

	return uint32(errorcodes.ErrGeneral.Code)
}

func (t *ExportTable) lookup(handle uint32) (vm.Instance, error) {
	inst, ok := t.instances.Get(handle)
	if !ok {
		return nil, errorcodes.ErrInit
	}

	return inst, nil
}

func (t *ExportTable) logprintf(_ context.Context, mod api.Module, ptr, size uint32) {
	data, err := wasmutil.ReadMemory(mod, ptr, size)
	if err != nil {
		log.Error().Err(err).Str("plugin", mod.Name()).Msg("failed to read plugin log message")
		return
	}

	t.logger.Info().
		Str("source", "plugin").
		Str("plugin", mod.Name()).
		Msg(string(data))
}

func (t *ExportTable) register(_ context.Context, mod api.Module, handle, namePtr, nameLen uint32) uint32 {
	inst, err := t.lookup(handle)
	if err != nil {
		return codeOf(err)
	}

	raw, err := wasmutil.ReadMemory(mod, namePtr, nameLen)
	if err != nil {
		return codeOf(errorcodes.ErrMemAccess)
	}
	name := string(raw)

	if mod.ExportedFunction(name) == nil {
		log.Error().Str("plugin", mod.Name()).Str("native", name).Msg("plugin registered a native it does not export")
		return codeOf(errorcodes.ErrNotFound)
	}

	if err := inst.Register(vm.Native{Name: name, Func: pluginNative(mod, name, handle)}); err != nil {
		return codeOf(err)
	}

	log.Debug().
		Str("event", "native_registered").
		Str("plugin", mod.Name()).
		Str("native", name).
		Msg("plugin native registered")

	return codeOf(nil)
}

// pluginNative forwards a script call to the plugin export name. The
// arguments are copied into plugin memory as consecutive cells.
func pluginNative(mod api.Module, name string, handle uint32) vm.NativeFunc {
	return func(ctx context.Context, inst vm.Instance, params []vm.Cell) vm.Cell {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			inst.RaiseError(errorcodes.ErrNotFound.Code)
			return 0
		}

		n := vm.ArgCount(params)
		var ptr uint32
		if n > 0 {
			alloc := mod.ExportedFunction("Alloc")
			if alloc == nil {
				inst.RaiseError(errorcodes.ErrMemory.Code)
				return 0
			}

			cells := make([]int32, n)
			for i := range cells {
				cells[i] = int32(params[i+1])
			}

			var err error
			ptr, err = wasmutil.AllocBuffer(ctx, mod, alloc, wasmutil.EncodeCells(cells))
			if err != nil {
				log.Error().Err(err).Str("native", name).Msg("failed to pass native arguments")
				inst.RaiseError(errorcodes.ErrMemory.Code)

				return 0
			}

			if free := mod.ExportedFunction("Free"); free != nil {
				defer func() {
					if _, err := free.Call(ctx, uint64(ptr)); err != nil {
						log.Error().Err(err).Str("native", name).Msg("failed to free native arguments")
					}
				}()
			}
		}

		res, err := fn.Call(ctx, uint64(handle), uint64(ptr), uint64(n))
		if err != nil {
			log.Error().Err(err).Str("plugin", mod.Name()).Str("native", name).Msg("plugin native failed")
			inst.RaiseError(errorcodes.ErrNative.Code)

			return 0
		}
		if len(res) == 0 {
			return 0
		}

		return vm.Cell(api.DecodeI32(res[0]))
	}
}

func (t *ExportTable) findPublic(_ context.Context, mod api.Module, handle, ptr, size uint32) int32 {
	inst, err := t.lookup(handle)
	if err != nil {
		return -1
	}

	name, err := wasmutil.ReadMemory(mod, ptr, size)
	if err != nil {
		return -1
	}

	idx, err := inst.FindPublic(string(name))
	if err != nil {
		return -1
	}

	return int32(idx)
}

func (t *ExportTable) push(_ context.Context, _ api.Module, handle, value uint32) uint32 {
	inst, err := t.lookup(handle)
	if err != nil {
		return codeOf(err)
	}

	return codeOf(inst.Push(vm.Cell(int32(value))))
}

func (t *ExportTable) pushString(_ context.Context, mod api.Module, handle, ptr, size uint32) uint64 {
	inst, err := t.lookup(handle)
	if err != nil {
		return wasmutil.PackResult(int32(codeOf(err)), 0)
	}

	data, err := wasmutil.ReadMemory(mod, ptr, size)
	if err != nil {
		return wasmutil.PackResult(int32(errorcodes.ErrMemAccess.Code), 0)
	}

	addr, err := inst.PushString(string(data))

	return wasmutil.PackResult(int32(codeOf(err)), int32(addr))
}

func (t *ExportTable) release(_ context.Context, _ api.Module, handle, addr uint32) uint32 {
	inst, err := t.lookup(handle)
	if err != nil {
		return codeOf(err)
	}

	return codeOf(inst.Release(vm.Cell(int32(addr))))
}

func (t *ExportTable) exec(ctx context.Context, _ api.Module, handle, index uint32) uint64 {
	inst, err := t.lookup(handle)
	if err != nil {
		return wasmutil.PackResult(int32(codeOf(err)), 0)
	}

	ret, err := inst.Exec(ctx, int(int32(index)))

	return wasmutil.PackResult(int32(codeOf(err)), int32(ret))
}

func (t *ExportTable) getString(_ context.Context, mod api.Module, handle, addr, buf, size uint32) uint32 {
	inst, err := t.lookup(handle)
	if err != nil {
		return codeOf(err)
	}
	if size == 0 {
		return codeOf(errorcodes.ErrParams)
	}

	s, err := inst.GetString(vm.Cell(int32(addr)))
	if err != nil {
		return codeOf(err)
	}
	if uint32(len(s)) > size-1 {
		s = s[:size-1]
	}

	if err := wasmutil.WriteMemory(mod, buf, append([]byte(s), 0)); err != nil {
		return codeOf(errorcodes.ErrMemAccess)
	}

	return codeOf(nil)
}

func (t *ExportTable) setString(_ context.Context, mod api.Module, handle, addr, ptr, length, size uint32) uint32 {
	inst, err := t.lookup(handle)
	if err != nil {
		return codeOf(err)
	}

	data, err := wasmutil.ReadMemory(mod, ptr, length)
	if err != nil {
		return codeOf(errorcodes.ErrMemAccess)
	}

	return codeOf(inst.SetString(vm.Cell(int32(addr)), string(data), int(size)))
}

func (t *ExportTable) raiseError(_ context.Context, _ api.Module, handle, code uint32) {
	inst, err := t.lookup(handle)
	if err != nil {
		return
	}

	inst.RaiseError(int(code))
}
