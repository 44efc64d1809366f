package host

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andrei-cloud/plugin_runner/internal/builtins"
	"github.com/andrei-cloud/plugin_runner/internal/plugins"
	"github.com/andrei-cloud/plugin_runner/internal/testutil/wasmbin"
	"github.com/andrei-cloud/plugin_runner/internal/vm/wasmvm"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeModule stores m as dir/name.wasm and returns the path without suffix.
func writeModule(t *testing.T, dir, name string, m *wasmbin.Module) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path+".wasm", m.Bytes(), 0o600))

	return path
}

// adderPlugin registers PluginAdd on attach and logs "tick" on every tick
// when tick is set.
func adderPlugin(tick bool) *wasmbin.Module {
	m := wasmbin.New()
	logprintf := m.Import(plugins.HostModule, "logprintf", wasmbin.Params(2), nil)
	register := m.Import(plugins.HostModule, "amx_register", wasmbin.Params(3), wasmbin.Params(1))

	m.Memory(1)
	m.Data(64, []byte("PluginAdd"))
	m.Data(96, []byte("tick"))

	flags := int32(plugins.SupportsVersion | plugins.SupportsAMXNatives)
	if tick {
		flags |= plugins.SupportsProcessTick
		m.Export("Tick", m.Func(nil, nil, wasmbin.I32Const(96), wasmbin.I32Const(4), wasmbin.Call(logprintf)))
	}
	m.Export("Supports", m.Func(nil, wasmbin.Params(1), wasmbin.I32Const(flags)))
	m.Export("Load", m.Func(wasmbin.Params(1), wasmbin.Params(1), wasmbin.I32Const(1)))
	m.Export("AttachToInstance", m.Func(wasmbin.Params(1), wasmbin.Params(1),
		wasmbin.LocalGet(0), wasmbin.I32Const(64), wasmbin.I32Const(9), wasmbin.Call(register),
	))
	m.Export("DetachFromInstance", m.Func(wasmbin.Params(1), wasmbin.Params(1), wasmbin.I32Const(0)))
	m.Export("PluginAdd", m.Func(wasmbin.Params(3), wasmbin.Params(1),
		wasmbin.LocalGet(1), wasmbin.I32Load(0),
		wasmbin.LocalGet(1), wasmbin.I32Load(4),
		wasmbin.I32Add(),
	))
	m.BumpAllocator(1024)

	return m
}

type e2e struct {
	dir     string
	console bytes.Buffer
	logs    bytes.Buffer
	table   *plugins.ExportTable
	runtime *plugins.Runtime
}

func newE2E(t *testing.T) *e2e {
	t.Helper()

	e := &e2e{dir: t.TempDir()}
	e.table = plugins.NewExportTable(zerolog.Nop(), plugins.NewInstances())

	ctx := context.Background()
	rt, err := plugins.NewRuntime(ctx, e.table)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(ctx) })
	e.runtime = rt

	return e
}

func (e *e2e) run(ctx context.Context, t *testing.T, args []string, opts ...Option) int {
	t.Helper()

	inv, err := ParseArgs(args, -1, ".wasm")
	require.NoError(t, err)

	base := []Option{
		WithLibraries(builtins.Default(&e.console, afero.NewMemMapFs())...),
		WithLogger(zerolog.New(&e.logs)),
		WithTickInterval(time.Millisecond),
	}
	c := New(wasmvm.New(), e.runtime, e.table, append(base, opts...)...)

	return c.Run(ctx, inv)
}

func TestEndToEndExitStatus(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	script := wasmbin.New()
	script.Export("main", script.Func(nil, wasmbin.Params(1), wasmbin.I32Const(42)))

	status := e.run(context.Background(), t, []string{writeModule(t, e.dir, "answer", script)})
	assert.Equal(t, 42, status)
	assert.Zero(t, e.table.Instances().Len())
}

func TestEndToEndPluginNative(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	plugin := writeModule(t, e.dir, "adder", adderPlugin(false))

	script := wasmbin.New()
	add := script.Import("env", "PluginAdd", wasmbin.Params(2), wasmbin.Params(1))
	script.Export("main", script.Func(nil, wasmbin.Params(1),
		wasmbin.I32Const(40), wasmbin.I32Const(2), wasmbin.Call(add),
	))

	status := e.run(context.Background(), t, []string{plugin, writeModule(t, e.dir, "game", script)})
	assert.Equal(t, 42, status)
}

func TestEndToEndUnresolvedNative(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	script := wasmbin.New()
	missing := script.Import("env", "SetTimer", wasmbin.Params(1), wasmbin.Params(1))
	script.Export("main", script.Func(nil, wasmbin.Params(1), wasmbin.I32Const(5), wasmbin.Call(missing)))

	status := e.run(context.Background(), t, []string{writeModule(t, e.dir, "game", script)})
	assert.Equal(t, StatusFailure, status)
	assert.Contains(t, e.logs.String(), "Native function is not registered: SetTimer")
	assert.NotContains(t, e.logs.String(), "Error while executing main")
}

func TestEndToEndExecError(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	script := wasmbin.New()
	script.Export("main", script.Func(nil, wasmbin.Params(1),
		wasmbin.I32Const(1), wasmbin.I32Const(0), wasmbin.I32DivS(),
	))

	status := e.run(context.Background(), t, []string{writeModule(t, e.dir, "game", script)})
	assert.Equal(t, StatusExecError, status)
	assert.Contains(t, e.logs.String(), "Error while executing main: Divide by zero (11)")
}

func TestEndToEndTick(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	plugin := writeModule(t, e.dir, "ticker", adderPlugin(true))

	script := wasmbin.New()
	script.Export("main", script.Func(nil, wasmbin.Params(1), wasmbin.I32Const(0)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// A missing plugin is skipped without affecting the run.
	status := e.run(ctx, t, []string{filepath.Join(e.dir, "absent"), plugin, writeModule(t, e.dir, "game", script)})
	assert.Equal(t, 0, status)
	assert.Contains(t, e.logs.String(), "Could not load plugin")

	// Plugin messages go through the run's logger.
	var tick string
	for _, line := range strings.Split(e.logs.String(), "\n") {
		if strings.Contains(line, `"message":"tick"`) {
			tick = line
			break
		}
	}
	require.NotEmpty(t, tick)
	assert.Contains(t, tick, `"source":"plugin"`)
	assert.Contains(t, tick, `"run_id":`)
	assert.Contains(t, tick, `"plugin":"`+plugin+`.wasm"`)
}

func TestEndToEndGracefulExit(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	plugin := writeModule(t, e.dir, "ticker", adderPlugin(true))

	script := wasmbin.New()
	exit := script.Import("env", "ExitProcess", wasmbin.Params(1), wasmbin.Params(1))
	script.Export("main", script.Func(nil, wasmbin.Params(1),
		wasmbin.I32Const(9), wasmbin.Call(exit), wasmbin.Drop(),
		wasmbin.I32Const(100),
	))

	status := e.run(context.Background(), t, []string{plugin, writeModule(t, e.dir, "game", script)}, WithGracefulExit())
	assert.Equal(t, 9, status)
	assert.NotContains(t, e.logs.String(), `"message":"tick"`)
}

func TestEndToEndConsole(t *testing.T) {
	t.Parallel()

	e := newE2E(t)
	script := wasmbin.New()
	printf := script.Import("env", "printf", wasmbin.Params(2), wasmbin.Params(1))
	script.Memory(1)
	script.String(16, "score=%d\n")
	script.Export("main", script.Func(nil, wasmbin.Params(1),
		wasmbin.I32Const(16), wasmbin.I32Const(7), wasmbin.Call(printf), wasmbin.Drop(),
		wasmbin.I32Const(0),
	))

	status := e.run(context.Background(), t, []string{writeModule(t, e.dir, "game", script)})
	assert.Equal(t, 0, status)
	assert.Equal(t, "score=7\n", e.console.String())
}
