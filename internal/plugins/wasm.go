package plugins

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Runtime opens plugin modules in one shared wazero runtime that provides
// WASI and the host export table.
type Runtime struct {
	rt wazero.Runtime
	mu sync.Mutex
	// instantiated module names; wazero requires them to be unique
	names map[string]int
}

var _ Opener = (*Runtime)(nil)

// NewRuntime creates the plugin runtime and instantiates table into it.
func NewRuntime(ctx context.Context, table *ExportTable) (*Runtime, error) {
	rt := wazero.NewRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		closeLogged(ctx, rt, "plugin runtime")
		return nil, fmt.Errorf("failed to instantiate wasi: %w", err)
	}

	if err := table.Instantiate(ctx, rt); err != nil {
		closeLogged(ctx, rt, "plugin runtime")
		return nil, err
	}

	return &Runtime{rt: rt, names: make(map[string]int)}, nil
}

// Open implements Opener.
func (r *Runtime) Open(ctx context.Context, path string) (Module, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	compiled, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile plugin module: %w", err)
	}

	// Start functions are skipped; reactor modules get _initialize below.
	cfg := wazero.NewModuleConfig().
		WithName(r.uniqueName(path)).
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithStartFunctions()

	mod, err := r.rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		closeLogged(ctx, compiled, path)
		return nil, fmt.Errorf("failed to instantiate plugin module: %w", err)
	}

	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			closeLogged(ctx, mod, path)
			closeLogged(ctx, compiled, path)

			return nil, fmt.Errorf("plugin _initialize failed: %w", err)
		}
	}

	log.Debug().Str("event", "module_opened").Str("path", path).Str("module", mod.Name()).Msg("plugin module opened")

	return &wasmModule{mod: mod, compiled: compiled}, nil
}

// closeLogged closes c on a failure path, logging instead of returning errors.
func closeLogged(ctx context.Context, c api.Closer, what string) {
	if err := c.Close(ctx); err != nil {
		log.Error().Err(err).Str("module", what).Msg("failed to close after error")
	}
}

func (r *Runtime) uniqueName(path string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.names[path]
	r.names[path] = n + 1
	if n == 0 {
		return path
	}

	return fmt.Sprintf("%s#%d", path, n)
}

// Close tears down the runtime and every module still open in it.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

type wasmModule struct {
	mod      api.Module
	compiled wazero.CompiledModule
}

func (m *wasmModule) Resolve(name string) Symbol {
	fn := m.mod.ExportedFunction(name)
	if fn == nil {
		return nil
	}

	return fn
}

func (m *wasmModule) Close(ctx context.Context) error {
	if err := m.mod.Close(ctx); err != nil {
		return err
	}

	return m.compiled.Close(ctx)
}
