// Package wasmvm runs compiled scripts as WebAssembly modules on wazero.
//
// A script is a module whose exported "main" function is the entry point and
// whose other exported functions are its publics. Natives are the functions it
// imports from the "env" module. They are bound lazily, so a script may load
// with unresolved natives and the host can refuse to run it afterwards.
package wasmvm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Well-known exports that are runtime support rather than publics.
const (
	exportMain       = "main"
	exportAlloc      = "Alloc"
	exportFree       = "Free"
	exportInitialize = "_initialize"
	exportStart      = "_start"

	nativeModule = "env"
)

// Engine loads scripts. Every script gets its own runtime so closing one never
// affects another.
type Engine struct {
	stdout      io.Writer
	stderr      io.Writer
	memoryPages uint32
}

var _ vm.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithStdout sets where WASI output of scripts goes.
func WithStdout(w io.Writer) Option {
	return func(e *Engine) { e.stdout = w }
}

// WithStderr sets where WASI error output of scripts goes.
func WithStderr(w io.Writer) Option {
	return func(e *Engine) { e.stderr = w }
}

// WithMemoryLimitPages caps script memory in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(e *Engine) { e.memoryPages = pages }
}

// New returns an engine.
func New(opts ...Option) *Engine {
	e := &Engine{stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Load reads and instantiates the script at path.
func (e *Engine) Load(ctx context.Context, path string) (vm.Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errorcodes.ErrNotFound, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	return e.LoadBytes(ctx, name, data)
}

// LoadBytes instantiates a script from its binary.
func (e *Engine) LoadBytes(ctx context.Context, name string, wasm []byte) (*Instance, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if e.memoryPages > 0 {
		cfg = cfg.WithMemoryLimitPages(e.memoryPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	inst, err := e.instantiate(ctx, rt, name, wasm)
	if err != nil {
		if cerr := rt.Close(ctx); cerr != nil {
			log.Error().Err(cerr).Str("script", name).Msg("failed to close runtime")
		}

		return nil, err
	}

	return inst, nil
}

func (e *Engine) instantiate(ctx context.Context, rt wazero.Runtime, name string, wasm []byte) (*Instance, error) {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("%w: wasi: %w", errorcodes.ErrInit, err)
	}

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errorcodes.ErrFormat, err)
	}

	inst := &Instance{
		name:    name,
		runtime: rt,
		natives: make(map[string]vm.NativeFunc),
		heap:    make(map[vm.Cell]struct{}),
	}

	imports, err := nativeImports(compiled)
	if err != nil {
		return nil, err
	}
	inst.imports = imports

	if len(imports) > 0 {
		if err := inst.instantiateNatives(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", errorcodes.ErrInit, err)
		}
	}

	modCfg := wazero.NewModuleConfig().
		WithName(name).
		WithStdout(e.stdout).
		WithStderr(e.stderr).
		WithStartFunctions()

	mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errorcodes.ErrInit, err)
	}
	inst.mod = mod

	if init := mod.ExportedFunction(exportInitialize); init != nil {
		if _, err := init.Call(ctx); err != nil {
			return nil, fmt.Errorf("%w: _initialize: %w", errorcodes.ErrInit, err)
		}
	}

	for exp := range compiled.ExportedFunctions() {
		switch exp {
		case exportMain, exportAlloc, exportFree, exportInitialize, exportStart:
			continue
		}
		inst.publics = append(inst.publics, exp)
	}
	sort.Strings(inst.publics)

	log.Debug().
		Str("event", "script_instantiated").
		Str("script", name).
		Int("publics", len(inst.publics)).
		Int("natives", len(imports)).
		Msg("script instantiated")

	return inst, nil
}
