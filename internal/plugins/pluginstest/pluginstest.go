// Package pluginstest provides in-memory plugin modules for tests.
package pluginstest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/andrei-cloud/plugin_runner/internal/plugins"
)

// Func adapts a Go function to plugins.Symbol.
type Func func(ctx context.Context, params ...uint64) ([]uint64, error)

// Call implements plugins.Symbol.
func (f Func) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f(ctx, params...)
}

// Returns builds a Func that always returns v.
func Returns(v uint32) Func {
	return func(context.Context, ...uint64) ([]uint64, error) {
		return []uint64{uint64(v)}, nil
	}
}

// Nothing is a Func with no results.
func Nothing(context.Context, ...uint64) ([]uint64, error) {
	return nil, nil
}

// Module is a fake resident module.
type Module struct {
	Exports map[string]plugins.Symbol

	opener *Opener
	path   string
	closed int
}

// NewModule returns a module exporting Supports (returning flags), Load
// (succeeding) and Unload, plus the entry points flags require.
func NewModule(flags uint32) *Module {
	m := &Module{Exports: map[string]plugins.Symbol{
		"Supports": Returns(flags),
		"Load":     Returns(1),
		"Unload":   Func(Nothing),
	}}
	if flags&plugins.SupportsAMXNatives != 0 {
		m.Exports["AttachToInstance"] = Returns(0)
		m.Exports["DetachFromInstance"] = Returns(0)
	}
	if flags&plugins.SupportsProcessTick != 0 {
		m.Exports["Tick"] = Func(Nothing)
	}

	return m
}

// Set replaces an export.
func (m *Module) Set(name string, fn Func) *Module {
	m.Exports[name] = fn
	return m
}

// Without removes exports.
func (m *Module) Without(names ...string) *Module {
	for _, name := range names {
		delete(m.Exports, name)
	}

	return m
}

// Resolve implements plugins.Module. Every call through a resolved symbol is
// recorded on the opener as "path:Name".
func (m *Module) Resolve(name string) plugins.Symbol {
	sym, ok := m.Exports[name]
	if !ok {
		return nil
	}

	return Func(func(ctx context.Context, params ...uint64) ([]uint64, error) {
		if m.opener != nil {
			m.opener.record(m.path + ":" + name)
		}

		return sym.Call(ctx, params...)
	})
}

// Close implements plugins.Module.
func (m *Module) Close(context.Context) error {
	m.closed++
	if m.opener != nil {
		m.opener.record(m.path + ":close")
	}

	return nil
}

// Closed returns how many times the module was closed.
func (m *Module) Closed() int {
	return m.closed
}

// Opener serves fake modules by path.
type Opener struct {
	Modules map[string]*Module

	mu    sync.Mutex
	calls []string
}

// NewOpener returns an opener with no modules.
func NewOpener() *Opener {
	return &Opener{Modules: make(map[string]*Module)}
}

// Add registers m under path.
func (o *Opener) Add(path string, m *Module) *Module {
	o.Modules[path] = m
	return m
}

// Open implements plugins.Opener.
func (o *Opener) Open(_ context.Context, path string) (plugins.Module, error) {
	m, ok := o.Modules[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, errors.New("cannot open shared object file: no such file"))
	}
	m.opener = o
	m.path = path
	o.record(path + ":open")

	return m, nil
}

// Calls returns every recorded call in order.
func (o *Opener) Calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.calls...)
}

func (o *Opener) record(call string) {
	o.mu.Lock()
	o.calls = append(o.calls, call)
	o.mu.Unlock()
}
