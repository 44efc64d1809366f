package plugins_test

import (
	"context"
	"errors"
	"testing"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/plugins"
	"github.com/andrei-cloud/plugin_runner/internal/plugins/pluginstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const allCaps = plugins.SupportsVersion | plugins.SupportsAMXNatives | plugins.SupportsProcessTick

func newTable() *plugins.ExportTable {
	return plugins.NewExportTable(zerolog.Nop(), plugins.NewInstances())
}

func TestLoadAndUnload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	opener := pluginstest.NewOpener()
	mod := opener.Add("echo.wasm", pluginstest.NewModule(allCaps))

	var slots uint64
	mod.Set("Load", func(_ context.Context, params ...uint64) ([]uint64, error) {
		slots = params[0]
		return []uint64{1}, nil
	})

	p := plugins.New(opener)
	require.NoError(t, p.Load(ctx, "echo", newTable()))
	assert.True(t, p.IsLoaded())
	assert.True(t, p.IsResident())
	assert.Equal(t, "echo.wasm", p.Path())
	assert.Equal(t, uint64(len(plugins.SlotNames())), slots)
	assert.True(t, p.Flags().HasNatives())
	assert.True(t, p.Flags().HasTick())

	p.Unload(ctx)
	assert.False(t, p.IsLoaded())
	assert.False(t, p.IsResident())
	assert.Equal(t, 1, mod.Closed())

	p.Unload(ctx)
	assert.Equal(t, 1, mod.Closed())

	assert.Equal(t, []string{
		"echo.wasm:open",
		"echo.wasm:Supports",
		"echo.wasm:Load",
		"echo.wasm:Unload",
		"echo.wasm:close",
	}, opener.Calls())
}

func TestLoadTwice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	opener := pluginstest.NewOpener()
	mod := opener.Add("echo.wasm", pluginstest.NewModule(allCaps))
	opener.Add("other.wasm", pluginstest.NewModule(allCaps))

	p := plugins.New(opener)
	require.NoError(t, p.Load(ctx, "echo", newTable()))

	err := p.Load(ctx, "other", newTable())
	require.ErrorIs(t, err, plugins.ErrFailed)
	assert.True(t, p.IsLoaded())
	assert.Equal(t, "echo.wasm", p.Path())

	p.Unload(ctx)
	assert.Equal(t, 1, mod.Closed())
	assert.Equal(t, []string{
		"echo.wasm:open",
		"echo.wasm:Supports",
		"echo.wasm:Load",
		"echo.wasm:Unload",
		"echo.wasm:close",
	}, opener.Calls())

	// A module left resident by a failed Load blocks reloading as well.
	late := pluginstest.NewModule(plugins.SupportsVersion + 1)
	opener.Add("late.wasm", late)
	q := plugins.New(opener)
	require.ErrorIs(t, q.Load(ctx, "late", newTable()), plugins.ErrVersion)
	require.ErrorIs(t, q.Load(ctx, "late", newTable()), plugins.ErrFailed)
	q.Unload(ctx)
	assert.Equal(t, 1, late.Closed())
}

func TestLoadFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		module   func() *pluginstest.Module
		expected error
	}{
		{
			name:     "missing module",
			module:   nil,
			expected: plugins.ErrFailed,
		},
		{
			name:     "newer version",
			module:   func() *pluginstest.Module { return pluginstest.NewModule(plugins.SupportsVersion + 0x100) },
			expected: plugins.ErrVersion,
		},
		{
			name:     "no Supports",
			module:   func() *pluginstest.Module { return pluginstest.NewModule(allCaps).Without("Supports") },
			expected: plugins.ErrAPI,
		},
		{
			name: "natives without detach",
			module: func() *pluginstest.Module {
				return pluginstest.NewModule(allCaps).Without("DetachFromInstance")
			},
			expected: plugins.ErrAPI,
		},
		{
			name: "natives without attach",
			module: func() *pluginstest.Module {
				return pluginstest.NewModule(allCaps).Without("AttachToInstance")
			},
			expected: plugins.ErrAPI,
		},
		{
			name:     "tick without Tick",
			module:   func() *pluginstest.Module { return pluginstest.NewModule(allCaps).Without("Tick") },
			expected: plugins.ErrAPI,
		},
		{
			name:     "no Load",
			module:   func() *pluginstest.Module { return pluginstest.NewModule(plugins.SupportsVersion).Without("Load") },
			expected: plugins.ErrAPI,
		},
		{
			name: "Load refuses",
			module: func() *pluginstest.Module {
				return pluginstest.NewModule(plugins.SupportsVersion).Set("Load", pluginstest.Returns(0))
			},
			expected: plugins.ErrFailed,
		},
		{
			name: "Supports traps",
			module: func() *pluginstest.Module {
				return pluginstest.NewModule(plugins.SupportsVersion).Set("Supports",
					func(context.Context, ...uint64) ([]uint64, error) { return nil, errors.New("unreachable") })
			},
			expected: plugins.ErrFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			opener := pluginstest.NewOpener()
			var mod *pluginstest.Module
			if tc.module != nil {
				mod = opener.Add("p.wasm", tc.module())
			}

			p := plugins.New(opener)
			err := p.Load(ctx, "p.wasm", newTable())
			require.ErrorIs(t, err, tc.expected)
			assert.False(t, p.IsLoaded())

			var loadErr *plugins.LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, "p.wasm", loadErr.Path)

			p.Unload(ctx)
			assert.False(t, p.IsResident())
			if mod != nil {
				assert.Equal(t, 1, mod.Closed())
				assert.NotContains(t, opener.Calls(), "p.wasm:Unload")
			}
		})
	}
}

func TestOpenFailureMessage(t *testing.T) {
	t.Parallel()

	p := plugins.New(pluginstest.NewOpener())
	err := p.Load(context.Background(), "gone", newTable())
	require.ErrorIs(t, err, plugins.ErrFailed)
	assert.Contains(t, err.Error(), "no such file")
	assert.Contains(t, err.Error(), "gone.wasm")
}

func TestHandleOpenTwice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	opener := pluginstest.NewOpener()
	first := opener.Add("first.wasm", pluginstest.NewModule(allCaps))
	opener.Add("second.wasm", pluginstest.NewModule(allCaps))

	h := plugins.NewHandle(opener)
	require.True(t, h.Open(ctx, "first.wasm"))
	assert.False(t, h.Open(ctx, "second.wasm"))
	assert.Contains(t, h.FailMessage(), "already open")
	assert.Equal(t, "first.wasm", h.Path())

	require.NoError(t, h.Close(ctx))
	assert.Equal(t, 1, first.Closed())
	assert.Equal(t, []string{"first.wasm:open", "first.wasm:close"}, opener.Calls())
}

func TestAttachDetach(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	opener := pluginstest.NewOpener()

	var attached []uint64
	opener.Add("natives.wasm", pluginstest.NewModule(plugins.SupportsVersion|plugins.SupportsAMXNatives)).
		Set("AttachToInstance", func(_ context.Context, params ...uint64) ([]uint64, error) {
			attached = append(attached, params[0])
			return []uint64{0}, nil
		}).
		Set("DetachFromInstance", pluginstest.Returns(uint32(errorcodes.ErrGeneral.Code)))
	opener.Add("plain.wasm", pluginstest.NewModule(plugins.SupportsVersion)).
		Set("AttachToInstance", pluginstest.Returns(99))

	natives := plugins.New(opener)
	require.NoError(t, natives.Load(ctx, "natives", newTable()))
	plain := plugins.New(opener)
	require.NoError(t, plain.Load(ctx, "plain", newTable()))

	assert.Equal(t, 0, natives.AttachToInstance(ctx, 7))
	assert.Equal(t, []uint64{7}, attached)
	assert.Equal(t, errorcodes.ErrGeneral.Code, natives.DetachFromInstance(ctx, 7))

	// Without the natives capability the entry points are never called.
	assert.Equal(t, 0, plain.AttachToInstance(ctx, 7))
	assert.Equal(t, 0, plain.DetachFromInstance(ctx, 7))
	assert.NotContains(t, opener.Calls(), "plain.wasm:AttachToInstance")
}

func TestTick(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	opener := pluginstest.NewOpener()

	ticks := 0
	opener.Add("tick.wasm", pluginstest.NewModule(plugins.SupportsVersion|plugins.SupportsProcessTick)).
		Set("Tick", func(context.Context, ...uint64) ([]uint64, error) {
			ticks++
			return nil, nil
		})
	opener.Add("quiet.wasm", pluginstest.NewModule(plugins.SupportsVersion)).
		Set("Tick", func(context.Context, ...uint64) ([]uint64, error) {
			t.Error("tick delivered to a plugin without the tick capability")
			return nil, nil
		})

	tick := plugins.New(opener)
	require.NoError(t, tick.Load(ctx, "tick", newTable()))
	quiet := plugins.New(opener)
	require.NoError(t, quiet.Load(ctx, "quiet", newTable()))

	tick.Tick(ctx)
	tick.Tick(ctx)
	quiet.Tick(ctx)
	assert.Equal(t, 2, ticks)
}

func TestFlags(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		flags   plugins.Flags
		version uint32
		natives bool
		tick    bool
	}{
		{name: "bare", flags: plugins.SupportsVersion, version: 0x0200},
		{name: "natives", flags: plugins.SupportsVersion | plugins.SupportsAMXNatives, version: 0x0200, natives: true},
		{name: "tick", flags: plugins.SupportsVersion | plugins.SupportsProcessTick, version: 0x0200, tick: true},
		{name: "old", flags: 0x0100 | plugins.SupportsAMXNatives | plugins.SupportsProcessTick, version: 0x0100, natives: true, tick: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.version, tc.flags.Version())
			assert.Equal(t, tc.natives, tc.flags.HasNatives())
			assert.Equal(t, tc.tick, tc.flags.HasTick())
		})
	}
}
