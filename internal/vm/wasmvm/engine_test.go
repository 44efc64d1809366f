package wasmvm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/testutil/wasmbin"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, m *wasmbin.Module) *Instance {
	t.Helper()

	ctx := context.Background()
	inst, err := New().LoadBytes(ctx, t.Name(), m.Bytes())
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close(ctx) })

	return inst
}

func TestExecMain(t *testing.T) {
	t.Parallel()

	m := wasmbin.New()
	m.Export("main", m.Func(nil, wasmbin.Params(1), wasmbin.I32Const(42)))
	inst := load(t, m)

	ret, err := inst.Exec(context.Background(), vm.ExecMain)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(42), ret)
	assert.Empty(t, inst.UnresolvedNatives())
	assert.Equal(t, 0, inst.NumPublics())
}

func TestExecWithoutMain(t *testing.T) {
	t.Parallel()

	m := wasmbin.New()
	m.Export("OnInit", m.Func(nil, nil))
	inst := load(t, m)

	_, err := inst.Exec(context.Background(), vm.ExecMain)
	assert.ErrorIs(t, err, errorcodes.ErrIndex)

	_, err = inst.Exec(context.Background(), 5)
	assert.ErrorIs(t, err, errorcodes.ErrIndex)
}

func TestNatives(t *testing.T) {
	t.Parallel()

	m := wasmbin.New()
	add := m.Import("env", "add", wasmbin.Params(2), wasmbin.Params(1))
	m.Export("main", m.Func(nil, wasmbin.Params(1),
		wasmbin.I32Const(2), wasmbin.I32Const(3), wasmbin.Call(add),
	))
	inst := load(t, m)
	ctx := context.Background()

	assert.Equal(t, []string{"add"}, inst.UnresolvedNatives())

	_, err := inst.Exec(ctx, vm.ExecMain)
	assert.ErrorIs(t, err, errorcodes.ErrNotFound)

	var seen []vm.Cell
	require.NoError(t, inst.Register(vm.Native{Name: "add", Func: func(_ context.Context, _ vm.Instance, params []vm.Cell) vm.Cell {
		seen = append([]vm.Cell(nil), params...)
		return vm.Arg(params, 0) + vm.Arg(params, 1)
	}}))
	assert.Empty(t, inst.UnresolvedNatives())

	ret, err := inst.Exec(ctx, vm.ExecMain)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(5), ret)
	assert.Equal(t, []vm.Cell{8, 2, 3}, seen)
}

func TestRaiseError(t *testing.T) {
	t.Parallel()

	m := wasmbin.New()
	fail := m.Import("env", "fail", nil, wasmbin.Params(1))
	m.Export("main", m.Func(nil, wasmbin.Params(1), wasmbin.Call(fail)))
	inst := load(t, m)

	require.NoError(t, inst.Register(vm.Native{Name: "fail", Func: func(_ context.Context, inst vm.Instance, _ []vm.Cell) vm.Cell {
		inst.RaiseError(errorcodes.ErrDomain.Code)
		return 0
	}}))

	_, err := inst.Exec(context.Background(), vm.ExecMain)
	assert.ErrorIs(t, err, errorcodes.ErrDomain)

	// The code does not leak into the next call.
	require.NoError(t, inst.Register(vm.Native{Name: "fail", Func: func(context.Context, vm.Instance, []vm.Cell) vm.Cell {
		return 7
	}}))
	ret, err := inst.Exec(context.Background(), vm.ExecMain)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(7), ret)
}

func TestTraps(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		body     [][]byte
		expected error
	}{
		{
			name:     "divide by zero",
			body:     [][]byte{wasmbin.I32Const(1), wasmbin.I32Const(0), wasmbin.I32DivS()},
			expected: errorcodes.ErrDivide,
		},
		{
			name:     "unreachable",
			body:     [][]byte{wasmbin.Unreachable()},
			expected: errorcodes.ErrInvInstr,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := wasmbin.New()
			m.Export("main", m.Func(nil, wasmbin.Params(1), tc.body...))
			inst := load(t, m)

			_, err := inst.Exec(context.Background(), vm.ExecMain)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestPublics(t *testing.T) {
	t.Parallel()

	m := wasmbin.New()
	sum := m.Func(wasmbin.Params(2), wasmbin.Params(1),
		wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.I32Add(),
	)
	m.Export("OnSum", sum)
	m.Export("Alpha", m.Func(nil, nil))
	m.BumpAllocator(1024)
	m.Memory(1)
	inst := load(t, m)
	ctx := context.Background()

	assert.Equal(t, 2, inst.NumPublics())

	idx, err := inst.FindPublic("OnSum")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = inst.FindPublic("Alloc")
	assert.ErrorIs(t, err, errorcodes.ErrNotFound)
	_, err = inst.FindPublic("missing")
	assert.ErrorIs(t, err, errorcodes.ErrNotFound)

	require.NoError(t, inst.Push(4))
	require.NoError(t, inst.Push(5))
	ret, err := inst.Exec(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(9), ret)

	// Missing arguments are zero, extra ones are dropped.
	require.NoError(t, inst.Push(7))
	ret, err = inst.Exec(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(7), ret)

	for _, v := range []vm.Cell{1, 2, 3} {
		require.NoError(t, inst.Push(v))
	}
	ret, err = inst.Exec(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(3), ret)
}

func TestStrings(t *testing.T) {
	t.Parallel()

	m := wasmbin.New()
	m.Export("Echo", m.Func(wasmbin.Params(1), wasmbin.Params(1), wasmbin.LocalGet(0)))
	m.BumpAllocator(1024)
	m.Memory(1)
	m.String(16, "hello")
	inst := load(t, m)
	ctx := context.Background()

	s, err := inst.GetString(16)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	addr, err := inst.PushString("world")
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(1024), addr)

	echoed, err := inst.Exec(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, addr, echoed)

	s, err = inst.GetString(addr)
	require.NoError(t, err)
	assert.Equal(t, "world", s)

	require.NoError(t, inst.Release(addr))
	assert.ErrorIs(t, inst.Release(addr), errorcodes.ErrMemAccess)

	require.NoError(t, inst.SetString(16, "abcdefgh", 4))
	s, err = inst.GetString(16)
	require.NoError(t, err)
	assert.Equal(t, "abc", s)

	assert.ErrorIs(t, inst.SetString(16, "x", 0), errorcodes.ErrParams)

	_, err = inst.GetString(-1)
	assert.ErrorIs(t, err, errorcodes.ErrMemAccess)
	_, err = inst.GetString(1 << 20)
	assert.ErrorIs(t, err, errorcodes.ErrMemAccess)
}

func TestPushStringWithoutAllocator(t *testing.T) {
	t.Parallel()

	m := wasmbin.New()
	m.Memory(1)
	inst := load(t, m)

	_, err := inst.PushString("x")
	assert.ErrorIs(t, err, errorcodes.ErrMemory)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := New()

	_, err := engine.Load(ctx, filepath.Join(t.TempDir(), "missing.wasm"))
	assert.ErrorIs(t, err, errorcodes.ErrNotFound)

	_, err = engine.LoadBytes(ctx, "garbage", []byte("not wasm"))
	assert.ErrorIs(t, err, errorcodes.ErrFormat)

	m := wasmbin.New()
	m.Import("env", "wide", []byte{wasmbin.I64}, nil)
	_, err = engine.LoadBytes(ctx, "wide", m.Bytes())
	assert.ErrorIs(t, err, errorcodes.ErrFormat)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	m := wasmbin.New()
	m.Export("main", m.Func(nil, wasmbin.Params(1), wasmbin.I32Const(-3)))
	path := filepath.Join(t.TempDir(), "script.wasm")
	require.NoError(t, os.WriteFile(path, m.Bytes(), 0o600))

	ctx := context.Background()
	inst, err := New().Load(ctx, path)
	require.NoError(t, err)
	defer inst.Close(ctx)

	assert.Equal(t, "script", inst.(*Instance).Name())

	ret, err := inst.Exec(ctx, vm.ExecMain)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(-3), ret)
}
