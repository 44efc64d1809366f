package natives

import (
	"context"
	"testing"

	"github.com/andrei-cloud/plugin_runner/internal/errorcodes"
	"github.com/andrei-cloud/plugin_runner/internal/vm"
	"github.com/andrei-cloud/plugin_runner/internal/vm/vmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScript(t *testing.T, ret vm.Cell) *vmtest.Instance {
	t.Helper()

	inst := vmtest.New()
	inst.AddPublic("Target", func(context.Context, *vmtest.Instance, []vm.Cell) vm.Cell { return ret })
	require.NoError(t, inst.Register(vm.Native{Name: "CallLocalFunction", Func: CallLocalFunction}))

	return inst
}

func TestCallLocalFunctionArguments(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		format   string
		args     []vm.Cell
		expected []vm.Cell
	}{
		{name: "cells", format: "dif", args: []vm.Cell{1, 2, 3}, expected: []vm.Cell{1, 2, 3}},
		{name: "format longer than args", format: "ddd", args: []vm.Cell{7}, expected: []vm.Cell{7}},
		{name: "args longer than format", format: "d", args: []vm.Cell{7, 8, 9}, expected: []vm.Cell{7}},
		{name: "unknown specifier consumes argument", format: "xd", args: []vm.Cell{5, 6}, expected: []vm.Cell{6}},
		{name: "empty format", format: "", args: []vm.Cell{1}, expected: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			inst := newScript(t, 0)
			name := inst.StoreString("Target")
			format := inst.StoreString(tc.format)

			_, err := inst.CallNative(ctx, "CallLocalFunction", append([]vm.Cell{name, format}, tc.args...)...)
			require.NoError(t, err)
			require.Len(t, inst.Calls, 1)
			assert.Equal(t, tc.expected, inst.Calls[0].Args)
		})
	}
}

func TestCallLocalFunctionStrings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inst := newScript(t, 99)
	name := inst.StoreString("Target")
	format := inst.StoreString("sds")
	first := inst.StoreString("first")
	second := inst.StoreString("second")

	ret, err := inst.CallNative(ctx, "CallLocalFunction", name, format, first, 5, second)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(99), ret)

	require.Len(t, inst.Calls, 1)
	call := inst.Calls[0]
	require.Len(t, call.Args, 3)
	assert.Equal(t, vm.Cell(5), call.Args[1])

	// The callee sees engine-owned copies, not the caller's buffers.
	assert.NotEqual(t, first, call.Args[0])
	assert.Equal(t, "first", call.Heap[call.Args[0]])
	assert.Equal(t, "second", call.Heap[call.Args[2]])

	// Released in reverse creation order, nothing left behind.
	assert.Equal(t, []vm.Cell{call.Args[2], call.Args[0]}, inst.Released)
	assert.Equal(t, 0, inst.Outstanding())
}

func TestCallLocalFunctionMissingCallee(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inst := newScript(t, 99)
	name := inst.StoreString("Nobody")
	format := inst.StoreString("ds")
	str := inst.StoreString("x")

	ret, err := inst.CallNative(ctx, "CallLocalFunction", name, format, 1, str)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(0), ret)
	assert.Empty(t, inst.Calls)
	assert.Empty(t, inst.Pushed)
	assert.Equal(t, 0, inst.Outstanding())
}

func TestCallLocalFunctionCalleeError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inst := newScript(t, 0)
	inst.AddPublic("Broken", func(_ context.Context, s *vmtest.Instance, _ []vm.Cell) vm.Cell {
		s.RaiseError(errorcodes.ErrBounds.Code)
		return 5
	})
	name := inst.StoreString("Broken")
	format := inst.StoreString("s")
	str := inst.StoreString("x")

	ret, err := inst.CallNative(ctx, "CallLocalFunction", name, format, str)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(0), ret)
	assert.Equal(t, 0, inst.Outstanding())
}

func TestCallLocalFunctionBadFormatAddress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inst := newScript(t, 3)
	name := inst.StoreString("Target")

	ret, err := inst.CallNative(ctx, "CallLocalFunction", name, 0x7fff, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, vm.Cell(3), ret)
	require.Len(t, inst.Calls, 1)
	assert.Empty(t, inst.Calls[0].Args)
}
