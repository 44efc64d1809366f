package host

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		args     []string
		dash     int
		expected Invocation
		wantErr  bool
	}{
		{
			name:     "script only",
			args:     []string{"game"},
			dash:     -1,
			expected: Invocation{Script: "game.wasm"},
		},
		{
			name: "plugins and script",
			args: []string{"timers", "sockets.wasm", "game.wasm"},
			dash: -1,
			expected: Invocation{
				Plugins: []string{"timers.wasm", "sockets.wasm"},
				Script:  "game.wasm",
			},
		},
		{
			name: "options after dash",
			args: []string{"timers", "game", "-v", "port=7777"},
			dash: 2,
			expected: Invocation{
				Plugins: []string{"timers.wasm"},
				Script:  "game.wasm",
				Options: []string{"-v", "port=7777"},
			},
		},
		{
			name:     "dash without options",
			args:     []string{"game"},
			dash:     1,
			expected: Invocation{Script: "game.wasm"},
		},
		{name: "nothing", args: nil, dash: -1, wantErr: true},
		{name: "only options", args: []string{"opt"}, dash: 0, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			inv, err := ParseArgs(tc.args, tc.dash, ".wasm")
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUsage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, inv)
		})
	}
}

func TestWithSuffix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a.amx", WithSuffix("a", ".amx"))
	assert.Equal(t, "a.amx", WithSuffix("a.amx", ".amx"))
	assert.Equal(t, "a.wasm.amx", WithSuffix("a.wasm", ".amx"))
	assert.Equal(t, "a", WithSuffix("a", ""))
}

func TestResolvePlugins(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "local.wasm", nil, 0o644))
	require.NoError(t, afero.WriteFile(fs, "plugins/shared.wasm", nil, 0o644))

	resolved := ResolvePlugins(fs, []string{"local.wasm", "shared.wasm", "missing.wasm", "/abs/x.wasm"}, "plugins")
	assert.Equal(t, []string{"local.wasm", "plugins/shared.wasm", "missing.wasm", "/abs/x.wasm"}, resolved)

	assert.Equal(t, []string{"shared.wasm"}, ResolvePlugins(fs, []string{"shared.wasm"}, ""))
}
