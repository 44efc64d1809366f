package host

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/andrei-cloud/plugin_runner/internal/plugins"
	"github.com/spf13/afero"
)

// Usage is printed when the command line names no script.
const Usage = "Usage: plugin_runner [plugin1 [plugin2 [...]]] script_file [-- opt1 [opt2 [...]]]"

// ErrUsage reports a command line without a script.
var ErrUsage = errors.New(Usage)

// Invocation is a parsed command line.
type Invocation struct {
	Plugins []string
	Script  string
	// Options follow a literal "--". The host passes them through untouched.
	Options []string
}

// ParseArgs splits positional arguments into plugin paths and the script
// path. dash is the index of the first argument after "--", or -1. Every path
// gets its suffix appended when missing.
func ParseArgs(args []string, dash int, scriptExt string) (Invocation, error) {
	positional, options := args, []string(nil)
	if dash >= 0 && dash <= len(args) {
		positional, options = args[:dash], args[dash:]
	}
	if len(positional) < 1 {
		return Invocation{}, ErrUsage
	}

	inv := Invocation{
		Script: WithSuffix(positional[len(positional)-1], scriptExt),
	}
	for _, p := range positional[:len(positional)-1] {
		inv.Plugins = append(inv.Plugins, WithSuffix(p, plugins.Suffix))
	}
	if len(options) > 0 {
		inv.Options = append([]string(nil), options...)
	}

	return inv, nil
}

// WithSuffix appends ext to path unless path already ends with it.
func WithSuffix(path, ext string) string {
	if ext == "" || strings.HasSuffix(path, ext) {
		return path
	}

	return path + ext
}

// ResolvePlugins looks up relative plugin paths that do not exist as given
// under dir.
func ResolvePlugins(fs afero.Fs, paths []string, dir string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, resolvePlugin(fs, p, dir))
	}

	return out
}

func resolvePlugin(fs afero.Fs, path, dir string) string {
	if dir == "" || filepath.IsAbs(path) {
		return path
	}
	if ok, err := afero.Exists(fs, path); err == nil && ok {
		return path
	}

	candidate := filepath.Join(dir, path)
	if ok, err := afero.Exists(fs, candidate); err == nil && ok {
		return candidate
	}

	return path
}
