// Package plugin provides plugin creation commands.
package plugin

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	pluginNatives []string
	pluginTick    bool
	pluginBuild   bool
	pluginDir     string
	pluginOut     string
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewCreateCommand creates the create command.
func NewCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new plugin",
		Long: `Create a new plugin skeleton. This will:
1. Create commands/NAME/main.go implementing the plugin ABI
2. Stub one export per requested native
3. Optionally build the WASM plugin with GOOS=wasip1 GOARCH=wasm`,
		Args: cobra.ExactArgs(1),
		RunE: runCreatePlugin,
	}

	// Add flags.
	cmd.Flags().StringSliceVarP(&pluginNatives, "native", "n", nil, "Native exported to scripts (repeatable)")
	cmd.Flags().BoolVarP(&pluginTick, "tick", "t", false, "Request periodic ticks")
	cmd.Flags().BoolVarP(&pluginBuild, "build", "b", false, "Build the plugin after generating it")
	cmd.Flags().StringVar(&pluginDir, "dir", "commands", "Directory the plugin package is created in")
	cmd.Flags().StringVarP(&pluginOut, "out", "o", "plugins", "Directory the built plugin is written to")

	return cmd
}

func runCreatePlugin(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(args[0])
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid plugin name %q", args[0])
	}
	for _, n := range pluginNatives {
		if !identifier.MatchString(n) {
			return fmt.Errorf("invalid native name %q", n)
		}
	}

	// 1. Create the plugin source.
	dir := filepath.Join(pluginDir, name)
	path, err := writeSkeleton(afero.NewOsFs(), dir, name, pluginNatives, pluginTick)
	if err != nil {
		return err
	}
	cmd.Printf("Created %s\n", path)

	if !pluginBuild {
		return nil
	}

	// 2. Build the plugin.
	out := filepath.Join(pluginOut, name+".wasm")
	if err := runGoBuild(out, "./"+filepath.ToSlash(dir)); err != nil {
		return fmt.Errorf("failed to build plugin: %w", err)
	}

	cmd.Printf("Successfully created and built plugin %s\n", out)

	return nil
}

// writeSkeleton writes dir/main.go and returns its path.
func writeSkeleton(fs afero.Fs, dir, name string, natives []string, tick bool) (string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create plugin directory: %w", err)
	}

	path := filepath.Join(dir, "main.go")
	if ok, _ := afero.Exists(fs, path); ok {
		return "", fmt.Errorf("%s already exists", path)
	}

	if err := afero.WriteFile(fs, path, []byte(skeleton(name, natives, tick)), 0o644); err != nil {
		return "", fmt.Errorf("failed to create plugin file: %w", err)
	}

	return path, nil
}

func skeleton(name string, natives []string, tick bool) string {
	var b strings.Builder

	flags := []string{"runnerplugin.SupportsVersion"}
	if len(natives) > 0 {
		flags = append(flags, "runnerplugin.SupportsAMXNatives")
	}
	if tick {
		flags = append(flags, "runnerplugin.SupportsProcessTick")
	}

	fmt.Fprintf(&b, `//go:build wasip1

// Command %[1]s is a plugin_runner plugin.
package main

import "github.com/andrei-cloud/plugin_runner/pkg/runnerplugin"

//go:wasmexport Supports
func Supports() uint32 {
	return %[2]s
}

//go:wasmexport Load
func Load(slots uint32) uint32 {
	runnerplugin.Logf("%[1]s loaded (%%d slots)", slots)
	return 1
}

//go:wasmexport Unload
func Unload() {}
`, name, strings.Join(flags, " | "))

	if len(natives) > 0 {
		b.WriteString(`
//go:wasmexport AttachToInstance
func AttachToInstance(inst uint32) int32 {
`)
		for _, n := range natives {
			fmt.Fprintf(&b, "\tif err := runnerplugin.Register(inst, %q); err != nil {\n\t\treturn int32(runnerplugin.ErrNative)\n\t}\n", n)
		}
		b.WriteString(`
	return 0
}

//go:wasmexport DetachFromInstance
func DetachFromInstance(inst uint32) int32 {
	return 0
}
`)
		for _, n := range natives {
			fmt.Fprintf(&b, `
//go:wasmexport %[1]s
func %[1]s(inst, params, count uint32) int32 {
	args := runnerplugin.DecodeArgs(params, count)
	_ = args

	return 0
}
`, n)
		}
	}

	if tick {
		b.WriteString(`
//go:wasmexport Tick
func Tick() {}
`)
	}

	b.WriteString("\nfunc main() {}\n")

	return b.String()
}

func runGoBuild(out, pkg string) error {
	buildCmd := exec.Command("go", "build", "-buildmode=c-shared", "-o", out, pkg)
	buildCmd.Env = append(os.Environ(), "GOOS=wasip1", "GOARCH=wasm")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr

	return buildCmd.Run()
}
