// Package plugin provides plugin inspection commands.
package plugin

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/andrei-cloud/plugin_runner/internal/config"
	"github.com/andrei-cloud/plugin_runner/internal/host"
	"github.com/andrei-cloud/plugin_runner/internal/plugins"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect PLUGIN...",
		Short: "Load plugins and report their capabilities",
		Long: `Load each plugin the way the host does, print the ABI version and
capabilities it reports, then unload it. Plugins are not attached to any script.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	// Disable logging for CLI commands.
	log.Logger = log.Logger.Level(zerolog.Disabled)

	ctx := cmd.Context()

	paths := make([]string, 0, len(args))
	for _, arg := range args {
		paths = append(paths, host.WithSuffix(arg, plugins.Suffix))
	}
	paths = host.ResolvePlugins(afero.NewOsFs(), paths, config.Get().Plugin.Path)

	// Plugin messages are discarded while inspecting.
	table := plugins.NewExportTable(zerolog.Nop(), plugins.NewInstances())
	rt, err := plugins.NewRuntime(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to create plugin runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(ctx); err != nil {
			log.Error().Err(err).Msg("failed to close plugin runtime")
		}
	}()

	// Create tabwriter for aligned output.
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "Plugin\tVersion\tNatives\tTick\tStatus")
	_, _ = fmt.Fprintln(w, "------\t-------\t-------\t----\t------")

	failed := 0
	for _, path := range paths {
		p := plugins.New(rt)
		status := "ok"
		if err := p.Load(ctx, path, table); err != nil {
			failed++
			status = describe(err)
		}

		flags := p.Flags()
		version := "-"
		if flags != 0 {
			version = fmt.Sprintf("%#x", flags.Version())
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n",
			path,
			version,
			flags.HasNatives(),
			flags.HasTick(),
			status)

		p.Unload(ctx)
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d plugins failed to load", failed, len(paths))
	}

	return nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, plugins.ErrVersion):
		return "unsupported version"
	case errors.Is(err, plugins.ErrAPI):
		return "does not conform to the plugin ABI"
	default:
		var le *plugins.LoadError
		if errors.As(err, &le) {
			return le.Msg
		}

		return err.Error()
	}
}
