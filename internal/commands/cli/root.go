// Package cli provides the CLI command structure for plugin_runner.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrei-cloud/plugin_runner/internal/builtins"
	"github.com/andrei-cloud/plugin_runner/internal/config"
	"github.com/andrei-cloud/plugin_runner/internal/host"
	"github.com/andrei-cloud/plugin_runner/internal/logging"
	"github.com/andrei-cloud/plugin_runner/internal/plugins"
	"github.com/andrei-cloud/plugin_runner/internal/vm/wasmvm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Execute runs the command line and returns the process exit status.
func Execute(ctx context.Context, args []string) int {
	status := 0
	rootCmd, err := NewRootCommand(&status)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return host.StatusFailure
	}

	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return host.StatusFailure
	}

	return status
}

// NewRootCommand creates and returns the root command with all subcommands.
// The root command runs a script; its exit status is stored in status.
func NewRootCommand(status *int) (*cobra.Command, error) {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "plugin_runner [plugin1 [plugin2 ...]] script_file [-- opt1 [opt2 ...]]",
		Short: "Run a script with a set of WebAssembly plugins",
		Long: `Loads each plugin, loads the script, lets plugins attach their natives,
runs the script's main function and keeps ticking plugins that ask for it
until interrupted. The exit status is the script's return value.

A first argument named like a subcommand (plugin, config) runs that
subcommand. Prefix the path to run such a file instead, e.g.
"plugin_runner ./config".`,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// Initialize configuration before running any command.
			if err := config.Initialize(cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			*status = runHost(cmd, args)
			return nil
		},
	}

	// Add persistent flags that affect all commands.
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file (default is $HOME/.plugin_runner/config.yaml)")

	// Add global flags that can override config file settings.
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "logging level (debug, info, warn, error)")
	flags.String("log-format", "human", "logging format (human, json)")
	flags.String("plugin-path", "plugins", "directory searched for plugins given by relative path")
	rootCmd.Flags().Duration("tick-interval", host.DefaultTickInterval, "pause between plugin ticks")
	rootCmd.Flags().Bool("graceful-exit", false, "let ExitProcess tear the host down instead of exiting at once")

	// Bind flags to viper.
	v := config.GetViper()
	for key, flag := range map[string]string{
		"log.level":            "log-level",
		"log.format":           "log-format",
		"plugin.path":          "plugin-path",
		"runner.tick_interval": "tick-interval",
		"runner.graceful_exit": "graceful-exit",
	} {
		f := flags.Lookup(flag)
		if f == nil {
			f = rootCmd.Flags().Lookup(flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	// Register all commands.
	if err := RegisterCommands(rootCmd); err != nil {
		return nil, fmt.Errorf("failed to register commands: %w", err)
	}

	return rootCmd, nil
}

func runHost(cmd *cobra.Command, args []string) int {
	cfg := config.Get()
	logging.InitLogger(cfg.Log.Level, cfg.Log.Format == "human")

	inv, err := host.ParseArgs(args, cmd.ArgsLenAtDash(), cfg.Script.Ext)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), host.Usage)
		return host.StatusFailure
	}

	fs := afero.NewOsFs()
	inv.Plugins = host.ResolvePlugins(fs, inv.Plugins, cfg.Plugin.Path)

	// shutdown the tick loop on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table := plugins.NewExportTable(log.Logger, plugins.NewInstances())
	rt, err := plugins.NewRuntime(ctx, table)
	if err != nil {
		log.Error().Err(err).Msg("failed to create plugin runtime")
		return host.StatusFailure
	}
	defer func() {
		if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Msg("failed to close plugin runtime")
		}
	}()

	opts := []host.Option{
		host.WithLibraries(builtins.Default(cmd.OutOrStdout(), fs)...),
		host.WithTickInterval(cfg.Runner.TickInterval),
	}
	if cfg.Runner.GracefulExit {
		opts = append(opts, host.WithGracefulExit())
	}

	engine := wasmvm.New(
		wasmvm.WithStdout(cmd.OutOrStdout()),
		wasmvm.WithStderr(cmd.ErrOrStderr()),
	)

	return host.New(engine, rt, table, opts...).Run(ctx, inv)
}
