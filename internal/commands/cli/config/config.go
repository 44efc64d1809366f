// Package config provides configuration file commands.
package config

import (
	"fmt"

	"github.com/andrei-cloud/plugin_runner/internal/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		// An unreadable config file must not block writing a fresh one.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}

	cmd.AddCommand(newInitCommand(afero.NewOsFs()))
	cmd.AddCommand(newShowCommand())

	return cmd
}

func newInitCommand(fs afero.Fs) *cobra.Command {
	var (
		path  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				def, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = def
			}
			if err := config.WriteDefault(fs, path, force); err != nil {
				return err
			}
			cmd.Printf("Wrote %s\n", path)

			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "destination (default is $HOME/.plugin_runner/config.yaml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			if err := config.Initialize(cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg := config.Get()
			cmd.Printf("runner.tick_interval: %s\n", cfg.Runner.TickInterval)
			cmd.Printf("runner.graceful_exit: %t\n", cfg.Runner.GracefulExit)
			cmd.Printf("plugin.path: %s\n", cfg.Plugin.Path)
			cmd.Printf("script.ext: %s\n", cfg.Script.Ext)
			cmd.Printf("log.level: %s\n", cfg.Log.Level)
			cmd.Printf("log.format: %s\n", cfg.Log.Format)

			return nil
		},
	}
}
