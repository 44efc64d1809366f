package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

var (
	configData Config
	v          = viper.New()
	validate   = validator.New()
)

// Config holds all configuration settings.
type Config struct {
	// Runner configuration
	Runner struct {
		TickInterval time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
		GracefulExit bool          `mapstructure:"graceful_exit"`
	} `mapstructure:"runner"`
	// Plugin configuration
	Plugin struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"plugin"`
	// Script configuration
	Script struct {
		Ext string `mapstructure:"ext" validate:"required,startswith=."`
	} `mapstructure:"script"`
	// Logging configuration
	Log struct {
		Level  string `mapstructure:"level"  validate:"oneof=trace debug info warn error fatal panic disabled"`
		Format string `mapstructure:"format" validate:"oneof=human json"`
	} `mapstructure:"log"`
}

// DefaultConfig is the content written by WriteDefault.
const DefaultConfig = `# Plugin Runner Configuration File
runner:
  tick_interval: 5ms
  graceful_exit: false

plugin:
  path: plugins

script:
  ext: .wasm

log:
  level: info
  format: human
`

// Initialize reads the configuration into the package state. An empty cfgFile
// searches the default locations; a missing file there is not an error.
func Initialize(cfgFile string) error {
	cfg, err := Load(v, cfgFile)
	if err != nil {
		return err
	}
	configData = *cfg

	return nil
}

// Load configures vp, reads the config file and returns the validated result.
func Load(vp *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		vp.SetConfigFile(cfgFile)
	} else {
		vp.SetConfigName("config")               // name of config file (without extension)
		vp.SetConfigType("yaml")                 // config file type
		vp.AddConfigPath(".")                    // optionally look for config in working directory
		vp.AddConfigPath("$HOME/.plugin_runner") // look for config in .plugin_runner directory in home
		vp.AddConfigPath("/etc/plugin_runner/")  // path to look for the config file in
	}

	setDefaults(vp)

	// Environment variables
	vp.SetEnvPrefix("PLUGINRUNNER") // prefix for env vars
	vp.AutomaticEnv()               // read in environment variables that match
	vp.SetEnvKeyReplacer(           // replace dots with underscores in env vars
		strings.NewReplacer(".", "_"),
	)

	if err := vp.ReadInConfig(); err != nil {
		// It's okay if we can't find a config file, we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(vp *viper.Viper) {
	// Runner defaults
	vp.SetDefault("runner.tick_interval", 5*time.Millisecond)
	vp.SetDefault("runner.graceful_exit", false)

	// Plugin defaults
	vp.SetDefault("plugin.path", "plugins")

	// Script defaults
	vp.SetDefault("script.ext", ".wasm")

	// Logging defaults
	vp.SetDefault("log.level", "info")
	vp.SetDefault("log.format", "human")
}

// DefaultPath returns $HOME/.plugin_runner/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, ".plugin_runner", "config.yaml"), nil
}

// WriteDefault writes DefaultConfig to path, creating parent directories. An
// existing file is left alone unless force is set.
func WriteDefault(fs afero.Fs, path string, force bool) error {
	if !force {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return afero.WriteFile(fs, path, []byte(DefaultConfig), 0o644)
}

// Get returns the current configuration.
func Get() *Config {
	return &configData
}

// GetViper returns the viper instance.
func GetViper() *viper.Viper {
	return v
}
