package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the zerolog logger with the given level and output format.
// Unknown levels fall back to info.
func InitLogger(level string, human bool) {
	InitLoggerTo(os.Stdout, level, human)
}

// InitLoggerTo is InitLogger writing to out.
func InitLoggerTo(out io.Writer, level string, human bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano            // always initialize base logger with timestamp.
	base := zerolog.New(out).With().Timestamp().Logger() // initialize base logger.
	if human {
		log.Logger = base.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339Nano,
		}) // select output format.
	} else {
		log.Logger = base // use JSON logger.
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// LogPluginLoaded logs a plugin that passed capability negotiation.
func LogPluginLoaded(logger zerolog.Logger, path string, flags uint32) {
	logger.Info().
		Str("event", "plugin_loaded").
		Str("path", path).
		Uint32("supports", flags).
		Msgf("Loaded plugin: %s", path)
}

// LogPluginFailed logs a plugin that could not be loaded.
func LogPluginFailed(logger zerolog.Logger, path string, err error) {
	logger.Error().
		Str("event", "plugin_failed").
		Str("path", path).
		Err(err).
		Msgf("Could not load plugin: %s", path)
}

// LogStage logs a lifecycle transition.
func LogStage(logger zerolog.Logger, from, to string) {
	logger.Debug().
		Str("event", "stage").
		Str("from", from).
		Str("to", to).
		Msg("lifecycle transition")
}
