// Package logger provides structured logging for netstress using zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var globalLogger zerolog.Logger

// Config controls the process-wide logger.
type Config struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"` // stdout | stderr
	Format     string `yaml:"format"` // json | console
	TimeFormat string `yaml:"time_format"`
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	globalLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init replaces the global logger. An empty level means info.
func Init(cfg Config) error {
	var output io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		output = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	zerolog.SetGlobalLevel(level)
	globalLogger = zerolog.New(output).With().Timestamp().Logger()
	return nil
}

// ParseLevel maps a config string to a zerolog level.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
}

// SetLevel changes the process-wide level, including for loggers already
// handed out.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func Get() zerolog.Logger {
	return globalLogger
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return globalLogger.With().Str("component", component).Logger()
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
