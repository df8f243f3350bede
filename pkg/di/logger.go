package di

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log output formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// LogConfig selects the level and encoding of the container logger.
type LogConfig struct {
	// Level is any zerolog level name: trace, debug, info, warn, error, disabled.
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultLogConfig logs info and above as JSON.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: zerolog.InfoLevel.String(), Format: LogFormatJSON}
}

// Validate checks Level and Format.
func (c LogConfig) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return &ConfigError{Field: "Level", Message: err.Error()}
	}
	switch c.Format {
	case LogFormatJSON, LogFormatConsole:
		return nil
	default:
		return &ConfigError{Field: "Format", Message: fmt.Sprintf("must be %s or %s", LogFormatJSON, LogFormatConsole)}
	}
}

// NewLogger builds a logger writing to w, or to stderr when w is nil.
func NewLogger(cfg LogConfig, w io.Writer) (zerolog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return zerolog.Nop(), err
	}
	if w == nil {
		w = os.Stderr
	}
	level, _ := zerolog.ParseLevel(cfg.Level)
	if cfg.Format == LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// ConfigError reports an invalid container setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
