// Package logging sets up the process-wide zerolog logger: a console writer
// plus a size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFile is the name of the rotated log file inside the log directory.
const LogFile = "listingharvest.log"

// Config controls log level, output and rotation.
type Config struct {
	Level    string         `json:"level" mapstructure:"level"`
	LogDir   string         `json:"log_dir" mapstructure:"log_dir"`
	Rotation RotationConfig `json:"rotation" mapstructure:"rotation"`

	// Console receives human-readable output. Defaults to stderr.
	Console io.Writer `json:"-" mapstructure:"-"`
}

// RotationConfig is passed through to lumberjack.
type RotationConfig struct {
	MaxSize    int  `json:"max_size" mapstructure:"max_size"` // megabytes
	MaxBackups int  `json:"max_backups" mapstructure:"max_backups"`
	MaxAge     int  `json:"max_age" mapstructure:"max_age"` // days
	Compress   bool `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		LogDir: "logs",
		Rotation: RotationConfig{
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		},
	}
}

// Init builds the logger, installs it as log.Logger and returns it with a
// closer for the log file. An empty LogDir logs to the console only.
func Init(config Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	console := config.Console
	if console == nil {
		console = os.Stderr
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}}
	closer := io.Closer(nopCloser{})

	if config.LogDir != "" {
		if err := os.MkdirAll(config.LogDir, 0755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(config.LogDir, LogFile),
			MaxSize:    config.Rotation.MaxSize,
			MaxBackups: config.Rotation.MaxBackups,
			MaxAge:     config.Rotation.MaxAge,
			Compress:   config.Rotation.Compress,
		}
		writers = append(writers, file)
		closer = file
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger

	logger.Debug().
		Str("level", level.String()).
		Str("log_dir", config.LogDir).
		Msg("logging initialized")

	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
