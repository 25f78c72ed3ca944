// Package logging configures the process-wide zerolog logger: a console
// sink for the operator plus a rotating file sink for post-mortems.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/glaciertar/glaciertar/internal/config"
)

// Setup installs the global logger. Must be called before any core package
// logs. Returns an error only if the log directory cannot be created.
func Setup(verbose bool) error {
	if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
		return err
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}
	file := &lumberjack.Logger{
		Filename:   filepath.Join(config.LogDir, config.LogFilename),
		MaxSize:    config.MaxLogSizeMB,
		MaxBackups: config.LogNumBackups,
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = zerolog.New(io.MultiWriter(console, file)).
		With().
		Timestamp().
		Logger()

	return nil
}
