// Package logging builds the logr.Logger handed to every component.
// zerolog is the backend: a console writer on an interactive terminal,
// JSON lines otherwise, plus an optional rotating file.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/kardianos/service"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sweeney/hc-state/internal/config"
)

// ParseLevel maps a config level to zerolog. Unknown values mean info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// New builds the logger. The returned close func flushes the log file, if any.
// debug forces the debug level, which enables V(1) lines.
func New(cfg config.LoggingConfig, debug bool) (logr.Logger, func() error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"

	level := ParseLevel(cfg.Level)
	if debug {
		level = zerolog.DebugLevel
	}

	writers := []io.Writer{stderrWriter()}
	closeFn := func() error { return nil }
	if cfg.File.Path != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		writers = append(writers, file)
		closeFn = file.Close
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return zerologr.New(&zl), closeFn
}

// stderrWriter uses the human console format only when a person is watching:
// stderr is a terminal and the process is not run by a service manager.
func stderrWriter() io.Writer {
	fd := os.Stderr.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	if !tty || !service.Interactive() {
		return os.Stderr
	}
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    noColor(),
		TimeFormat: time.RFC3339,
	}
}

func noColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return os.Getenv("TERM") == "dumb"
}
