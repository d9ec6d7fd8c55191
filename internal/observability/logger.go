package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerConfig controls where and how much the global logger writes
type LoggerConfig struct {
	Level string
	File  string    // Optional file receiving JSON records
	Out   io.Writer // Console output, stderr when nil
}

// InitLogger initializes the global logger.
// Console output is human readable; the optional file receives plain JSON.
// Tailed lines go to stdout, so the console logger writes to stderr.
func InitLogger(cfg LoggerConfig) (io.Closer, error) {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
		},
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		writers = append(writers, file)
		closer = file
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Logger()

	level := ParseLogLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	log.Debug().
		Str("level", level.String()).
		Str("file", cfg.File).
		Msg("Logger initialized")

	return closer, nil
}

// ParseLogLevel parses a string log level to zerolog.Level
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
