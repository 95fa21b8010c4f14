// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup sets the global level and output. Pretty selects the console writer.
func Setup(level string, pretty bool) error {
	return setup(os.Stderr, level, pretty)
}

func setup(out io.Writer, level string, pretty bool) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// CronLogger adapts a zerolog logger to cron.Logger.
type CronLogger struct {
	L zerolog.Logger
}

// Info logs cron's routine messages at debug level.
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.L.Debug().Fields(keysAndValues).Msg(msg)
}

func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.L.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
