// Package log provides a leveled, structured logger for the whole module,
// implemented on top of zerolog. It exposes package-level functions so that
// callers don't need to carry a logger around.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// init sets a sane default so the package is usable before Init is called.
func init() {
	Init("info", "stderr")
}

// Init initializes the logger with the given level ("debug", "info", "warn",
// "error") and output ("stdout", "stderr" or a file path).
func Init(level, output string) {
	var out io.Writer
	switch output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			panic(fmt.Sprintf("cannot open log output %q: %v", output, err))
		}
		out = f
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	switch strings.ToLower(level) {
	case "debug":
		log = log.Level(zerolog.DebugLevel)
	case "info":
		log = log.Level(zerolog.InfoLevel)
	case "warn":
		log = log.Level(zerolog.WarnLevel)
	case "error":
		log = log.Level(zerolog.ErrorLevel)
	default:
		panic(fmt.Sprintf("invalid log level %q", level))
	}
}

// Logger returns the underlying zerolog logger.
func Logger() *zerolog.Logger { return &log }

func Debug(args ...any) { log.Debug().Msg(fmt.Sprint(args...)) }
func Info(args ...any)  { log.Info().Msg(fmt.Sprint(args...)) }
func Warn(args ...any)  { log.Warn().Msg(fmt.Sprint(args...)) }
func Error(args ...any) { log.Error().Msg(fmt.Sprint(args...)) }

func Debugf(format string, args ...any) { log.Debug().Msgf(format, args...) }
func Infof(format string, args ...any)  { log.Info().Msgf(format, args...) }
func Warnf(format string, args ...any)  { log.Warn().Msgf(format, args...) }
func Errorf(format string, args ...any) { log.Error().Msgf(format, args...) }

// Fatalf logs the message and exits with status 1.
func Fatalf(format string, args ...any) {
	log.Fatal().Msgf(format, args...)
}

// Debugw logs a message with alternating key-value pairs.
func Debugw(msg string, keyvalues ...any) { withFields(log.Debug(), keyvalues...).Msg(msg) }

// Infow logs a message with alternating key-value pairs.
func Infow(msg string, keyvalues ...any) { withFields(log.Info(), keyvalues...).Msg(msg) }

// Warnw logs a message with alternating key-value pairs.
func Warnw(msg string, keyvalues ...any) { withFields(log.Warn(), keyvalues...).Msg(msg) }

// Errorw logs an error with an additional message.
func Errorw(err error, msg string) { log.Error().Err(err).Msg(msg) }

func withFields(ev *zerolog.Event, keyvalues ...any) *zerolog.Event {
	if len(keyvalues)%2 != 0 {
		keyvalues = append(keyvalues, "<missing value>")
	}
	for i := 0; i < len(keyvalues); i += 2 {
		key, ok := keyvalues[i].(string)
		if !ok {
			key = fmt.Sprint(keyvalues[i])
		}
		ev = ev.Interface(key, keyvalues[i+1])
	}
	return ev
}
