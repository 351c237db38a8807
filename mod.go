// Package voteledger holds process-wide facilities shared by every package of
// the replicated vote ledger: the logger and the prometheus collectors.
package voteledger

import (
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance. It is replaced by SetLogger
// once the configuration is known.
var Logger = zerolog.New(logout).
	With().Timestamp().Logger().
	With().Caller().Logger().
	Level(zerolog.InfoLevel)

// PromCollectors is the list of prometheus collectors exported by the
// packages. They are registered by the command that starts the HTTP server.
var PromCollectors []prometheus.Collector

// SetLogger rebuilds the global logger with the given level. When asJSON is
// true, the output is plain JSON lines instead of the console format.
func SetLogger(level string, asJSON bool) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}

	var out io.Writer = logout
	if asJSON {
		out = os.Stdout
	}

	Logger = zerolog.New(out).
		With().Timestamp().Logger().
		With().Caller().Logger().
		Level(lvl)

	return nil
}
