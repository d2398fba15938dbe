// Package logger provides structured logging for the gateway using zerolog.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance. Use the component-specific helpers
// below to attach a "component" field instead of logging against this
// directly.
var Log zerolog.Logger

// Initialize configures the global logger. Call once at startup before any
// other package logs.
//
// level is one of zerolog's level names ("debug", "info", "warn", "error");
// an invalid level falls back to "info". pretty selects human-readable
// console output (development) over JSON (production).
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "lsp-gateway").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// Session returns a logger tagged for per-session gateway events.
func Session() *zerolog.Logger {
	l := Log.With().Str("component", "session").Logger()
	return &l
}

// Container returns a logger tagged for container-engine interactions.
func Container() *zerolog.Logger {
	l := Log.With().Str("component", "container").Logger()
	return &l
}

// Codec returns a logger tagged for frame codec events.
func Codec() *zerolog.Logger {
	l := Log.With().Str("component", "codec").Logger()
	return &l
}

// Demux returns a logger tagged for stream demuxer events.
func Demux() *zerolog.Logger {
	l := Log.With().Str("component", "demux").Logger()
	return &l
}

// Router returns a logger tagged for message router events.
func Router() *zerolog.Logger {
	l := Log.With().Str("component", "router").Logger()
	return &l
}

// Listener returns a logger tagged for the accept loop.
func Listener() *zerolog.Logger {
	l := Log.With().Str("component", "listener").Logger()
	return &l
}

func init() {
	// Give the package a usable logger even if Initialize is never called
	// (e.g. in tests).
	Log = log.With().Str("service", "lsp-gateway").Logger()
}
