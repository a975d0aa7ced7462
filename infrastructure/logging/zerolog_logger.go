// Package logging implements application/logging.Logger on top of zerolog,
// mirroring the teacher's single-injected-Logger shape
// (infrastructure/logging/log_logger.go) with a structured sink instead of
// stdlib log.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"tunvpn/application/logging"
)

// ZerologLogger adapts a zerolog.Logger to application/logging.Logger.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewConsoleLogger builds a human-readable, timestamped logger writing to
// stderr — suitable for the server/client process's own diagnostics.
func NewConsoleLogger(component string) logging.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	l := zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: l}
}

func (z *ZerologLogger) Infof(format string, args ...any) {
	z.log.Info().Msgf(format, args...)
}

func (z *ZerologLogger) Warnf(format string, args ...any) {
	z.log.Warn().Msgf(format, args...)
}

func (z *ZerologLogger) Errorf(format string, args ...any) {
	z.log.Error().Msgf(format, args...)
}

func (z *ZerologLogger) Debugf(format string, args ...any) {
	z.log.Debug().Msgf(format, args...)
}
