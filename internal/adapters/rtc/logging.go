package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerFactory routes pion's internal logs into zerolog, one sub-logger per scope.
type loggerFactory struct {
	level zerolog.Level
}

// NewLoggerFactory returns a pion LoggerFactory that drops everything below level.
// pion is chatty at debug, so callers usually pass zerolog.WarnLevel.
func NewLoggerFactory(level zerolog.Level) logging.LoggerFactory {
	return loggerFactory{level: level}
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := log.With().Str("module", "pion").Str("scope", scope).Logger().Level(f.level)
	return &scopedLogger{l: l}
}

type scopedLogger struct {
	l zerolog.Logger
}

func (s *scopedLogger) Trace(msg string) { s.l.Trace().Msg(msg) }
func (s *scopedLogger) Debug(msg string) { s.l.Debug().Msg(msg) }
func (s *scopedLogger) Info(msg string)  { s.l.Info().Msg(msg) }
func (s *scopedLogger) Warn(msg string)  { s.l.Warn().Msg(msg) }
func (s *scopedLogger) Error(msg string) { s.l.Error().Msg(msg) }

func (s *scopedLogger) Tracef(format string, args ...any) { s.l.Trace().Msgf(format, args...) }
func (s *scopedLogger) Debugf(format string, args ...any) { s.l.Debug().Msgf(format, args...) }
func (s *scopedLogger) Infof(format string, args ...any)  { s.l.Info().Msgf(format, args...) }
func (s *scopedLogger) Warnf(format string, args ...any)  { s.l.Warn().Msgf(format, args...) }
func (s *scopedLogger) Errorf(format string, args ...any) { s.l.Error().Msgf(format, args...) }
