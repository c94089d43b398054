package core

import (
	"io"

	"github.com/rs/zerolog"
)

type Log interface {
	Info() *zerolog.Event
	Debug() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
}

type zerologAdapter struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) Log {
	return &zerologAdapter{logger: logger}
}

func NopLog() Log {
	return &zerologAdapter{logger: zerolog.New(io.Discard)}
}

func (z *zerologAdapter) Info() *zerolog.Event  { return z.logger.Info() }
func (z *zerologAdapter) Debug() *zerolog.Event { return z.logger.Debug() }
func (z *zerologAdapter) Warn() *zerolog.Event  { return z.logger.Warn() }
func (z *zerologAdapter) Error() *zerolog.Event { return z.logger.Error() }
