// Package zerolog adapts github.com/rs/zerolog to the logger.Logger contract.
// engine.Open falls back to logger.Noop() when no Logger is passed, so this
// adapter is used only when a caller builds it and hands it to Open; one
// allocation-light JSON line per worker dispatch is cheap enough not to
// show up in profiles.
package zerolog

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/fsvxavier/odbcengine/telemetry/logger"
)

type adapter struct {
	l zerolog.Logger
}

// New builds a logger.Logger writing JSON lines to w (os.Stderr if nil).
func New(w *os.File) logger.Logger {
	if w == nil {
		w = os.Stderr
	}
	return adapter{l: zerolog.New(w).With().Timestamp().Logger()}
}

func apply(e *zerolog.Event, fields []logger.Field) *zerolog.Event {
	for _, f := range fields {
		e = e.Interface(f.Key, f.Value)
	}
	return e
}

func (a adapter) Debug(msg string, fields ...logger.Field) { apply(a.l.Debug(), fields).Msg(msg) }
func (a adapter) Info(msg string, fields ...logger.Field)  { apply(a.l.Info(), fields).Msg(msg) }
func (a adapter) Warn(msg string, fields ...logger.Field)  { apply(a.l.Warn(), fields).Msg(msg) }
func (a adapter) Error(msg string, fields ...logger.Field) { apply(a.l.Error(), fields).Msg(msg) }

func (a adapter) With(fields ...logger.Field) logger.Logger {
	ctx := a.l.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return adapter{l: ctx.Logger()}
}
