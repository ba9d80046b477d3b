// Package zap adapts go.uber.org/zap to the logger.Logger contract. Offered
// as an alternate provider for callers who already run a zap-based stack;
// selection happens at construction time, never via a build tag.
package zap

import (
	"go.uber.org/zap"

	"github.com/fsvxavier/odbcengine/telemetry/logger"
)

type adapter struct {
	l *zap.Logger
}

// New builds a logger.Logger backed by a production zap.Logger.
func New() (logger.Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return adapter{l: l}, nil
}

func toZapFields(fields []logger.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func (a adapter) Debug(msg string, fields ...logger.Field) { a.l.Debug(msg, toZapFields(fields)...) }
func (a adapter) Info(msg string, fields ...logger.Field)  { a.l.Info(msg, toZapFields(fields)...) }
func (a adapter) Warn(msg string, fields ...logger.Field)  { a.l.Warn(msg, toZapFields(fields)...) }
func (a adapter) Error(msg string, fields ...logger.Field) { a.l.Error(msg, toZapFields(fields)...) }

func (a adapter) With(fields ...logger.Field) logger.Logger {
	return adapter{l: a.l.With(toZapFields(fields)...)}
}
