// Package zap adapts a *zap.Logger to kvguard.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/kvguard"
)

var _ kvguard.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names the logger "kvguard". A nil l yields a no-op logger.
func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l.Named("kvguard")}
}

func (z Logger) Debug(msg string, f kvguard.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f kvguard.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f kvguard.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f kvguard.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f kvguard.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		switch x := v.(type) {
		case error:
			out = append(out, zap.NamedError(k, x))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
