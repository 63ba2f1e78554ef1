package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/kvguard"
)

var _ kvguard.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every entry with component=kvguard.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "kvguard")}
}

func (l Logger) Debug(msg string, f kvguard.Fields) { l.E.WithFields(lf(f)).Debug(msg) }
func (l Logger) Info(msg string, f kvguard.Fields)  { l.E.WithFields(lf(f)).Info(msg) }
func (l Logger) Warn(msg string, f kvguard.Fields)  { l.E.WithFields(lf(f)).Warn(msg) }
func (l Logger) Error(msg string, f kvguard.Fields) { l.E.WithFields(lf(f)).Error(msg) }

// lf moves the "err" field to logrus.ErrorKey so formatters render it as an error.
func lf(f kvguard.Fields) logrus.Fields {
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		if k == "err" {
			k = logrus.ErrorKey
		}
		out[k] = v
	}
	return out
}
