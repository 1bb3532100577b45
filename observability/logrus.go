package observability

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrus adapts a logrus logger to the Logger interface.
func NewLogrus(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewTextLogger builds a text-formatted logrus logger writing to w.
func NewTextLogger(w io.Writer, verbose bool) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
		TimestampFormat:  time.TimeOnly,
	})
	l.SetLevel(logrus.InfoLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return NewLogrus(l)
}

func (l *logrusLogger) Debug(msg string, fields ...Field) { l.with(fields).Debug(msg) }
func (l *logrusLogger) Info(msg string, fields ...Field)  { l.with(fields).Info(msg) }
func (l *logrusLogger) Warn(msg string, fields ...Field)  { l.with(fields).Warn(msg) }
func (l *logrusLogger) Error(msg string, fields ...Field) { l.with(fields).Error(msg) }

func (l *logrusLogger) With(fields ...Field) Logger {
	return &logrusLogger{entry: l.with(fields)}
}

func (l *logrusLogger) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	lf := make(logrus.Fields, len(fields))
	for _, f := range fields {
		if err, ok := f.Value().(error); ok && err != nil {
			lf[f.Key()] = err.Error()
			continue
		}
		lf[f.Key()] = f.Value()
	}
	return l.entry.WithFields(lf)
}

type logTracer struct{ log Logger }

// LogTracer returns a tracer that logs the duration and outcome of every
// finished span at debug level, and failures at error level.
func LogTracer(log Logger) Tracer {
	if log == nil {
		log = NopLogger{}
	}
	return logTracer{log: log}
}

func (t logTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &logSpan{log: t.log, name: name, start: time.Now()}
}

type logSpan struct {
	log   Logger
	name  string
	start time.Time
	tags  []Field
	err   error
}

func (s *logSpan) SetTag(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.tags = append(s.tags, String(key, v))
	case int:
		s.tags = append(s.tags, Int(key, v))
	case int64:
		s.tags = append(s.tags, Int64(key, v))
	case bool:
		s.tags = append(s.tags, Bool(key, v))
	}
}

func (s *logSpan) SetError(err error) { s.err = err }

func (s *logSpan) Finish() {
	fields := append([]Field{String("span", s.name), Duration("elapsed", time.Since(s.start))}, s.tags...)
	if s.err != nil {
		s.log.Error("span failed", append(fields, Err(s.err))...)
		return
	}
	s.log.Debug("span finished", fields...)
}
