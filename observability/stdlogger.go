package observability

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// ParseLevel maps a config value to a Level. The empty string means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// StdLogger writes one key=value line per entry through the standard log package.
type StdLogger struct {
	out    *log.Logger
	level  Level
	fields []Field
}

// NewStdLogger returns a logger writing to w at or above level.
func NewStdLogger(w io.Writer, level Level) *StdLogger {
	return &StdLogger{out: log.New(w, "", log.LstdFlags), level: level}
}

func (l *StdLogger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l *StdLogger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l *StdLogger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l *StdLogger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

func (l *StdLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &StdLogger{out: l.out, level: l.level, fields: merged}
}

func (l *StdLogger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString("level=")
	b.WriteString(level.String())
	b.WriteString(" msg=")
	b.WriteString(quote(msg))
	for _, f := range l.fields {
		writeField(&b, f)
	}
	for _, f := range fields {
		writeField(&b, f)
	}
	l.out.Print(b.String())
}

func writeField(b *strings.Builder, f Field) {
	b.WriteByte(' ')
	b.WriteString(f.Key())
	b.WriteByte('=')
	switch v := f.Value().(type) {
	case string:
		b.WriteString(quote(v))
	case error:
		if v == nil {
			b.WriteString("<nil>")
		} else {
			b.WriteString(quote(v.Error()))
		}
	case float64:
		b.WriteString(strconv.FormatFloat(v, 'g', 6, 64))
	default:
		b.WriteString(quote(fmt.Sprint(v)))
	}
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
