package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger carrying the service name and any fields
// attached with the With* methods. A Logger is immutable; With* return
// copies.
type Logger struct {
	zl      zerolog.Logger
	service string
}

// New builds a logger writing to cfg.Output.
func New(cfg *Config, serviceName string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, serviceName, out)
}

// NewWithWriter builds a logger writing to w. An invalid level logs at info.
func NewWithWriter(cfg *Config, serviceName string, w io.Writer) *Logger {
	level, err := cfg.zerologLevel()
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.console() {
		w = consoleWriter(w, serviceName, cfg.NoColor)
	}

	zc := zerolog.New(w).Level(level).With()
	if cfg.Timestamp {
		zc = zc.Timestamp()
	}
	if cfg.Caller {
		zc = zc.Caller()
	}
	if serviceName != "" {
		zc = zc.Str(FieldService, serviceName)
	}
	return &Logger{zl: zc.Logger(), service: serviceName}
}

// NewDefault logs info and above as console lines on stdout.
func NewDefault(serviceName string) *Logger {
	cfg := Config{}
	cfg.ApplyDefaults()
	return New(&cfg, serviceName)
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

var global atomic.Pointer[Logger]

// SetGlobal replaces the process-wide logger returned by Global.
func SetGlobal(l *Logger) { global.Store(l) }

// Global returns the process-wide logger, a console logger until SetGlobal
// is called.
func Global() *Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l := NewDefault("")
	if global.CompareAndSwap(nil, l) {
		return l
	}
	return global.Load()
}

type contextKey string

// ContextWithRequestID stores a request id for WithContext to pick up.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey(FieldRequestID), id)
}

// ContextWithTrace stores trace and span ids for WithContext to pick up.
func ContextWithTrace(ctx context.Context, traceID, spanID string) context.Context {
	ctx = context.WithValue(ctx, contextKey(FieldTraceID), traceID)
	return context.WithValue(ctx, contextKey(FieldSpanID), spanID)
}

// RequestIDFromContext returns the request id stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey(FieldRequestID)).(string)
	return id
}

func (l *Logger) derive(zc zerolog.Context) *Logger {
	return &Logger{zl: zc.Logger(), service: l.service}
}

// WithContext adds the request, trace and span ids stored in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	zc := l.zl.With()
	for _, key := range []string{FieldTraceID, FieldSpanID, FieldRequestID} {
		if v, ok := ctx.Value(contextKey(key)).(string); ok && v != "" {
			zc = zc.Str(key, v)
		}
	}
	return l.derive(zc)
}

// WithComponent tags every line with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(l.zl.With().Str(FieldComponent, name))
}

// WithFields attaches fields to every line.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(l.zl.With().Fields(fields))
}

// WithError attaches err under the error key.
func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.zl.With().Err(err))
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	emit(l.zl.Error(), msg, fields)
}

// emit is a no-op when e is nil, which zerolog returns for disabled levels.
func emit(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	if e == nil {
		return
	}
	for _, f := range fields {
		e.Fields(f)
	}
	e.Msg(msg)
}

// levelStyle holds a console tag and its ANSI color.
type levelStyle struct {
	tag   string
	color int
}

var consoleLevels = map[string]levelStyle{
	zerolog.LevelTraceValue: {"TRC", 90},
	zerolog.LevelDebugValue: {"DBG", 36},
	zerolog.LevelInfoValue:  {"INF", 32},
	zerolog.LevelWarnValue:  {"WRN", 33},
	zerolog.LevelErrorValue: {"ERR", 31},
	zerolog.LevelFatalValue: {"FTL", 35},
}

func paint(s string, color int, noColor bool) string {
	if noColor {
		return "[" + s + "]"
	}
	return fmt.Sprintf("\033[%dm[%s]\033[0m", color, s)
}

// consoleWriter renders lines as "15:04:05 [REG][INF] message key:value".
// The bracketed prefix is the first three letters of the service name.
func consoleWriter(w io.Writer, serviceName string, noColor bool) zerolog.ConsoleWriter {
	prefix := ""
	if len(serviceName) >= 3 {
		prefix = paint(strings.ToUpper(serviceName[:3]), 34, noColor)
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
		FormatLevel: func(i interface{}) string {
			lvl, _ := i.(string)
			style, ok := consoleLevels[lvl]
			if !ok {
				return prefix + "[" + strings.ToUpper(lvl) + "]"
			}
			return prefix + paint(style.tag, style.color, noColor)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		},
	}
}
