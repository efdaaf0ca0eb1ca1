// Package logging provides structured JSON logging with trace IDs. Output
// goes to stderr so the stdio transport keeps stdout for the wire protocol.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is the structured logging interface used across the service.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})

	DebugContext(ctx context.Context, msg string, fields ...interface{})
	InfoContext(ctx context.Context, msg string, fields ...interface{})
	WarnContext(ctx context.Context, msg string, fields ...interface{})
	ErrorContext(ctx context.Context, msg string, fields ...interface{})

	WithTraceID(traceID string) Logger
	WithComponent(component string) Logger
}

// LogLevel orders logging severities.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// ParseLogLevel maps a config string to a level, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// ContextKey is the type for context values owned by this package.
type ContextKey string

// TraceIDKey carries the request trace ID through contexts.
const TraceIDKey ContextKey = "trace_id"

// LogEntry is one structured log line.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// StructuredLogger emits JSON log lines to a writer.
type StructuredLogger struct {
	level     LogLevel
	traceID   string
	component string
	out       io.Writer
	mu        *sync.Mutex
}

// NewLogger creates a logger writing to stderr at the given level.
func NewLogger(level LogLevel) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a logger with an explicit output writer.
func NewLoggerWithWriter(level LogLevel, out io.Writer) Logger {
	return &StructuredLogger{level: level, out: out, mu: &sync.Mutex{}}
}

// WithTraceID returns a copy of the logger bound to a trace ID.
func (l *StructuredLogger) WithTraceID(traceID string) Logger {
	c := *l
	c.traceID = traceID
	return &c
}

// WithComponent returns a copy of the logger bound to a component name.
func (l *StructuredLogger) WithComponent(component string) Logger {
	c := *l
	c.component = component
	return &c
}

func (l *StructuredLogger) Debug(msg string, fields ...interface{}) {
	l.log(DEBUG, "DEBUG", msg, "", fields...)
}

func (l *StructuredLogger) Info(msg string, fields ...interface{}) {
	l.log(INFO, "INFO", msg, "", fields...)
}

func (l *StructuredLogger) Warn(msg string, fields ...interface{}) {
	l.log(WARN, "WARN", msg, "", fields...)
}

func (l *StructuredLogger) Error(msg string, fields ...interface{}) {
	l.log(ERROR, "ERROR", msg, "", fields...)
}

func (l *StructuredLogger) DebugContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(DEBUG, "DEBUG", msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(INFO, "INFO", msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(WARN, "WARN", msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ERROR, "ERROR", msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) log(level LogLevel, name, msg, ctxTraceID string, fields ...interface{}) {
	if level < l.level {
		return
	}
	traceID := l.traceID
	if ctxTraceID != "" {
		traceID = ctxTraceID
	}

	var fieldMap map[string]interface{}
	if len(fields) > 0 {
		fieldMap = make(map[string]interface{}, len(fields)/2)
		for i := 0; i < len(fields); i += 2 {
			if i+1 < len(fields) {
				fieldMap[fmt.Sprintf("%v", fields[i])] = fields[i+1]
			} else {
				fieldMap[fmt.Sprintf("field_%d", i)] = fields[i]
			}
		}
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     name,
		Message:   msg,
		TraceID:   traceID,
		Component: l.component,
		Fields:    fieldMap,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

// GenerateTraceID returns a fresh trace ID.
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace ID in the context, generating one if empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace ID from a context, if any.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() Logger {
	return NewLoggerWithWriter(ERROR+1, io.Discard)
}
