package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// JSONLogEntry is one structured log line, in the shape Cloud Logging and
// most log pipelines parse without configuration.
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp,omitempty"`
	Message   string                 `json:"message"`
	Severity  string                 `json:"severity,omitempty"`
	Trace     string                 `json:"logging.googleapis.com/trace,omitempty"`
	SpanID    string                 `json:"logging.googleapis.com/spanId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Component string                 `json:"component,omitempty"`
}

// String renders the entry as JSON.
func (e JSONLogEntry) String() string {
	if e.Severity == "" {
		e.Severity = "INFO"
	}
	out, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"message":%q,"severity":"ERROR"}`, "marshal log entry: "+err.Error())
	}
	return string(out)
}

var severities = map[LogLevel]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

type jsonLogger struct {
	out       *output
	metadata  map[string]interface{}
	traceID   string
	spanID    string
	component string
	logLevel  LogLevel
	child     Logger
}

var _ Logger = (*jsonLogger)(nil)

// WithContext attaches the trace and span ids of the span in ctx.
func (c *jsonLogger) WithContext(ctx context.Context) Logger {
	clone := c.clone()
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		clone.traceID = sc.TraceID().String()
		clone.spanID = sc.SpanID().String()
	}
	if clone.child != nil {
		clone.child = clone.child.WithContext(ctx)
	}
	return clone
}

func (c *jsonLogger) clone() *jsonLogger {
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &jsonLogger{
		out:       c.out,
		metadata:  metadata,
		traceID:   c.traceID,
		spanID:    c.spanID,
		component: c.component,
		logLevel:  c.logLevel,
		child:     c.child,
	}
}

// WithPrefix appends prefix to the component field.
func (c *jsonLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	if clone.component == "" {
		clone.component = prefix
	} else if !strings.Contains(clone.component, prefix) {
		clone.component = clone.component + " " + prefix
	}
	if clone.child != nil {
		clone.child = clone.child.WithPrefix(prefix)
	}
	return clone
}

// With merges metadata. The "trace" and "component" keys are lifted into
// their own fields.
func (c *jsonLogger) With(newFields map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range newFields {
		clone.metadata[k] = v
	}
	if trace, ok := clone.metadata["trace"].(string); ok {
		clone.traceID = trace
		delete(clone.metadata, "trace")
	}
	if comp, ok := clone.metadata["component"].(string); ok {
		clone.component = comp
		delete(clone.metadata, "component")
	}
	if c.child != nil {
		clone.child = c.child.With(newFields)
	}
	return clone
}

var bracketRegex = regexp.MustCompile(`\[(.*?)\]`)

// tokenize turns "[http] [pgx]" prefixes into "http, pgx".
func tokenize(val string) string {
	tokens := bracketRegex.FindAllStringSubmatch(val, -1)
	if len(tokens) == 0 {
		return val
	}
	vals := make([]string, 0, len(tokens))
	for _, t := range tokens {
		vals = append(vals, t[1])
	}
	return strings.Join(vals, ", ")
}

func (c *jsonLogger) log(level LogLevel, severity string, msg string, args ...interface{}) {
	if level < c.logLevel {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	entry := JSONLogEntry{
		Timestamp: c.out.now(),
		Severity:  severity,
		Message:   ansiColorStripper.ReplaceAllString(msg, ""),
		Trace:     c.traceID,
		SpanID:    c.spanID,
		Metadata:  c.metadata,
		Component: tokenize(c.component),
	}
	c.out.writeLine([]byte(entry.String()))
}

func (c *jsonLogger) Trace(msg string, args ...interface{}) {
	c.log(LevelTrace, severities[LevelTrace], msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *jsonLogger) Debug(msg string, args ...interface{}) {
	c.log(LevelDebug, severities[LevelDebug], msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *jsonLogger) Info(msg string, args ...interface{}) {
	c.log(LevelInfo, severities[LevelInfo], msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *jsonLogger) Warn(msg string, args ...interface{}) {
	c.log(LevelWarn, severities[LevelWarn], msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *jsonLogger) Error(msg string, args ...interface{}) {
	c.log(LevelError, severities[LevelError], msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *jsonLogger) Fatal(msg string, args ...interface{}) {
	c.log(LevelError, "CRITICAL", msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
	os.Exit(1)
}

func (c *jsonLogger) Stack(next Logger) Logger {
	clone := c.clone()
	clone.child = next
	return clone
}

func (c *jsonLogger) IsLevelEnabled(level LogLevel) bool { return level >= c.logLevel }
func (c *jsonLogger) IsTraceEnabled() bool               { return c.IsLevelEnabled(LevelTrace) }
func (c *jsonLogger) IsDebugEnabled() bool               { return c.IsLevelEnabled(LevelDebug) }
func (c *jsonLogger) IsInfoEnabled() bool                { return c.IsLevelEnabled(LevelInfo) }
func (c *jsonLogger) IsWarnEnabled() bool                { return c.IsLevelEnabled(LevelWarn) }
func (c *jsonLogger) IsErrorEnabled() bool               { return c.IsLevelEnabled(LevelError) }
