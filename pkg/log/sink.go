package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/arnavsurve/stepwright/pkg/security"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/rs/zerolog"
)

// LogEvent is a decoded zerolog line handed to every sink.
type LogEvent struct {
	Level     types.Level
	Message   string
	Fields    map[string]any
	Timestamp time.Time
}

// Sink defines the interface for log output destinations
type Sink interface {
	Write(event *LogEvent) error
	io.Closer
}

// Router is the io.Writer behind the zerolog instance. It decodes each JSON
// line, scrubs secrets and fans the event out to its sinks. Download observers
// log from browser callback goroutines, so writes are serialized.
type Router struct {
	mu       sync.Mutex
	sinks    []Sink
	redactor *security.Redactor
}

func NewRouter(sinks ...Sink) *Router {
	return &Router{sinks: sinks}
}

var reservedFields = map[string]struct{}{
	zerolog.LevelFieldName:     {},
	zerolog.MessageFieldName:   {},
	zerolog.TimestampFieldName: {},
}

func (r *Router) Write(p []byte) (n int, err error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		fmt.Fprintf(os.Stderr, "Router: error unmarshaling log line: %v, data: %s\n", err, string(p))
		return len(p), nil
	}

	evt := &LogEvent{Fields: make(map[string]any, len(raw))}

	if lvlStr, ok := raw[zerolog.LevelFieldName].(string); ok {
		if zl, err := zerolog.ParseLevel(lvlStr); err == nil {
			evt.Level = ConvertZerologLevel(zl)
		}
	}
	if msg, ok := raw[zerolog.MessageFieldName].(string); ok {
		evt.Message = msg
	}
	evt.Timestamp = time.Now()
	if tsStr, ok := raw[zerolog.TimestampFieldName].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, tsStr); err == nil {
			evt.Timestamp = ts
		}
	}
	for k, v := range raw {
		if _, isReserved := reservedFields[k]; !isReserved {
			evt.Fields[k] = v
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.redactor != nil {
		evt.Message = r.redactor.Redact(evt.Message)
		for k, v := range evt.Fields {
			evt.Fields[k] = r.redactValue(v)
		}
	}

	for _, sink := range r.sinks {
		if err := sink.Write(evt); err != nil {
			fmt.Fprintf(os.Stderr, "Router: error writing to sink: %v\n", err)
		}
	}

	return len(p), nil
}

func (r *Router) redactValue(v any) any {
	switch typed := v.(type) {
	case string:
		return r.redactor.Redact(typed)
	case map[string]any:
		for k, vv := range typed {
			typed[k] = r.redactValue(vv)
		}
		return typed
	case []any:
		for i, vv := range typed {
			typed[i] = r.redactValue(vv)
		}
		return typed
	default:
		return v
	}
}

func ConvertZerologLevel(zl zerolog.Level) types.Level {
	switch zl {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		return types.DebugLevel
	case zerolog.InfoLevel:
		return types.InfoLevel
	case zerolog.WarnLevel:
		return types.WarnLevel
	case zerolog.ErrorLevel:
		return types.ErrorLevel
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return types.FatalLevel
	default:
		return types.InfoLevel
	}
}

func (r *Router) AddSink(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// SetRedactor installs the redactor used for every subsequent event. The same
// redactor keeps learning secrets while the run resolves secure parameters.
func (r *Router) SetRedactor(redactor *security.Redactor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redactor = redactor
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LevelString renders a level the way sinks print it.
func LevelString(l types.Level) string {
	switch l {
	case types.DebugLevel:
		return "debug"
	case types.InfoLevel:
		return "info"
	case types.WarnLevel:
		return "warn"
	case types.ErrorLevel:
		return "error"
	case types.FatalLevel:
		return "fatal"
	default:
		return "unknown"
	}
}
