package log_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/arnavsurve/stepwright/pkg/log"
	"github.com/arnavsurve/stepwright/pkg/security"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter(t *testing.T) {
	out := &bytes.Buffer{}
	logger := log.NewZerologAdapter(zerolog.New(out))

	logger.Info().
		Str("unit", "test").
		Int("n", 1).
		Bool("ok", true).
		Msg("hello")

	assert.Contains(t, out.String(), `"unit":"test"`)
	assert.Contains(t, out.String(), `"ok":true`)
}

func TestAdapter_FatalDoesNotExit(t *testing.T) {
	out := &bytes.Buffer{}
	logger := log.NewZerologAdapter(zerolog.New(out))

	logger.Fatal().Msg("still here")
	assert.Contains(t, out.String(), `"level":"fatal"`)
}

type memorySink struct {
	mu     sync.Mutex
	events []*log.LogEvent
}

func (m *memorySink) Write(e *log.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memorySink) Close() error { return nil }

func TestRouter_DecodesAndRedacts(t *testing.T) {
	sink := &memorySink{}
	router := log.NewRouter(sink)
	router.SetRedactor(security.NewRedactor("hunter2"))

	logger := log.New(router).With().Int("step_index", 3).Str("action", "input_text").Logger()
	logger.Warn().
		Err(errors.New("typing hunter2 failed")).
		Interface("payload", map[string]any{"text": "hunter2", "list": []string{"a", "hunter2"}}).
		Msg("filled hunter2")

	require.Len(t, sink.events, 1)
	evt := sink.events[0]
	assert.Equal(t, types.WarnLevel, evt.Level)
	assert.Equal(t, "filled ********", evt.Message)
	assert.Equal(t, "typing ******** failed", evt.Fields["error"])
	assert.Equal(t, float64(3), evt.Fields["step_index"])
	payload := evt.Fields["payload"].(map[string]any)
	assert.Equal(t, "********", payload["text"])
	assert.Equal(t, []any{"a", "********"}, payload["list"])
	assert.False(t, evt.Timestamp.IsZero())
}

func TestRouter_IgnoresGarbage(t *testing.T) {
	sink := &memorySink{}
	router := log.NewRouter(sink)

	n, err := router.Write([]byte("not json"))
	require.NoError(t, err)
	assert.Equal(t, len("not json"), n)
	assert.Empty(t, sink.events)
}
