package inference_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	path   string
	apiKey string
	body   map[string]any
}

func newServer(t *testing.T, responses map[string]string, status int) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, recorded{path: r.URL.Path, apiKey: r.Header.Get("x-api-key"), body: body})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(responses[r.URL.Path]))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClient_Operations(t *testing.T) {
	srv, calls := newServer(t, map[string]string{
		"/v1/predict_index":      `{"index": 7, "final_prompt": "p", "response": {"index": 7}, "token_usage": {"total_tokens": 12}}`,
		"/v1/classify_error":     `{"error_type": "fatal_error", "detailed_reason": "Account locked"}`,
		"/v1/match_options":      `{"matched_values": ["NVDA"]}`,
		"/v1/next_step":          `{"done": false, "action": "click", "index": 3}`,
		"/v1/extract":            `{"data": {"price": "190.1"}}`,
		"/v1/assert":             `{"assertion_result": false, "assertion_reason": "no banner"}`,
		"/v1/fetch_2fa_messages": `{"messages": ["Your code is 123456"]}`,
	}, http.StatusOK)
	c := inference.NewClient(srv.URL+"/", "key-1", nil)
	ctx := context.Background()

	pred, err := c.Predict(ctx, "click go", "[7]<button>Go</button>")
	require.NoError(t, err)
	assert.Equal(t, 7, pred.Index)
	assert.Equal(t, 12, pred.Usage.TotalTokens)

	cls, err := c.Classify(ctx, `locator("#x")`, []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, inference.ErrorFatal, cls.Kind)
	assert.Equal(t, "Account locked", cls.Reason)

	matched, err := c.Match(ctx, []browser.Option{{Value: "NVDA", Label: "NVIDIA"}}, []string{"nvidia"})
	require.NoError(t, err)
	assert.Equal(t, []string{"NVDA"}, matched)

	step, err := c.NextStep(ctx, "close popup", &browser.State{URL: "https://example.test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "click", step.Action)
	assert.Equal(t, 3, step.Index)

	ex, err := c.Extract(ctx, inference.ExtractRequest{Format: map[string]string{"price": "str"}, Instructions: "read price"})
	require.NoError(t, err)
	assert.Equal(t, "190.1", ex.Data["price"])

	as, err := c.Assert(ctx, inference.AssertRequest{Instructions: "banner visible"})
	require.NoError(t, err)
	assert.False(t, as.Result)
	assert.Equal(t, "no banner", as.Reason)

	msgs, err := c.FetchMessages(ctx, &automation.Fetch2FAAction{Email: &automation.EmailTwoFA{ReceiverEmailAddress: "a@b.test"}}, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"Your code is 123456"}, msgs)

	require.Len(t, *calls, 7)
	for _, call := range *calls {
		assert.Equal(t, "key-1", call.apiKey)
	}
	assert.Equal(t, "/v1/predict_index", (*calls)[0].path)
	assert.Equal(t, "click go", (*calls)[0].body["prompt_instructions"])
	assert.Equal(t, "1970-01-01T00:00:00Z", (*calls)[6].body["since"])
}

func TestClient_Errors(t *testing.T) {
	t.Run("status error", func(t *testing.T) {
		srv, _ := newServer(t, map[string]string{"/v1/predict_index": "overloaded"}, http.StatusServiceUnavailable)
		c := inference.NewClient(srv.URL, "k", nil)

		_, err := c.Predict(context.Background(), "x", "y")
		require.Error(t, err)
		var statusErr *inference.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
		assert.Equal(t, "overloaded", statusErr.Body)
	})

	t.Run("unknown classification", func(t *testing.T) {
		srv, _ := newServer(t, map[string]string{"/v1/classify_error": `{"error_type": "shrug"}`}, http.StatusOK)
		c := inference.NewClient(srv.URL, "k", nil)

		_, err := c.Classify(context.Background(), "cmd", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown error type "shrug"`)
	})

	t.Run("bad json", func(t *testing.T) {
		srv, _ := newServer(t, map[string]string{"/v1/extract": `{`}, http.StatusOK)
		c := inference.NewClient(srv.URL, "k", nil)

		_, err := c.Extract(context.Background(), inference.ExtractRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding extract response")
	})
}
