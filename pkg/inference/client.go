package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/metrics"
)

const defaultTimeout = 120 * time.Second

// Client implements every collaborator against an inference server that
// accepts POST {base}/v1/{op} with a JSON body.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Metrics *metrics.Collector
}

func NewClient(baseURL, apiKey string, m *metrics.Collector) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: defaultTimeout},
		Metrics: m,
	}
}

// StatusError is a non-2xx answer from the inference server.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference %s returned %d: %s", e.Op, e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, op string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.Metrics.RecordInference(op, status, time.Since(start))
	}()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/"+op, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("User-Agent", "Stepwright-Inference-Client/1.0")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("calling inference %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := string(data)
		if len(preview) > 256 {
			preview = preview[:256] + "..."
		}
		return &StatusError{Op: op, Status: resp.StatusCode, Body: preview}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

func (c *Client) Predict(ctx context.Context, instructions, axtree string) (*IndexPrediction, error) {
	var out IndexPrediction
	err := c.do(ctx, "predict_index", map[string]string{
		"prompt_instructions": instructions,
		"axtree":              axtree,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Classify(ctx context.Context, command string, screenshot []byte) (*Classification, error) {
	var out Classification
	err := c.do(ctx, "classify_error", map[string]any{
		"command":    command,
		"screenshot": screenshot,
	}, &out)
	if err != nil {
		return nil, err
	}
	switch out.Kind {
	case ErrorWebsiteNotLoaded, ErrorOverlayPopup, ErrorFatal:
	default:
		return nil, fmt.Errorf("inference classify_error: unknown error type %q", out.Kind)
	}
	return &out, nil
}

func (c *Client) Match(ctx context.Context, options []browser.Option, patterns []string) ([]string, error) {
	var out struct {
		MatchedValues []string `json:"matched_values"`
	}
	err := c.do(ctx, "match_options", map[string]any{
		"options":  options,
		"patterns": patterns,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.MatchedValues, nil
}

func (c *Client) NextStep(ctx context.Context, goal string, state *browser.State, history []string) (*StepDecision, error) {
	var out StepDecision
	err := c.do(ctx, "next_step", map[string]any{
		"goal":       goal,
		"url":        state.URL,
		"title":      state.Title,
		"axtree":     state.Axtree,
		"screenshot": state.Screenshot,
		"history":    history,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	var out ExtractResult
	if err := c.do(ctx, "extract", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Assert(ctx context.Context, req AssertRequest) (*AssertResult, error) {
	var out AssertResult
	if err := c.do(ctx, "assert", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FetchMessages(ctx context.Context, action *automation.Fetch2FAAction, since time.Time) ([]string, error) {
	var out struct {
		Messages []string `json:"messages"`
	}
	err := c.do(ctx, "fetch_2fa_messages", map[string]any{
		"email": action.Email,
		"slack": action.Slack,
		"since": since.UTC().Format(time.RFC3339),
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

var (
	_ IndexPredictor  = (*Client)(nil)
	_ ErrorClassifier = (*Client)(nil)
	_ OptionMatcher   = (*Client)(nil)
	_ Navigator       = (*Client)(nil)
	_ Extractor       = (*Client)(nil)
	_ Asserter        = (*Client)(nil)
	_ TwoFactorSource = (*Client)(nil)
)
