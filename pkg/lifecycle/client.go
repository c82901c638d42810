// Package lifecycle reports task progress and artifacts to the task server.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/arnavsurve/stepwright/pkg/memory"
	"github.com/arnavsurve/stepwright/pkg/types"
)

// DefaultServerURL is used when STEPWRIGHT_SERVER_URL is unset.
const DefaultServerURL = "https://api.stepwright.dev"

const (
	startTaskEndpoint        = "api/v1/start_task"
	completeTaskEndpoint     = "api/v1/complete_task"
	saveOutputDataEndpoint   = "api/v1/save_output_data"
	saveDownloadsEndpoint    = "api/v1/save_downloads"
	saveTrajectoryEndpoint   = "api/v1/save_trajectory"
	initiateCallbackEndpoint = "api/v1/initiate_callback"

	jsonTimeout   = 30 * time.Second
	uploadTimeout = 5 * time.Minute
)

// CallbackURL is where the server notifies the task owner. api_key and
// username/password are mutually exclusive.
type CallbackURL struct {
	URL      string `yaml:"url" json:"url"`
	APIKey   string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

func (c *CallbackURL) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("callback_url.url is required")
	}
	if c.APIKey != "" && (c.Username != "" || c.Password != "") {
		return fmt.Errorf("callback_url: api_key and username/password cannot be used together")
	}
	return nil
}

// Completion is the terminal report of a task.
type Completion struct {
	Status     string
	Error      string
	TokenUsage memory.TokenUsage
}

// Reporter is the task-lifecycle API.
type Reporter interface {
	StartTask(ctx context.Context, taskID string) error
	CompleteTask(ctx context.Context, taskID string, c Completion) error
	SaveOutputData(ctx context.Context, taskID string, data []map[string]any, finalScreenshot []byte) error
	SaveDownloads(ctx context.Context, taskID, downloadsDir string) error
	SaveTrajectory(ctx context.Context, taskID, taskDir string) error
	InitiateCallback(ctx context.Context, taskID string, callback *CallbackURL) error
}

// Client implements Reporter over HTTP.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Logger  types.Logger
	Now     func() time.Time
}

var _ Reporter = (*Client)(nil)

func NewClient(baseURL, apiKey string, logger types.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{},
		Logger:  logger,
		Now:     time.Now,
	}
}

// StatusError is a non-2xx answer from the task server.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.Status, e.Body)
}

func (c *Client) now() string {
	return c.Now().UTC().Format(time.RFC3339Nano)
}

func (c *Client) StartTask(ctx context.Context, taskID string) error {
	return c.postJSON(ctx, startTaskEndpoint, map[string]any{
		"task_id":    taskID,
		"started_at": c.now(),
	})
}

func (c *Client) CompleteTask(ctx context.Context, taskID string, comp Completion) error {
	body := map[string]any{
		"task_id":      taskID,
		"completed_at": c.now(),
		"status":       comp.Status,
		"token_usage":  comp.TokenUsage,
	}
	if comp.Error != "" {
		body["error"] = comp.Error
	} else {
		body["error"] = nil
	}
	return c.postJSON(ctx, completeTaskEndpoint, body)
}

// SaveOutputData skips the call when there is nothing to save. Empty output
// entries are dropped.
func (c *Client) SaveOutputData(ctx context.Context, taskID string, data []map[string]any, finalScreenshot []byte) error {
	var kept []map[string]any
	for _, d := range data {
		if len(d) > 0 {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 && len(finalScreenshot) == 0 {
		return nil
	}
	if kept == nil {
		kept = []map[string]any{}
	}
	body := map[string]any{
		"task_id":     taskID,
		"output_data": kept,
	}
	if len(finalScreenshot) > 0 {
		// encoding/json renders []byte as base64.
		body["final_screenshot"] = finalScreenshot
	}
	return c.postJSON(ctx, saveOutputDataEndpoint, body)
}

func (c *Client) SaveDownloads(ctx context.Context, taskID, downloadsDir string) error {
	archive, err := TarGz(downloadsDir, taskID)
	if err != nil {
		return fmt.Errorf("archiving downloads: %w", err)
	}
	return c.postArchive(ctx, saveDownloadsEndpoint, taskID, "compressed_downloads", archive)
}

func (c *Client) SaveTrajectory(ctx context.Context, taskID, taskDir string) error {
	archive, err := TarGz(taskDir, taskID)
	if err != nil {
		return fmt.Errorf("archiving trajectory: %w", err)
	}
	return c.postArchive(ctx, saveTrajectoryEndpoint, taskID, "compressed_trajectory", archive)
}

// InitiateCallback is a no-op without a callback.
func (c *Client) InitiateCallback(ctx context.Context, taskID string, callback *CallbackURL) error {
	if callback == nil {
		return nil
	}
	c.Logger.Info().Str("task_id", taskID).Msg("Initiating callback")
	return c.postJSON(ctx, initiateCallbackEndpoint, map[string]any{
		"task_id":      taskID,
		"callback_url": callback,
	})
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", endpoint, err)
	}
	ctx, cancel := context.WithTimeout(ctx, jsonTimeout)
	defer cancel()
	return c.send(ctx, endpoint, "application/json", bytes.NewReader(data))
}

func (c *Client) postArchive(ctx context.Context, endpoint, taskID, field string, archive []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("task_id", taskID); err != nil {
		return err
	}
	part, err := w.CreateFormFile(field, taskID+".tar.gz")
	if err != nil {
		return err
	}
	if _, err := part.Write(archive); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	return c.send(ctx, endpoint, w.FormDataContentType(), &buf)
}

func (c *Client) send(ctx context.Context, endpoint, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+endpoint, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("User-Agent", "Stepwright-Lifecycle-Client/1.0")

	c.Logger.Debug().Str("endpoint", endpoint).Msg("Calling task server")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		preview := string(data)
		if len(preview) > 256 {
			preview = preview[:256] + "..."
		}
		return &StatusError{Endpoint: endpoint, Status: resp.StatusCode, Body: preview}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Discard is a Reporter for runs without a task server.
type Discard struct{}

var _ Reporter = Discard{}

func (Discard) StartTask(context.Context, string) error                      { return nil }
func (Discard) CompleteTask(context.Context, string, Completion) error       { return nil }
func (Discard) SaveDownloads(context.Context, string, string) error          { return nil }
func (Discard) SaveTrajectory(context.Context, string, string) error         { return nil }
func (Discard) InitiateCallback(context.Context, string, *CallbackURL) error { return nil }
func (Discard) SaveOutputData(context.Context, string, []map[string]any, []byte) error {
	return nil
}
