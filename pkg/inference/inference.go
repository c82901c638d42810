// Package inference defines the model-backed collaborators the engine calls
// when deterministic execution is not enough.
package inference

import (
	"context"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/memory"
)

// Error classifications returned by ErrorClassifier.
const (
	ErrorWebsiteNotLoaded = "website_not_loaded"
	ErrorOverlayPopup     = "overlay_popup_blocking"
	ErrorFatal            = "fatal_error"
)

type IndexPrediction struct {
	Index       int               `json:"index"`
	FinalPrompt string            `json:"final_prompt"`
	Response    map[string]any    `json:"response"`
	Usage       memory.TokenUsage `json:"token_usage"`
}

// IndexPredictor picks the accessibility tree element matching instructions.
type IndexPredictor interface {
	Predict(ctx context.Context, instructions, axtree string) (*IndexPrediction, error)
}

type Classification struct {
	Kind   string            `json:"error_type"`
	Reason string            `json:"detailed_reason"`
	Usage  memory.TokenUsage `json:"token_usage"`
}

// ErrorClassifier explains why a command found nothing on the page.
type ErrorClassifier interface {
	Classify(ctx context.Context, command string, screenshot []byte) (*Classification, error)
}

// OptionMatcher maps free-form patterns onto select option values.
type OptionMatcher interface {
	Match(ctx context.Context, options []browser.Option, patterns []string) ([]string, error)
}

// OverlayDismisser runs a short goal-directed sub-task, typically closing a
// popup that hides the target element.
type OverlayDismisser interface {
	Dismiss(ctx context.Context, goal string, maxSteps int) error
}

// StepDecision is one move of a goal-directed sub-task.
type StepDecision struct {
	Done   bool              `json:"done"`
	Action string            `json:"action"`
	Index  int               `json:"index,omitempty"`
	Text   string            `json:"text,omitempty"`
	Key    string            `json:"key,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Usage  memory.TokenUsage `json:"token_usage"`
}

// Navigator decides the next move of a sub-task from the current page.
type Navigator interface {
	NextStep(ctx context.Context, goal string, state *browser.State, history []string) (*StepDecision, error)
}

type ExtractRequest struct {
	Format       map[string]string `json:"extraction_format"`
	Instructions string            `json:"extraction_instructions"`
	Axtree       string            `json:"axtree,omitempty"`
	Screenshot   []byte            `json:"screenshot,omitempty"`
}

type ExtractResult struct {
	Data  map[string]any    `json:"data"`
	Usage memory.TokenUsage `json:"token_usage"`
}

// Extractor pulls structured data out of a page.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error)
}

type AssertRequest struct {
	Instructions string `json:"assertion_instructions"`
	Axtree       string `json:"axtree,omitempty"`
	Screenshot   []byte `json:"screenshot,omitempty"`
}

type AssertResult struct {
	Result bool              `json:"assertion_result"`
	Reason string            `json:"assertion_reason"`
	Usage  memory.TokenUsage `json:"token_usage"`
}

// Asserter judges whether a page satisfies a natural language condition.
type Asserter interface {
	Assert(ctx context.Context, req AssertRequest) (*AssertResult, error)
}

// TwoFactorSource lists messages that may carry a one-time code.
type TwoFactorSource interface {
	FetchMessages(ctx context.Context, action *automation.Fetch2FAAction, since time.Time) ([]string, error)
}
