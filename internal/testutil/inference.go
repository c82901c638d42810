package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/inference"
)

// FakePredictor answers every prediction with Index.
type FakePredictor struct {
	Index int
	Err   error
	Calls int
}

func (p *FakePredictor) Predict(_ context.Context, instructions, _ string) (*inference.IndexPrediction, error) {
	p.Calls++
	if p.Err != nil {
		return nil, p.Err
	}
	return &inference.IndexPrediction{
		Index:       p.Index,
		FinalPrompt: "find: " + instructions,
		Response:    map[string]any{"index": p.Index},
	}, nil
}

// FakeClassifier returns Kinds in order, repeating the last one.
type FakeClassifier struct {
	Kinds  []string
	Reason string
	Err    error
	Calls  int
}

func (c *FakeClassifier) Classify(context.Context, string, []byte) (*inference.Classification, error) {
	c.Calls++
	if c.Err != nil {
		return nil, c.Err
	}
	if len(c.Kinds) == 0 {
		return nil, fmt.Errorf("no classification scripted")
	}
	i := min(c.Calls, len(c.Kinds)) - 1
	return &inference.Classification{Kind: c.Kinds[i], Reason: c.Reason}, nil
}

// FakeMatcher returns Values for any patterns.
type FakeMatcher struct {
	Values []string
	Calls  int
}

func (m *FakeMatcher) Match(context.Context, []browser.Option, []string) ([]string, error) {
	m.Calls++
	return m.Values, nil
}

// FakeDismisser records the goals it was asked to reach.
type FakeDismisser struct {
	mu    sync.Mutex
	Goals []string

	// OnDismiss runs on every call, e.g. to reveal a hidden element.
	OnDismiss func()
}

func (d *FakeDismisser) Dismiss(_ context.Context, goal string, _ int) error {
	d.mu.Lock()
	d.Goals = append(d.Goals, goal)
	d.mu.Unlock()
	if d.OnDismiss != nil {
		d.OnDismiss()
	}
	return nil
}

// FakeNavigator plays back Steps, then reports done.
type FakeNavigator struct {
	Steps     []inference.StepDecision
	Calls     int
	Histories [][]string
}

func (n *FakeNavigator) NextStep(_ context.Context, _ string, _ *browser.State, history []string) (*inference.StepDecision, error) {
	n.Histories = append(n.Histories, append([]string(nil), history...))
	defer func() { n.Calls++ }()
	if n.Calls >= len(n.Steps) {
		return &inference.StepDecision{Done: true, Reason: "nothing left"}, nil
	}
	d := n.Steps[n.Calls]
	return &d, nil
}

// FakeExtractor returns Data and remembers the last request.
type FakeExtractor struct {
	Data map[string]any
	Err  error
	Last inference.ExtractRequest
}

func (x *FakeExtractor) Extract(_ context.Context, req inference.ExtractRequest) (*inference.ExtractResult, error) {
	x.Last = req
	if x.Err != nil {
		return nil, x.Err
	}
	return &inference.ExtractResult{Data: x.Data}, nil
}

// FakeAsserter returns a fixed verdict.
type FakeAsserter struct {
	Result bool
	Reason string
}

func (a *FakeAsserter) Assert(context.Context, inference.AssertRequest) (*inference.AssertResult, error) {
	return &inference.AssertResult{Result: a.Result, Reason: a.Reason}, nil
}

// FakeTwoFA returns Batches in order, one per poll, then nothing.
type FakeTwoFA struct {
	Batches [][]string
	Calls   int
	Since   []time.Time
}

func (f *FakeTwoFA) FetchMessages(_ context.Context, _ *automation.Fetch2FAAction, since time.Time) ([]string, error) {
	f.Since = append(f.Since, since)
	defer func() { f.Calls++ }()
	if f.Calls >= len(f.Batches) {
		return nil, nil
	}
	return f.Batches[f.Calls], nil
}

// Sleeper records requested sleeps without waiting.
type Sleeper struct {
	mu    sync.Mutex
	Slept []time.Duration
}

func (s *Sleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Slept = append(s.Slept, d)
	return nil
}

// Durations returns a copy of the recorded sleeps.
func (s *Sleeper) Durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.Slept...)
}
