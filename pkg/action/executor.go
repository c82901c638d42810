// Package action executes single action nodes: element targeting with
// retries and fallbacks, recovery from missing elements, and the extraction,
// assertion, script and 2FA payloads.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/inference"
	"github.com/arnavsurve/stepwright/pkg/memory"
	"github.com/arnavsurve/stepwright/pkg/metrics"
	"github.com/arnavsurve/stepwright/pkg/types"
)

// DefaultRecoveryBudget is how many times a missing element may be classified
// and recovered from before the original error surfaces.
const DefaultRecoveryBudget = 2

// Executor runs action nodes against one browser and one run memory.
type Executor struct {
	Driver  browser.Driver
	Memory  *memory.Memory
	Logger  types.Logger
	Metrics *metrics.Collector

	Predictor  inference.IndexPredictor
	Classifier inference.ErrorClassifier
	Matcher    inference.OptionMatcher
	SubTask    inference.OverlayDismisser
	Extractor  inference.Extractor
	Asserter   inference.Asserter
	TwoFA      inference.TwoFactorSource
	Python     *PythonRunner

	RecoveryBudget int

	// Sleep and Now default to real time; tests replace them.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Execute dispatches on the node's payload. node must already have its
// placeholders substituted.
func (e *Executor) Execute(ctx context.Context, node *automation.ActionNode) error {
	switch {
	case node.Interaction != nil:
		if e.Memory.Ledger != nil {
			e.Memory.Ledger.ClearCaptures()
		}
		budget := e.RecoveryBudget
		if budget == 0 {
			budget = DefaultRecoveryBudget
		}
		return e.ExecuteWithRecovery(ctx, node.Interaction, budget)
	case node.Assertion != nil:
		return e.runAssertion(ctx, node.Assertion)
	case node.Extraction != nil:
		return e.runExtraction(ctx, node.Extraction)
	case node.PythonScript != nil:
		return e.runPythonScript(ctx, node.PythonScript)
	case node.Fetch2FA != nil:
		return e.runFetch2FA(ctx, node.Fetch2FA)
	default:
		return fmt.Errorf("action node has no payload")
	}
}

func (e *Executor) executeInteraction(ctx context.Context, ia *automation.InteractionAction) error {
	kind, h, err := handlerFor(ia)
	if err != nil {
		return err
	}
	e.Logger.Debug().Str("action", kind).Msg("Running interaction")
	if err := h(ctx, e, ia); err != nil {
		return err
	}
	if ia.StartTwoFATimer {
		now := e.now()
		e.Memory.State.TwoFATimerStart = &now
	}
	return nil
}

// refreshSnapshot replaces the current browser state with a fresh snapshot.
func (e *Executor) refreshSnapshot(ctx context.Context) *memory.BrowserState {
	bs := e.Memory.CurrentBrowserState()
	state, err := e.Driver.Snapshot(ctx)
	if err != nil {
		e.Logger.Warn().Err(err).Msg("Refreshing browser snapshot")
		return bs
	}
	*bs = memory.BrowserState{
		URL:        state.URL,
		Title:      state.Title,
		Screenshot: state.Screenshot,
		Axtree:     state.Axtree,
	}
	return bs
}
