package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/memory"
)

var errNotVisible = errors.New("locator not visible")

// target describes how a locating interaction acts once its element is found,
// either through the command locator or through an index prediction.
type target struct {
	kind    string
	base    *automation.BaseAction
	onFound func(ctx context.Context, loc browser.Locator) error
	// byIndex is nil for interactions without an index fallback.
	byIndex func(ctx context.Context, index int, timeout time.Duration) error
}

// runLocating drives the targeting state machine: the command locator with a
// bounded number of tries, then the index predictor, then either a
// LocatorPresenceError or a recorded soft failure.
func (e *Executor) runLocating(ctx context.Context, ia *automation.InteractionAction, t target) error {
	lastErr := e.tryCommand(ctx, ia, t)
	if lastErr == nil {
		return nil
	}

	if t.byIndex != nil && !t.base.SkipPrompt && t.base.PromptInstructions != "" {
		err := e.tryIndex(ctx, t, seconds(ia.MaxTimeoutSecondsPerTry))
		if err == nil {
			return nil
		}
		e.Logger.Warn().Err(err).Str("action", t.kind).Msg("Index based targeting failed")
		lastErr = err
	}

	if t.base.AssertLocatorPresence {
		return &LocatorPresenceError{Action: t.kind, Command: t.base.Command, Cause: lastErr}
	}
	e.Logger.Warn().Err(lastErr).Str("action", t.kind).Str("command", t.base.Command).Msg("Element not found, continuing")
	e.Memory.AddSoftFailure(memory.SoftFailure{
		StepIndex: e.Memory.State.StepIndex,
		Action:    t.kind,
		Command:   t.base.Command,
		Reason:    lastErr.Error(),
	})
	return nil
}

// tryCommand returns nil once the operation succeeded, or the last error seen.
func (e *Executor) tryCommand(ctx context.Context, ia *automation.InteractionAction, t target) error {
	if t.base.Command == "" || t.base.SkipCommand {
		return errors.New("command targeting skipped")
	}
	perTry := seconds(ia.MaxTimeoutSecondsPerTry)

	var lastErr error
	for try := 0; try < ia.MaxTries; try++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.Metrics.RecordTry(t.kind, "locator")

		loc, err := e.Driver.Locate(t.base.Command, perTry)
		if err != nil {
			lastErr = fmt.Errorf("parsing command %q: %w", t.base.Command, err)
			// A command that does not parse will not parse on the next try either.
			return lastErr
		}
		if try == 0 {
			_ = loc.WaitVisible(perTry)
		}
		visible, err := loc.IsVisible()
		switch {
		case err != nil:
			lastErr = err
		case !visible:
			lastErr = errNotVisible
		default:
			e.refreshSnapshot(ctx)
			if lastErr = t.onFound(ctx, loc); lastErr == nil {
				e.Logger.Debug().Str("action", t.kind).Int("try", try+1).Msg("Command locator succeeded")
				return nil
			}
		}
		if err := e.sleep(ctx, perTry); err != nil {
			return err
		}
	}
	e.Logger.Debug().Err(lastErr).Str("action", t.kind).Int("tries", ia.MaxTries).Msg("Command locator exhausted")
	if lastErr == nil {
		lastErr = errors.New("error executing command")
	}
	return lastErr
}

func (e *Executor) tryIndex(ctx context.Context, t target, timeout time.Duration) error {
	e.Memory.State.TryIndex++
	e.Metrics.RecordTry(t.kind, "index")
	index, err := e.predictIndex(ctx, t.base.PromptInstructions)
	if err != nil {
		return err
	}
	return t.byIndex(ctx, index, timeout)
}

func (e *Executor) predictIndex(ctx context.Context, instructions string) (int, error) {
	if e.Predictor == nil {
		return 0, errors.New("no index predictor configured")
	}
	bs := e.refreshSnapshot(ctx)
	pred, err := e.Predictor.Predict(ctx, instructions, bs.Axtree)
	if err != nil {
		return 0, fmt.Errorf("predicting element index: %w", err)
	}
	bs.FinalPrompt = pred.FinalPrompt
	bs.LLMResponse = pred.Response
	e.Memory.TokenUsage.Add(pred.Usage)
	return pred.Index, nil
}
