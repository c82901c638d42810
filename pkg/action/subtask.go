package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/inference"
	"github.com/arnavsurve/stepwright/pkg/memory"
	"github.com/arnavsurve/stepwright/pkg/types"
)

// subTaskMoveTimeout bounds each index move of a sub-task.
const subTaskMoveTimeout = 10 * time.Second

// SubTask runs a short goal-directed loop: snapshot the page, ask the
// navigator for the next move, apply it. It stops when the navigator reports
// the goal done or the step budget runs out.
type SubTask struct {
	Driver    browser.Driver
	Navigator inference.Navigator
	Memory    *memory.Memory
	Logger    types.Logger
}

var _ inference.OverlayDismisser = (*SubTask)(nil)

// Dismiss implements inference.OverlayDismisser. Running out of steps is not
// an error; the caller re-checks the page afterwards.
func (s *SubTask) Dismiss(ctx context.Context, goal string, maxSteps int) error {
	if s.Navigator == nil {
		return errors.New("no navigator configured")
	}
	var history []string
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, err := s.Driver.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("snapshot for sub-task: %w", err)
		}
		d, err := s.Navigator.NextStep(ctx, goal, state, history)
		if err != nil {
			return fmt.Errorf("sub-task step %d: %w", step+1, err)
		}
		if s.Memory != nil {
			s.Memory.TokenUsage.Add(d.Usage)
		}
		if d.Done {
			s.Logger.Info().Int("steps", step).Str("reason", d.Reason).Msg("Sub-task finished")
			return nil
		}
		if err := s.apply(ctx, d); err != nil {
			s.Logger.Warn().Err(err).Str("move", d.Action).Msg("Sub-task move failed")
			history = append(history, fmt.Sprintf("%s failed: %v", describe(d), err))
			continue
		}
		history = append(history, describe(d))
	}
	s.Logger.Warn().Int("max_steps", maxSteps).Msg("Sub-task step budget exhausted")
	return nil
}

func (s *SubTask) apply(ctx context.Context, d *inference.StepDecision) error {
	switch d.Action {
	case "click":
		return s.Driver.ClickIndex(ctx, d.Index, subTaskMoveTimeout)
	case "input":
		return s.Driver.InputIndex(ctx, d.Index, d.Text, subTaskMoveTimeout)
	case "key_press":
		return s.Driver.KeyPress(ctx, d.Key)
	case "scroll_down":
		return s.Driver.Scroll(ctx, true)
	case "scroll_up":
		return s.Driver.Scroll(ctx, false)
	case "go_back":
		return s.Driver.GoBack(ctx)
	default:
		return fmt.Errorf("unknown move %q", d.Action)
	}
}

func describe(d *inference.StepDecision) string {
	switch d.Action {
	case "click":
		return fmt.Sprintf("click [%d]", d.Index)
	case "input":
		return fmt.Sprintf("input [%d] %q", d.Index, d.Text)
	case "key_press":
		return "key_press " + d.Key
	default:
		return d.Action
	}
}
