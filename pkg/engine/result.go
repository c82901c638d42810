package engine

import (
	"context"
	"errors"

	"github.com/arnavsurve/stepwright/pkg/action"
	"github.com/arnavsurve/stepwright/pkg/automation"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// RunResult is the terminal outcome of an automation run.
type RunResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	// DetailedReason is set when the run ended on a fatal classification.
	DetailedReason string `json:"detailed_reason,omitempty"`
}

// ExecuteAutomation runs every node of a, then records and persists a final
// snapshot of the page so the trajectory ends on the state the run left.
func (in *Interpreter) ExecuteAutomation(ctx context.Context, a *automation.Automation) *RunResult {
	in.Memory.State.StepIndex = -1
	in.Memory.State.TryIndex = 0

	err := in.Run(ctx, a.Nodes)

	in.Memory.State.StepIndex++
	in.snapshot(context.WithoutCancel(ctx), in.Logger)
	if perr := in.Memory.PersistStep(nil); perr != nil {
		in.Logger.Warn().Err(perr).Msg("Persisting final state")
	}

	if err == nil {
		in.Logger.Info().Int("steps", in.Memory.State.StepIndex).Msg("Automation finished")
		return &RunResult{Status: StatusSuccess}
	}
	res := &RunResult{Status: StatusFailed, Error: err.Error()}
	var fatal *action.FatalError
	if errors.As(err, &fatal) {
		res.DetailedReason = fatal.Reason
	}
	in.Logger.Error().Err(err).Msg("Automation failed")
	return res
}
