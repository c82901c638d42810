// Package engine interprets automation graphs: it walks the nodes in order,
// unrolls loops, evaluates conditions and hands leaf steps to the action
// executor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arnavsurve/stepwright/pkg/action"
	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/memory"
	"github.com/arnavsurve/stepwright/pkg/metrics"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/arnavsurve/stepwright/pkg/vars"
)

// Interpreter runs automation nodes for one task.
type Interpreter struct {
	Driver   browser.Driver
	Memory   *memory.Memory
	Executor *action.Executor
	Resolver *vars.Resolver
	Logger   types.Logger
	Metrics  *metrics.Collector

	// Sleep defaults to action.SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (in *Interpreter) sleep(ctx context.Context, d time.Duration) error {
	if in.Sleep != nil {
		return in.Sleep(ctx, d)
	}
	return action.SleepContext(ctx, d)
}

// Run executes nodes in order and stops at the first error.
func (in *Interpreter) Run(ctx context.Context, nodes []automation.Node) error {
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := in.runNode(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) runNode(ctx context.Context, n automation.Node) error {
	switch {
	case n.Action != nil:
		return in.runAction(ctx, n.Action)
	case n.ForLoop != nil:
		return in.runLoop(ctx, n.ForLoop)
	case n.IfElse != nil:
		return in.runIfElse(ctx, n.IfElse)
	default:
		return errors.New("node has no kind")
	}
}

func (in *Interpreter) runAction(ctx context.Context, n *automation.ActionNode) error {
	if err := in.sleep(ctx, seconds(n.BeforeSleepTime)); err != nil {
		return err
	}
	if _, err := in.Driver.WaitForNewTab(ctx, 0); err != nil {
		in.Logger.Warn().Err(err).Msg("Checking for new tab")
	}

	m := in.Memory
	m.State.StepIndex++
	m.State.TryIndex = 0
	kind := n.PayloadKind()
	logger := in.Logger.With().Int("step_index", m.State.StepIndex).Str("action", kind).Logger()

	node, err := automation.CloneAction(n)
	if err != nil {
		return err
	}

	start := time.Now()
	err = in.Resolver.Substitute(ctx, node, m.Table())
	if err == nil {
		in.snapshot(ctx, logger)
		logger.Info().Msg("Executing step")
		err = in.Executor.Execute(ctx, node)
	}

	status := memory.StatusSuccess
	if err != nil {
		status = memory.StatusError
	}
	in.Metrics.RecordAction(kind, status, time.Since(start))

	if perr := m.PersistStep(node); perr != nil {
		logger.Warn().Err(perr).Msg("Persisting step")
	}
	if err != nil {
		logger.Error().Err(err).Msg("Step failed")
		return err
	}

	if n.ExpectNewTab {
		switched, err := in.Driver.WaitForNewTab(ctx, seconds(n.MaxNewTabWaitTime))
		if err != nil {
			return fmt.Errorf("waiting for new tab: %w", err)
		}
		if !switched {
			logger.Warn().Msg("Expected a new tab but none opened")
		}
		return nil
	}
	if err := in.Driver.WaitForLoad(ctx, seconds(n.EndSleepTime)); err != nil {
		logger.Debug().Err(err).Msg("Page did not reach load state")
	}
	return nil
}

// snapshot records the page as the step starts.
func (in *Interpreter) snapshot(ctx context.Context, logger types.Logger) {
	state, err := in.Driver.Snapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Taking browser snapshot")
		in.Memory.AppendBrowserState(&memory.BrowserState{})
		return
	}
	in.Memory.AppendBrowserState(&memory.BrowserState{
		URL:        state.URL,
		Title:      state.Title,
		Screenshot: state.Screenshot,
		Axtree:     state.Axtree,
	})
}

func (in *Interpreter) runLoop(ctx context.Context, l *automation.ForLoopNode) error {
	values, ok := in.Memory.Lookup(l.VariableName)
	if !ok {
		return vars.NewConfigError("loop variable %q is not defined", l.VariableName)
	}
	logger := in.Logger.With().Str("loop", l.VariableName).Logger()
	logger.Info().Int("iterations", len(values)).Msg("Starting loop")

	for i, value := range values {
		body, err := bindIteration(l.Nodes, l.VariableName, i)
		if err != nil {
			return err
		}

		err = in.Run(ctx, body)
		if err != nil {
			in.Memory.RecordLoopStatus(l.VariableName, memory.LoopStatus{
				Index:  i,
				Value:  value,
				Status: memory.StatusError,
				Error:  err.Error(),
			})
			logger.Warn().Err(err).Int("index", i).Str("on_error", l.OnErrorInLoop).Msg("Loop iteration failed")

			if mustPropagate(ctx, err) {
				return err
			}
			switch l.OnErrorInLoop {
			case automation.OnErrorContinue:
			case automation.OnErrorBreak:
				for j := i + 1; j < len(values); j++ {
					in.Memory.RecordLoopStatus(l.VariableName, memory.LoopStatus{
						Index:  j,
						Value:  values[j],
						Status: memory.StatusSkipped,
					})
				}
				return nil
			default:
				return fmt.Errorf("loop %q iteration %d: %w", l.VariableName, i, err)
			}
		} else {
			in.Memory.RecordLoopStatus(l.VariableName, memory.LoopStatus{
				Index:  i,
				Value:  value,
				Status: memory.StatusSuccess,
			})
		}

		if i < len(values)-1 && len(l.ResetNodes) > 0 {
			reset, err := bindIteration(l.ResetNodes, l.VariableName, i)
			if err != nil {
				return err
			}
			if err := in.Run(ctx, reset); err != nil {
				return fmt.Errorf("loop %q reset after iteration %d: %w", l.VariableName, i, err)
			}
		}
	}
	return nil
}

// bindIteration clones nodes and pins the loop index into every string.
func bindIteration(nodes []automation.Node, name string, i int) ([]automation.Node, error) {
	out, err := automation.CloneNodes(nodes)
	if err != nil {
		return nil, err
	}
	automation.RewriteNodeStrings(out, func(s string) string {
		return vars.BindLoopIndex(s, name, i)
	})
	return out, nil
}

// mustPropagate reports errors no loop policy may swallow.
func mustPropagate(ctx context.Context, err error) bool {
	var fatal *action.FatalError
	return errors.As(err, &fatal) || ctx.Err() != nil
}

func (in *Interpreter) runIfElse(ctx context.Context, c *automation.IfElseNode) error {
	condition, err := in.Resolver.SubstituteString(ctx, c.Condition, in.Memory.Table())
	if err != nil {
		return err
	}
	ok, err := EvaluateCondition(condition, ConditionEnv(in.Memory, in.Driver.CurrentURL()))
	if err != nil {
		return err
	}
	in.Logger.Info().Str("condition", condition).Bool("result", ok).Msg("Evaluated condition")
	if ok {
		return in.Run(ctx, c.IfNodes)
	}
	return in.Run(ctx, c.ElseNodes)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
