package engine

import (
	"context"
	"time"

	"github.com/arnavsurve/stepwright/pkg/action"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/downloads"
	"github.com/arnavsurve/stepwright/pkg/inference"
	"github.com/arnavsurve/stepwright/pkg/lifecycle"
	"github.com/arnavsurve/stepwright/pkg/memory"
	"github.com/arnavsurve/stepwright/pkg/metrics"
	"github.com/arnavsurve/stepwright/pkg/security"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/arnavsurve/stepwright/pkg/vars"
)

// Collaborators are the model-backed services a run may call. Any of them
// may be nil; the steps that need a missing one fail.
type Collaborators struct {
	Predictor  inference.IndexPredictor
	Classifier inference.ErrorClassifier
	Matcher    inference.OptionMatcher
	Navigator  inference.Navigator
	Extractor  inference.Extractor
	Asserter   inference.Asserter
	TwoFA      inference.TwoFactorSource
}

// TaskRunner drives one task from start_task to cleanup.
type TaskRunner struct {
	Driver        browser.Driver
	Reporter      lifecycle.Reporter
	Collaborators Collaborators
	Vault         vars.Vault
	Redactor      *security.Redactor
	Logger        types.Logger
	Metrics       *metrics.Collector
	// Deployment "dev" keeps the task directory after the run.
	Deployment string

	// Sleep is handed to the interpreter and executor; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome is what a finished task leaves behind.
type Outcome struct {
	Result *RunResult
	Memory *memory.Memory
}

// Run executes the task. Lifecycle calls that fail are logged and the run
// goes on; only the RunResult reflects the automation itself.
func (r *TaskRunner) Run(ctx context.Context, task *Task) *Outcome {
	start := time.Now()
	logger := r.Logger.With().Str("task_id", task.TaskID).Logger()
	reporter := r.Reporter
	if reporter == nil {
		reporter = lifecycle.Discard{}
	}

	if err := reporter.StartTask(ctx, task.TaskID); err != nil {
		logger.Error().Err(err).Msg("Failed to start task in server")
	}

	ledger := downloads.NewLedger(logger, r.Metrics)
	r.Driver.Observe(ledger)
	mem := memory.New(task.TaskID, task.LogsDir(), task.DownloadsDir(), task.Automation, task.InputParameters, task.SecureParameters, ledger)
	interp := r.interpreter(mem, logger)

	var result *RunResult
	if err := task.PrepareDirs(); err != nil {
		result = &RunResult{Status: StatusFailed, Error: err.Error()}
	} else if err := r.Driver.GoTo(ctx, task.Automation.URL, false); err != nil {
		logger.Error().Err(err).Str("url", task.Automation.URL).Msg("Opening start url")
		result = &RunResult{Status: StatusFailed, Error: err.Error()}
	} else {
		result = interp.ExecuteAutomation(ctx, task.Automation)
	}

	// Reporting must still happen when the task deadline has passed.
	finishCtx := context.WithoutCancel(ctx)
	if err := ledger.Reconcile(finishCtx, r.Driver, task.Automation.ExpectedDownloads, task.DownloadsDir()); err != nil {
		logger.Warn().Err(err).Msg("Reconciling downloads")
	}
	r.report(finishCtx, logger, reporter, task, mem, result)

	r.Metrics.RecordTask(result.Status, time.Since(start))
	if err := lifecycle.Cleanup(task.TaskDir(), r.Deployment); err != nil {
		logger.Warn().Err(err).Msg("Deleting local task data")
	}
	return &Outcome{Result: result, Memory: mem}
}

func (r *TaskRunner) interpreter(mem *memory.Memory, logger types.Logger) *Interpreter {
	c := r.Collaborators
	exec := &action.Executor{
		Driver:     r.Driver,
		Memory:     mem,
		Logger:     logger,
		Metrics:    r.Metrics,
		Predictor:  c.Predictor,
		Classifier: c.Classifier,
		Matcher:    c.Matcher,
		Extractor:  c.Extractor,
		Asserter:   c.Asserter,
		TwoFA:      c.TwoFA,
		Python:     &action.PythonRunner{Logger: logger},
		Sleep:      r.Sleep,
	}
	if c.Navigator != nil {
		exec.SubTask = &action.SubTask{Driver: r.Driver, Navigator: c.Navigator, Memory: mem, Logger: logger}
	}
	return &Interpreter{
		Driver:   r.Driver,
		Memory:   mem,
		Executor: exec,
		Resolver: &vars.Resolver{Vault: r.Vault, Redactor: r.Redactor},
		Logger:   logger,
		Metrics:  r.Metrics,
		Sleep:    r.Sleep,
	}
}

func (r *TaskRunner) report(ctx context.Context, logger types.Logger, reporter lifecycle.Reporter, task *Task, mem *memory.Memory, result *RunResult) {
	var finalScreenshot []byte
	if len(mem.BrowserStates) > 0 {
		finalScreenshot = mem.BrowserStates[len(mem.BrowserStates)-1].Screenshot
	}
	if err := reporter.SaveOutputData(ctx, task.TaskID, mem.OutputData, finalScreenshot); err != nil {
		logger.Error().Err(err).Msg("Failed to save output data in server")
	}
	if err := reporter.SaveDownloads(ctx, task.TaskID, task.DownloadsDir()); err != nil {
		logger.Error().Err(err).Msg("Failed to save downloads in server")
	}
	if err := reporter.SaveTrajectory(ctx, task.TaskID, task.TaskDir()); err != nil {
		logger.Error().Err(err).Msg("Failed to save trajectory in server")
	}
	if err := reporter.CompleteTask(ctx, task.TaskID, lifecycle.Completion{
		Status:     result.Status,
		Error:      result.Error,
		TokenUsage: mem.TokenUsage,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to complete task in server")
	}
	if err := reporter.InitiateCallback(ctx, task.TaskID, task.CallbackURL); err != nil {
		logger.Error().Err(err).Msg("Failed to initiate callback")
	}
}
