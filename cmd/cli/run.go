package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/engine"
	"github.com/arnavsurve/stepwright/pkg/log"
	"github.com/arnavsurve/stepwright/pkg/log/sinks"
	"github.com/arnavsurve/stepwright/pkg/metrics"
	"github.com/arnavsurve/stepwright/pkg/security"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RunCmd struct {
	Task        string        `help:"Task file wrapping an automation with its inputs." xor:"source" type:"existingfile"`
	Automation  string        `help:"Automation file to run." xor:"source" type:"existingfile"`
	Inputs      string        `help:"Inputs file used with --automation." type:"existingfile"`
	Headless    bool          `help:"Run the browser without a window."`
	Timeout     time.Duration `help:"Abort the task after this long." default:"600s"`
	MetricsAddr string        `help:"Serve Prometheus metrics on this address during the run."`
	Dedicated   bool          `help:"Mark the task as dedicated."`
}

func (r *RunCmd) loadTask(cfg Config) (*engine.Task, error) {
	switch {
	case r.Task != "":
		if r.Inputs != "" {
			return nil, fmt.Errorf("--inputs cannot be combined with --task")
		}
		task, err := engine.LoadTaskFromFile(r.Task)
		if err != nil {
			return nil, err
		}
		if task.SaveDirectory == engine.DefaultSaveDirectory {
			task.SaveDirectory = cfg.SaveDir
		}
		return task, nil
	case r.Automation != "":
		a, err := automation.LoadAutomationFromFile(r.Automation)
		if err != nil {
			return nil, fmt.Errorf("loading automation file %q: %w", r.Automation, err)
		}
		inputs, err := engine.LoadInputsFromFile(r.Inputs)
		if err != nil {
			return nil, err
		}
		return engine.NewTask(a, inputs.InputParameters, inputs.SecureParameters, cfg.SaveDir)
	default:
		return nil, fmt.Errorf("one of --task or --automation is required")
	}
}

func (r *RunCmd) Run() error {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "No .env file loaded (%v), relying on the environment\n", err)
	}
	cfg := LoadConfig()

	task, err := r.loadTask(cfg)
	if err != nil {
		return err
	}
	task.Dedicated = task.Dedicated || r.Dedicated
	if err := task.PrepareDirs(); err != nil {
		return err
	}

	fileSink, err := sinks.NewFileSink(task.LogFile())
	if err != nil {
		return fmt.Errorf("creating file log sink: %w", err)
	}
	redactor := security.NewRedactor()
	logRouter := log.NewRouter(sinks.NewConsoleSink(types.InfoLevel), fileSink)
	logRouter.SetRedactor(redactor)

	baseZerologInstance := zerolog.New(logRouter).With().Timestamp().Logger()
	cmdLogger := log.NewZerologAdapter(baseZerologInstance)
	defer func() {
		if err := logRouter.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during log shutdown: %v\n", err)
		}
	}()

	cmdLogger.Info().Str("task_id", task.TaskID).Msgf("Running automation %q", task.Automation.Name)
	cmdLogger.Info().Msgf("Logs will be saved to %q", task.LogFile())

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("stepwright", reg)
	if r.MetricsAddr != "" {
		srv := serveMetrics(r.MetricsAddr, reg, cmdLogger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	vault, err := cfg.Vault()
	if err != nil {
		cmdLogger.Error().Err(err).Msg("Failed to open vault")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	pool := &browser.Pool{
		Launch: func(context.Context) (browser.Driver, error) {
			return browser.Launch(browser.LaunchOptions{
				Channel:          task.Automation.BrowserChannel,
				Headless:         r.Headless,
				RemoveEmptyNodes: task.Automation.RemoveEmptyNodesInAxtree,
				Logger:           cmdLogger,
			})
		},
		Logger: cmdLogger,
	}
	defer func() {
		if err := pool.Close(); err != nil {
			cmdLogger.Warn().Err(err).Msg("Closing browser")
		}
	}()
	lease, err := pool.Acquire(ctx, task.Dedicated)
	if err != nil {
		cmdLogger.Error().Err(err).Msg("Failed to start browser")
		return err
	}
	defer func() {
		if err := pool.Release(lease); err != nil {
			cmdLogger.Warn().Err(err).Msg("Releasing browser")
		}
	}()

	runner := &engine.TaskRunner{
		Driver:        lease.Driver,
		Reporter:      cfg.Reporter(cmdLogger),
		Collaborators: cfg.Collaborators(cmdLogger, collector),
		Vault:         vault,
		Redactor:      redactor,
		Logger:        cmdLogger,
		Metrics:       collector,
		Deployment:    cfg.Deployment,
	}
	out := runner.Run(ctx, task)

	if out.Result.Status != engine.StatusSuccess {
		cmdLogger.Error().Str("detailed_reason", out.Result.DetailedReason).Msgf("Automation failed: %s", out.Result.Error)
		return errors.New(out.Result.Error)
	}
	cmdLogger.Info().
		Int("output_entries", len(out.Memory.OutputData)).
		Int("downloads", len(out.Memory.Downloads())).
		Msg("Automation completed successfully ✅")
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger types.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	logger.Info().Msgf("Serving metrics on %s/metrics", addr)
	return srv
}
