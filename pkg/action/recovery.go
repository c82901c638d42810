package action

import (
	"context"
	"errors"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/inference"
)

const notLoadedWait = 5 * time.Second

// ExecuteWithRecovery runs an interaction and, when its element is missing,
// asks the classifier why and tries to recover. Each recovery consumes one
// unit of retriesLeft; at zero the original error is returned.
func (e *Executor) ExecuteWithRecovery(ctx context.Context, ia *automation.InteractionAction, retriesLeft int) error {
	err := e.executeInteraction(ctx, ia)
	var lpe *LocatorPresenceError
	if err == nil || !errors.As(err, &lpe) {
		return err
	}
	if retriesLeft <= 0 || e.Classifier == nil {
		return err
	}

	logger := e.Logger.With().Str("action", lpe.Action).Int("retries_left", retriesLeft).Logger()

	screenshot, shotErr := e.Driver.Screenshot(ctx)
	if shotErr != nil {
		logger.Warn().Err(shotErr).Msg("Taking screenshot for error classification")
	}
	cls, clsErr := e.Classifier.Classify(ctx, lpe.Command, screenshot)
	if clsErr != nil {
		logger.Error().Err(clsErr).Msg("Classifying missing element")
		return err
	}
	e.Memory.TokenUsage.Add(cls.Usage)
	e.Metrics.RecordRecovery(cls.Kind)
	logger.Info().Str("classification", cls.Kind).Str("reason", cls.Reason).Msg("Recovering from missing element")

	switch cls.Kind {
	case inference.ErrorWebsiteNotLoaded:
		if serr := e.sleep(ctx, notLoadedWait); serr != nil {
			return serr
		}
	case inference.ErrorOverlayPopup:
		if e.SubTask == nil {
			return err
		}
		if derr := e.SubTask.Dismiss(ctx, automation.OverlayPopupTask, automation.DefaultOverlayMaxSteps); derr != nil {
			logger.Warn().Err(derr).Msg("Dismissing overlay")
		}
	case inference.ErrorFatal:
		e.Memory.AddOutput(map[string]any{"detailed_reason": cls.Reason})
		return &FatalError{Reason: cls.Reason, Cause: err}
	default:
		return err
	}
	return e.ExecuteWithRecovery(ctx, ia, retriesLeft-1)
}
