package action

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/inference"
)

var codeRe = regexp.MustCompile(`\b\d{4,8}\b`)

// ErrTwoFATimeout is returned when no code arrived within max_wait_time.
var ErrTwoFATimeout = errors.New("timed out waiting for 2FA code")

func (e *Executor) runFetch2FA(ctx context.Context, a *automation.Fetch2FAAction) error {
	if e.TwoFA == nil {
		return errors.New("no 2FA message source configured")
	}
	since := e.Memory.TwoFASince()
	interval := seconds(a.CheckInterval)
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxWait := seconds(a.MaxWaitTime)

	var waited time.Duration
	for {
		msgs, err := e.TwoFA.FetchMessages(ctx, a, since)
		if err != nil {
			e.Logger.Warn().Err(err).Msg("Fetching 2FA messages")
		} else if code := e.findCode(ctx, a, msgs); code != "" {
			e.Memory.SetGenerated(a.OutputVariableName, []string{code})
			e.Memory.State.TwoFATimerStart = nil
			e.Logger.Info().Str("variable", a.OutputVariableName).Msg("Received 2FA code")
			return nil
		}

		if waited >= maxWait {
			e.Memory.State.TwoFATimerStart = nil
			return fmt.Errorf("%w after %s", ErrTwoFATimeout, maxWait)
		}
		if err := e.sleep(ctx, interval); err != nil {
			return err
		}
		waited += interval
	}
}

// findCode asks the extractor when instructions are given and falls back to
// the first 4 to 8 digit number in the newest message.
func (e *Executor) findCode(ctx context.Context, a *automation.Fetch2FAAction, msgs []string) string {
	if len(msgs) == 0 {
		return ""
	}
	if e.Extractor != nil && a.Instructions != "" {
		res, err := e.Extractor.Extract(ctx, inference.ExtractRequest{
			Format:       map[string]string{"code": "the one-time code, or an empty string if there is none"},
			Instructions: a.Instructions + "\n\nMessages:\n" + strings.Join(msgs, "\n---\n"),
		})
		if err == nil {
			e.Memory.TokenUsage.Add(res.Usage)
			if code, ok := res.Data["code"].(string); ok && code != "" {
				return code
			}
		} else {
			e.Logger.Warn().Err(err).Msg("Extracting 2FA code")
		}
	}
	for _, m := range msgs {
		if code := codeRe.FindString(m); code != "" {
			return code
		}
	}
	return ""
}
