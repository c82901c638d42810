package automation

import (
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultEndSleepTime            = 5.0
	DefaultMaxNewTabWaitTime       = 10.0
	MaxSleepTime                   = 30.0
	DefaultMaxTries                = 10
	SkippedTargetingMaxTries       = 5
	DefaultMaxTimeoutSecondsPerTry = 1.0
	DefaultTwoFAMaxWait            = 300.0
	DefaultTwoFACheckInterval      = 30.0
	DefaultBrowserChannel          = "chromium"
)

// Normalize fills defaults that depend on more than one field. It is applied
// once after parsing and is idempotent.
func Normalize(a *Automation) {
	if a.BrowserChannel == "" {
		a.BrowserChannel = DefaultBrowserChannel
	}
	if a.Parameters.InputParameters == nil {
		a.Parameters.InputParameters = map[string]Values{}
	}
	if a.Parameters.SecureParameters == nil {
		a.Parameters.SecureParameters = map[string][]SecureParameter{}
	}
	if a.Parameters.GeneratedParameters == nil {
		a.Parameters.GeneratedParameters = map[string]Values{}
	}
	normalizeNodes(a.Nodes)
}

func normalizeNodes(nodes []Node) {
	for _, n := range nodes {
		switch {
		case n.Action != nil:
			normalizeAction(n.Action)
		case n.ForLoop != nil:
			if n.ForLoop.OnErrorInLoop == "" {
				n.ForLoop.OnErrorInLoop = OnErrorRaise
			}
			normalizeNodes(n.ForLoop.Nodes)
			normalizeNodes(n.ForLoop.ResetNodes)
		case n.IfElse != nil:
			normalizeNodes(n.IfElse.IfNodes)
			normalizeNodes(n.IfElse.ElseNodes)
		}
	}
}

func normalizeAction(a *ActionNode) {
	a.Type = KindAction
	ia := a.Interaction
	if ia == nil {
		return
	}
	if base := ia.Base(); base != nil {
		if strings.TrimSpace(base.Command) == "" {
			base.Command = ""
		}
		if ia.MaxTries == 0 {
			ia.MaxTries = DefaultMaxTries
			if base.SkipCommand && base.SkipPrompt {
				ia.MaxTries = SkippedTargetingMaxTries
			}
		}
	} else if ia.MaxTries == 0 {
		ia.MaxTries = DefaultMaxTries
	}
	if ia.MaxTimeoutSecondsPerTry == 0 {
		ia.MaxTimeoutSecondsPerTry = DefaultMaxTimeoutSecondsPerTry
	}
	if ia.InputText != nil && ia.InputText.FillOrType == "" {
		ia.InputText.FillOrType = FillModeFill
	}
	if c := ia.ClickElement; c != nil && c.ExpectDownload && c.DownloadFilename == "" {
		c.DownloadFilename = uuid.NewString()
	}
	if s := ia.SelectOption; s != nil && s.ExpectDownload && s.DownloadFilename == "" {
		s.DownloadFilename = uuid.NewString()
	}
	if d := ia.DownloadURLAsPDF; d != nil && d.DownloadFilename == "" {
		d.DownloadFilename = uuid.NewString()
	}
	if o := ia.CloseOverlayPopup; o != nil {
		if o.Task == "" {
			o.Task = OverlayPopupTask
		}
		if o.MaxSteps == 0 {
			o.MaxSteps = DefaultOverlayMaxSteps
		}
	}
}

// OverlayPopupTask is the goal handed to the overlay dismissal sub-task.
const OverlayPopupTask = "A popup, modal, cookie banner or overlay is blocking the page. " +
	"Find the control that closes or accepts it (for example Close, X, Accept, Got it) and click it. " +
	"Do not navigate away from the current page and do not interact with anything else. " +
	"Stop as soon as the underlying page is usable."
