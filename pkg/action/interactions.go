package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/memory"
	"github.com/arnavsurve/stepwright/pkg/vars"
)

// checkSettle is the pause between the reset and the final toggle of a
// checkbox.
const checkSettle = time.Second

func init() {
	registerHandler("click_element", clickElement)
	registerHandler("input_text", inputText)
	registerHandler("select_option", selectOption)
	registerHandler("check", toggle(true))
	registerHandler("uncheck", toggle(false))
	registerHandler("upload_file", uploadFile)
	registerHandler("go_to_url", func(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
		return e.Driver.GoTo(ctx, ia.GoToURL.URL, ia.GoToURL.NewTab)
	})
	registerHandler("go_back", func(ctx context.Context, e *Executor, _ *automation.InteractionAction) error {
		return e.Driver.GoBack(ctx)
	})
	registerHandler("switch_tab", func(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
		return e.Driver.SwitchTab(ctx, ia.SwitchTab.TabIndex)
	})
	registerHandler("close_current_tab", func(ctx context.Context, e *Executor, _ *automation.InteractionAction) error {
		return e.Driver.CloseCurrentTab(ctx)
	})
	registerHandler("close_all_but_last_tab", func(ctx context.Context, e *Executor, _ *automation.InteractionAction) error {
		return e.Driver.CloseAllButLastTab(ctx)
	})
	registerHandler("close_tabs_until", func(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
		return e.Driver.CloseTabsUntil(ctx, ia.CloseTabsUntil.MatchingURL, ia.CloseTabsUntil.TabIndex)
	})
	registerHandler("key_press", func(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
		return e.Driver.KeyPress(ctx, ia.KeyPress.Type)
	})
	registerHandler("scroll", func(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
		return e.Driver.Scroll(ctx, ia.Scroll.Down)
	})
	registerHandler("download_url_as_pdf", downloadURLAsPDF)
	registerHandler("agentic_task", func(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
		return e.runSubTask(ctx, ia.AgenticTask)
	})
	registerHandler("close_overlay_popup", func(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
		return e.runSubTask(ctx, ia.CloseOverlayPopup)
	})
}

func clickElement(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
	c := ia.ClickElement
	return e.runLocating(ctx, ia, target{
		kind: "click_element",
		base: &c.BaseAction,
		onFound: func(ctx context.Context, loc browser.Locator) error {
			click := loc.Click
			if c.DoubleClick {
				click = loc.DoubleClick
			}
			if c.ExpectDownload {
				return e.expectDownload(ctx, click, c.DownloadFilename)
			}
			return click()
		},
		byIndex: func(ctx context.Context, index int, timeout time.Duration) error {
			click := func() error { return e.Driver.ClickIndex(ctx, index, timeout) }
			if c.ExpectDownload {
				return e.expectDownload(ctx, click, c.DownloadFilename)
			}
			return click()
		},
	})
}

func inputText(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
	in := ia.InputText
	if vars.IsUnresolvedPlaceholder(in.InputText) {
		e.Logger.Warn().Str("input_text", in.InputText).Msg("Skipping input with unresolved placeholder")
		e.Memory.AddSoftFailure(memory.SoftFailure{
			StepIndex: e.Memory.State.StepIndex,
			Action:    "input_text",
			Command:   in.Command,
			Reason:    memory.SoftFailureUnresolvedPlaceholder,
		})
		return nil
	}
	return e.runLocating(ctx, ia, target{
		kind: "input_text",
		base: &in.BaseAction,
		onFound: func(_ context.Context, loc browser.Locator) error {
			var err error
			if in.FillOrType == automation.FillModeType {
				err = loc.Type(in.InputText)
			} else {
				err = loc.Fill(in.InputText)
			}
			if err != nil {
				return err
			}
			if in.PressEnter {
				return loc.Press("Enter")
			}
			return nil
		},
		byIndex: func(ctx context.Context, index int, timeout time.Duration) error {
			if err := e.Driver.InputIndex(ctx, index, in.InputText, timeout); err != nil {
				return err
			}
			if in.PressEnter {
				return e.Driver.KeyPress(ctx, "Enter")
			}
			return nil
		},
	})
}

func selectOption(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
	s := ia.SelectOption
	return e.runLocating(ctx, ia, target{
		kind: "select_option",
		base: &s.BaseAction,
		onFound: func(ctx context.Context, loc browser.Locator) error {
			options, err := loc.Options()
			if err != nil {
				return fmt.Errorf("listing options: %w", err)
			}
			values := MatchOptions(ctx, options, s.SelectValues, e.Matcher)
			e.Logger.Debug().Interface("patterns", s.SelectValues).Interface("values", values).Msg("Resolved select values")
			sel := func() error { return loc.SelectOptions(values) }
			if s.ExpectDownload {
				return e.expectDownload(ctx, sel, s.DownloadFilename)
			}
			return sel()
		},
		// Only the first resolved value is selected through an index.
		byIndex: func(ctx context.Context, index int, timeout time.Duration) error {
			options, err := e.Driver.OptionsIndex(ctx, index, timeout)
			if err != nil {
				return fmt.Errorf("listing options of element %d: %w", index, err)
			}
			if len(options) == 0 {
				return fmt.Errorf("element %d has no options", index)
			}
			values := MatchOptions(ctx, options, s.SelectValues, e.Matcher)
			if len(values) == 0 {
				return fmt.Errorf("no option of element %d matches %v", index, s.SelectValues)
			}
			e.Logger.Debug().Int("index", index).Str("value", values[0]).Msg("Resolved select value by index")
			sel := func() error { return e.Driver.SelectIndex(ctx, index, values[:1], timeout) }
			if s.ExpectDownload {
				return e.expectDownload(ctx, sel, s.DownloadFilename)
			}
			return sel()
		},
	})
}

// toggle resets the checkbox to the opposite state first so that pages
// listening for change events always see one.
func toggle(checked bool) Handler {
	return func(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
		kind, base := "uncheck", &ia.Uncheck.BaseAction
		if checked {
			kind, base = "check", &ia.Check.BaseAction
		}
		return e.runLocating(ctx, ia, target{
			kind: kind,
			base: base,
			onFound: func(ctx context.Context, loc browser.Locator) error {
				reset, set := loc.Check, loc.Uncheck
				if checked {
					reset, set = loc.Uncheck, loc.Check
				}
				if err := reset(); err != nil {
					return err
				}
				if err := e.sleep(ctx, checkSettle); err != nil {
					return err
				}
				again, err := e.Driver.Locate(base.Command, seconds(ia.MaxTimeoutSecondsPerTry))
				if err != nil {
					return set()
				}
				if checked {
					return again.Check()
				}
				return again.Uncheck()
			},
		})
	}
}

func uploadFile(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
	u := ia.UploadFile
	paths := splitPaths(u.FilePath)
	return e.runLocating(ctx, ia, target{
		kind: "upload_file",
		base: &u.BaseAction,
		onFound: func(_ context.Context, loc browser.Locator) error {
			return loc.SetFiles(paths)
		},
		byIndex: func(ctx context.Context, index int, timeout time.Duration) error {
			return e.Driver.UploadIndex(ctx, index, paths, timeout)
		},
	})
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func downloadURLAsPDF(ctx context.Context, e *Executor, ia *automation.InteractionAction) error {
	d := ia.DownloadURLAsPDF
	url := d.URL
	if url == "" {
		url = e.Driver.CurrentURL()
	}
	if e.Memory.Ledger == nil {
		return errors.New("no download ledger configured")
	}
	data, err := e.Driver.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("fetching %q: %w", url, err)
	}
	filename := d.DownloadFilename
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		filename += ".pdf"
	}
	path, err := e.Memory.Ledger.SaveBytes(e.Memory.DownloadsDir, filename, data, "pdf_url")
	if err != nil {
		return err
	}
	e.Logger.Info().Str("url", url).Str("path", path).Msg("Saved url as pdf")
	return nil
}

func (e *Executor) expectDownload(ctx context.Context, trigger func() error, filename string) error {
	if e.Memory.Ledger == nil {
		return errors.New("no download ledger configured")
	}
	path, err := e.Memory.Ledger.ExpectDownload(ctx, e.Driver, trigger, e.Memory.DownloadsDir, filename)
	if err != nil {
		return err
	}
	if path != "" {
		e.Logger.Info().Str("path", path).Msg("Saved expected download")
	}
	return nil
}

func (e *Executor) runSubTask(ctx context.Context, task *automation.AgenticTask) error {
	if e.SubTask == nil {
		return errors.New("no sub-task runner configured")
	}
	steps := task.MaxSteps
	if steps <= 0 {
		steps = automation.DefaultOverlayMaxSteps
	}
	return e.SubTask.Dismiss(ctx, task.Task, steps)
}
