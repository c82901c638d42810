package action_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arnavsurve/stepwright/internal/testutil"
	"github.com/arnavsurve/stepwright/pkg/action"
	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/downloads"
	"github.com/arnavsurve/stepwright/pkg/inference"
	"github.com/arnavsurve/stepwright/pkg/log"
	"github.com/arnavsurve/stepwright/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	exec    *action.Executor
	driver  *testutil.FakeDriver
	sleeper *testutil.Sleeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	driver := testutil.NewFakeDriver()
	sleeper := &testutil.Sleeper{}
	ledger := downloads.NewLedger(log.Nop(), nil)
	mem := memory.New("task-1", filepath.Join(dir, "logs"), filepath.Join(dir, "downloads"), nil, nil, nil, ledger)
	return &harness{
		driver:  driver,
		sleeper: sleeper,
		exec: &action.Executor{
			Driver: driver,
			Memory: mem,
			Logger: log.Nop(),
			Sleep:  sleeper.Sleep,
			Now:    func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
		},
	}
}

func interaction(ia *automation.InteractionAction) *automation.ActionNode {
	if ia.MaxTries == 0 {
		ia.MaxTries = automation.DefaultMaxTries
	}
	if ia.MaxTimeoutSecondsPerTry == 0 {
		ia.MaxTimeoutSecondsPerTry = automation.DefaultMaxTimeoutSecondsPerTry
	}
	return &automation.ActionNode{Type: automation.KindAction, Interaction: ia}
}

func click(command string, mustFind bool) *automation.ActionNode {
	return interaction(&automation.InteractionAction{
		ClickElement: &automation.ClickElementAction{BaseAction: automation.BaseAction{
			Command:               command,
			SkipPrompt:            true,
			AssertLocatorPresence: mustFind,
		}},
	})
}

func TestExecute_RetryBoundOnMissingElement(t *testing.T) {
	h := newHarness(t)
	loc := &testutil.FakeLocator{VisibleAfter: -1}
	h.driver.Locators["#missing"] = loc

	err := h.exec.Execute(context.Background(), click("#missing", false))
	require.NoError(t, err)

	assert.Equal(t, automation.DefaultMaxTries, loc.VisibleCalls)
	assert.Equal(t, 1, loc.WaitCalls)
	assert.Zero(t, loc.Clicks)

	slept := h.sleeper.Durations()
	require.Len(t, slept, automation.DefaultMaxTries)
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, time.Second)
	}

	require.Len(t, h.exec.Memory.SoftFailures, 1)
	assert.Equal(t, "click_element", h.exec.Memory.SoftFailures[0].Action)
	assert.Equal(t, "#missing", h.exec.Memory.SoftFailures[0].Command)
}

func TestExecute_ClickAfterElementAppears(t *testing.T) {
	h := newHarness(t)
	loc := &testutil.FakeLocator{VisibleAfter: 2}
	h.driver.Locators["#go"] = loc

	require.NoError(t, h.exec.Execute(context.Background(), click("#go", true)))

	assert.Equal(t, 1, loc.Clicks)
	assert.Equal(t, 3, loc.VisibleCalls)
	assert.Len(t, h.sleeper.Durations(), 2)
	assert.Equal(t, 1, h.driver.Snapshots)
	assert.Empty(t, h.exec.Memory.SoftFailures)
}

func TestExecute_OperationErrorIsRetried(t *testing.T) {
	h := newHarness(t)
	loc := &testutil.FakeLocator{OpErr: assert.AnError}
	h.driver.Locators["#go"] = loc

	node := click("#go", true)
	node.Interaction.MaxTries = 3
	err := h.exec.Execute(context.Background(), node)

	var lpe *action.LocatorPresenceError
	require.ErrorAs(t, err, &lpe)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 3, loc.VisibleCalls)
}

func TestExecute_IndexFallback(t *testing.T) {
	h := newHarness(t)
	predictor := &testutil.FakePredictor{Index: 7}
	h.exec.Predictor = predictor

	node := interaction(&automation.InteractionAction{
		MaxTries: 2,
		ClickElement: &automation.ClickElementAction{BaseAction: automation.BaseAction{
			Command:               "#hidden",
			PromptInstructions:    "the search button",
			AssertLocatorPresence: true,
		}},
	})
	require.NoError(t, h.exec.Execute(context.Background(), node))

	assert.Equal(t, []int{7}, h.driver.IndexClicks)
	assert.Equal(t, 1, predictor.Calls)
	assert.Equal(t, 1, h.exec.Memory.State.TryIndex)
	bs := h.exec.Memory.CurrentBrowserState()
	assert.Equal(t, "find: the search button", bs.FinalPrompt)
	assert.Equal(t, h.driver.State.Axtree, bs.Axtree)
}

func TestExecute_IndexFallbackSkipped(t *testing.T) {
	h := newHarness(t)
	predictor := &testutil.FakePredictor{Index: 7}
	h.exec.Predictor = predictor

	node := interaction(&automation.InteractionAction{
		MaxTries: 1,
		ClickElement: &automation.ClickElementAction{BaseAction: automation.BaseAction{
			Command:            "#hidden",
			PromptInstructions: "the search button",
			SkipPrompt:         true,
		}},
	})
	require.NoError(t, h.exec.Execute(context.Background(), node))
	assert.Zero(t, predictor.Calls)
	assert.Len(t, h.exec.Memory.SoftFailures, 1)
}

func TestExecuteWithRecovery_BudgetIsMonotonic(t *testing.T) {
	for budget := 0; budget <= 3; budget++ {
		h := newHarness(t)
		classifier := &testutil.FakeClassifier{Kinds: []string{inference.ErrorWebsiteNotLoaded}}
		h.exec.Classifier = classifier

		node := click("#missing", true)
		node.Interaction.MaxTries = 1
		err := h.exec.ExecuteWithRecovery(context.Background(), node.Interaction, budget)

		var lpe *action.LocatorPresenceError
		require.ErrorAs(t, err, &lpe, "budget %d", budget)
		assert.Equal(t, budget, classifier.Calls, "budget %d", budget)

		var waits int
		for _, d := range h.sleeper.Durations() {
			if d == 5*time.Second {
				waits++
			}
		}
		assert.Equal(t, budget, waits, "budget %d", budget)
	}
}

func TestExecute_DefaultRecoveryBudget(t *testing.T) {
	h := newHarness(t)
	classifier := &testutil.FakeClassifier{Kinds: []string{inference.ErrorWebsiteNotLoaded}}
	h.exec.Classifier = classifier

	node := click("#missing", true)
	node.Interaction.MaxTries = 1
	err := h.exec.Execute(context.Background(), node)

	var lpe *action.LocatorPresenceError
	require.ErrorAs(t, err, &lpe)
	assert.Equal(t, action.DefaultRecoveryBudget, classifier.Calls)
}

func TestExecute_OverlayRecovery(t *testing.T) {
	h := newHarness(t)
	loc := &testutil.FakeLocator{VisibleAfter: -1}
	h.driver.Locators["#go"] = loc
	h.exec.Classifier = &testutil.FakeClassifier{Kinds: []string{inference.ErrorOverlayPopup}}
	dismisser := &testutil.FakeDismisser{OnDismiss: func() { loc.VisibleAfter = 0 }}
	h.exec.SubTask = dismisser

	node := click("#go", true)
	node.Interaction.MaxTries = 2
	require.NoError(t, h.exec.Execute(context.Background(), node))

	assert.Equal(t, []string{automation.OverlayPopupTask}, dismisser.Goals)
	assert.Equal(t, 1, loc.Clicks)
}

func TestExecute_FatalClassification(t *testing.T) {
	h := newHarness(t)
	reason := "The account is locked after too many login attempts."
	h.exec.Classifier = &testutil.FakeClassifier{Kinds: []string{inference.ErrorFatal}, Reason: reason}

	node := click("#login", true)
	node.Interaction.MaxTries = 1
	err := h.exec.Execute(context.Background(), node)

	var fatal *action.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, reason, fatal.Reason)
	var lpe *action.LocatorPresenceError
	assert.ErrorAs(t, err, &lpe)

	require.Len(t, h.exec.Memory.OutputData, 1)
	assert.Equal(t, reason, h.exec.Memory.OutputData[0]["detailed_reason"])
}

func TestExecute_ClassifierFailureKeepsOriginalError(t *testing.T) {
	h := newHarness(t)
	h.exec.Classifier = &testutil.FakeClassifier{Err: assert.AnError}

	node := click("#login", true)
	node.Interaction.MaxTries = 1
	err := h.exec.Execute(context.Background(), node)

	var lpe *action.LocatorPresenceError
	require.ErrorAs(t, err, &lpe)
	assert.NotErrorIs(t, err, assert.AnError)
}

func TestExecute_SelectResolvesLocally(t *testing.T) {
	h := newHarness(t)
	loc := &testutil.FakeLocator{OptionList: []browser.Option{
		{Value: "AAPL", Label: "Apple Inc"},
		{Value: "NVDA", Label: "NVIDIA Inc"},
	}}
	h.driver.Locators["#ticker"] = loc
	matcher := &testutil.FakeMatcher{Values: []string{"MSFT"}}
	h.exec.Matcher = matcher

	node := interaction(&automation.InteractionAction{
		SelectOption: &automation.SelectOptionAction{
			BaseAction:   automation.BaseAction{Command: "#ticker"},
			SelectValues: []string{"apple", "nvidia"},
		},
	})
	require.NoError(t, h.exec.Execute(context.Background(), node))

	assert.Equal(t, []string{"AAPL", "NVDA"}, loc.Selected)
	assert.Zero(t, matcher.Calls)
}

func selectByIndex(h *harness, index int, values ...string) *automation.ActionNode {
	h.exec.Predictor = &testutil.FakePredictor{Index: index}
	return interaction(&automation.InteractionAction{
		MaxTries: 1,
		SelectOption: &automation.SelectOptionAction{
			BaseAction: automation.BaseAction{
				Command:               "#missing",
				PromptInstructions:    "the ticker dropdown",
				AssertLocatorPresence: true,
			},
			SelectValues: values,
		},
	})
}

func TestExecute_SelectByIndex(t *testing.T) {
	h := newHarness(t)
	h.driver.IndexOptions[3] = []browser.Option{
		{Value: "MSFT", Label: "Microsoft"},
		{Value: "AAPL", Label: "Apple Inc"},
	}

	require.NoError(t, h.exec.Execute(context.Background(), selectByIndex(h, 3, "apple")))

	assert.Equal(t, []string{"AAPL"}, h.driver.IndexSelections[3])
	assert.Equal(t, []string{"locate #missing", "options_index 3", "select_index 3 AAPL"}, h.driver.CallLog())
	assert.Empty(t, h.driver.IndexClicks)
	assert.Empty(t, h.exec.Memory.SoftFailures)
}

func TestExecute_SelectByIndexWithoutOptionsFails(t *testing.T) {
	h := newHarness(t)

	err := h.exec.Execute(context.Background(), selectByIndex(h, 3, "apple"))

	var lpe *action.LocatorPresenceError
	require.ErrorAs(t, err, &lpe)
	assert.Equal(t, "select_option", lpe.Action)
	assert.Empty(t, h.driver.IndexSelections)
}

func TestExecute_SelectByIndexExpectingDownload(t *testing.T) {
	h := newHarness(t)
	h.driver.IndexOptions[5] = []browser.Option{{Value: "csv", Label: "CSV"}, {Value: "pdf", Label: "PDF"}}
	h.driver.Download = &testutil.FakeDownload{Suggested: "statement.pdf", Data: []byte("%PDF-1.4")}

	node := selectByIndex(h, 5, "pdf")
	node.Interaction.SelectOption.ExpectDownload = true
	node.Interaction.SelectOption.DownloadFilename = "statement"
	require.NoError(t, h.exec.Execute(context.Background(), node))

	assert.Equal(t, []string{"pdf"}, h.driver.IndexSelections[5])
	assert.Equal(t, []string{filepath.Join(h.exec.Memory.DownloadsDir, "statement.pdf")}, h.exec.Memory.Downloads())
}

func TestExecute_ActionsAreBoundedByPerTryTimeout(t *testing.T) {
	h := newHarness(t)
	h.exec.Predictor = &testutil.FakePredictor{Index: 2}

	node := interaction(&automation.InteractionAction{
		MaxTries:                2,
		MaxTimeoutSecondsPerTry: 2.5,
		ClickElement: &automation.ClickElementAction{BaseAction: automation.BaseAction{
			Command:            "#hidden",
			PromptInstructions: "the search button",
		}},
	})
	require.NoError(t, h.exec.Execute(context.Background(), node))

	require.Len(t, h.driver.Timeouts, 3)
	for _, d := range h.driver.Timeouts {
		assert.Equal(t, 2500*time.Millisecond, d)
	}
}

func TestExecute_CheckTogglesThroughOppositeState(t *testing.T) {
	tests := []struct {
		name string
		ia   *automation.InteractionAction
		want []string
	}{
		{
			name: "check",
			ia:   &automation.InteractionAction{Check: &automation.CheckAction{BaseAction: automation.BaseAction{Command: "#agree"}}},
			want: []string{"uncheck", "check"},
		},
		{
			name: "uncheck",
			ia:   &automation.InteractionAction{Uncheck: &automation.CheckAction{BaseAction: automation.BaseAction{Command: "#agree"}}},
			want: []string{"check", "uncheck"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			loc := &testutil.FakeLocator{}
			h.driver.Locators["#agree"] = loc

			require.NoError(t, h.exec.Execute(context.Background(), interaction(tt.ia)))
			assert.Equal(t, tt.want, loc.CheckSequence)
			assert.Equal(t, []time.Duration{time.Second}, h.sleeper.Durations())
		})
	}
}

func TestExecute_InputText(t *testing.T) {
	h := newHarness(t)
	loc := &testutil.FakeLocator{}
	h.driver.Locators["#q"] = loc

	node := interaction(&automation.InteractionAction{
		InputText: &automation.InputTextAction{
			BaseAction: automation.BaseAction{Command: "#q"},
			InputText:  "AAPL",
			FillOrType: automation.FillModeType,
			PressEnter: true,
		},
	})
	require.NoError(t, h.exec.Execute(context.Background(), node))
	assert.Equal(t, "AAPL", loc.Typed)
	assert.Empty(t, loc.Filled)
	assert.Equal(t, []string{"Enter"}, loc.Pressed)
}

func TestExecute_InputWithUnresolvedPlaceholderIsSkipped(t *testing.T) {
	h := newHarness(t)
	loc := &testutil.FakeLocator{}
	h.driver.Locators["#q"] = loc

	node := interaction(&automation.InteractionAction{
		InputText: &automation.InputTextAction{
			BaseAction: automation.BaseAction{Command: "#q"},
			InputText:  "{ticker[3]}",
		},
	})
	require.NoError(t, h.exec.Execute(context.Background(), node))
	assert.Empty(t, loc.Filled)
	assert.Zero(t, loc.VisibleCalls)
	require.Len(t, h.exec.Memory.SoftFailures, 1)
	assert.Equal(t, memory.SoftFailureUnresolvedPlaceholder, h.exec.Memory.SoftFailures[0].Reason)
}

func TestExecute_ClickExpectingDownload(t *testing.T) {
	h := newHarness(t)
	h.driver.Locators["#export"] = &testutil.FakeLocator{}
	h.driver.Download = &testutil.FakeDownload{Suggested: "export.csv", Data: []byte("a,b\n1,2\n")}

	node := interaction(&automation.InteractionAction{
		ClickElement: &automation.ClickElementAction{
			BaseAction:       automation.BaseAction{Command: "#export"},
			ExpectDownload:   true,
			DownloadFilename: "q3",
		},
	})
	require.NoError(t, h.exec.Execute(context.Background(), node))

	want := filepath.Join(h.exec.Memory.DownloadsDir, "q3.csv")
	assert.Equal(t, []string{want}, h.exec.Memory.Downloads())
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestExecute_StartsTwoFATimer(t *testing.T) {
	h := newHarness(t)
	h.driver.Locators["#send"] = &testutil.FakeLocator{}

	node := click("#send", true)
	node.Interaction.StartTwoFATimer = true
	require.NoError(t, h.exec.Execute(context.Background(), node))

	require.NotNil(t, h.exec.Memory.State.TwoFATimerStart)
	assert.Equal(t, h.exec.Now(), *h.exec.Memory.State.TwoFATimerStart)
}

func TestExecute_DirectInteractions(t *testing.T) {
	idx := 1
	tests := []struct {
		name string
		ia   *automation.InteractionAction
		want string
	}{
		{"go_to_url", &automation.InteractionAction{GoToURL: &automation.GoToURLAction{URL: "https://example.test/a", NewTab: true}}, "goto https://example.test/a new_tab=true"},
		{"go_back", &automation.InteractionAction{GoBack: &automation.GoBackAction{}}, "go_back"},
		{"switch_tab", &automation.InteractionAction{SwitchTab: &automation.SwitchTabAction{TabIndex: 2}}, "switch_tab 2"},
		{"close_current_tab", &automation.InteractionAction{CloseCurrentTab: &automation.CloseCurrentTabAction{}}, "close_current_tab"},
		{"close_all_but_last_tab", &automation.InteractionAction{CloseAllButLastTab: &automation.CloseAllButLastTabAction{}}, "close_all_but_last_tab"},
		{"close_tabs_until index", &automation.InteractionAction{CloseTabsUntil: &automation.CloseTabsUntilAction{TabIndex: &idx}}, "close_tabs_until index=1"},
		{"close_tabs_until url", &automation.InteractionAction{CloseTabsUntil: &automation.CloseTabsUntilAction{MatchingURL: "portal"}}, "close_tabs_until url=portal"},
		{"key_press", &automation.InteractionAction{KeyPress: &automation.KeyPressAction{Type: "Escape"}}, "key_press Escape"},
		{"scroll", &automation.InteractionAction{Scroll: &automation.ScrollAction{Down: true}}, "scroll down=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.exec.Execute(context.Background(), interaction(tt.ia)))
			assert.Equal(t, []string{tt.want}, h.driver.CallLog())
		})
	}
}

func TestExecute_DownloadURLAsPDF(t *testing.T) {
	h := newHarness(t)
	h.driver.State.URL = "https://example.test/statement"
	h.driver.FetchData["https://example.test/statement"] = []byte("%PDF-1.4")

	node := interaction(&automation.InteractionAction{
		DownloadURLAsPDF: &automation.DownloadURLAsPDFAction{DownloadFilename: "statement"},
	})
	require.NoError(t, h.exec.Execute(context.Background(), node))

	want := filepath.Join(h.exec.Memory.DownloadsDir, "statement.pdf")
	assert.Equal(t, []string{want}, h.exec.Memory.Downloads())
}

func TestExecute_AgenticTask(t *testing.T) {
	h := newHarness(t)
	dismisser := &testutil.FakeDismisser{}
	h.exec.SubTask = dismisser

	node := interaction(&automation.InteractionAction{
		AgenticTask: &automation.AgenticTask{Task: "accept the terms"},
	})
	require.NoError(t, h.exec.Execute(context.Background(), node))
	assert.Equal(t, []string{"accept the terms"}, dismisser.Goals)
}

func TestExecute_NoPayload(t *testing.T) {
	h := newHarness(t)
	err := h.exec.Execute(context.Background(), &automation.ActionNode{})
	require.Error(t, err)
}
