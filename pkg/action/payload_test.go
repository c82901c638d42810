package action_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/arnavsurve/stepwright/internal/testutil"
	"github.com/arnavsurve/stepwright/pkg/action"
	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtraction_LLM(t *testing.T) {
	h := newHarness(t)
	extractor := &testutil.FakeExtractor{Data: map[string]any{
		"price":   "189.50",
		"tickers": []any{"AAPL", "NVDA"},
		"volume":  1200.0,
	}}
	h.exec.Extractor = extractor

	node := &automation.ActionNode{Extraction: &automation.ExtractionAction{LLM: &automation.LLMExtraction{
		Source:                 []string{automation.SourceAxtree},
		ExtractionFormat:       map[string]string{"price": "string"},
		ExtractionInstructions: "read the quote",
		OutputVariableNames:    []string{"price", "tickers", "volume", "missing"},
	}}}
	require.NoError(t, h.exec.Execute(context.Background(), node))

	assert.Equal(t, h.driver.State.Axtree, extractor.Last.Axtree)
	assert.Nil(t, extractor.Last.Screenshot)
	require.Len(t, h.exec.Memory.OutputData, 1)
	assert.Equal(t, []string{"189.50"}, h.exec.Memory.GeneratedVariables["price"])
	assert.Equal(t, []string{"AAPL", "NVDA"}, h.exec.Memory.GeneratedVariables["tickers"])
	assert.Equal(t, []string{"1200"}, h.exec.Memory.GeneratedVariables["volume"])
	assert.NotContains(t, h.exec.Memory.GeneratedVariables, "missing")
}

func TestExtraction_NetworkCall(t *testing.T) {
	h := newHarness(t)
	ledger := h.exec.Memory.Ledger
	ledger.OnResponse(&browser.Response{
		URL:     "https://api.example.test/v1/quote?s=AAPL",
		Status:  200,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    func() ([]byte, error) { return []byte(`{"price": 189.5}`), nil },
	})
	ledger.OnResponse(&browser.Response{
		URL:     "https://cdn.example.test/app.js",
		Status:  200,
		Headers: map[string]string{"Content-Type": "text/javascript"},
		Body:    func() ([]byte, error) { return []byte("void 0"), nil },
	})

	node := &automation.ActionNode{Extraction: &automation.ExtractionAction{NetworkCall: &automation.NetworkCallExtraction{
		NetworkCallFilter: automation.NetworkCallFilter{
			URLPattern:   `/v1/quote\?s=[A-Z]+`,
			HeaderFilter: map[string]string{"content-type": "json"},
		},
		OutputVariableName: "quote",
	}}}
	require.NoError(t, h.exec.Execute(context.Background(), node))

	require.Len(t, h.exec.Memory.OutputData, 1)
	assert.Equal(t, map[string]any{"price": 189.5}, h.exec.Memory.OutputData[0]["body"])
	assert.Equal(t, []string{`{"price":189.5}`}, h.exec.Memory.GeneratedVariables["quote"])
}

func TestAssertion(t *testing.T) {
	t.Run("llm passes", func(t *testing.T) {
		h := newHarness(t)
		h.exec.Asserter = &testutil.FakeAsserter{Result: true, Reason: "logged in"}
		node := &automation.ActionNode{Assertion: &automation.AssertionAction{LLM: &automation.LLMAssertion{
			Source:                []string{automation.SourceScreenshot},
			AssertionInstructions: "the dashboard is shown",
		}}}
		require.NoError(t, h.exec.Execute(context.Background(), node))
		assert.Equal(t, true, h.exec.Memory.OutputData[0]["assertion_result"])
	})

	t.Run("llm fails", func(t *testing.T) {
		h := newHarness(t)
		h.exec.Asserter = &testutil.FakeAsserter{Result: false, Reason: "login form still visible"}
		node := &automation.ActionNode{Assertion: &automation.AssertionAction{LLM: &automation.LLMAssertion{
			AssertionInstructions: "the dashboard is shown",
		}}}
		err := h.exec.Execute(context.Background(), node)
		var ae *action.AssertionError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, "llm", ae.Kind)
		assert.Equal(t, "login form still visible", ae.Reason)
	})

	t.Run("network call without match", func(t *testing.T) {
		h := newHarness(t)
		node := &automation.ActionNode{Assertion: &automation.AssertionAction{NetworkCall: &automation.NetworkCallFilter{
			URLPattern: "/api/session",
		}}}
		err := h.exec.Execute(context.Background(), node)
		var ae *action.AssertionError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, "network_call", ae.Kind)
	})
}

func TestInteraction_ClearsCapturedResponses(t *testing.T) {
	h := newHarness(t)
	h.exec.Memory.Ledger.OnResponse(&browser.Response{URL: "https://example.test/api/session"})

	require.NoError(t, h.exec.Execute(context.Background(), interaction(&automation.InteractionAction{GoBack: &automation.GoBackAction{}})))
	assert.Empty(t, h.exec.Memory.Ledger.Captures())
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestPythonScript(t *testing.T) {
	requirePython(t)
	h := newHarness(t)
	h.exec.Memory.InputVariables["ticker"] = []string{"AAPL"}

	node := &automation.ActionNode{PythonScript: &automation.PythonScriptAction{ExecutionCode: `
import json, sys
data = json.load(sys.stdin)
print(json.dumps({"first": data["input_variables"]["ticker"][0]}))
`}}
	require.NoError(t, h.exec.Execute(context.Background(), node))
	require.Len(t, h.exec.Memory.OutputData, 1)
	assert.Equal(t, "AAPL", h.exec.Memory.OutputData[0]["first"])
}

func TestPythonAssertion(t *testing.T) {
	requirePython(t)
	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{"prints true", `print("true")`, false},
		{"prints false", `print("False")`, true},
		{"non-zero exit", `import sys; sys.exit(3)`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			node := &automation.ActionNode{Assertion: &automation.AssertionAction{PythonScript: &automation.PythonScript{Script: tt.script}}}
			err := h.exec.Execute(context.Background(), node)
			if tt.wantErr {
				var ae *action.AssertionError
				require.ErrorAs(t, err, &ae)
				return
			}
			require.NoError(t, err)
		})
	}
}

func fetch2FA(maxWait, interval float64) *automation.ActionNode {
	return &automation.ActionNode{Fetch2FA: &automation.Fetch2FAAction{
		Email:              &automation.EmailTwoFA{ReceiverEmailAddress: "ops@example.test", SenderEmailAddress: "no-reply@bank.test"},
		OutputVariableName: "otp",
		MaxWaitTime:        maxWait,
		CheckInterval:      interval,
	}}
}

func TestFetch2FA_PollsUntilCodeArrives(t *testing.T) {
	h := newHarness(t)
	started := time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)
	h.exec.Memory.State.TwoFATimerStart = &started
	source := &testutil.FakeTwoFA{Batches: [][]string{nil, {"Your verification code is 482913."}}}
	h.exec.TwoFA = source

	require.NoError(t, h.exec.Execute(context.Background(), fetch2FA(10, 2)))

	assert.Equal(t, []string{"482913"}, h.exec.Memory.GeneratedVariables["otp"])
	assert.Nil(t, h.exec.Memory.State.TwoFATimerStart)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.sleeper.Durations())
	assert.Equal(t, []time.Time{started, started}, source.Since)
}

func TestFetch2FA_UsesExtractorWithInstructions(t *testing.T) {
	h := newHarness(t)
	h.exec.TwoFA = &testutil.FakeTwoFA{Batches: [][]string{{"Code A-77 expires in 10 minutes"}}}
	h.exec.Extractor = &testutil.FakeExtractor{Data: map[string]any{"code": "A-77"}}

	node := fetch2FA(10, 2)
	node.Fetch2FA.Instructions = "the code looks like A-<digits>"
	require.NoError(t, h.exec.Execute(context.Background(), node))
	assert.Equal(t, []string{"A-77"}, h.exec.Memory.GeneratedVariables["otp"])
}

func TestFetch2FA_TimesOut(t *testing.T) {
	h := newHarness(t)
	source := &testutil.FakeTwoFA{}
	h.exec.TwoFA = source

	err := h.exec.Execute(context.Background(), fetch2FA(4, 2))
	require.ErrorIs(t, err, action.ErrTwoFATimeout)
	assert.Equal(t, 3, source.Calls)
	assert.Len(t, h.sleeper.Durations(), 2)
	assert.NotContains(t, h.exec.Memory.GeneratedVariables, "otp")
}

func TestMatchOptions(t *testing.T) {
	stocks := []browser.Option{
		{Value: "AAPL", Label: "Apple Inc"},
		{Value: "NVDA", Label: "NVIDIA Inc"},
		{Value: "MSFT", Label: "Microsoft Corp"},
	}
	tests := []struct {
		name     string
		options  []browser.Option
		patterns []string
		matcher  []string
		want     []string
		asked    bool
	}{
		{name: "no options", patterns: []string{"x"}, want: []string{}},
		{name: "single option", options: stocks[:1], patterns: []string{"x"}, want: []string{"AAPL"}},
		{
			name:     "placeholder pair",
			options:  []browser.Option{{Value: "", Label: "-- Select One --"}, {Value: "US", Label: "United States"}},
			patterns: []string{"anything"},
			want:     []string{"US"},
		},
		{name: "exact value", options: stocks, patterns: []string{"MSFT"}, want: []string{"MSFT"}},
		{name: "exact label", options: stocks, patterns: []string{"Microsoft Corp"}, want: []string{"MSFT"}},
		{name: "regex", options: stocks, patterns: []string{"^N.*"}, want: []string{"NVDA"}},
		{name: "value prefix", options: stocks, patterns: []string{"aa"}, want: []string{"AAPL"}},
		{name: "label substring", options: stocks, patterns: []string{"soft"}, want: []string{"MSFT"}},
		{name: "matcher for the rest", options: stocks, patterns: []string{"apple", "the graphics one"}, matcher: []string{"NVDA", "IBM"}, want: []string{"AAPL", "NVDA"}, asked: true},
		{name: "raw fallback", options: stocks, patterns: []string{"zzz"}, matcher: []string{"IBM"}, want: []string{"zzz"}, asked: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &testutil.FakeMatcher{Values: tt.matcher}
			got := action.MatchOptions(context.Background(), tt.options, tt.patterns, m)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.asked, m.Calls > 0)
		})
	}
}

func TestSubTask_Dismiss(t *testing.T) {
	h := newHarness(t)
	nav := &testutil.FakeNavigator{}
	nav.Steps = append(nav.Steps,
		inferenceStep("click", 4),
		inferenceStep("teleport", 0),
	)
	st := &action.SubTask{Driver: h.driver, Navigator: nav, Memory: h.exec.Memory, Logger: h.exec.Logger}

	require.NoError(t, st.Dismiss(context.Background(), "close the cookie banner", 5))
	assert.Equal(t, []int{4}, h.driver.IndexClicks)
	assert.Equal(t, 3, nav.Calls)
	assert.Equal(t, []string{"click [4]", `teleport failed: unknown move "teleport"`}, nav.Histories[2])
}

func TestSubTask_StepBudget(t *testing.T) {
	h := newHarness(t)
	nav := &testutil.FakeNavigator{}
	for i := 0; i < 10; i++ {
		nav.Steps = append(nav.Steps, inferenceStep("scroll_down", 0))
	}
	st := &action.SubTask{Driver: h.driver, Navigator: nav, Logger: h.exec.Logger}

	require.NoError(t, st.Dismiss(context.Background(), "find the footer", 3))
	assert.Equal(t, 3, nav.Calls)
	assert.Len(t, h.driver.CallLog(), 3)
}

func inferenceStep(move string, index int) inference.StepDecision {
	return inference.StepDecision{Action: move, Index: index}
}
