package memory_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/downloads"
	"github.com/arnavsurve/stepwright/pkg/log"
	"github.com/arnavsurve/stepwright/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T) *memory.Memory {
	t.Helper()
	a := &automation.Automation{Parameters: automation.Parameters{
		GeneratedParameters: map[string]automation.Values{"links": {"default"}},
	}}
	dir := t.TempDir()
	return memory.New("task-1", filepath.Join(dir, "logs"), filepath.Join(dir, "downloads"), a,
		map[string]automation.Values{"tickers": {"AAPL", "NVDA"}},
		nil,
		downloads.NewLedger(log.Nop(), nil),
	)
}

func TestNew(t *testing.T) {
	m := newMemory(t)
	assert.Equal(t, -1, m.State.StepIndex)
	assert.Equal(t, []string{"default"}, m.GeneratedVariables["links"])

	v, ok := m.Lookup("tickers")
	require.True(t, ok)
	assert.Equal(t, []string{"AAPL", "NVDA"}, v)
	v, ok = m.Lookup("links")
	require.True(t, ok)
	assert.Equal(t, []string{"default"}, v)
	_, ok = m.Lookup("nope")
	assert.False(t, ok)

	table := m.Table()
	assert.Equal(t, m.InputVariables, table.Input)
	assert.Equal(t, m.GeneratedVariables, table.Generated)
}

func TestTokenUsageAdd(t *testing.T) {
	var u memory.TokenUsage
	u.Add(memory.TokenUsage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12})
	u.Add(memory.TokenUsage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2})
	assert.Equal(t, memory.TokenUsage{InputTokens: 11, OutputTokens: 3, TotalTokens: 14}, u)
}

func TestTwoFASince(t *testing.T) {
	m := newMemory(t)
	assert.Equal(t, m.StartedAt, m.TwoFASince())

	start := time.Now().Add(time.Minute)
	m.State.TwoFATimerStart = &start
	assert.Equal(t, start, m.TwoFASince())
}

func TestPersistStep(t *testing.T) {
	m := newMemory(t)
	m.State.StepIndex = 3
	m.State.TryIndex = 1
	m.AppendBrowserState(&memory.BrowserState{
		URL:         "https://example.test/",
		Title:       "Example",
		Screenshot:  []byte("png"),
		Axtree:      "[1]<button>Go</button>",
		FinalPrompt: "click go",
		LLMResponse: map[string]any{"index": 1},
	})
	m.AddOutput(map[string]any{"price": "1"})
	m.TokenUsage.Add(memory.TokenUsage{TotalTokens: 5})

	node := &automation.ActionNode{Type: automation.KindAction, Interaction: &automation.InteractionAction{GoBack: &automation.GoBackAction{}}}
	require.NoError(t, m.PersistStep(node))

	dir := m.StepDir(3)
	for _, name := range []string{
		"state.json", "screenshot.png", "axtree.txt", "final_prompt.txt", "llm_response.json",
		"action_node.json", "input_variables.json", "generated_variables.json", "output_data.json",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	var state map[string]any
	data, err := os.ReadFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, "Example", state["title"])
	assert.EqualValues(t, 3, state["step_index"])
	assert.EqualValues(t, 1, state["try_index"])
	assert.Equal(t, []any{}, state["downloaded_files"])

	data, err = os.ReadFile(filepath.Join(dir, "action_node.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"go_back"`)
}

func TestPersistStep_WithoutNodeOrPredictions(t *testing.T) {
	m := newMemory(t)
	m.State.StepIndex = 0
	m.AppendBrowserState(&memory.BrowserState{URL: "https://example.test/"})
	require.NoError(t, m.PersistStep(nil))

	dir := m.StepDir(0)
	assert.FileExists(t, filepath.Join(dir, "state.json"))
	assert.NoFileExists(t, filepath.Join(dir, "action_node.json"))
	assert.NoFileExists(t, filepath.Join(dir, "final_prompt.txt"))

	data, err := os.ReadFile(filepath.Join(dir, "output_data.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}
