// Package memory holds the mutable state of one task run.
package memory

import (
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/downloads"
	"github.com/arnavsurve/stepwright/pkg/vars"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// SoftFailureUnresolvedPlaceholder marks an input step skipped because its
// text was still a bare placeholder after substitution.
const SoftFailureUnresolvedPlaceholder = "skipped_unresolved_placeholder"

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (t *TokenUsage) Add(o TokenUsage) {
	t.InputTokens += o.InputTokens
	t.OutputTokens += o.OutputTokens
	t.TotalTokens += o.TotalTokens
}

// BrowserState is the page snapshot taken for a step, plus whatever the index
// predictor saw and answered while targeting.
type BrowserState struct {
	URL         string
	Title       string
	Screenshot  []byte
	Axtree      string
	FinalPrompt string
	LLMResponse any
}

// AutomationState is the interpreter cursor.
type AutomationState struct {
	StepIndex       int
	TryIndex        int
	TwoFATimerStart *time.Time
}

// LoopStatus is the outcome of one loop iteration.
type LoopStatus struct {
	Index  int    `json:"index"`
	Value  string `json:"value"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SoftFailure is a step that could not target its element but was allowed to
// continue.
type SoftFailure struct {
	StepIndex int    `json:"step_index"`
	Action    string `json:"action"`
	Command   string `json:"command,omitempty"`
	Reason    string `json:"reason"`
}

type Memory struct {
	TaskID       string
	LogsDir      string
	DownloadsDir string
	StartedAt    time.Time

	State         AutomationState
	BrowserStates []*BrowserState

	InputVariables     map[string][]string
	SecureParameters   map[string][]automation.SecureParameter
	GeneratedVariables map[string][]string
	OutputData         []map[string]any
	LoopStatuses       map[string][]LoopStatus
	TokenUsage         TokenUsage
	SoftFailures       []SoftFailure

	Ledger *downloads.Ledger
}

// New creates the memory for a task. Generated variables start from the
// defaults the automation declares.
func New(taskID, logsDir, downloadsDir string, a *automation.Automation, inputs map[string]automation.Values, secure map[string][]automation.SecureParameter, ledger *downloads.Ledger) *Memory {
	m := &Memory{
		TaskID:             taskID,
		LogsDir:            logsDir,
		DownloadsDir:       downloadsDir,
		StartedAt:          time.Now(),
		State:              AutomationState{StepIndex: -1},
		InputVariables:     map[string][]string{},
		SecureParameters:   map[string][]automation.SecureParameter{},
		GeneratedVariables: map[string][]string{},
		LoopStatuses:       map[string][]LoopStatus{},
		Ledger:             ledger,
	}
	for k, v := range inputs {
		m.InputVariables[k] = append([]string{}, v...)
	}
	for k, v := range secure {
		m.SecureParameters[k] = append([]automation.SecureParameter{}, v...)
	}
	if a != nil {
		for k, v := range a.Parameters.GeneratedParameters {
			m.GeneratedVariables[k] = append([]string{}, v...)
		}
	}
	return m
}

// Table exposes the variables to substitution.
func (m *Memory) Table() vars.Table {
	return vars.Table{
		Input:     m.InputVariables,
		Secure:    m.SecureParameters,
		Generated: m.GeneratedVariables,
	}
}

// Lookup resolves a loop or condition variable from input, then generated.
func (m *Memory) Lookup(name string) ([]string, bool) {
	if v, ok := m.InputVariables[name]; ok {
		return v, true
	}
	v, ok := m.GeneratedVariables[name]
	return v, ok
}

// CurrentBrowserState returns the state of the running step, creating an
// empty one when no snapshot has been taken yet.
func (m *Memory) CurrentBrowserState() *BrowserState {
	if len(m.BrowserStates) == 0 {
		m.BrowserStates = append(m.BrowserStates, &BrowserState{})
	}
	return m.BrowserStates[len(m.BrowserStates)-1]
}

func (m *Memory) AppendBrowserState(s *BrowserState) {
	m.BrowserStates = append(m.BrowserStates, s)
}

func (m *Memory) AddOutput(data map[string]any) {
	m.OutputData = append(m.OutputData, data)
}

// SetGenerated stores values under a generated variable name.
func (m *Memory) SetGenerated(name string, values []string) {
	m.GeneratedVariables[name] = values
}

func (m *Memory) RecordLoopStatus(variable string, s LoopStatus) {
	m.LoopStatuses[variable] = append(m.LoopStatuses[variable], s)
}

func (m *Memory) AddSoftFailure(f SoftFailure) {
	m.SoftFailures = append(m.SoftFailures, f)
}

// Downloads returns the saved download paths.
func (m *Memory) Downloads() []string {
	if m.Ledger == nil {
		return nil
	}
	return m.Ledger.Downloads()
}

// TwoFASince is the earliest time a 2FA message may have been sent.
func (m *Memory) TwoFASince() time.Time {
	if m.State.TwoFATimerStart != nil {
		return *m.State.TwoFATimerStart
	}
	return m.StartedAt
}
