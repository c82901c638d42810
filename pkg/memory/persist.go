package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/arnavsurve/stepwright/pkg/automation"
)

type stepState struct {
	Title           string     `json:"title"`
	URL             string     `json:"url"`
	StepIndex       int        `json:"step_index"`
	TryIndex        int        `json:"try_index"`
	DownloadedFiles []string   `json:"downloaded_files"`
	TokenUsage      TokenUsage `json:"token_usage"`
}

// StepDir is the directory holding the persisted state of step n.
func (m *Memory) StepDir(n int) string {
	return filepath.Join(m.LogsDir, "step_"+strconv.Itoa(n))
}

// PersistStep writes the current step's state into logs_dir/step_<n>. node
// may be nil for the final snapshot taken after the last step.
func (m *Memory) PersistStep(node *automation.ActionNode) error {
	dir := m.StepDir(m.State.StepIndex)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating step directory %q: %w", dir, err)
	}
	bs := m.CurrentBrowserState()

	files := []string{}
	for _, p := range m.Downloads() {
		files = append(files, filepath.Base(p))
	}
	if err := writeJSON(dir, "state.json", stepState{
		Title:           bs.Title,
		URL:             bs.URL,
		StepIndex:       m.State.StepIndex,
		TryIndex:        m.State.TryIndex,
		DownloadedFiles: files,
		TokenUsage:      m.TokenUsage,
	}); err != nil {
		return err
	}

	if len(bs.Screenshot) > 0 {
		if err := writeFile(dir, "screenshot.png", bs.Screenshot); err != nil {
			return err
		}
	}
	if bs.Axtree != "" {
		if err := writeFile(dir, "axtree.txt", []byte(bs.Axtree)); err != nil {
			return err
		}
	}
	if bs.FinalPrompt != "" {
		if err := writeFile(dir, "final_prompt.txt", []byte(bs.FinalPrompt)); err != nil {
			return err
		}
	}
	if bs.LLMResponse != nil {
		if err := writeJSON(dir, "llm_response.json", bs.LLMResponse); err != nil {
			return err
		}
	}
	if node != nil {
		if err := writeJSON(dir, "action_node.json", node); err != nil {
			return err
		}
	}

	output := m.OutputData
	if output == nil {
		output = []map[string]any{}
	}
	for name, v := range map[string]any{
		"input_variables.json":     m.InputVariables,
		"generated_variables.json": m.GeneratedVariables,
		"output_data.json":         output,
	} {
		if err := writeJSON(dir, name, v); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return writeFile(dir, name, data)
}

func writeFile(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %q: %w", path, err)
	}
	return nil
}
