package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/lifecycle"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultSaveDirectory is the parent of every task directory.
const DefaultSaveDirectory = "/tmp/stepwright"

// LogFileName is the JSON log written inside the task's logs directory.
const LogFileName = "stepwright.log"

// Task is the envelope of one automation run.
type Task struct {
	TaskID           string                                  `yaml:"task_id,omitempty"`
	EndpointName     string                                  `yaml:"endpoint_name,omitempty"`
	Automation       *automation.Automation                  `yaml:"automation,omitempty"`
	AutomationFile   string                                  `yaml:"automation_file,omitempty"`
	InputParameters  map[string]automation.Values            `yaml:"input_parameters,omitempty"`
	SecureParameters map[string][]automation.SecureParameter `yaml:"secure_parameters,omitempty"`
	SaveDirectory    string                                  `yaml:"save_directory,omitempty"`
	Dedicated        bool                                    `yaml:"dedicated,omitempty"`
	CallbackURL      *lifecycle.CallbackURL                  `yaml:"callback_url,omitempty"`
}

func (t *Task) TaskDir() string      { return filepath.Join(t.SaveDirectory, t.TaskID) }
func (t *Task) LogsDir() string      { return filepath.Join(t.TaskDir(), "logs") }
func (t *Task) DownloadsDir() string { return filepath.Join(t.TaskDir(), "downloads") }
func (t *Task) LogFile() string      { return filepath.Join(t.LogsDir(), LogFileName) }

// LoadTaskFromFile reads a YAML or JSON task. automation_file is resolved
// relative to the task file.
func LoadTaskFromFile(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file %q: %w", path, err)
	}
	t, err := ParseTask(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("loading task %q: %w", path, err)
	}
	return t, nil
}

// ParseTask decodes a task, loads or normalizes its automation, fills
// defaults and checks the parameter bindings.
func ParseTask(data []byte, baseDir string) (*Task, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t Task
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("parsing task: %w", err)
	}

	switch {
	case t.Automation != nil && t.AutomationFile != "":
		return nil, fmt.Errorf("task must define only one of 'automation' or 'automation_file'")
	case t.Automation != nil:
		automation.Normalize(t.Automation)
		if err := automation.Validate(t.Automation); err != nil {
			return nil, err
		}
	case t.AutomationFile != "":
		path := t.AutomationFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		a, err := automation.LoadAutomationFromFile(path)
		if err != nil {
			return nil, err
		}
		t.Automation = a
	default:
		return nil, fmt.Errorf("task must define 'automation' or 'automation_file'")
	}

	if t.CallbackURL != nil {
		if err := t.CallbackURL.Validate(); err != nil {
			return nil, err
		}
	}
	t.applyDefaults()

	if err := automation.ValidateBindings(t.Automation, t.InputParameters, t.SecureParameters); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Task) applyDefaults() {
	if t.TaskID == "" {
		t.TaskID = uuid.NewString()
	}
	if t.SaveDirectory == "" {
		t.SaveDirectory = DefaultSaveDirectory
	}
	if t.InputParameters == nil {
		t.InputParameters = map[string]automation.Values{}
	}
	if t.SecureParameters == nil {
		t.SecureParameters = map[string][]automation.SecureParameter{}
	}
}

// NewTask wraps an automation loaded on its own, as the CLI does when no task
// file is given.
func NewTask(a *automation.Automation, inputs map[string]automation.Values, secure map[string][]automation.SecureParameter, saveDir string) (*Task, error) {
	t := &Task{
		Automation:       a,
		InputParameters:  inputs,
		SecureParameters: secure,
		SaveDirectory:    saveDir,
	}
	t.applyDefaults()
	if err := automation.ValidateBindings(a, t.InputParameters, t.SecureParameters); err != nil {
		return nil, err
	}
	return t, nil
}

// PrepareDirs creates the logs and downloads directories.
func (t *Task) PrepareDirs() error {
	for _, dir := range []string{t.LogsDir(), t.DownloadsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating task directory %q: %w", dir, err)
		}
	}
	return nil
}

// Inputs is a standalone parameters file for an automation.
type Inputs struct {
	InputParameters  map[string]automation.Values            `yaml:"input_parameters,omitempty"`
	SecureParameters map[string][]automation.SecureParameter `yaml:"secure_parameters,omitempty"`
}

// LoadInputsFromFile reads a YAML or JSON inputs file. An empty path yields
// empty inputs.
func LoadInputsFromFile(path string) (*Inputs, error) {
	in := &Inputs{}
	if path == "" {
		return in, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inputs file %q: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(in); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing inputs file %q: %w", path, err)
	}
	return in, nil
}
