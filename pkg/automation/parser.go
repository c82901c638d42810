package automation

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadAutomationFromFile reads a YAML or JSON automation, applies defaults and
// validates its structure.
func LoadAutomationFromFile(path string) (*Automation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading automation file %q: %w", path, err)
	}
	a, err := ParseAutomation(data)
	if err != nil {
		return nil, fmt.Errorf("loading automation %q: %w", path, err)
	}
	return a, nil
}

// ParseAutomation decodes YAML or JSON. Unknown top-level keys are rejected.
func ParseAutomation(data []byte) (*Automation, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var a Automation
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("parsing automation: %w", err)
	}
	Normalize(&a)
	if err := Validate(&a); err != nil {
		return nil, err
	}
	return &a, nil
}
