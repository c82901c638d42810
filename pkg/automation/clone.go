package automation

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Clone deep copies an automation through a YAML round trip.
func (a *Automation) Clone() (*Automation, error) {
	var out Automation
	if err := roundTrip(a, &out); err != nil {
		return nil, fmt.Errorf("cloning automation: %w", err)
	}
	return &out, nil
}

// CloneNodes deep copies a node list. Loop iterations each get their own copy
// before placeholders are rewritten.
func CloneNodes(nodes []Node) ([]Node, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	var out []Node
	if err := roundTrip(nodes, &out); err != nil {
		return nil, fmt.Errorf("cloning nodes: %w", err)
	}
	return out, nil
}

// CloneAction deep copies a single action node.
func CloneAction(a *ActionNode) (*ActionNode, error) {
	var out ActionNode
	if err := roundTrip(a, &out); err != nil {
		return nil, fmt.Errorf("cloning action node: %w", err)
	}
	return &out, nil
}

func roundTrip(in, out any) error {
	b, err := yaml.Marshal(in)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}
