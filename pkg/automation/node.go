package automation

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Values is an ordered list of parameter values. YAML scalars and lists of
// scalars are both accepted; everything is kept in its string form.
type Values []string

func (v *Values) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*v = Values{}
			return nil
		}
		*v = Values{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make(Values, 0, len(value.Content))
		for i, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("value %d must be a scalar, got %s", i, kindName(item.Kind))
			}
			out = append(out, item.Value)
		}
		*v = out
		return nil
	default:
		return fmt.Errorf("parameter values must be a scalar or a list of scalars, got %s", kindName(value.Kind))
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

// Kind reports which arm of the union is populated, or "" when none is.
func (n Node) Kind() NodeKind {
	switch {
	case n.Action != nil:
		return KindAction
	case n.ForLoop != nil:
		return KindForLoop
	case n.IfElse != nil:
		return KindIfElse
	default:
		return ""
	}
}

func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var head struct {
		Type NodeKind `yaml:"type"`
	}
	if err := value.Decode(&head); err != nil {
		return err
	}

	*n = Node{}
	switch head.Type {
	case KindAction, "":
		var a ActionNode
		if err := value.Decode(&a); err != nil {
			return err
		}
		a.Type = KindAction
		n.Action = &a
	case KindForLoop:
		var f ForLoopNode
		if err := value.Decode(&f); err != nil {
			return err
		}
		n.ForLoop = &f
	case KindIfElse:
		var ie IfElseNode
		if err := value.Decode(&ie); err != nil {
			return err
		}
		n.IfElse = &ie
	default:
		return fmt.Errorf("line %d: unknown node type %q", value.Line, head.Type)
	}
	return nil
}

func (n Node) MarshalYAML() (any, error) {
	switch {
	case n.Action != nil:
		n.Action.Type = KindAction
		return n.Action, nil
	case n.ForLoop != nil:
		n.ForLoop.Type = KindForLoop
		return n.ForLoop, nil
	case n.IfElse != nil:
		n.IfElse.Type = KindIfElse
		return n.IfElse, nil
	default:
		return nil, fmt.Errorf("cannot marshal empty node")
	}
}

func (n Node) MarshalJSON() ([]byte, error) {
	v, err := n.MarshalYAML()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// UnmarshalYAML presets the sleep and tab-wait defaults so that absent keys
// keep them while explicit zeros are honoured.
func (a *ActionNode) UnmarshalYAML(value *yaml.Node) error {
	type plain ActionNode
	p := plain{
		EndSleepTime:      DefaultEndSleepTime,
		MaxNewTabWaitTime: DefaultMaxNewTabWaitTime,
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*a = ActionNode(p)
	return nil
}

func (i *InteractionAction) UnmarshalYAML(value *yaml.Node) error {
	type plain InteractionAction
	p := plain{MaxTimeoutSecondsPerTry: DefaultMaxTimeoutSecondsPerTry}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*i = InteractionAction(p)
	return nil
}

func (f *Fetch2FAAction) UnmarshalYAML(value *yaml.Node) error {
	type plain Fetch2FAAction
	p := plain{MaxWaitTime: DefaultTwoFAMaxWait, CheckInterval: DefaultTwoFACheckInterval}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*f = Fetch2FAAction(p)
	return nil
}

// PayloadKind names the populated payload of an action node, used as the
// "action" log field and in persisted step state.
func (a *ActionNode) PayloadKind() string {
	switch {
	case a.Interaction != nil:
		return a.Interaction.Kind()
	case a.Assertion != nil:
		return "assertion"
	case a.Extraction != nil:
		return "extraction"
	case a.PythonScript != nil:
		return "python_script"
	case a.Fetch2FA != nil:
		return "fetch_2fa"
	default:
		return ""
	}
}

func (a *ActionNode) payloadCount() int {
	n := 0
	for _, set := range []bool{
		a.Interaction != nil,
		a.Assertion != nil,
		a.Extraction != nil,
		a.PythonScript != nil,
		a.Fetch2FA != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Kind names the single populated interaction.
func (i *InteractionAction) Kind() string {
	kinds := i.populated()
	if len(kinds) != 1 {
		return "interaction"
	}
	return kinds[0]
}

func (i *InteractionAction) populated() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(i.ClickElement != nil, "click_element")
	add(i.InputText != nil, "input_text")
	add(i.SelectOption != nil, "select_option")
	add(i.Check != nil, "check")
	add(i.Uncheck != nil, "uncheck")
	add(i.UploadFile != nil, "upload_file")
	add(i.GoToURL != nil, "go_to_url")
	add(i.GoBack != nil, "go_back")
	add(i.SwitchTab != nil, "switch_tab")
	add(i.CloseCurrentTab != nil, "close_current_tab")
	add(i.CloseAllButLastTab != nil, "close_all_but_last_tab")
	add(i.CloseTabsUntil != nil, "close_tabs_until")
	add(i.KeyPress != nil, "key_press")
	add(i.DownloadURLAsPDF != nil, "download_url_as_pdf")
	add(i.Scroll != nil, "scroll")
	add(i.AgenticTask != nil, "agentic_task")
	add(i.CloseOverlayPopup != nil, "close_overlay_popup")
	return out
}

// Base returns the targeting fields of a locating interaction, nil for
// interactions that do not locate an element.
func (i *InteractionAction) Base() *BaseAction {
	switch {
	case i.ClickElement != nil:
		return &i.ClickElement.BaseAction
	case i.InputText != nil:
		return &i.InputText.BaseAction
	case i.SelectOption != nil:
		return &i.SelectOption.BaseAction
	case i.Check != nil:
		return &i.Check.BaseAction
	case i.Uncheck != nil:
		return &i.Uncheck.BaseAction
	case i.UploadFile != nil:
		return &i.UploadFile.BaseAction
	default:
		return nil
	}
}
