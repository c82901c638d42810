package automation

// Automation is a parsed, validated workflow definition. It is never mutated
// during a run; the interpreter works on clones.
type Automation struct {
	Name                     string     `yaml:"name,omitempty" json:"name,omitempty"`
	Description              string     `yaml:"description,omitempty" json:"description,omitempty"`
	URL                      string     `yaml:"url" json:"url"`
	Parameters               Parameters `yaml:"parameters" json:"parameters"`
	Nodes                    []Node     `yaml:"nodes" json:"nodes"`
	BrowserChannel           string     `yaml:"browser_channel,omitempty" json:"browser_channel,omitempty"`
	ExpectedDownloads        int        `yaml:"expected_downloads,omitempty" json:"expected_downloads,omitempty"`
	RemoveEmptyNodesInAxtree bool       `yaml:"remove_empty_nodes_in_axtree,omitempty" json:"remove_empty_nodes_in_axtree,omitempty"`
}

// Parameters holds the three disjoint variable namespaces.
type Parameters struct {
	InputParameters     map[string]Values            `yaml:"input_parameters,omitempty" json:"input_parameters,omitempty"`
	SecureParameters    map[string][]SecureParameter `yaml:"secure_parameters,omitempty" json:"secure_parameters,omitempty"`
	GeneratedParameters map[string]Values            `yaml:"generated_parameters,omitempty" json:"generated_parameters,omitempty"`
}

// SecureParameter references a secret without carrying it. Exactly one arm
// is set.
type SecureParameter struct {
	Vault *VaultReference `yaml:"vault,omitempty" json:"vault,omitempty"`
	TOTP  *TOTPSeed       `yaml:"totp,omitempty" json:"totp,omitempty"`
}

const (
	VaultFieldRaw  = "raw"
	VaultFieldTOTP = "totp"
)

type VaultReference struct {
	VaultName string `yaml:"vault_name" json:"vault_name"`
	ItemName  string `yaml:"item_name" json:"item_name"`
	FieldName string `yaml:"field_name" json:"field_name"`
	// Type is "raw" (default) or "totp" when the field stores a TOTP seed.
	Type   string `yaml:"type,omitempty" json:"type,omitempty"`
	Digits int    `yaml:"digits,omitempty" json:"digits,omitempty"`
}

type TOTPSeed struct {
	Secret string `yaml:"secret" json:"secret"`
	Digits int    `yaml:"digits,omitempty" json:"digits,omitempty"`
}

// DigitsOrDefault returns the configured code length, six when unset.
func DigitsOrDefault(d int) int {
	if d <= 0 {
		return 6
	}
	return d
}

type NodeKind string

const (
	KindAction  NodeKind = "action_node"
	KindForLoop NodeKind = "for_loop_node"
	KindIfElse  NodeKind = "if_else_node"
)

// Node is a tagged union over the three node kinds. Exactly one arm is set.
type Node struct {
	Action  *ActionNode
	ForLoop *ForLoopNode
	IfElse  *IfElseNode
}

// ActionNode is a leaf step carrying exactly one payload.
type ActionNode struct {
	Type              NodeKind            `yaml:"type" json:"type"`
	Interaction       *InteractionAction  `yaml:"interaction_action,omitempty" json:"interaction_action,omitempty"`
	Assertion         *AssertionAction    `yaml:"assertion_action,omitempty" json:"assertion_action,omitempty"`
	Extraction        *ExtractionAction   `yaml:"extraction_action,omitempty" json:"extraction_action,omitempty"`
	PythonScript      *PythonScriptAction `yaml:"python_script_action,omitempty" json:"python_script_action,omitempty"`
	Fetch2FA          *Fetch2FAAction     `yaml:"fetch_2fa_action,omitempty" json:"fetch_2fa_action,omitempty"`
	BeforeSleepTime   float64             `yaml:"before_sleep_time" json:"before_sleep_time"`
	EndSleepTime      float64             `yaml:"end_sleep_time" json:"end_sleep_time"`
	ExpectNewTab      bool                `yaml:"expect_new_tab,omitempty" json:"expect_new_tab,omitempty"`
	MaxNewTabWaitTime float64             `yaml:"max_new_tab_wait_time" json:"max_new_tab_wait_time"`
}

const (
	OnErrorContinue = "continue"
	OnErrorBreak    = "break"
	OnErrorRaise    = "raise"
)

type ForLoopNode struct {
	Type          NodeKind `yaml:"type" json:"type"`
	VariableName  string   `yaml:"variable_name" json:"variable_name"`
	Nodes         []Node   `yaml:"nodes" json:"nodes"`
	ResetNodes    []Node   `yaml:"reset_nodes,omitempty" json:"reset_nodes,omitempty"`
	OnErrorInLoop string   `yaml:"on_error_in_loop,omitempty" json:"on_error_in_loop,omitempty"`
}

type IfElseNode struct {
	Type      NodeKind `yaml:"type" json:"type"`
	Condition string   `yaml:"condition" json:"condition"`
	IfNodes   []Node   `yaml:"if_nodes,omitempty" json:"if_nodes,omitempty"`
	ElseNodes []Node   `yaml:"else_nodes,omitempty" json:"else_nodes,omitempty"`
}

// BaseAction is shared by every interaction that targets an element.
type BaseAction struct {
	Command               string `yaml:"command,omitempty" json:"command,omitempty"`
	PromptInstructions    string `yaml:"prompt_instructions,omitempty" json:"prompt_instructions,omitempty"`
	SkipCommand           bool   `yaml:"skip_command,omitempty" json:"skip_command,omitempty"`
	SkipPrompt            bool   `yaml:"skip_prompt,omitempty" json:"skip_prompt,omitempty"`
	AssertLocatorPresence bool   `yaml:"assert_locator_presence,omitempty" json:"assert_locator_presence,omitempty"`
}

type ClickElementAction struct {
	BaseAction       `yaml:",inline"`
	DoubleClick      bool   `yaml:"double_click,omitempty" json:"double_click,omitempty"`
	ExpectDownload   bool   `yaml:"expect_download,omitempty" json:"expect_download,omitempty"`
	DownloadFilename string `yaml:"download_filename,omitempty" json:"download_filename,omitempty"`
}

const (
	FillModeFill = "fill"
	FillModeType = "type"
)

type InputTextAction struct {
	BaseAction `yaml:",inline"`
	InputText  string `yaml:"input_text" json:"input_text"`
	FillOrType string `yaml:"fill_or_type,omitempty" json:"fill_or_type,omitempty"`
	PressEnter bool   `yaml:"press_enter,omitempty" json:"press_enter,omitempty"`
}

type SelectOptionAction struct {
	BaseAction       `yaml:",inline"`
	SelectValues     []string `yaml:"select_values" json:"select_values"`
	ExpectDownload   bool     `yaml:"expect_download,omitempty" json:"expect_download,omitempty"`
	DownloadFilename string   `yaml:"download_filename,omitempty" json:"download_filename,omitempty"`
}

type CheckAction struct {
	BaseAction `yaml:",inline"`
}

type UploadFileAction struct {
	BaseAction `yaml:",inline"`
	FilePath   string `yaml:"file_path" json:"file_path"`
}

type GoToURLAction struct {
	URL    string `yaml:"url" json:"url"`
	NewTab bool   `yaml:"new_tab,omitempty" json:"new_tab,omitempty"`
}

type GoBackAction struct{}

type SwitchTabAction struct {
	TabIndex int `yaml:"tab_index" json:"tab_index"`
}

type CloseCurrentTabAction struct{}

type CloseAllButLastTabAction struct{}

type CloseTabsUntilAction struct {
	MatchingURL string `yaml:"matching_url,omitempty" json:"matching_url,omitempty"`
	TabIndex    *int   `yaml:"tab_index,omitempty" json:"tab_index,omitempty"`
}

var validKeys = map[string]bool{
	"Enter": true, "Tab": true, "Delete": true, "Backspace": true, "Escape": true,
}

type KeyPressAction struct {
	Type string `yaml:"type" json:"type"`
}

type DownloadURLAsPDFAction struct {
	URL              string `yaml:"url,omitempty" json:"url,omitempty"`
	DownloadFilename string `yaml:"download_filename,omitempty" json:"download_filename,omitempty"`
}

type ScrollAction struct {
	Down bool `yaml:"down" json:"down"`
}

type AgenticTask struct {
	Task     string `yaml:"task,omitempty" json:"task,omitempty"`
	MaxSteps int    `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
}

// DefaultOverlayMaxSteps bounds the overlay dismissal sub-task.
const DefaultOverlayMaxSteps = 5

// InteractionAction holds exactly one concrete browser interaction.
type InteractionAction struct {
	StartTwoFATimer         bool    `yaml:"start_2fa_timer,omitempty" json:"start_2fa_timer,omitempty"`
	MaxTries                int     `yaml:"max_tries,omitempty" json:"max_tries,omitempty"`
	MaxTimeoutSecondsPerTry float64 `yaml:"max_timeout_seconds_per_try" json:"max_timeout_seconds_per_try"`

	ClickElement       *ClickElementAction       `yaml:"click_element,omitempty" json:"click_element,omitempty"`
	InputText          *InputTextAction          `yaml:"input_text,omitempty" json:"input_text,omitempty"`
	SelectOption       *SelectOptionAction       `yaml:"select_option,omitempty" json:"select_option,omitempty"`
	Check              *CheckAction              `yaml:"check,omitempty" json:"check,omitempty"`
	Uncheck            *CheckAction              `yaml:"uncheck,omitempty" json:"uncheck,omitempty"`
	UploadFile         *UploadFileAction         `yaml:"upload_file,omitempty" json:"upload_file,omitempty"`
	GoToURL            *GoToURLAction            `yaml:"go_to_url,omitempty" json:"go_to_url,omitempty"`
	GoBack             *GoBackAction             `yaml:"go_back,omitempty" json:"go_back,omitempty"`
	SwitchTab          *SwitchTabAction          `yaml:"switch_tab,omitempty" json:"switch_tab,omitempty"`
	CloseCurrentTab    *CloseCurrentTabAction    `yaml:"close_current_tab,omitempty" json:"close_current_tab,omitempty"`
	CloseAllButLastTab *CloseAllButLastTabAction `yaml:"close_all_but_last_tab,omitempty" json:"close_all_but_last_tab,omitempty"`
	CloseTabsUntil     *CloseTabsUntilAction     `yaml:"close_tabs_until,omitempty" json:"close_tabs_until,omitempty"`
	KeyPress           *KeyPressAction           `yaml:"key_press,omitempty" json:"key_press,omitempty"`
	DownloadURLAsPDF   *DownloadURLAsPDFAction   `yaml:"download_url_as_pdf,omitempty" json:"download_url_as_pdf,omitempty"`
	Scroll             *ScrollAction             `yaml:"scroll,omitempty" json:"scroll,omitempty"`
	AgenticTask        *AgenticTask              `yaml:"agentic_task,omitempty" json:"agentic_task,omitempty"`
	CloseOverlayPopup  *AgenticTask              `yaml:"close_overlay_popup,omitempty" json:"close_overlay_popup,omitempty"`
}

const (
	SourceAxtree     = "axtree"
	SourceScreenshot = "screenshot"
)

type LLMAssertion struct {
	Source                []string `yaml:"source" json:"source"`
	AssertionInstructions string   `yaml:"assertion_instructions" json:"assertion_instructions"`
}

type NetworkCallFilter struct {
	URLPattern   string            `yaml:"url_pattern,omitempty" json:"url_pattern,omitempty"`
	HeaderFilter map[string]string `yaml:"header_filter,omitempty" json:"header_filter,omitempty"`
}

type PythonScript struct {
	Script string `yaml:"script" json:"script"`
}

type AssertionAction struct {
	LLM          *LLMAssertion      `yaml:"llm,omitempty" json:"llm,omitempty"`
	NetworkCall  *NetworkCallFilter `yaml:"network_call,omitempty" json:"network_call,omitempty"`
	PythonScript *PythonScript      `yaml:"python_script,omitempty" json:"python_script,omitempty"`
}

type LLMExtraction struct {
	Source                 []string          `yaml:"source" json:"source"`
	ExtractionFormat       map[string]string `yaml:"extraction_format" json:"extraction_format"`
	ExtractionInstructions string            `yaml:"extraction_instructions" json:"extraction_instructions"`
	OutputVariableNames    []string          `yaml:"output_variable_names,omitempty" json:"output_variable_names,omitempty"`
}

type NetworkCallExtraction struct {
	NetworkCallFilter  `yaml:",inline"`
	OutputVariableName string `yaml:"output_variable_name,omitempty" json:"output_variable_name,omitempty"`
}

type ExtractionAction struct {
	LLM          *LLMExtraction         `yaml:"llm,omitempty" json:"llm,omitempty"`
	NetworkCall  *NetworkCallExtraction `yaml:"network_call,omitempty" json:"network_call,omitempty"`
	PythonScript *PythonScript          `yaml:"python_script,omitempty" json:"python_script,omitempty"`
}

type PythonScriptAction struct {
	ExecutionCode string `yaml:"execution_code" json:"execution_code"`
}

type EmailTwoFA struct {
	ReceiverEmailAddress string `yaml:"receiver_email_address" json:"receiver_email_address"`
	SenderEmailAddress   string `yaml:"sender_email_address" json:"sender_email_address"`
}

type SlackTwoFA struct {
	SlackWorkspaceDomain string `yaml:"slack_workspace_domain" json:"slack_workspace_domain"`
	ChannelName          string `yaml:"channel_name" json:"channel_name"`
	SenderName           string `yaml:"sender_name" json:"sender_name"`
}

type Fetch2FAAction struct {
	Email              *EmailTwoFA `yaml:"email,omitempty" json:"email,omitempty"`
	Slack              *SlackTwoFA `yaml:"slack,omitempty" json:"slack,omitempty"`
	Instructions       string      `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	OutputVariableName string      `yaml:"output_variable_name" json:"output_variable_name"`
	MaxWaitTime        float64     `yaml:"max_wait_time" json:"max_wait_time"`
	CheckInterval      float64     `yaml:"check_interval" json:"check_interval"`
}
