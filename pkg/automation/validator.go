package automation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	// placeholderRe finds {name[3]} and {name[index]} references.
	placeholderRe = regexp.MustCompile(`\{([A-Za-z_]\w*)\[(\d+|index)\]\}`)
	indexOfRe     = regexp.MustCompile(`\{index_of\(([A-Za-z_]\w*)\)\}`)
)

// ReservedNames cannot be used as parameter names.
var ReservedNames = map[string]bool{
	"current_page_url": true,
	"index":            true,
	"index_of":         true,
	"first":            true,
}

// ValidationError collects every structural problem found in an automation.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid automation: %s", strings.Join(e.Issues, "; "))
}

type validator struct {
	a      *Automation
	issues []string
	// declared maps every parameter name to its namespace.
	declared map[string]string
}

func (v *validator) addf(format string, args ...any) {
	v.issues = append(v.issues, fmt.Sprintf(format, args...))
}

// Validate checks parameter names, node shapes, sleep bounds and variable
// references. It returns a *ValidationError listing every issue.
func Validate(a *Automation) error {
	v := &validator{a: a, declared: map[string]string{}}

	if strings.TrimSpace(a.URL) == "" {
		v.addf("automation is missing 'url'")
	}
	if a.ExpectedDownloads < 0 {
		v.addf("expected_downloads must not be negative, got %d", a.ExpectedDownloads)
	}
	switch a.BrowserChannel {
	case "", "chromium", "chrome", "msedge":
	default:
		v.addf("unsupported browser_channel %q", a.BrowserChannel)
	}

	v.validateParameters()
	v.validateNodes("nodes", a.Nodes, nil)

	if len(v.issues) > 0 {
		sort.Strings(v.issues)
		return &ValidationError{Issues: v.issues}
	}
	return nil
}

func (v *validator) declare(name, namespace string) {
	if !identRe.MatchString(name) {
		v.addf("%s parameter %q is not a valid identifier", namespace, name)
	}
	if ReservedNames[name] {
		v.addf("%s parameter %q uses a reserved name", namespace, name)
	}
	if prev, ok := v.declared[name]; ok {
		v.addf("parameter %q is declared in both %s and %s", name, prev, namespace)
		return
	}
	v.declared[name] = namespace
}

func (v *validator) validateParameters() {
	p := v.a.Parameters
	for name := range p.InputParameters {
		v.declare(name, "input")
	}
	for name, secure := range p.SecureParameters {
		v.declare(name, "secure")
		for i, sp := range secure {
			v.validateSecure(fmt.Sprintf("secure_parameters.%s[%d]", name, i), sp)
		}
	}
	for name := range p.GeneratedParameters {
		v.declare(name, "generated")
	}
}

func (v *validator) validateSecure(path string, sp SecureParameter) {
	switch {
	case sp.Vault != nil && sp.TOTP != nil, sp.Vault == nil && sp.TOTP == nil:
		v.addf("%s: exactly one of vault or totp must be provided", path)
	case sp.Vault != nil:
		if sp.Vault.VaultName == "" || sp.Vault.ItemName == "" || sp.Vault.FieldName == "" {
			v.addf("%s: vault_name, item_name and field_name are required", path)
		}
		switch sp.Vault.Type {
		case "", VaultFieldRaw, VaultFieldTOTP:
		default:
			v.addf("%s: unknown vault field type %q", path, sp.Vault.Type)
		}
		v.validateDigits(path, sp.Vault.Digits)
	case sp.TOTP != nil:
		if sp.TOTP.Secret == "" {
			v.addf("%s: totp secret is required", path)
		}
		v.validateDigits(path, sp.TOTP.Digits)
	}
}

func (v *validator) validateDigits(path string, digits int) {
	if digits != 0 && (digits < 6 || digits > 8) {
		v.addf("%s: digits must be between 6 and 8, got %d", path, digits)
	}
}

func (v *validator) validateNodes(path string, nodes []Node, loopVars []string) {
	for i, n := range nodes {
		p := fmt.Sprintf("%s[%d]", path, i)
		switch n.Kind() {
		case KindAction:
			v.validateAction(p, n.Action, loopVars)
		case KindForLoop:
			v.validateForLoop(p, n.ForLoop, loopVars)
		case KindIfElse:
			ie := n.IfElse
			if strings.TrimSpace(ie.Condition) == "" {
				v.addf("%s: if_else_node is missing 'condition'", p)
			}
			v.checkReferences(p+".condition", ie.Condition, loopVars)
			v.validateNodes(p+".if_nodes", ie.IfNodes, loopVars)
			v.validateNodes(p+".else_nodes", ie.ElseNodes, loopVars)
		default:
			v.addf("%s: node has no content", p)
		}
	}
}

func (v *validator) validateForLoop(p string, f *ForLoopNode, loopVars []string) {
	ns, ok := v.declared[f.VariableName]
	switch {
	case f.VariableName == "":
		v.addf("%s: for_loop_node is missing 'variable_name'", p)
	case !ok:
		v.addf("%s: loop variable %q is not a declared parameter", p, f.VariableName)
	case ns == "secure":
		v.addf("%s: loop variable %q must be an input or generated parameter", p, f.VariableName)
	}
	switch f.OnErrorInLoop {
	case "", OnErrorContinue, OnErrorBreak, OnErrorRaise:
	default:
		v.addf("%s: on_error_in_loop must be continue, break or raise, got %q", p, f.OnErrorInLoop)
	}
	if len(f.Nodes) == 0 {
		v.addf("%s: for_loop_node has no nodes", p)
	}
	inner := append(append([]string{}, loopVars...), f.VariableName)
	v.validateNodes(p+".nodes", f.Nodes, inner)
	v.validateNodes(p+".reset_nodes", f.ResetNodes, loopVars)
}

func (v *validator) validateAction(p string, a *ActionNode, loopVars []string) {
	if c := a.payloadCount(); c != 1 {
		v.addf("%s: action_node must have exactly one payload, found %d", p, c)
	}
	v.checkSleep(p, "before_sleep_time", a.BeforeSleepTime)
	v.checkSleep(p, "end_sleep_time", a.EndSleepTime)
	v.checkSleep(p, "max_new_tab_wait_time", a.MaxNewTabWaitTime)

	if a.Interaction != nil {
		v.validateInteraction(p+".interaction_action", a.Interaction)
	}
	if as := a.Assertion; as != nil {
		if countSet(as.LLM != nil, as.NetworkCall != nil, as.PythonScript != nil) != 1 {
			v.addf("%s.assertion_action: exactly one of llm, network_call or python_script must be provided", p)
		}
		if as.LLM != nil {
			v.checkSources(p+".assertion_action.llm", as.LLM.Source)
		}
		if as.PythonScript != nil && strings.TrimSpace(as.PythonScript.Script) == "" {
			v.addf("%s.assertion_action.python_script: script cannot be empty", p)
		}
	}
	if ex := a.Extraction; ex != nil {
		v.validateExtraction(p+".extraction_action", ex)
	}
	if ps := a.PythonScript; ps != nil && strings.TrimSpace(ps.ExecutionCode) == "" {
		v.addf("%s.python_script_action: execution_code cannot be empty", p)
	}
	if tf := a.Fetch2FA; tf != nil {
		fp := p + ".fetch_2fa_action"
		if countSet(tf.Email != nil, tf.Slack != nil) != 1 {
			v.addf("%s: exactly one of email or slack must be provided", fp)
		}
		v.checkGenerated(fp, tf.OutputVariableName)
		if tf.CheckInterval <= 0 || tf.MaxWaitTime <= 0 {
			v.addf("%s: max_wait_time and check_interval must be positive", fp)
		}
	}

	a.RewriteStrings(func(s string) string {
		v.checkReferences(p, s, loopVars)
		return s
	})
}

func (v *validator) validateInteraction(p string, ia *InteractionAction) {
	kinds := ia.populated()
	if len(kinds) != 1 {
		v.addf("%s: exactly one interaction must be provided, found %d", p, len(kinds))
		return
	}
	if ia.MaxTries < 1 {
		v.addf("%s: max_tries must be at least 1", p)
	}
	if ia.MaxTimeoutSecondsPerTry <= 0 || ia.MaxTimeoutSecondsPerTry > MaxSleepTime {
		v.addf("%s: max_timeout_seconds_per_try must be in (0, %g]", p, MaxSleepTime)
	}
	if ia.StartTwoFATimer && ia.ClickElement == nil {
		v.addf("%s: start_2fa_timer can only be used with click_element", p)
	}
	if base := ia.Base(); base != nil && base.AssertLocatorPresence && base.Command == "" {
		v.addf("%s.%s: command is required when assert_locator_presence is true", p, kinds[0])
	}
	if in := ia.InputText; in != nil {
		if in.PressEnter && in.Command == "" {
			v.addf("%s.input_text: command is required when press_enter is true", p)
		}
		if in.FillOrType != FillModeFill && in.FillOrType != FillModeType {
			v.addf("%s.input_text: fill_or_type must be fill or type, got %q", p, in.FillOrType)
		}
	}
	if s := ia.SelectOption; s != nil && len(s.SelectValues) == 0 {
		v.addf("%s.select_option: select_values cannot be empty", p)
	}
	if u := ia.UploadFile; u != nil && u.FilePath == "" {
		v.addf("%s.upload_file: file_path is required", p)
	}
	if g := ia.GoToURL; g != nil && g.URL == "" {
		v.addf("%s.go_to_url: url is required", p)
	}
	if ct := ia.CloseTabsUntil; ct != nil && countSet(ct.MatchingURL != "", ct.TabIndex != nil) != 1 {
		v.addf("%s.close_tabs_until: exactly one of matching_url or tab_index must be provided", p)
	}
	if k := ia.KeyPress; k != nil && !validKeys[k.Type] {
		v.addf("%s.key_press: unsupported key %q", p, k.Type)
	}
	if t := ia.AgenticTask; t != nil && (t.Task == "" || t.MaxSteps < 1) {
		v.addf("%s.agentic_task: task and a positive max_steps are required", p)
	}
}

func (v *validator) validateExtraction(p string, ex *ExtractionAction) {
	if countSet(ex.LLM != nil, ex.NetworkCall != nil, ex.PythonScript != nil) != 1 {
		v.addf("%s: exactly one of llm, network_call or python_script must be provided", p)
	}
	if l := ex.LLM; l != nil {
		v.checkSources(p+".llm", l.Source)
		if len(l.ExtractionFormat) == 0 {
			v.addf("%s.llm: extraction_format cannot be empty", p)
		}
		for _, name := range l.OutputVariableNames {
			if _, ok := l.ExtractionFormat[name]; !ok {
				v.addf("%s.llm: output variable %q not found in extraction_format", p, name)
			}
			v.checkGenerated(p+".llm", name)
		}
	}
	if nc := ex.NetworkCall; nc != nil && nc.OutputVariableName != "" {
		v.checkGenerated(p+".network_call", nc.OutputVariableName)
	}
	if ps := ex.PythonScript; ps != nil && strings.TrimSpace(ps.Script) == "" {
		v.addf("%s.python_script: script cannot be empty", p)
	}
}

func (v *validator) checkSleep(p, field string, value float64) {
	if value < 0 || value > MaxSleepTime {
		v.addf("%s: %s must be between 0 and %g seconds, got %g", p, field, MaxSleepTime, value)
	}
}

func (v *validator) checkSources(p string, sources []string) {
	if len(sources) == 0 {
		v.addf("%s: source cannot be empty", p)
	}
	for _, s := range sources {
		if s != SourceAxtree && s != SourceScreenshot {
			v.addf("%s: unknown source %q", p, s)
		}
	}
}

func (v *validator) checkGenerated(p, name string) {
	if name == "" {
		v.addf("%s: output variable name is required", p)
		return
	}
	if ns, ok := v.declared[name]; !ok || ns != "generated" {
		v.addf("%s: output variable %q must be declared in generated_parameters", p, name)
	}
}

func (v *validator) checkReferences(p, s string, loopVars []string) {
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		name, idx := m[1], m[2]
		if _, ok := v.declared[name]; !ok {
			v.addf("%s: placeholder %q references undeclared parameter %q", p, m[0], name)
			continue
		}
		if idx == "index" && !contains(loopVars, name) {
			v.addf("%s: placeholder %q is only valid inside a loop over %q", p, m[0], name)
		}
		if idx != "index" {
			if _, err := strconv.Atoi(idx); err != nil {
				v.addf("%s: placeholder %q has an invalid index", p, m[0])
			}
		}
	}
	for _, m := range indexOfRe.FindAllStringSubmatch(s, -1) {
		if !contains(loopVars, m[1]) {
			v.addf("%s: %q is only valid inside a loop over %q", p, m[0], m[1])
		}
	}
}

// ValidateBindings checks caller-supplied values against the declarations:
// key sets must match exactly and every literal index must be in range.
func ValidateBindings(a *Automation, inputs map[string]Values, secure map[string][]SecureParameter) error {
	var issues []string
	issues = append(issues, keyDiff("input_parameters", keysOf(a.Parameters.InputParameters), keysOf(inputs))...)
	issues = append(issues, keyDiff("secure_parameters", keysOf(a.Parameters.SecureParameters), keysOf(secure))...)

	sizes := map[string]int{}
	for k, vals := range inputs {
		sizes[k] = len(vals)
	}
	for k, vals := range secure {
		sizes[k] = len(vals)
	}
	RewriteNodeStrings(a.Nodes, func(s string) string {
		for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
			n, ok := sizes[m[1]]
			if !ok || m[2] == "index" {
				continue
			}
			if idx, _ := strconv.Atoi(m[2]); idx >= n {
				issues = append(issues, fmt.Sprintf("placeholder %q is out of range: %q has %d value(s)", m[0], m[1], n))
			}
		}
		return s
	})
	for name, sp := range secure {
		for i, p := range sp {
			v := &validator{declared: map[string]string{}}
			v.validateSecure(fmt.Sprintf("secure_parameters.%s[%d]", name, i), p)
			issues = append(issues, v.issues...)
		}
	}
	if len(issues) > 0 {
		sort.Strings(issues)
		return &ValidationError{Issues: issues}
	}
	return nil
}

func keysOf[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func keyDiff(section string, declared, given map[string]bool) []string {
	var issues []string
	for k := range declared {
		if !given[k] {
			issues = append(issues, fmt.Sprintf("%s: missing value for %q", section, k))
		}
	}
	for k := range given {
		if !declared[k] {
			issues = append(issues, fmt.Sprintf("%s: %q is not declared by the automation", section, k))
		}
	}
	return issues
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
