package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/inference"
)

func (e *Executor) runExtraction(ctx context.Context, a *automation.ExtractionAction) error {
	switch {
	case a.LLM != nil:
		return e.extractLLM(ctx, a.LLM)
	case a.NetworkCall != nil:
		return e.extractNetwork(a.NetworkCall)
	case a.PythonScript != nil:
		res, err := e.python().Run(ctx, a.PythonScript.Script, e.Memory)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("extraction script exited with code %d", res.ExitCode)
		}
		if res.Output == nil {
			return errors.New("extraction script did not print a JSON object")
		}
		e.Memory.AddOutput(res.Output)
		return nil
	default:
		return errors.New("extraction action has no source")
	}
}

func (e *Executor) extractLLM(ctx context.Context, x *automation.LLMExtraction) error {
	if e.Extractor == nil {
		return errors.New("no extractor configured")
	}
	bs := e.refreshSnapshot(ctx)
	req := inference.ExtractRequest{
		Format:       x.ExtractionFormat,
		Instructions: x.ExtractionInstructions,
	}
	if slices.Contains(x.Source, automation.SourceAxtree) {
		req.Axtree = bs.Axtree
	}
	if slices.Contains(x.Source, automation.SourceScreenshot) {
		req.Screenshot = bs.Screenshot
	}
	res, err := e.Extractor.Extract(ctx, req)
	if err != nil {
		return fmt.Errorf("extracting data: %w", err)
	}
	e.Memory.TokenUsage.Add(res.Usage)
	e.Memory.AddOutput(res.Data)

	for _, name := range x.OutputVariableNames {
		v, ok := res.Data[name]
		if !ok {
			e.Logger.Warn().Str("variable", name).Msg("Extraction result is missing output variable")
			continue
		}
		e.Memory.SetGenerated(name, toValues(v))
	}
	return nil
}

// toValues flattens an extracted value into a variable's value list.
func toValues(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, scalarString(item))
		}
		return out
	default:
		return []string{scalarString(t)}
	}
}

func scalarString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func (e *Executor) extractNetwork(x *automation.NetworkCallExtraction) error {
	matches, err := e.matchingResponses(x.NetworkCallFilter)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no captured response matches %q", x.URLPattern)
	}

	var bodies []any
	for _, r := range matches {
		body, err := responseBody(r)
		if err != nil {
			e.Logger.Warn().Err(err).Str("url", r.URL).Msg("Reading captured response body")
			continue
		}
		bodies = append(bodies, body)
		e.Memory.AddOutput(map[string]any{"url": r.URL, "status": r.Status, "body": body})
	}
	if x.OutputVariableName != "" {
		vals := make([]string, 0, len(bodies))
		for _, b := range bodies {
			vals = append(vals, scalarString(b))
		}
		e.Memory.SetGenerated(x.OutputVariableName, vals)
	}
	return nil
}

// matchingResponses filters the responses captured since the last
// interaction. url_pattern matches as a substring or as a regular expression;
// every header_filter entry must be contained in the response header.
func (e *Executor) matchingResponses(f automation.NetworkCallFilter) ([]*browser.Response, error) {
	if e.Memory.Ledger == nil {
		return nil, errors.New("no network capture configured")
	}
	var re *regexp.Regexp
	if f.URLPattern != "" {
		re, _ = regexp.Compile(f.URLPattern)
	}

	var out []*browser.Response
	for _, r := range e.Memory.Ledger.Captures() {
		if f.URLPattern != "" && !strings.Contains(r.URL, f.URLPattern) && (re == nil || !re.MatchString(r.URL)) {
			continue
		}
		if !headersMatch(r.Headers, f.HeaderFilter) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func headersMatch(headers, filter map[string]string) bool {
	for k, want := range filter {
		found := false
		for hk, hv := range headers {
			if strings.EqualFold(hk, k) && strings.Contains(hv, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// responseBody decodes JSON bodies and returns anything else as text.
func responseBody(r *browser.Response) (any, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := r.Body()
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, nil
	}
	return string(raw), nil
}
