package action

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/inference"
)

func (e *Executor) runAssertion(ctx context.Context, a *automation.AssertionAction) error {
	switch {
	case a.LLM != nil:
		return e.assertLLM(ctx, a.LLM)
	case a.NetworkCall != nil:
		matches, err := e.matchingResponses(*a.NetworkCall)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return &AssertionError{Kind: "network_call", Reason: fmt.Sprintf("no captured response matches %q", a.NetworkCall.URLPattern)}
		}
		return nil
	case a.PythonScript != nil:
		res, err := e.python().Run(ctx, a.PythonScript.Script, e.Memory)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return &AssertionError{Kind: "python_script", Reason: fmt.Sprintf("script exited with code %d", res.ExitCode)}
		}
		if strings.EqualFold(res.Stdout, "false") {
			return &AssertionError{Kind: "python_script", Reason: "script printed false"}
		}
		return nil
	default:
		return errors.New("assertion action has no source")
	}
}

func (e *Executor) assertLLM(ctx context.Context, x *automation.LLMAssertion) error {
	if e.Asserter == nil {
		return errors.New("no asserter configured")
	}
	bs := e.refreshSnapshot(ctx)
	req := inference.AssertRequest{Instructions: x.AssertionInstructions}
	if slices.Contains(x.Source, automation.SourceAxtree) {
		req.Axtree = bs.Axtree
	}
	if slices.Contains(x.Source, automation.SourceScreenshot) {
		req.Screenshot = bs.Screenshot
	}
	res, err := e.Asserter.Assert(ctx, req)
	if err != nil {
		return fmt.Errorf("asserting page state: %w", err)
	}
	e.Memory.TokenUsage.Add(res.Usage)
	e.Memory.AddOutput(map[string]any{
		"assertion_result": res.Result,
		"assertion_reason": res.Reason,
	})
	if !res.Result {
		return &AssertionError{Kind: "llm", Reason: res.Reason}
	}
	return nil
}
