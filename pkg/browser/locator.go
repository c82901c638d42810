package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// buildLocator applies a parsed command to the page. The first call is
// resolved against the page and the rest are chained on the locator.
func buildLocator(p playwright.Page, calls []Call) (playwright.Locator, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	l, err := fromPage(p, calls[0])
	if err != nil {
		return nil, err
	}
	for _, c := range calls[1:] {
		if l, err = chain(l, c); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func fromPage(p playwright.Page, c Call) (playwright.Locator, error) {
	if c.Method == "get_by_test_id" {
		id, err := c.stringArg(0)
		if err != nil {
			return nil, err
		}
		return p.GetByTestId(id), nil
	}
	arg, err := c.stringArg(0)
	if err != nil {
		return nil, err
	}
	exact := c.kwBool("exact")
	switch c.Method {
	case "locator":
		return p.Locator(arg), nil
	case "get_by_role":
		opts := playwright.PageGetByRoleOptions{Exact: exact}
		if name, ok := c.Kwargs["name"]; ok {
			opts.Name = name
		}
		return p.GetByRole(playwright.AriaRole(arg), opts), nil
	case "get_by_text":
		return p.GetByText(arg, playwright.PageGetByTextOptions{Exact: exact}), nil
	case "get_by_label":
		return p.GetByLabel(arg, playwright.PageGetByLabelOptions{Exact: exact}), nil
	case "get_by_placeholder":
		return p.GetByPlaceholder(arg, playwright.PageGetByPlaceholderOptions{Exact: exact}), nil
	case "get_by_title":
		return p.GetByTitle(arg, playwright.PageGetByTitleOptions{Exact: exact}), nil
	case "get_by_alt_text":
		return p.GetByAltText(arg, playwright.PageGetByAltTextOptions{Exact: exact}), nil
	}
	return nil, fmt.Errorf("%s cannot start a command", c.Method)
}

func chain(l playwright.Locator, c Call) (playwright.Locator, error) {
	switch c.Method {
	case "first":
		return l.First(), nil
	case "last":
		return l.Last(), nil
	case "nth":
		if len(c.Args) != 1 {
			return nil, fmt.Errorf("nth takes one index")
		}
		i, ok := c.Args[0].(int)
		if !ok {
			return nil, fmt.Errorf("nth index must be an integer")
		}
		return l.Nth(i), nil
	case "filter":
		opts := playwright.LocatorFilterOptions{}
		if v, ok := c.Kwargs["has_text"]; ok {
			opts.HasText = v
		}
		if v, ok := c.Kwargs["has_not_text"]; ok {
			opts.HasNotText = v
		}
		return l.Filter(opts), nil
	case "get_by_test_id":
		id, err := c.stringArg(0)
		if err != nil {
			return nil, err
		}
		return l.GetByTestId(id), nil
	}

	arg, err := c.stringArg(0)
	if err != nil {
		return nil, err
	}
	exact := c.kwBool("exact")
	switch c.Method {
	case "locator":
		return l.Locator(arg), nil
	case "get_by_role":
		opts := playwright.LocatorGetByRoleOptions{Exact: exact}
		if name, ok := c.Kwargs["name"]; ok {
			opts.Name = name
		}
		return l.GetByRole(playwright.AriaRole(arg), opts), nil
	case "get_by_text":
		return l.GetByText(arg, playwright.LocatorGetByTextOptions{Exact: exact}), nil
	case "get_by_label":
		return l.GetByLabel(arg, playwright.LocatorGetByLabelOptions{Exact: exact}), nil
	case "get_by_placeholder":
		return l.GetByPlaceholder(arg, playwright.LocatorGetByPlaceholderOptions{Exact: exact}), nil
	case "get_by_title":
		return l.GetByTitle(arg, playwright.LocatorGetByTitleOptions{Exact: exact}), nil
	case "get_by_alt_text":
		return l.GetByAltText(arg, playwright.LocatorGetByAltTextOptions{Exact: exact}), nil
	}
	return nil, fmt.Errorf("unsupported method %q", c.Method)
}

const optionsScript = `el => Array.from(el.options || []).map(o => ({value: o.value, label: (o.label || o.textContent || '').trim()}))`

// pwLocator bounds every action by timeout and never waits for the
// navigation an action may start.
type pwLocator struct {
	l       playwright.Locator
	timeout time.Duration
}

func millis(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *pwLocator) WaitVisible(timeout time.Duration) error {
	return p.l.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(timeout),
	})
}

func (p *pwLocator) IsVisible() (bool, error) { return p.l.IsVisible() }

func (p *pwLocator) clickOptions() playwright.LocatorClickOptions {
	return playwright.LocatorClickOptions{Timeout: millis(p.timeout), NoWaitAfter: playwright.Bool(true)}
}

func (p *pwLocator) Click() error { return p.l.Click(p.clickOptions()) }

func (p *pwLocator) DoubleClick() error {
	return p.l.Dblclick(playwright.LocatorDblclickOptions{Timeout: millis(p.timeout), NoWaitAfter: playwright.Bool(true)})
}

func (p *pwLocator) Fill(text string) error {
	return p.l.Fill(text, playwright.LocatorFillOptions{Timeout: millis(p.timeout), NoWaitAfter: playwright.Bool(true)})
}

func (p *pwLocator) Type(text string) error {
	return p.l.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{Timeout: millis(p.timeout), NoWaitAfter: playwright.Bool(true)})
}

func (p *pwLocator) Press(key string) error {
	return p.l.Press(key, playwright.LocatorPressOptions{Timeout: millis(p.timeout), NoWaitAfter: playwright.Bool(true)})
}

func (p *pwLocator) Check() error {
	return p.l.Check(playwright.LocatorCheckOptions{Timeout: millis(p.timeout), NoWaitAfter: playwright.Bool(true)})
}

func (p *pwLocator) Uncheck() error {
	return p.l.Uncheck(playwright.LocatorUncheckOptions{Timeout: millis(p.timeout), NoWaitAfter: playwright.Bool(true)})
}

func (p *pwLocator) SetFiles(paths []string) error {
	return p.l.SetInputFiles(paths, playwright.LocatorSetInputFilesOptions{Timeout: millis(p.timeout), NoWaitAfter: playwright.Bool(true)})
}

func (p *pwLocator) Options() ([]Option, error) {
	raw, err := p.l.Evaluate(optionsScript, nil, playwright.LocatorEvaluateOptions{Timeout: millis(p.timeout)})
	if err != nil {
		return nil, fmt.Errorf("reading select options: %w", err)
	}
	items, _ := raw.([]any)
	out := make([]Option, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Option{Value: getString(m, "value"), Label: strings.TrimSpace(getString(m, "label"))})
	}
	return out, nil
}

func (p *pwLocator) SelectOptions(values []string) error {
	_, err := p.l.SelectOption(playwright.SelectOptionValues{Values: &values}, playwright.LocatorSelectOptionOptions{
		Timeout:     millis(p.timeout),
		NoWaitAfter: playwright.Bool(true),
	})
	return err
}
