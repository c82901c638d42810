package browser

import (
	"fmt"
	"strings"
)

// IndexAttribute marks elements numbered in the last snapshot.
const IndexAttribute = "data-bf-index"

// axtreeScript numbers every visible interactive element and returns one
// entry per element. Indices are written back as IndexAttribute so that
// index based actions can find the element again.
const axtreeScript = `
(removeEmpty) => {
	document.querySelectorAll('[data-bf-index]').forEach(el => el.removeAttribute('data-bf-index'));
	const selector = [
		'a[href]', 'button', 'input', 'select', 'textarea', 'summary', 'label',
		'[role="button"]', '[role="link"]', '[role="checkbox"]', '[role="radio"]',
		'[role="tab"]', '[role="menuitem"]', '[role="option"]', '[role="combobox"]',
		'[onclick]', '[contenteditable="true"]', '[tabindex]:not([tabindex="-1"])'
	].join(',');
	const visible = el => {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		return rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
	};
	const out = [];
	let index = 0;
	document.querySelectorAll(selector).forEach(el => {
		if (!visible(el)) return;
		const text = (el.innerText || el.value || el.placeholder || el.getAttribute('aria-label') || '').trim().replace(/\s+/g, ' ');
		if (removeEmpty && !text && !['INPUT', 'SELECT', 'TEXTAREA'].includes(el.tagName)) return;
		index++;
		el.setAttribute('data-bf-index', String(index));
		const attrs = {};
		for (const name of ['type', 'name', 'role', 'aria-label', 'placeholder', 'href', 'title', 'value']) {
			const v = el.getAttribute(name);
			if (v) attrs[name] = v.slice(0, 80);
		}
		out.push({index, tag: el.tagName.toLowerCase(), text: text.slice(0, 120), attrs});
	});
	return out;
}
`

type axNode struct {
	Index int
	Tag   string
	Text  string
	Attrs map[string]string
}

// renderAxtree formats snapshot entries as "[3]<button type=submit>Go</button>"
// lines, the form the index predictor is prompted with.
func renderAxtree(nodes []axNode) string {
	var b strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&b, "[%d]<%s", n.Index, n.Tag)
		for _, k := range []string{"type", "name", "role", "aria-label", "placeholder", "href", "title", "value"} {
			if v, ok := n.Attrs[k]; ok {
				fmt.Fprintf(&b, " %s=%q", k, v)
			}
		}
		fmt.Fprintf(&b, ">%s</%s>\n", n.Text, n.Tag)
	}
	return b.String()
}

// parseAxNodes converts the script result, which arrives as generic JSON
// values.
func parseAxNodes(raw any) []axNode {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	nodes := make([]axNode, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		n := axNode{
			Index: getInt(m, "index"),
			Tag:   getString(m, "tag"),
			Text:  getString(m, "text"),
			Attrs: map[string]string{},
		}
		if attrs, ok := m["attrs"].(map[string]any); ok {
			for k, v := range attrs {
				if s, ok := v.(string); ok {
					n.Attrs[k] = s
				}
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func getString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func indexSelector(index int) string {
	return fmt.Sprintf("[%s=\"%d\"]", IndexAttribute, index)
}
