package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderAxtree(t *testing.T) {
	raw := []any{
		map[string]any{"index": float64(1), "tag": "button", "text": "Sign in", "attrs": map[string]any{"type": "submit"}},
		map[string]any{"index": float64(2), "tag": "input", "text": "", "attrs": map[string]any{"name": "email", "placeholder": "Email"}},
		"garbage",
	}

	nodes := parseAxNodes(raw)

	assert.Len(t, nodes, 2)
	assert.Equal(t,
		"[1]<button type=\"submit\">Sign in</button>\n"+
			"[2]<input name=\"email\" placeholder=\"Email\"></input>\n",
		renderAxtree(nodes))
	assert.Nil(t, parseAxNodes("not a list"))
	assert.Equal(t, `[data-bf-index="7"]`, indexSelector(7))
}
