package browser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Call is one link of a locator chain such as get_by_role("button",
// name="Save") or nth(2). Properties like .first parse as calls without
// arguments.
type Call struct {
	Method string
	Args   []any
	Kwargs map[string]any
}

func (c Call) stringArg(i int) (string, error) {
	if i >= len(c.Args) {
		return "", fmt.Errorf("%s: missing argument %d", c.Method, i+1)
	}
	s, ok := c.Args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d must be a string", c.Method, i+1)
	}
	return s, nil
}

func (c Call) kwBool(name string) *bool {
	if b, ok := c.Kwargs[name].(bool); ok {
		return &b
	}
	return nil
}

var chainMethods = map[string]bool{
	"locator":            true,
	"get_by_role":        true,
	"get_by_text":        true,
	"get_by_label":       true,
	"get_by_placeholder": true,
	"get_by_test_id":     true,
	"get_by_title":       true,
	"get_by_alt_text":    true,
	"nth":                true,
	"first":              true,
	"last":               true,
	"filter":             true,
}

// ParseCommand parses a locator command recorded as a chain of Playwright
// calls, for example get_by_role("link", name="Report").first. A leading
// "page." is ignored. Anything that does not start with a known call is
// taken as a plain selector.
func ParseCommand(command string) ([]Call, error) {
	s := strings.TrimSpace(command)
	s = strings.TrimPrefix(s, "page.")
	if s == "" {
		return nil, fmt.Errorf("empty command")
	}
	if !startsWithCall(s) {
		return []Call{{Method: "locator", Args: []any{s}}}, nil
	}

	p := &commandParser{src: []rune(s)}
	var calls []Call
	for {
		c, err := p.call()
		if err != nil {
			return nil, fmt.Errorf("parsing command %q: %w", command, err)
		}
		calls = append(calls, c)
		p.skipSpace()
		if p.eof() {
			return calls, nil
		}
		if !p.consume('.') {
			return nil, fmt.Errorf("parsing command %q: unexpected %q at %d", command, p.peek(), p.pos)
		}
	}
}

func startsWithCall(s string) bool {
	i := strings.IndexAny(s, "(.")
	if i <= 0 {
		return false
	}
	return chainMethods[s[:i]]
}

type commandParser struct {
	src []rune
	pos int
}

func (p *commandParser) eof() bool { return p.pos >= len(p.src) }

func (p *commandParser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *commandParser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.peek()) {
		p.pos++
	}
}

func (p *commandParser) consume(r rune) bool {
	p.skipSpace()
	if p.peek() == r {
		p.pos++
		return true
	}
	return false
}

func (p *commandParser) ident() string {
	p.skipSpace()
	start := p.pos
	for !p.eof() {
		r := p.peek()
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		p.pos++
	}
	return string(p.src[start:p.pos])
}

func (p *commandParser) call() (Call, error) {
	name := p.ident()
	if name == "" {
		return Call{}, fmt.Errorf("expected method name at %d", p.pos)
	}
	if !chainMethods[name] {
		return Call{}, fmt.Errorf("unsupported method %q", name)
	}
	c := Call{Method: name, Kwargs: map[string]any{}}
	if !p.consume('(') {
		if name != "first" && name != "last" {
			return Call{}, fmt.Errorf("%s needs arguments", name)
		}
		return c, nil
	}
	if p.consume(')') {
		return c, nil
	}
	for {
		if err := p.argument(&c); err != nil {
			return Call{}, err
		}
		if p.consume(')') {
			return c, nil
		}
		if !p.consume(',') {
			return Call{}, fmt.Errorf("expected ',' or ')' at %d", p.pos)
		}
		// trailing comma
		if p.consume(')') {
			return c, nil
		}
	}
}

func (p *commandParser) argument(c *Call) error {
	p.skipSpace()
	save := p.pos
	if name := p.ident(); name != "" && p.consume('=') {
		v, err := p.value()
		if err != nil {
			return err
		}
		c.Kwargs[name] = v
		return nil
	}
	p.pos = save
	if len(c.Kwargs) > 0 {
		return fmt.Errorf("positional argument after keyword argument at %d", p.pos)
	}
	v, err := p.value()
	if err != nil {
		return err
	}
	c.Args = append(c.Args, v)
	return nil
}

func (p *commandParser) value() (any, error) {
	p.skipSpace()
	switch r := p.peek(); {
	case r == '"' || r == '\'':
		return p.str()
	case r == '-' || unicode.IsDigit(r):
		start := p.pos
		p.pos++
		for !p.eof() && unicode.IsDigit(p.peek()) {
			p.pos++
		}
		return strconv.Atoi(string(p.src[start:p.pos]))
	default:
		switch word := p.ident(); word {
		case "True":
			return true, nil
		case "False":
			return false, nil
		case "":
			return nil, fmt.Errorf("expected value at %d", p.pos)
		default:
			return nil, fmt.Errorf("unsupported value %q", word)
		}
	}
}

func (p *commandParser) str() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for !p.eof() {
		r := p.src[p.pos]
		p.pos++
		switch {
		case r == quote:
			return b.String(), nil
		case r == '\\' && !p.eof():
			next := p.src[p.pos]
			p.pos++
			switch next {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(next)
			}
		default:
			b.WriteRune(r)
		}
	}
	return "", fmt.Errorf("unterminated string")
}
