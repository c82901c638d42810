package vars

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/security"
)

var (
	// literalRe matches a fully indexed placeholder such as {tickers[2]}.
	literalRe    = regexp.MustCompile(`\{([A-Za-z_]\w*)\[(\d+)\]\}`)
	unresolvedRe = regexp.MustCompile(`^\{[A-Za-z_]\w*\[\d+\]\}$`)
)

// Table is the set of values visible to substitution for one step.
type Table struct {
	Input     map[string][]string
	Secure    map[string][]automation.SecureParameter
	Generated map[string][]string
}

// ConfigError reports a problem with the automation or its bindings that no
// amount of retrying can fix.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

// NewConfigError formats a *ConfigError.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsUnresolvedPlaceholder reports whether s is nothing but a placeholder that
// no namespace could fill.
func IsUnresolvedPlaceholder(s string) bool {
	return unresolvedRe.MatchString(strings.TrimSpace(s))
}

// Resolver performs placeholder substitution. Secure values are fetched from
// Vault or derived through TOTP each time an occurrence is replaced and are
// registered with Redactor before they leave this package.
type Resolver struct {
	Vault    Vault
	TOTP     TOTP
	Redactor *security.Redactor
	Now      func() time.Time
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Substitute rewrites every string field of node in place. The input
// namespace is applied first, then secure, then generated. Placeholders for
// names absent from all three are left as they are.
func (r *Resolver) Substitute(ctx context.Context, node *automation.ActionNode, table Table) error {
	var firstErr error
	node.RewriteStrings(func(s string) string {
		if firstErr != nil {
			return s
		}
		out, err := r.SubstituteString(ctx, s, table)
		if err != nil {
			firstErr = err
			return s
		}
		return out
	})
	return firstErr
}

// SubstituteString applies the three passes to a single string.
func (r *Resolver) SubstituteString(ctx context.Context, s string, table Table) (string, error) {
	if !strings.Contains(s, "{") {
		return s, nil
	}
	out, err := replaceLiterals(s, func(name string, idx int) (string, bool, error) {
		vals, ok := table.Input[name]
		if !ok {
			return "", false, nil
		}
		return pick(name, vals, idx)
	})
	if err != nil {
		return s, err
	}
	out, err = replaceLiterals(out, func(name string, idx int) (string, bool, error) {
		params, ok := table.Secure[name]
		if !ok {
			return "", false, nil
		}
		if idx >= len(params) {
			return "", false, NewConfigError("index %d out of range for secure parameter %q with %d value(s)", idx, name, len(params))
		}
		v, err := r.resolveSecure(ctx, name, params[idx])
		if err != nil {
			return "", false, err
		}
		return v, true, nil
	})
	if err != nil {
		return s, err
	}
	out, err = replaceLiterals(out, func(name string, idx int) (string, bool, error) {
		vals, ok := table.Generated[name]
		if !ok {
			return "", false, nil
		}
		return pick(name, vals, idx)
	})
	if err != nil {
		return s, err
	}
	return out, nil
}

func pick(name string, vals []string, idx int) (string, bool, error) {
	if idx >= len(vals) {
		return "", false, NewConfigError("index %d out of range for %q with %d value(s)", idx, name, len(vals))
	}
	return vals[idx], true, nil
}

// replaceLiterals substitutes every {name[i]} for which lookup reports a value.
func replaceLiterals(s string, lookup func(name string, idx int) (string, bool, error)) (string, error) {
	var firstErr error
	out := literalRe.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		m := literalRe.FindStringSubmatch(match)
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			firstErr = NewConfigError("invalid index in %q", match)
			return match
		}
		v, ok, err := lookup(m[1], idx)
		if err != nil {
			firstErr = err
			return match
		}
		if !ok {
			return match
		}
		return v
	})
	if firstErr != nil {
		return s, firstErr
	}
	return out, nil
}

// BindLoopIndex rewrites the loop-relative forms {name[index]} and
// {index_of(name)} into their literal equivalents for iteration i.
func BindLoopIndex(s, name string, i int) string {
	if !strings.Contains(s, name) {
		return s
	}
	idx := strconv.Itoa(i)
	s = strings.ReplaceAll(s, "{"+name+"[index]}", "{"+name+"["+idx+"]}")
	return strings.ReplaceAll(s, "{index_of("+name+")}", idx)
}
