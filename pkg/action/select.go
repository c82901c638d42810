package action

import (
	"context"
	"regexp"
	"strings"

	"github.com/arnavsurve/stepwright/pkg/browser"
	"github.com/arnavsurve/stepwright/pkg/inference"
)

// MatchOptions resolves select patterns to option values. Cheap local
// matching is tried first; matcher is only consulted for patterns nothing
// local could place, and only values that exist are kept from its answer. If
// nothing matches at all the raw patterns are returned.
func MatchOptions(ctx context.Context, options []browser.Option, patterns []string, matcher inference.OptionMatcher) []string {
	switch {
	case len(options) == 0:
		return []string{}
	case len(options) == 1:
		return []string{options[0].Value}
	case len(options) == 2 && isPlaceholderOption(options[0]):
		return []string{options[1].Value}
	case len(options) == 2 && isPlaceholderOption(options[1]):
		return []string{options[0].Value}
	}

	var matched, unmatched []string
	for _, p := range patterns {
		if vals := matchPattern(options, p); len(vals) > 0 {
			matched = append(matched, vals...)
			continue
		}
		unmatched = append(unmatched, p)
	}

	if len(unmatched) > 0 && matcher != nil {
		answer, err := matcher.Match(ctx, options, unmatched)
		if err == nil {
			for _, v := range answer {
				if hasValue(options, v) {
					matched = append(matched, v)
				}
			}
		}
	}

	if len(matched) == 0 {
		return patterns
	}
	return matched
}

func matchPattern(options []browser.Option, p string) []string {
	if isRegexPattern(p) {
		re, err := regexp.Compile(p)
		if err == nil {
			var out []string
			for _, o := range options {
				if re.MatchString(o.Value) || re.MatchString(o.Label) {
					out = append(out, o.Value)
				}
			}
			return out
		}
	}

	var out []string
	for _, o := range options {
		if o.Value == p || o.Label == p {
			out = append(out, o.Value)
		}
	}
	if len(out) > 0 {
		return out
	}

	if v, ok := bestScore(options, p, func(o browser.Option) string { return o.Value }); ok {
		return []string{v}
	}
	if v, ok := bestScore(options, p, func(o browser.Option) string { return o.Label }); ok {
		return []string{v}
	}
	return nil
}

func isRegexPattern(p string) bool {
	return strings.HasPrefix(p, "^") || strings.HasSuffix(p, "$") || strings.Contains(p, ".*")
}

// bestScore compares the normalized pattern against the field chosen by key.
// It gives up when normalization makes two options indistinguishable.
func bestScore(options []browser.Option, p string, key func(browser.Option) string) (string, bool) {
	seen := map[string]bool{}
	for _, o := range options {
		n := normalize(key(o))
		if seen[n] {
			return "", false
		}
		seen[n] = true
	}

	np := normalize(p)
	best, bestValue := 0, ""
	for _, o := range options {
		if s := score(np, normalize(key(o))); s > best {
			best, bestValue = s, o.Value
		}
	}
	return bestValue, best > 0
}

func normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", ""))
}

func score(pattern, candidate string) int {
	switch {
	case pattern == "":
		return 0
	case pattern == candidate:
		return 100
	case strings.HasPrefix(candidate, pattern):
		return 80
	case strings.Contains(candidate, pattern):
		return 60
	default:
		return 0
	}
}

func isPlaceholderOption(o browser.Option) bool {
	for _, s := range []string{o.Value, o.Label} {
		n := strings.Trim(normalize(s), "-")
		if n == "selectone" || n == "select" || n == "pleaseselect" {
			return true
		}
	}
	return false
}

func hasValue(options []browser.Option, v string) bool {
	for _, o := range options {
		if o.Value == v {
			return true
		}
	}
	return false
}
