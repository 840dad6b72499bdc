package ratelimit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Rule caps requests matching Pattern at Limit per trailing Window.
// Construct with [NewRule]; the zero Rule matches nothing and admits nothing.
type Rule struct {
	Pattern string
	Limit   int
	Window  time.Duration

	re *regexp.Regexp
}

// NewRule compiles pattern, anchored at the start of the path. Limit must be
// positive and Window a positive whole number of seconds.
func NewRule(pattern string, limit int, window time.Duration) (Rule, error) {
	if limit <= 0 {
		return Rule{}, fmt.Errorf("ratelimit: rule %q: limit must be positive, got %d", pattern, limit)
	}
	if window < time.Second || window%time.Second != 0 {
		return Rule{}, fmt.Errorf("ratelimit: rule %q: window must be a positive whole number of seconds, got %v", pattern, window)
	}
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return Rule{}, fmt.Errorf("ratelimit: rule %q: %w", pattern, err)
	}
	return Rule{Pattern: pattern, Limit: limit, Window: window, re: re}, nil
}

// Matches reports whether path matches the rule's pattern.
func (r Rule) Matches(path string) bool {
	return r.re != nil && r.re.MatchString(path)
}

// WindowSeconds is the window in whole seconds, as used in counter keys.
func (r Rule) WindowSeconds() int64 {
	return int64(r.Window / time.Second)
}

// String renders r in the same pattern=limit/window form that [Rules]
// decodes.
func (r Rule) String() string {
	return fmt.Sprintf("%s=%d/%s", r.Pattern, r.Limit, r.Window)
}

// Rules is an ordered rule list that decodes from a single config value:
//
//	^/api/v1/search=20/10s;^/api/v1/films=60/1m
//
// Items are separated by ";". The window is a Go duration or a bare number
// of seconds.
type Rules []Rule

// UnmarshalText implements encoding.TextUnmarshaler.
func (rs *Rules) UnmarshalText(text []byte) error {
	var out Rules
	for _, item := range strings.Split(string(text), ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		eq := strings.LastIndex(item, "=")
		if eq <= 0 {
			return fmt.Errorf("ratelimit: rule %q: want pattern=limit/window", item)
		}
		pattern, spec := item[:eq], item[eq+1:]
		limitText, windowText, ok := strings.Cut(spec, "/")
		if !ok {
			return fmt.Errorf("ratelimit: rule %q: want pattern=limit/window", item)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(limitText))
		if err != nil {
			return fmt.Errorf("ratelimit: rule %q: bad limit: %w", item, err)
		}
		window, err := parseWindow(strings.TrimSpace(windowText))
		if err != nil {
			return fmt.Errorf("ratelimit: rule %q: bad window: %w", item, err)
		}
		rule, err := NewRule(pattern, limit, window)
		if err != nil {
			return err
		}
		out = append(out, rule)
	}
	*rs = out
	return nil
}

// MarshalText renders the rules in the form UnmarshalText accepts.
func (rs Rules) MarshalText() ([]byte, error) {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = fmt.Sprintf("%s=%d/%ds", r.Pattern, r.Limit, r.WindowSeconds())
	}
	return []byte(strings.Join(parts, ";")), nil
}

func parseWindow(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// RuleSet selects exactly one rule per path. It is immutable after
// construction and safe for concurrent use.
type RuleSet struct {
	rules    []Rule
	fallback Rule
}

// NewRuleSet returns a set that tries rules in order and falls back to a
// catch-all rule built from defaultLimit and defaultWindow.
func NewRuleSet(rules []Rule, defaultLimit int, defaultWindow time.Duration) (*RuleSet, error) {
	fallback, err := NewRule(".*", defaultLimit, defaultWindow)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: default rule: %w", err)
	}
	for i, r := range rules {
		if r.re == nil {
			return nil, fmt.Errorf("ratelimit: rule %d (%q) was not built with NewRule", i, r.Pattern)
		}
	}
	return &RuleSet{rules: append([]Rule(nil), rules...), fallback: fallback}, nil
}

// Pick returns the first rule whose pattern matches path, or the default.
func (s *RuleSet) Pick(path string) Rule {
	for _, r := range s.rules {
		if r.Matches(path) {
			return r
		}
	}
	return s.fallback
}

// Default returns the catch-all rule.
func (s *RuleSet) Default() Rule {
	return s.fallback
}
