/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limits

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/vasayxtx/go-glob"
)

// PatternKind is the matching mode of an endpoint pattern.
type PatternKind int

// Pattern kinds ordered by specificity.
const (
	PatternExact PatternKind = iota
	PatternGlob
	PatternRegexp
)

// Pattern is a parsed endpoint pattern.
type Pattern struct {
	Raw  string
	Kind PatternKind
	// Path is the normalized path for exact and glob patterns.
	Path   string
	Regexp *regexp.Regexp

	match    func(string) bool
	literals int
}

// ParsePattern parses string representation of an endpoint pattern.
// Syntax: [ = | ~ ] urlPath. A path containing "*" without a modifier is a glob.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pattern{}, fmt.Errorf("pattern is missing")
	}
	switch {
	case strings.HasPrefix(s, "="):
		p := strings.TrimSpace(s[1:])
		if !strings.HasPrefix(p, "/") {
			return Pattern{}, fmt.Errorf("path should be started with \"/\" in case of exact matching")
		}
		return Pattern{Raw: s, Kind: PatternExact, Path: NormalizePath(p), literals: len(p)}, nil

	case strings.HasPrefix(s, "~"):
		p := strings.TrimSpace(s[1:])
		if p == "" {
			return Pattern{}, fmt.Errorf("regular expression is missing")
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return Pattern{}, err
		}
		return Pattern{Raw: s, Kind: PatternRegexp, Regexp: re, match: re.MatchString}, nil
	}

	if !strings.HasPrefix(s, "/") {
		return Pattern{}, fmt.Errorf("path should be started with \"/\"")
	}
	p := NormalizePath(s)
	if !strings.Contains(p, "*") {
		return Pattern{Raw: s, Kind: PatternExact, Path: p, literals: len(p)}, nil
	}
	return Pattern{
		Raw:      s,
		Kind:     PatternGlob,
		Path:     p,
		match:    glob.Compile(p),
		literals: len(p) - strings.Count(p, "*"),
	}, nil
}

// Match reports whether the normalized path matches the pattern.
func (p *Pattern) Match(normalizedPath string) bool {
	if p.Kind == PatternExact {
		return p.Path == normalizedPath
	}
	return p.match(normalizedPath)
}

type compiledRule struct {
	rule      EndpointRule
	pattern   Pattern
	anyMethod bool
}

// EndpointMatcher finds the most specific active rule for a request.
// Exact patterns win over globs, globs with more literal characters win over shorter ones,
// regular expressions come last. Ties go to the higher priority, then to the method-specific rule,
// then to the smallest ID.
type EndpointMatcher struct {
	exact   map[string][]compiledRule
	ordered []compiledRule
}

// NewEndpointMatcher compiles active rules. Rules with unparsable patterns are skipped and reported.
func NewEndpointMatcher(rules []EndpointRule) (*EndpointMatcher, []error) {
	m := &EndpointMatcher{exact: make(map[string][]compiledRule)}
	var errs []error
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		pattern, err := ParsePattern(rule.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("endpoint rule %q: %w", rule.ID, err))
			continue
		}
		rule.Method = strings.ToUpper(strings.TrimSpace(rule.Method))
		cr := compiledRule{rule: rule, pattern: pattern, anyMethod: rule.Method == "" || rule.Method == "*"}
		if pattern.Kind == PatternExact {
			m.exact[pattern.Path] = append(m.exact[pattern.Path], cr)
			continue
		}
		m.ordered = append(m.ordered, cr)
	}

	for p := range m.exact {
		sortRules(m.exact[p])
	}
	sortRules(m.ordered)
	return m, errs
}

func sortRules(rules []compiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := &rules[i], &rules[j]
		if a.pattern.Kind != b.pattern.Kind {
			return a.pattern.Kind < b.pattern.Kind
		}
		if a.pattern.literals != b.pattern.literals {
			return a.pattern.literals > b.pattern.literals
		}
		if a.rule.Priority != b.rule.Priority {
			return a.rule.Priority > b.rule.Priority
		}
		if a.anyMethod != b.anyMethod {
			return !a.anyMethod
		}
		return a.rule.ID < b.rule.ID
	})
}

// Match returns the most specific rule matching the endpoint.
func (m *EndpointMatcher) Match(ep Endpoint) (EndpointRule, bool) {
	methodMatches := func(cr *compiledRule) bool {
		return cr.anyMethod || cr.rule.Method == ep.Method
	}
	if rules, ok := m.exact[ep.Path]; ok {
		for i := range rules {
			if methodMatches(&rules[i]) {
				return rules[i].rule, true
			}
		}
	}
	for i := range m.ordered {
		if methodMatches(&m.ordered[i]) && m.ordered[i].pattern.Match(ep.Path) {
			return m.ordered[i].rule, true
		}
	}
	return EndpointRule{}, false
}

// Len returns the number of compiled rules.
func (m *EndpointMatcher) Len() int {
	n := len(m.ordered)
	for _, rules := range m.exact {
		n += len(rules)
	}
	return n
}
