package routing

import (
	"errors"
	"fmt"
)

// ErrNoRoute is returned by [Router.Resolve] when no rule matches a tool name.
var ErrNoRoute = errors.New("no routing rule matches")

// Rule associates a glob pattern with the name of the backend server that
// handles matching tools. Rules are evaluated in list order; the first match
// wins.
type Rule struct {
	// Pattern is the glob matched against the full tool name.
	Pattern string `yaml:"pattern"`

	// Server is the backend name calls are dispatched to on match.
	Server string `yaml:"server"`
}

// Router resolves tool names to backend server names. It precompiles every
// rule pattern at construction and is safe for concurrent use afterwards;
// the rule set is immutable.
type Router struct {
	rules    []Rule
	matchers []*Matcher
}

// NewRouter compiles the ordered rule list into a [Router]. Returns an error
// if any pattern fails to compile. An empty rule list is valid; such a
// router resolves nothing.
func NewRouter(rules []Rule) (*Router, error) {
	r := &Router{
		rules:    make([]Rule, len(rules)),
		matchers: make([]*Matcher, len(rules)),
	}
	copy(r.rules, rules)

	for i, rule := range rules {
		m, err := CompileGlob(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("routing: rule %d: %w", i, err)
		}
		r.matchers[i] = m
	}
	return r, nil
}

// Resolve returns the server of the first rule whose pattern matches the
// whole tool name. The boolean result is false when no rule matches.
// Lookup cost is O(rules).
func (r *Router) Resolve(toolName string) (string, bool) {
	for i, m := range r.matchers {
		if m.Match(toolName) {
			return r.rules[i].Server, true
		}
	}
	return "", false
}

// Rules returns a copy of the router's rule list in evaluation order.
func (r *Router) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}
