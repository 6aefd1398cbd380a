// Package routing maps tool names to backend servers using ordered,
// glob-based routing rules.
//
// Patterns support two wildcards: '*' matches any run of characters
// (including the empty run) and '?' matches exactly one character. All other
// characters match literally. Matching is whole-string — "a_*" matches
// "a_ping" but not "xa_ping".
//
// Typical usage:
//
//	r, err := routing.NewRouter([]routing.Rule{
//	    {Pattern: "search_*", Server: "search"},
//	    {Pattern: "*", Server: "fallback"},
//	})
//	server, ok := r.Resolve("search_web") // "search", true
package routing

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher is a compiled glob pattern with whole-string semantics.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// CompileGlob compiles pattern into a [Matcher]. The pattern is anchored at
// both ends; regex metacharacters in the pattern are matched literally.
// There are no character classes and no escape sequences.
func CompileGlob(pattern string) (*Matcher, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("routing: compile pattern %q: %w", pattern, err)
	}
	return &Matcher{pattern: pattern, re: re}, nil
}

// Match reports whether name matches the whole pattern.
func (m *Matcher) Match(name string) bool {
	return m.re.MatchString(name)
}

// Pattern returns the original glob pattern.
func (m *Matcher) Pattern() string {
	return m.pattern
}
