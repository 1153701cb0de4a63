// Package match decides which remote filenames a source should fetch.
package match

import (
	"fmt"
	"regexp"
	"strings"
)

// Glob is a filename pattern where '*' matches any run of characters and
// '?' matches exactly one. Everything else is literal.
type Glob struct {
	pattern string
	re      *regexp.Regexp
}

// NewGlob compiles pattern. An empty pattern matches every name.
func NewGlob(pattern string) (*Glob, error) {
	if pattern == "" {
		return &Glob{}, nil
	}
	re, err := regexp.Compile("^(?:" + GlobExpr(pattern) + ")$")
	if err != nil {
		return nil, fmt.Errorf("compile glob %q: %w", pattern, err)
	}
	return &Glob{pattern: pattern, re: re}, nil
}

// GlobExpr translates a glob into an unanchored regular expression.
func GlobExpr(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// Matches reports whether the whole name matches the pattern.
func (g *Glob) Matches(name string) bool {
	if g == nil || g.re == nil {
		return true
	}
	return g.re.MatchString(name)
}

func (g *Glob) String() string { return g.pattern }
