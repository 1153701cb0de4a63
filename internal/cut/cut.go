// Package cut extracts characters from a string using 1-indexed ranges in
// the style of cut(1): "N", "N-", "N-M" and "-M", separated by commas.
package cut

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// span is a half-open rune interval; to < 0 means end of input.
type span struct {
	from int
	to   int
}

// Cut is a compiled field expression.
type Cut struct {
	expr  string
	spans []span
}

// New compiles expr. Whitespace anywhere in the expression is ignored.
func New(expr string) (*Cut, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, expr)
	if compact == "" {
		return nil, ErrInvalidExpression
	}

	parts := strings.Split(compact, ",")
	spans := make([]span, 0, len(parts))
	for _, part := range parts {
		s, err := parseSpan(part)
		if err != nil {
			return nil, err
		}
		spans = append(spans, s)
	}
	return &Cut{expr: compact, spans: spans}, nil
}

func parseSpan(part string) (span, error) {
	from, to, isRange := strings.Cut(part, "-")
	if !isRange {
		n, err := parseBound(part)
		if err != nil {
			return span{}, err
		}
		return span{from: n - 1, to: n}, nil
	}

	s := span{from: 0, to: -1}
	if from != "" {
		n, err := parseBound(from)
		if err != nil {
			return span{}, err
		}
		s.from = n - 1
	}
	if to != "" {
		n, err := parseBound(to)
		if err != nil {
			return span{}, err
		}
		s.to = n
	}
	return s, nil
}

func parseBound(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedRange, s)
	}
	return n, nil
}

// Apply concatenates the characters selected by every range, in order.
func (c *Cut) Apply(s string) (string, error) {
	runes := []rune(s)
	var b strings.Builder
	for _, sp := range c.spans {
		to := sp.to
		if to < 0 {
			to = len(runes)
		}
		if sp.from < 0 || to > len(runes) || sp.from > to {
			return "", fmt.Errorf("%w: %q applied to %q", ErrOutOfBounds, c.expr, s)
		}
		b.WriteString(string(runes[sp.from:to]))
	}
	return b.String(), nil
}

func (c *Cut) String() string { return c.expr }
