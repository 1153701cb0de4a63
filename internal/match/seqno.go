package match

import (
	"errors"
	"strconv"
	"strings"

	"harvester/internal/cut"
)

// SeqnoMatcher decides whether a filename carries a sequence number newer
// than the last one harvested for the source.
type SeqnoMatcher struct {
	rule string
	last *int
}

// NewSeqnoMatcher binds an extraction rule and the source's stored seqno.
func NewSeqnoMatcher(rule string, last *int) *SeqnoMatcher {
	return &SeqnoMatcher{rule: rule, last: last}
}

// Match returns whether filename should be fetched and the sequence number
// extracted from it, if any. Any doubt about the number yields false.
func (m *SeqnoMatcher) Match(filename string) (bool, *int) {
	c, err := cut.New(m.rule)
	switch {
	case errors.Is(err, cut.ErrInvalidExpression):
		return true, nil
	case err != nil:
		return false, nil
	}

	extracted, err := c.Apply(strings.TrimSpace(filename))
	if err != nil {
		return false, nil
	}
	n, err := strconv.Atoi(extracted)
	if err != nil {
		return false, nil
	}
	if m.last == nil || n > *m.last {
		return true, &n
	}
	return false, &n
}
