package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobMatches(t *testing.T) {
	g, err := NewGlob("spongebob*-1.j?g")
	require.NoError(t, err)

	assert.True(t, g.Matches("spongebob-squarepants-1.jpg"))
	assert.False(t, g.Matches("spongebob-squarepants-1.jg"))
	assert.False(t, g.Matches("prefix-spongebob-1.jpg"), "match must cover the whole name")
}

func TestGlobLiteralDot(t *testing.T) {
	g, err := NewGlob("data.xml")
	require.NoError(t, err)

	assert.True(t, g.Matches("data.xml"))
	assert.False(t, g.Matches("dataxxml"))
}

func TestGlobEscapesRegexMetacharacters(t *testing.T) {
	g, err := NewGlob("report(1)+[a].csv")
	require.NoError(t, err)

	assert.True(t, g.Matches("report(1)+[a].csv"))
	assert.False(t, g.Matches("report1a.csv"))
}

func TestEmptyGlobMatchesEverything(t *testing.T) {
	g, err := NewGlob("")
	require.NoError(t, err)
	assert.True(t, g.Matches("anything.at.all"))
	assert.True(t, g.Matches(""))

	var nilGlob *Glob
	assert.True(t, nilGlob.Matches("x"))
}
