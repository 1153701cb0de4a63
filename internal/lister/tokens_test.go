package lister

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteTokens(t *testing.T) {
	now := time.Date(2024, 5, 10, 8, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	got, err := SubstituteTokens("http://h/feed?from=${utc(24h)}&to=${utc(PT0S)}", now)
	require.NoError(t, err)
	assert.Equal(t, "http://h/feed?from=2024-05-09T06:00:00&to=2024-05-10T06:00:00", got)
}

func TestSubstituteTokensWithoutTokens(t *testing.T) {
	got, err := SubstituteTokens("http://h/plain", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "http://h/plain", got)
}

func TestSubstituteTokensInvalidDuration(t *testing.T) {
	_, err := SubstituteTokens("http://h/?from=${utc(yesterday)}", time.Now())
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"90m":     90 * time.Minute,
		"P1D":     24 * time.Hour,
		"P1W":     7 * 24 * time.Hour,
		"PT2H30M": 2*time.Hour + 30*time.Minute,
		"P1DT1S":  24*time.Hour + time.Second,
	}
	for in, want := range cases {
		d, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, d, in)
	}
	for _, bad := range []string{"P", "PT", "1D", ""} {
		_, err := parseDuration(bad)
		assert.ErrorIs(t, err, ErrInvalidToken, bad)
	}
}
