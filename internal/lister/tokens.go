package lister

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const tokenTimeLayout = "2006-01-02T15:04:05"

var (
	utcToken    = regexp.MustCompile(`\$\{utc\(([^)]+)\)\}`)
	isoDuration = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)
)

// SubstituteTokens replaces every ${utc(DURATION)} in raw with now minus
// DURATION, in UTC.
func SubstituteTokens(raw string, now time.Time) (string, error) {
	var firstErr error
	out := utcToken.ReplaceAllStringFunc(raw, func(token string) string {
		arg := utcToken.FindStringSubmatch(token)[1]
		d, err := parseDuration(arg)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return token
		}
		return now.Add(-d).UTC().Format(tokenTimeLayout)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// parseDuration accepts Go durations ("24h") and ISO-8601 ones ("P7D").
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("%w: duration %q", ErrInvalidToken, s)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("%w: duration %q", ErrInvalidToken, s)
		}
		total += time.Duration(n) * unit
	}
	return total, nil
}
