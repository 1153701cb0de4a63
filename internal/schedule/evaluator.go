// Package schedule decides whether a source is due for harvesting.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Evaluator evaluates five-field cron expressions in a single location.
// Both the stored last-harvested instant and "now" are read in that
// location, so they must have been produced under the same zone.
type Evaluator struct {
	parser cron.Parser
	loc    *time.Location
}

// NewEvaluator returns an evaluator for loc; nil means the host's local zone.
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return &Evaluator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		loc:    loc,
	}
}

func (e *Evaluator) parse(expr string) (cron.Schedule, error) {
	sched, err := e.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, err) //nolint:errorlint // parser error is informational
	}
	return sched, nil
}

// Validate reports whether expr parses.
func (e *Evaluator) Validate(expr string) bool {
	_, err := e.parse(expr)
	return err == nil
}

// IsDue reports whether a source with the given schedule and last harvest
// should run at now.
//
// A schedule matching the current minute is always due. Without a previous
// harvest nothing else can be due. Otherwise the source is due once the
// first scheduled minute after lastHarvested has been reached.
func (e *Evaluator) IsDue(expr string, lastHarvested *time.Time, now time.Time) (bool, error) {
	sched, err := e.parse(expr)
	if err != nil {
		return false, err
	}
	nowMinute := e.minute(now)
	if matches(sched, nowMinute) {
		return true, nil
	}
	if lastHarvested == nil {
		return false, nil
	}
	next := sched.Next(lastHarvested.In(e.loc))
	if next.IsZero() {
		return false, fmt.Errorf("%w: %q after %s", ErrScheduleResolution, expr, lastHarvested.Format(time.RFC3339))
	}
	return !e.minute(next).After(nowMinute), nil
}

func (e *Evaluator) minute(t time.Time) time.Time {
	return t.In(e.loc).Truncate(time.Minute)
}

// matches assumes minute is already truncated.
func matches(sched cron.Schedule, minute time.Time) bool {
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}
