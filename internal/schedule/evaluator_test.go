package schedule

import (
	"errors"
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func newUTCEvaluator() *Evaluator { return NewEvaluator(time.UTC) }

func TestIsDueExactMatch(t *testing.T) {
	e := newUTCEvaluator()
	last := mustTime(t, "2018-06-06T20:20:00")
	now := mustTime(t, "2018-06-06T20:30:00")
	due, err := e.IsDue("30 * * * *", &last, now)
	if err != nil || !due {
		t.Fatalf("expected due, got %v err=%v", due, err)
	}
}

func TestIsDueNextNotReached(t *testing.T) {
	e := newUTCEvaluator()
	last := mustTime(t, "2018-06-06T20:20:20")
	now := last.Add(2 * time.Minute)
	due, err := e.IsDue("0 1 * * *", &last, now)
	if err != nil || due {
		t.Fatalf("expected not due, got %v err=%v", due, err)
	}
}

func TestIsDueNextPassed(t *testing.T) {
	e := newUTCEvaluator()
	last := mustTime(t, "2018-06-06T20:20:20")
	now := last.Add(time.Hour)
	due, err := e.IsDue("30 * * * *", &last, now)
	if err != nil || !due {
		t.Fatalf("expected due, got %v err=%v", due, err)
	}
}

func TestIsDueDaily(t *testing.T) {
	e := newUTCEvaluator()
	last := mustTime(t, "2018-06-05T20:20:00")
	now := mustTime(t, "2018-06-06T20:20:00")
	due, err := e.IsDue("0 0 * * *", &last, now)
	if err != nil || !due {
		t.Fatalf("expected due, got %v err=%v", due, err)
	}
}

func TestIsDueWithoutLastHarvested(t *testing.T) {
	e := newUTCEvaluator()

	due, err := e.IsDue("30 * * * *", nil, mustTime(t, "2018-06-06T20:30:00"))
	if err != nil || !due {
		t.Fatalf("expected due on matching minute, got %v err=%v", due, err)
	}
	due, err = e.IsDue("30 * * * *", nil, mustTime(t, "2018-06-06T20:20:00"))
	if err != nil || due {
		t.Fatalf("expected not due on non-matching minute, got %v err=%v", due, err)
	}
}

func TestIsDueIgnoresSeconds(t *testing.T) {
	e := newUTCEvaluator()
	due, err := e.IsDue("30 * * * *", nil, mustTime(t, "2018-06-06T20:30:59"))
	if err != nil || !due {
		t.Fatalf("expected due within the matching minute, got %v err=%v", due, err)
	}
}

func TestIsDueInvalidExpression(t *testing.T) {
	e := newUTCEvaluator()
	if _, err := e.IsDue("* 12 X 13 *", nil, time.Now()); !errors.Is(err, ErrInvalidExpression) {
		t.Fatalf("expected ErrInvalidExpression, got %v", err)
	}
}

func TestIsDueUnresolvableSchedule(t *testing.T) {
	e := newUTCEvaluator()
	last := mustTime(t, "2018-06-06T20:20:00")
	// 30 February never occurs
	if _, err := e.IsDue("0 0 30 2 *", &last, last.Add(time.Hour)); !errors.Is(err, ErrScheduleResolution) {
		t.Fatalf("expected ErrScheduleResolution, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	e := newUTCEvaluator()
	if e.Validate("* 12 X 13 *") {
		t.Fatalf("expected invalid expression")
	}
	if !e.Validate("* 23 31 1 3") {
		t.Fatalf("expected valid expression")
	}
}

func TestIsDueMatchingMinuteIgnoresLastHarvest(t *testing.T) {
	e := newUTCEvaluator()
	last := mustTime(t, "2018-06-06T20:30:05")
	now := mustTime(t, "2018-06-06T20:30:25")
	due, err := e.IsDue("30 * * * *", &last, now)
	if err != nil || !due {
		t.Fatalf("expected due whenever the minute matches, got %v err=%v", due, err)
	}
}
