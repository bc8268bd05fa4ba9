package domain

import (
	"fmt"
	"time"
)

const periodLayout = "2006-01"

// Period is a UTC calendar month keyed YYYY-MM.
type Period string

func PeriodOf(t time.Time) Period {
	return Period(t.UTC().Format(periodLayout))
}

func ParsePeriod(raw string) (Period, error) {
	t, err := time.Parse(periodLayout, raw)
	if err != nil {
		return "", fmt.Errorf("invalid period %q: %w", raw, err)
	}
	return PeriodOf(t), nil
}

func (p Period) String() string { return string(p) }

func (p Period) Start() time.Time {
	t, err := time.Parse(periodLayout, string(p))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// ResetsAt is the first instant of the following month.
func (p Period) ResetsAt() time.Time {
	start := p.Start()
	if start.IsZero() {
		return start
	}
	return start.AddDate(0, 1, 0)
}
