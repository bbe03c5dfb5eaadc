package models

import (
	"fmt"
	"strings"
	"time"
)

// ParseDeadlineOfDay parses a UTC time-of-day in "HH:MM", "HH:MMZ" or
// "HH:MM:SSZ" form, returning the offset from midnight.
func ParseDeadlineOfDay(raw string) (time.Duration, error) {
	value := strings.TrimSuffix(strings.TrimSpace(raw), "Z")

	var parsed time.Time

	var err error

	switch strings.Count(value, ":") {
	case 1:
		parsed, err = time.Parse("15:04", value)
	case 2:
		parsed, err = time.Parse("15:04:05", value)
	default:
		return 0, fmt.Errorf("invalid time-of-day %q", raw)
	}

	if err != nil {
		return 0, fmt.Errorf("invalid time-of-day %q: %w", raw, err)
	}

	return time.Duration(parsed.Hour())*time.Hour +
		time.Duration(parsed.Minute())*time.Minute +
		time.Duration(parsed.Second())*time.Second, nil
}

// DueAt computes the deadline for an expectation created at eventTime.
// Relative latency adds onto the event time. An absolute deadline is that
// day's UTC time-of-day; reaching the node after it yields a dueAt already in
// the past, which the scheduler fires immediately as a breach. When both are
// set the earlier-firing deadline governs.
func (e *GraphEdge) DueAt(eventTime time.Time) time.Time {
	eventTime = eventTime.UTC()

	var relative, absolute time.Time

	if e.MaxLatencySec > 0 {
		relative = eventTime.Add(time.Duration(e.MaxLatencySec) * time.Second)
	}

	if e.AbsoluteDeadline != "" {
		if offset, err := ParseDeadlineOfDay(e.AbsoluteDeadline); err == nil {
			absolute = eventTime.Truncate(24 * time.Hour).Add(offset)
		}
	}

	switch {
	case relative.IsZero() && absolute.IsZero():
		return eventTime
	case relative.IsZero():
		return absolute
	case absolute.IsZero():
		return relative
	case absolute.Before(relative):
		return absolute
	default:
		return relative
	}
}
