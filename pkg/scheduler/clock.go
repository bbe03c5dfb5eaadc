package scheduler

import "time"

// Clock abstracts time so deadline behavior is testable without sleeping.
type Clock interface {
	Now() time.Time
	// After returns a channel that delivers once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock in UTC.
func RealClock() Clock { return realClock{} }
