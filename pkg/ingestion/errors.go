package ingestion

import "errors"

var (
	// ErrInvalidEvent is returned for envelopes failing validation; producers
	// get the violation detail, never an internal error.
	ErrInvalidEvent = errors.New("invalid event envelope")

	// ErrRateLimited is returned when a source system exceeds its intake
	// budget for the current window.
	ErrRateLimited = errors.New("source system rate limited")
)

func IsInvalidEvent(err error) bool { return errors.Is(err, ErrInvalidEvent) }

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
