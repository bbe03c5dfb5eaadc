package tracker

import "errors"

var (
	// ErrNoNodeForEvent is returned when an event type matches no node of the
	// resolved workflow graph.
	ErrNoNodeForEvent = errors.New("no graph node matches event type")

	// ErrUnknownCorrelation is returned by lookups for correlations the
	// tracker has never seen.
	ErrUnknownCorrelation = errors.New("unknown correlation")
)

func IsNoNodeForEvent(err error) bool { return errors.Is(err, ErrNoNodeForEvent) }

func IsUnknownCorrelation(err error) bool { return errors.Is(err, ErrUnknownCorrelation) }
