// Package alerting converts breach signals into deduplicated, stateful alerts
// with operator-driven ack/suppress/resolve transitions.
package alerting

import "errors"

var (
	// ErrAlertNotFound indicates no alert exists for the given id.
	ErrAlertNotFound = errors.New("alert not found")
)

// IsAlertNotFound checks if an error indicates a missing alert.
func IsAlertNotFound(err error) bool {
	return errors.Is(err, ErrAlertNotFound)
}
