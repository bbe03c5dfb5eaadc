// Package services builds the operator-facing read models on top of the
// tracker, aggregator and alert engine.
package services

import "errors"

var (
	ErrItemNotFound = errors.New("correlation not found")
)

func IsItemNotFound(err error) bool { return errors.Is(err, ErrItemNotFound) }
