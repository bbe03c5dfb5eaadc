// Package archive persists every accepted event before it is handed to the
// engine. The archive is the ingestion idempotency barrier: storing an
// already-archived event id reports a duplicate instead of a second copy.
package archive

import (
	"context"

	"github.com/sentinel-flow/sentinel/pkg/models"
)

// SaveResult reports whether a save stored a new event or hit the
// idempotency barrier.
type SaveResult int

const (
	SaveStored SaveResult = iota
	SaveDuplicate
)

type EventArchive interface {
	// Save archives one normalized event, keyed by its event id.
	Save(ctx context.Context, event models.NormalizedEvent) (SaveResult, error)

	// Recent returns the newest archived events, most recent first.
	Recent(ctx context.Context, limit int) ([]models.NormalizedEvent, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
