package archive

import (
	"context"
	"sync"

	"github.com/sentinel-flow/sentinel/pkg/models"
)

// MemoryArchive is the in-process EventArchive used for development and
// tests. Retention is capped; the oldest events fall off first.
type MemoryArchive struct {
	mu     sync.RWMutex
	seen   map[string]bool
	events []models.NormalizedEvent
	cap    int
}

const defaultMemoryCap = 10000

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		seen: make(map[string]bool),
		cap:  defaultMemoryCap,
	}
}

func (a *MemoryArchive) Save(_ context.Context, event models.NormalizedEvent) (SaveResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seen[event.EventID] {
		return SaveDuplicate, nil
	}

	a.seen[event.EventID] = true
	a.events = append(a.events, event)

	if len(a.events) > a.cap {
		evicted := a.events[0]
		a.events = a.events[1:]
		delete(a.seen, evicted.EventID)
	}

	return SaveStored, nil
}

func (a *MemoryArchive) Recent(_ context.Context, limit int) ([]models.NormalizedEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 || limit > len(a.events) {
		limit = len(a.events)
	}

	out := make([]models.NormalizedEvent, 0, limit)
	for i := len(a.events) - 1; i >= len(a.events)-limit; i-- {
		out = append(out, a.events[i])
	}

	return out, nil
}

func (a *MemoryArchive) HealthCheck(_ context.Context) error { return nil }

func (a *MemoryArchive) Close(_ context.Context) error { return nil }
