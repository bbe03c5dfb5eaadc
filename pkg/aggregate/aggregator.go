// Package aggregate maintains rolling per-(workflowVersion, node, group)
// stage counters fed by tracker transition records.
package aggregate

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinel-flow/sentinel/pkg/models"
)

// BucketSize is the time resolution of aggregate rows.
const BucketSize = time.Minute

type rowKey struct {
	workflowVersionID string
	nodeKey           string
	groupHash         string
	bucketStart       time.Time
}

// row counters are atomics: many correlations touch the same row
// concurrently and the updates are commutative, so no row lock is needed.
type row struct {
	inFlight  atomic.Int64
	completed atomic.Int64
	late      atomic.Int64
	failed    atomic.Int64
}

// Aggregator applies signed counter deltas incrementally. There is no
// recomputation pass: each transition is applied exactly once by the
// ingestion pipeline's per-key lane.
type Aggregator struct {
	mu     sync.RWMutex
	rows   map[rowKey]*row
	logger *slog.Logger
}

func NewAggregator(logger *slog.Logger) *Aggregator {
	return &Aggregator{
		rows:   make(map[rowKey]*row),
		logger: logger.With("module", "stage_aggregator"),
	}
}

// OnTransition folds one transition record into the counters. Every node
// delta in the record lands in the record's receive-time bucket.
func (a *Aggregator) OnTransition(rec models.TransitionRecord) {
	bucket := rec.ReceivedAt.UTC().Truncate(BucketSize)

	for node, delta := range rec.Deltas {
		r := a.row(rec.WorkflowVersionID, node, rec.GroupHash, bucket)
		a.add(&r.inFlight, int64(delta.InFlight), "in_flight", node)
		a.add(&r.completed, int64(delta.Completed), "completed", node)
		a.add(&r.late, int64(delta.Late), "late", node)
		a.add(&r.failed, int64(delta.Failed), "failed", node)
	}
}

func (a *Aggregator) row(versionID, nodeKey, groupHash string, bucket time.Time) *row {
	key := rowKey{versionID, nodeKey, groupHash, bucket}

	a.mu.RLock()
	r, ok := a.rows[key]
	a.mu.RUnlock()

	if ok {
		return r
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok = a.rows[key]; ok {
		return r
	}

	r = &row{}
	a.rows[key] = r

	return r
}

// add applies a signed delta, clamping at zero. A counter that would go
// negative is a data-inconsistency fault: logged, clamped, never fatal.
func (a *Aggregator) add(counter *atomic.Int64, delta int64, name, node string) {
	if delta == 0 {
		return
	}

	value := counter.Add(delta)
	if value < 0 {
		counter.Store(0)
		a.logger.Warn("Aggregate counter underflow clamped to zero",
			"counter", name,
			"node", node,
			"value", value,
		)
	}
}

// Rows returns a snapshot of the aggregate rows for one workflow version,
// optionally filtered to a group, newest bucket first.
func (a *Aggregator) Rows(workflowVersionID, groupHash string) []models.StageAggregateRow {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []models.StageAggregateRow

	for key, r := range a.rows {
		if key.workflowVersionID != workflowVersionID {
			continue
		}

		if groupHash != "" && key.groupHash != groupHash {
			continue
		}

		out = append(out, a.snapshot(key, r))
	}

	sortRows(out)

	return out
}

// AllRows returns a snapshot of every aggregate row, newest bucket first,
// capped at limit (0 means no cap).
func (a *Aggregator) AllRows(limit int) []models.StageAggregateRow {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.StageAggregateRow, 0, len(a.rows))
	for key, r := range a.rows {
		out = append(out, a.snapshot(key, r))
	}

	sortRows(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

func (a *Aggregator) snapshot(key rowKey, r *row) models.StageAggregateRow {
	return models.StageAggregateRow{
		WorkflowVersionID: key.workflowVersionID,
		NodeKey:           key.nodeKey,
		GroupHash:         key.groupHash,
		BucketStart:       key.bucketStart,
		InFlight:          r.inFlight.Load(),
		Completed:         r.completed.Load(),
		Late:              r.late.Load(),
		Failed:            r.failed.Load(),
	}
}

func sortRows(rows []models.StageAggregateRow) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].BucketStart.Equal(rows[j].BucketStart) {
			return rows[i].BucketStart.After(rows[j].BucketStart)
		}

		if rows[i].NodeKey != rows[j].NodeKey {
			return rows[i].NodeKey < rows[j].NodeKey
		}

		return rows[i].GroupHash < rows[j].GroupHash
	})
}
