package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-flow/sentinel/pkg/log"
	"github.com/sentinel-flow/sentinel/pkg/models"
)

func record(versionID, group string, at time.Time, deltas map[string]models.StageDelta) models.TransitionRecord {
	return models.TransitionRecord{
		WorkflowVersionID: versionID,
		CorrelationKey:    "TR1",
		GroupHash:         group,
		ReceivedAt:        at,
		Deltas:            deltas,
	}
}

func rowFor(t *testing.T, rows []models.StageAggregateRow, node string) models.StageAggregateRow {
	t.Helper()

	for _, r := range rows {
		if r.NodeKey == node {
			return r
		}
	}

	t.Fatalf("no row for node %q", node)

	return models.StageAggregateRow{}
}

func TestAggregator_FullRunKeepsCountersConsistent(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(log.WithModule("test"))
	now := time.Date(2025, 6, 2, 9, 0, 30, 0, time.UTC)

	// ingest -> verify -> settle(terminal) for a single correlation.
	agg.OnTransition(record("wfv-1", "g1", now, map[string]models.StageDelta{
		"ingest": {InFlight: 1},
	}))
	agg.OnTransition(record("wfv-1", "g1", now.Add(10*time.Second), map[string]models.StageDelta{
		"ingest": {InFlight: -1, Completed: 1},
		"verify": {InFlight: 1},
	}))
	agg.OnTransition(record("wfv-1", "g1", now.Add(20*time.Second), map[string]models.StageDelta{
		"verify": {InFlight: -1, Completed: 1},
	}))

	rows := agg.Rows("wfv-1", "g1")
	require.Len(t, rows, 2)

	ingest := rowFor(t, rows, "ingest")
	assert.Equal(t, int64(0), ingest.InFlight)
	assert.Equal(t, int64(1), ingest.Completed)

	verify := rowFor(t, rows, "verify")
	assert.Equal(t, int64(0), verify.InFlight)
	assert.Equal(t, int64(1), verify.Completed)

	// Every stage the run reached is accounted for exactly once.
	for _, r := range rows {
		assert.Equal(t, int64(1), r.InFlight+r.Completed+r.Failed, "node %s", r.NodeKey)
	}
}

func TestAggregator_LateIsAnAnnotation(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(log.WithModule("test"))
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	agg.OnTransition(record("wfv-1", "g1", now, map[string]models.StageDelta{
		"verify": {Late: 1},
	}))
	agg.OnTransition(record("wfv-1", "g1", now, map[string]models.StageDelta{
		"ingest": {InFlight: -1, Completed: 1},
		"verify": {InFlight: 1},
	}))

	verify := rowFor(t, agg.Rows("wfv-1", "g1"), "verify")
	assert.Equal(t, int64(1), verify.Late)
	assert.Equal(t, int64(1), verify.InFlight+verify.Completed+verify.Failed)
}

func TestAggregator_BucketsByMinute(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(log.WithModule("test"))
	base := time.Date(2025, 6, 2, 9, 0, 10, 0, time.UTC)

	agg.OnTransition(record("wfv-1", "g1", base, map[string]models.StageDelta{
		"ingest": {InFlight: 1},
	}))
	agg.OnTransition(record("wfv-1", "g1", base.Add(2*time.Minute), map[string]models.StageDelta{
		"ingest": {InFlight: 1},
	}))

	rows := agg.Rows("wfv-1", "g1")
	require.Len(t, rows, 2)

	// Newest bucket first.
	assert.Equal(t, base.Add(2*time.Minute).Truncate(BucketSize), rows[0].BucketStart)
	assert.Equal(t, base.Truncate(BucketSize), rows[1].BucketStart)
}

func TestAggregator_GroupFilterAndIsolation(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(log.WithModule("test"))
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	agg.OnTransition(record("wfv-1", "emea", now, map[string]models.StageDelta{
		"ingest": {InFlight: 1},
	}))
	agg.OnTransition(record("wfv-1", "apac", now, map[string]models.StageDelta{
		"ingest": {InFlight: 1},
	}))
	agg.OnTransition(record("wfv-2", "emea", now, map[string]models.StageDelta{
		"ingest": {InFlight: 1},
	}))

	assert.Len(t, agg.Rows("wfv-1", ""), 2)
	assert.Len(t, agg.Rows("wfv-1", "emea"), 1)
	assert.Len(t, agg.Rows("wfv-2", ""), 1)
	assert.Empty(t, agg.Rows("wfv-3", ""))

	all := agg.AllRows(0)
	assert.Len(t, all, 3)
	assert.Len(t, agg.AllRows(2), 2)
}

func TestAggregator_UnderflowClampsToZero(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(log.WithModule("test"))
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	agg.OnTransition(record("wfv-1", "g1", now, map[string]models.StageDelta{
		"ingest": {InFlight: -1},
	}))

	ingest := rowFor(t, agg.Rows("wfv-1", "g1"), "ingest")
	assert.Equal(t, int64(0), ingest.InFlight)
}
