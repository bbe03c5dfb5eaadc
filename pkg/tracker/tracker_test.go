package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-flow/sentinel/pkg/log"
	"github.com/sentinel-flow/sentinel/pkg/models"
	"github.com/sentinel-flow/sentinel/pkg/scheduler"
)

type harness struct {
	clock *scheduler.ManualClock
	tr    *Tracker

	mu       sync.Mutex
	breaches []models.BreachSignal
	missed   []models.TransitionRecord
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock: scheduler.NewManualClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)),
	}

	sched := scheduler.New(h.clock, 2, log.WithModule("test"))
	h.tr = NewTracker(sched, h.clock, log.WithModule("test"))

	h.tr.OnMissed(func(m Missed) {
		out, ok := h.tr.HandleMissed(m)
		if !ok {
			return
		}

		h.mu.Lock()
		defer h.mu.Unlock()

		h.missed = append(h.missed, *out.Transition)

		if out.Breach != nil {
			h.breaches = append(h.breaches, *out.Breach)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)
		sched.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return h
}

func (h *harness) breachCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.breaches)
}

func (h *harness) apply(t *testing.T, version *models.WorkflowVersion, event models.NormalizedEvent) Outcome {
	t.Helper()

	out, err := h.tr.ApplyEvent(version, event, "default", "")
	require.NoError(t, err)

	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(2 * time.Millisecond)
	}

	t.Fatal("condition not reached in time")
}

// ingest --300s,amber--> verify --300s,red--> settle(terminal)
func paymentVersion() *models.WorkflowVersion {
	return &models.WorkflowVersion{
		ID:         "wfv-1",
		WorkflowID: "wf-payments",
		VersionNum: 1,
		Graph: &models.WorkflowGraph{
			Nodes: []*models.GraphNode{
				{Key: "ingest", EventType: "payment.ingested", Start: true},
				{Key: "verify", EventType: "payment.verified"},
				{Key: "settle", EventType: "payment.settled", Terminal: true},
			},
			Edges: []*models.GraphEdge{
				{From: "ingest", To: "verify", MaxLatencySec: 300, Severity: models.SeverityAmber},
				{From: "verify", To: "settle", MaxLatencySec: 300, Severity: models.SeverityRed},
			},
		},
	}
}

func evt(id, eventType, correlationKey string, at time.Time) models.NormalizedEvent {
	return models.NormalizedEvent{
		EventID:        id,
		SourceSystem:   "payments-core",
		EventType:      eventType,
		EventTime:      at,
		ReceivedAt:     at,
		CorrelationKey: correlationKey,
	}
}

func TestTracker_FirstEventCreatesInstanceAndArmsDeadline(t *testing.T) {
	h := newHarness(t)
	version := paymentVersion()

	out := h.apply(t, version, evt("e1", "payment.ingested", "TR1", h.clock.Now()))

	require.True(t, out.Applied)
	assert.Equal(t, models.StageDelta{InFlight: 1}, out.Transition.Deltas["ingest"])
	assert.Empty(t, out.Transition.FromNode)
	assert.Nil(t, out.Breach)

	inst := out.Instance
	assert.Equal(t, "ingest", inst.CurrentStage)
	assert.Equal(t, models.SeverityGreen, inst.Status)

	require.Len(t, inst.Pending, 1)
	exp := inst.Pending[0]
	assert.Equal(t, "verify", exp.ToNode)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), exp.DueAt)
	assert.Equal(t, models.SeverityAmber, exp.Severity)
}

// A payment ingested at t=0 with no verify event by t=301s must raise exactly
// one amber alert keyed to the verify stage, and the late verify arriving
// afterwards is flagged late rather than rejected.
func TestTracker_MissedDeadlineBreachesThenLateEventIsFlagged(t *testing.T) {
	h := newHarness(t)
	version := paymentVersion()
	start := h.clock.Now()

	h.apply(t, version, evt("e1", "payment.ingested", "TR1", start))

	h.clock.Advance(301 * time.Second)
	waitFor(t, func() bool { return h.breachCount() == 1 })

	h.mu.Lock()
	breach := h.breaches[0]
	missed := h.missed[0]
	h.mu.Unlock()

	assert.Equal(t, "wfv-1:verify:TR1", breach.DedupeKey)
	assert.Equal(t, models.SeverityAmber, breach.Severity)
	assert.Equal(t, ReasonExpectationMissed, breach.Reason)

	assert.True(t, missed.Late)
	assert.Equal(t, models.StageDelta{Late: 1}, missed.Deltas["verify"])
	assert.Equal(t, models.StageDelta{}, missed.Deltas["ingest"], "breach must not move in-flight counters")

	// The late verify still advances the run.
	out := h.apply(t, version, evt("e2", "payment.verified", "TR1", h.clock.Now()))

	require.True(t, out.Applied)
	assert.True(t, out.Transition.Late)
	assert.False(t, out.Transition.OrderViolation)
	assert.Equal(t, models.StageDelta{InFlight: -1, Completed: 1}, out.Transition.Deltas["ingest"])
	assert.Equal(t, models.StageDelta{InFlight: 1}, out.Transition.Deltas["verify"], "late already counted when the timer fired")

	require.NotNil(t, out.Breach)
	assert.Equal(t, ReasonSLAMissed, out.Breach.Reason)
	assert.Equal(t, breach.DedupeKey, out.Breach.DedupeKey, "same lifecycle as the timer breach")

	last := out.Instance.Events[len(out.Instance.Events)-1]
	assert.True(t, last.Late)
}

func TestTracker_OnTimeProgressionStaysGreen(t *testing.T) {
	h := newHarness(t)
	version := paymentVersion()
	start := h.clock.Now()

	h.apply(t, version, evt("e1", "payment.ingested", "TR1", start))

	h.clock.Advance(2 * time.Minute)
	out := h.apply(t, version, evt("e2", "payment.verified", "TR1", h.clock.Now()))

	assert.Nil(t, out.Breach)
	assert.False(t, out.Transition.Late)
	assert.Equal(t, models.StageDelta{InFlight: -1, Completed: 1}, out.Transition.Deltas["ingest"])
	assert.Equal(t, models.StageDelta{InFlight: 1}, out.Transition.Deltas["verify"])

	h.clock.Advance(2 * time.Minute)
	out = h.apply(t, version, evt("e3", "payment.settled", "TR1", h.clock.Now()))

	assert.Nil(t, out.Breach)
	assert.Equal(t, models.StageDelta{InFlight: -1, Completed: 1}, out.Transition.Deltas["verify"])
	assert.NotContains(t, out.Transition.Deltas, "settle", "terminal nodes are not counted")

	inst := out.Instance
	assert.True(t, inst.Terminal)
	assert.Equal(t, models.SeverityGreen, inst.Status)

	// The cancelled timers must stay silent.
	h.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.breachCount())
}

// Settle arriving before verify is an order violation: recorded red, alerted,
// but the aggregates still credit the path actually taken.
func TestTracker_OutOfOrderSettleIsOrderViolation(t *testing.T) {
	h := newHarness(t)
	version := paymentVersion()

	h.apply(t, version, evt("e1", "payment.ingested", "TR1", h.clock.Now()))

	h.clock.Advance(time.Minute)
	out := h.apply(t, version, evt("e2", "payment.settled", "TR1", h.clock.Now()))

	require.True(t, out.Applied)
	assert.True(t, out.Transition.OrderViolation)
	assert.Equal(t, models.SeverityRed, out.Transition.Status)
	assert.Equal(t, models.StageDelta{InFlight: -1, Completed: 1}, out.Transition.Deltas["ingest"])

	require.NotNil(t, out.Breach)
	assert.Equal(t, ReasonOrderViolation, out.Breach.Reason)
	assert.Equal(t, models.SeverityRed, out.Breach.Severity)
	assert.Equal(t, "wfv-1:settle:TR1", out.Breach.DedupeKey)

	inst := out.Instance
	assert.True(t, inst.Terminal)
	assert.Equal(t, models.SeverityRed, inst.Status)

	require.Len(t, inst.Pending, 1)
	assert.Equal(t, models.ExpectationMoot, inst.Pending[0].Status)

	// The mooted verify deadline must not fire.
	h.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.breachCount())
}

func TestTracker_DuplicateEventIDIsDropped(t *testing.T) {
	h := newHarness(t)
	version := paymentVersion()

	h.apply(t, version, evt("e1", "payment.ingested", "TR1", h.clock.Now()))

	out := h.apply(t, version, evt("e1", "payment.ingested", "TR1", h.clock.Now()))

	assert.True(t, out.Duplicate)
	assert.False(t, out.Applied)
	assert.Nil(t, out.Transition)
	assert.Len(t, out.Instance.Events, 1)
}

func TestTracker_UnknownEventTypeIsRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.tr.ApplyEvent(paymentVersion(), evt("e1", "payment.refunded", "TR1", h.clock.Now()), "default", "")

	require.Error(t, err)
	assert.True(t, IsNoNodeForEvent(err))
}

func TestTracker_OptionalEdgeCreatesNoExpectation(t *testing.T) {
	h := newHarness(t)

	version := paymentVersion()
	version.Graph.Nodes = append(version.Graph.Nodes, &models.GraphNode{Key: "review", EventType: "payment.reviewed"})
	version.Graph.Edges = append(version.Graph.Edges,
		&models.GraphEdge{From: "ingest", To: "review", MaxLatencySec: 60, Optional: true},
		&models.GraphEdge{From: "review", To: "verify", MaxLatencySec: 60},
	)

	out := h.apply(t, version, evt("e1", "payment.ingested", "TR1", h.clock.Now()))
	require.Len(t, out.Instance.Pending, 1, "optional edge must not arm a deadline")

	// Arriving over the optional edge is a legal detour, not a violation.
	h.clock.Advance(30 * time.Second)
	out = h.apply(t, version, evt("e2", "payment.reviewed", "TR1", h.clock.Now()))

	assert.False(t, out.Transition.OrderViolation)
	assert.Nil(t, out.Breach)
}

func TestTracker_ExpectedCountArmsMultipleDeadlines(t *testing.T) {
	h := newHarness(t)

	version := paymentVersion()
	version.Graph.Edges[0].ExpectedCount = 3

	out := h.apply(t, version, evt("e1", "payment.ingested", "TR1", h.clock.Now()))
	require.Len(t, out.Instance.Pending, 3)

	// One verify event clears all matching expectations at once; only the
	// freshly armed settle deadline remains.
	h.clock.Advance(time.Minute)
	out = h.apply(t, version, evt("e2", "payment.verified", "TR1", h.clock.Now()))

	require.Len(t, out.Instance.Pending, 1)
	assert.Equal(t, "settle", out.Instance.Pending[0].ToNode)
}

func TestTracker_PastAbsoluteDeadlineBreachesImmediately(t *testing.T) {
	h := newHarness(t)

	version := paymentVersion()
	version.Graph.Edges[0].MaxLatencySec = 0
	version.Graph.Edges[0].AbsoluteDeadline = "08:00Z" // clock starts at 09:00 UTC

	h.apply(t, version, evt("e1", "payment.ingested", "TR1", h.clock.Now()))

	waitFor(t, func() bool { return h.breachCount() == 1 })

	h.mu.Lock()
	breach := h.breaches[0]
	h.mu.Unlock()

	assert.Equal(t, "verify", breach.Node)
	assert.Equal(t, ReasonExpectationMissed, breach.Reason)
}

func TestTracker_FailureNodeCountsPriorStageFailed(t *testing.T) {
	h := newHarness(t)

	version := paymentVersion()
	version.Graph.Nodes = append(version.Graph.Nodes, &models.GraphNode{Key: "reject", EventType: "payment.rejected", Failure: true})
	version.Graph.Edges = append(version.Graph.Edges, &models.GraphEdge{From: "verify", To: "reject"})

	h.apply(t, version, evt("e1", "payment.ingested", "TR1", h.clock.Now()))
	h.apply(t, version, evt("e2", "payment.verified", "TR1", h.clock.Now()))

	out := h.apply(t, version, evt("e3", "payment.rejected", "TR1", h.clock.Now()))

	assert.Equal(t, models.StageDelta{InFlight: -1, Failed: 1}, out.Transition.Deltas["verify"])
	assert.NotContains(t, out.Transition.Deltas, "reject")

	require.NotNil(t, out.Breach)
	assert.Equal(t, ReasonFailure, out.Breach.Reason)
	assert.Equal(t, models.SeverityRed, out.Breach.Severity)

	assert.True(t, out.Instance.Terminal)
	assert.Equal(t, models.SeverityRed, out.Instance.Status)
}

func TestTracker_InstanceAndListQueries(t *testing.T) {
	h := newHarness(t)
	version := paymentVersion()

	h.apply(t, version, evt("e1", "payment.ingested", "TR1", h.clock.Now()))

	h.clock.Advance(time.Second)
	h.apply(t, version, evt("e2", "payment.ingested", "TR2", h.clock.Now()))
	h.apply(t, version, evt("e3", "payment.settled", "TR2", h.clock.Now()))

	inst, err := h.tr.Instance("wfv-1", "TR1")
	require.NoError(t, err)
	assert.Equal(t, "ingest", inst.CurrentStage)

	_, err = h.tr.Instance("wfv-1", "TR9")
	assert.True(t, IsUnknownCorrelation(err))

	all := h.tr.List("wfv-1", ListFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, "TR2", all[0].CorrelationKey, "most recently updated first")

	red := h.tr.List("wfv-1", ListFilter{Status: models.SeverityRed})
	require.Len(t, red, 1)
	assert.Equal(t, "TR2", red[0].CorrelationKey)

	assert.Len(t, h.tr.List("wfv-1", ListFilter{Limit: 1}), 1)
	assert.Empty(t, h.tr.List("wfv-1", ListFilter{Offset: 5}))
}

func TestTracker_ReturnedInstanceIsACopy(t *testing.T) {
	h := newHarness(t)
	version := paymentVersion()

	out := h.apply(t, version, evt("e1", "payment.ingested", "TR1", h.clock.Now()))

	out.Instance.CurrentStage = "tampered"
	out.Instance.Pending[0].Status = models.ExpectationMoot

	inst, err := h.tr.Instance("wfv-1", "TR1")
	require.NoError(t, err)
	assert.Equal(t, "ingest", inst.CurrentStage)
	assert.Equal(t, models.ExpectationPending, inst.Pending[0].Status)
}

func TestTracker_SweepFiresOverdueExpectations(t *testing.T) {
	h := newHarness(t)
	version := paymentVersion()
	start := h.clock.Now()

	h.apply(t, version, evt("e1", "payment.ingested", "TR1", start))

	// The clock never advances, so the timer never fires; only the sweep
	// notices the overdue deadline.
	fired := h.tr.Sweep(start.Add(301 * time.Second))
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, h.breachCount())

	// Re-sweeping finds nothing: the expectation is already breached.
	assert.Zero(t, h.tr.Sweep(start.Add(302*time.Second)))
	assert.Equal(t, 1, h.breachCount())
}
