package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-flow/sentinel/pkg/log"
	"github.com/sentinel-flow/sentinel/pkg/models"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine() (*Engine, *manualClock) {
	clock := &manualClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}

	return NewEngine(clock, log.WithModule("test")), clock
}

func signalFor(dedupeKey string, severity models.Severity) models.BreachSignal {
	return models.BreachSignal{
		WorkflowVersionID: "wfv-1",
		Node:              "verify",
		CorrelationKey:    "TR1",
		GroupHash:         "g1",
		Severity:          severity,
		Reason:            "SLA_MISSED",
		DedupeKey:         dedupeKey,
	}
}

func TestEngine_RaiseOpensOnce(t *testing.T) {
	engine, clock := newTestEngine()

	first := engine.Raise(signalFor("k1", models.SeverityAmber))
	require.NotNil(t, first)
	assert.Equal(t, models.AlertStateOpen, first.State)
	assert.Equal(t, models.SeverityAmber, first.Severity)

	clock.advance(time.Minute)

	second := engine.Raise(signalFor("k1", models.SeverityAmber))
	assert.Equal(t, first.ID, second.ID, "re-raise must never create a second alert id")
	assert.True(t, second.LastTriggeredAt.After(first.LastTriggeredAt))
	assert.Equal(t, first.TriggeredAt, second.TriggeredAt)
	assert.Len(t, engine.List("", 0), 1)
}

func TestEngine_RaiseEscalatesNeverDowngrades(t *testing.T) {
	engine, clock := newTestEngine()

	engine.Raise(signalFor("k1", models.SeverityAmber))
	clock.advance(time.Minute)

	escalated := engine.Raise(signalFor("k1", models.SeverityRed))
	assert.Equal(t, models.SeverityRed, escalated.Severity)

	clock.advance(time.Minute)

	after := engine.Raise(signalFor("k1", models.SeverityAmber))
	assert.Equal(t, models.SeverityRed, after.Severity, "severity must not downgrade automatically")
}

func TestEngine_SuppressionWindow(t *testing.T) {
	engine, clock := newTestEngine()

	alert := engine.Raise(signalFor("k1", models.SeverityAmber))
	until := clock.Now().Add(10 * time.Minute)
	require.NoError(t, engine.Suppress(alert.ID, until, "ops", "known outage"))

	clock.advance(5 * time.Minute)

	during := engine.Raise(signalFor("k1", models.SeverityAmber))
	assert.Equal(t, models.AlertStateSuppressed, during.State, "raise before until keeps alert suppressed")

	clock.advance(6 * time.Minute)

	after := engine.Raise(signalFor("k1", models.SeverityAmber))
	assert.Equal(t, models.AlertStateOpen, after.State, "raise at or after until reopens")
	assert.Nil(t, after.SuppressedUntil)
}

func TestEngine_SuppressDefaultWindow(t *testing.T) {
	engine, clock := newTestEngine()

	alert := engine.Raise(signalFor("k1", models.SeverityAmber))
	require.NoError(t, engine.Suppress(alert.ID, time.Time{}, "ops", ""))

	got, err := engine.Get(alert.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SuppressedUntil)
	assert.Equal(t, clock.Now().Add(DefaultSuppressionWindow), *got.SuppressedUntil)
}

func TestEngine_SuppressionExpiresLazilyOnRead(t *testing.T) {
	engine, clock := newTestEngine()

	alert := engine.Raise(signalFor("k1", models.SeverityAmber))
	require.NoError(t, engine.Suppress(alert.ID, clock.Now().Add(time.Minute), "ops", ""))

	clock.advance(2 * time.Minute)

	listed := engine.List("", 0)
	require.Len(t, listed, 1)
	assert.Equal(t, models.AlertStateOpen, listed[0].State)
}

func TestEngine_ResolveIsTerminal(t *testing.T) {
	engine, clock := newTestEngine()

	alert := engine.Raise(signalFor("k1", models.SeverityAmber))
	require.NoError(t, engine.Resolve(alert.ID, "ops", "done"))

	clock.advance(time.Minute)

	fresh := engine.Raise(signalFor("k1", models.SeverityRed))
	assert.NotEqual(t, alert.ID, fresh.ID, "breach after resolve starts a new lifecycle")
	assert.Equal(t, models.AlertStateOpen, fresh.State)
	assert.Equal(t, clock.Now(), fresh.TriggeredAt)

	resolved, err := engine.Get(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStateResolved, resolved.State, "resolved alert is never reopened")
}

func TestEngine_AckIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine()

	alert := engine.Raise(signalFor("k1", models.SeverityAmber))
	require.NoError(t, engine.Ack(alert.ID, "anna", "looking"))
	require.NoError(t, engine.Ack(alert.ID, "anna", "still looking"))

	got, err := engine.Get(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStateAck, got.State)
	assert.Equal(t, "anna", got.AckedBy)

	trail := engine.AuditTrail()
	assert.Len(t, trail, 2)
	assert.Equal(t, "still looking", trail[1].Reason)
}

func TestEngine_ActionsOnUnknownIDReturnNotFound(t *testing.T) {
	engine, _ := newTestEngine()

	assert.ErrorIs(t, engine.Ack("nope", "x", ""), ErrAlertNotFound)
	assert.ErrorIs(t, engine.Suppress("nope", time.Time{}, "x", ""), ErrAlertNotFound)
	assert.ErrorIs(t, engine.Resolve("nope", "x", ""), ErrAlertNotFound)

	_, err := engine.Get("nope")
	assert.True(t, IsAlertNotFound(err))
}

func TestEngine_ListFiltersByState(t *testing.T) {
	engine, clock := newTestEngine()

	a := engine.Raise(signalFor("k1", models.SeverityAmber))
	clock.advance(time.Second)
	engine.Raise(signalFor("k2", models.SeverityRed))
	require.NoError(t, engine.Ack(a.ID, "ops", ""))

	open := engine.List(models.AlertStateOpen, 0)
	require.Len(t, open, 1)
	assert.Equal(t, "k2", open[0].DedupeKey)

	acked := engine.List(models.AlertStateAck, 0)
	require.Len(t, acked, 1)
	assert.Equal(t, "k1", acked[0].DedupeKey)
}
