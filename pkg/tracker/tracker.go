// Package tracker owns the per-correlation state machine: it applies
// normalized events against a workflow version's graph, registers and cancels
// deadline expectations, and emits transition records and breach signals for
// the aggregation and alerting stages.
package tracker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-flow/sentinel/pkg/models"
	"github.com/sentinel-flow/sentinel/pkg/scheduler"
)

const payloadExcerptLimit = 500

// Breach reasons carried on alert signals.
const (
	ReasonSLAMissed         = "SLA_MISSED"
	ReasonExpectationMissed = "EXPECTATION_MISSED"
	ReasonOrderViolation    = "ORDER_VIOLATION"
	ReasonFailure           = "FAILURE"
)

// Missed identifies one fired deadline. The scheduler callback hands it to
// the registered sink, which must route it back through the same
// per-correlation lane as events and call HandleMissed there.
type Missed struct {
	WorkflowVersionID string
	CorrelationKey    string
	ExpectationID     string
	FiredAt           time.Time
}

// Outcome is everything one applied event or fired deadline produced.
type Outcome struct {
	Applied    bool
	Duplicate  bool
	Transition *models.TransitionRecord
	Breach     *models.BreachSignal
	Instance   *models.CorrelationInstance
}

// ListFilter narrows instance listings.
type ListFilter struct {
	Status    models.Severity
	GroupHash string
	Limit     int
	Offset    int
}

type instanceKey struct {
	workflowVersionID string
	correlationKey    string
}

// Tracker is safe for concurrent use. Callers serialize all mutations for
// one correlation key through a single lane; the internal mutex only guards
// the instance map against cross-lane access.
type Tracker struct {
	mu        sync.RWMutex
	instances map[instanceKey]*models.CorrelationInstance

	sched    *scheduler.Scheduler
	clock    scheduler.Clock
	logger   *slog.Logger
	onMissed func(Missed)
}

func NewTracker(sched *scheduler.Scheduler, clock scheduler.Clock, logger *slog.Logger) *Tracker {
	return &Tracker{
		instances: make(map[instanceKey]*models.CorrelationInstance),
		sched:     sched,
		clock:     clock,
		logger:    logger.With("module", "correlation_tracker"),
	}
}

// OnMissed registers the sink invoked from scheduler workers when a deadline
// fires. Must be set before events are applied.
func (t *Tracker) OnMissed(fn func(Missed)) {
	t.onMissed = fn
}

// ApplyEvent advances the correlation identified by the event, creating the
// instance on first sight. Duplicate event ids are dropped without touching
// state. The returned outcome carries the transition record for the
// aggregator and, when a violation or lateness was detected, a breach signal
// for the alert engine.
func (t *Tracker) ApplyEvent(version *models.WorkflowVersion, event models.NormalizedEvent, groupHash, groupLabel string) (Outcome, error) {
	node := version.Graph.NodeByEventType(event.EventType)
	if node == nil {
		return Outcome{}, fmt.Errorf("%w: %q", ErrNoNodeForEvent, event.EventType)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := instanceKey{version.ID, event.CorrelationKey}

	inst, ok := t.instances[key]
	if !ok {
		inst = &models.CorrelationInstance{
			WorkflowID:        version.WorkflowID,
			WorkflowVersionID: version.ID,
			CorrelationKey:    event.CorrelationKey,
			Status:            models.SeverityGreen,
			GroupHash:         groupHash,
			GroupLabel:        groupLabel,
			Group:             event.Group,
			StartedAt:         event.ReceivedAt,
		}
		t.instances[key] = inst
	}

	if inst.HasSeenEvent(event.EventID) {
		t.logger.Debug("Dropping duplicate event",
			"event_id", event.EventID,
			"correlation_key", event.CorrelationKey,
		)

		return Outcome{Duplicate: true, Instance: cloneInstance(inst)}, nil
	}

	if len(inst.Events) == 0 {
		return t.applyFirst(version, inst, node, event), nil
	}

	return t.applyTransition(version, inst, node, event), nil
}

// applyFirst seeds a fresh instance. The first event is never an order
// violation: when it misses the start node the stage is still set to the
// event's node, best effort.
func (t *Tracker) applyFirst(version *models.WorkflowVersion, inst *models.CorrelationInstance, node *models.GraphNode, event models.NormalizedEvent) Outcome {
	if start := version.Graph.StartNode(); start != nil && start.Key != node.Key {
		t.logger.Debug("First event did not match start node",
			"correlation_key", inst.CorrelationKey,
			"node", node.Key,
			"start", start.Key,
		)
	}

	deltas := map[string]models.StageDelta{}
	if counted(node) {
		deltas[node.Key] = models.StageDelta{InFlight: 1}
	}

	inst.CurrentStage = node.Key
	inst.UpdatedAt = event.ReceivedAt
	inst.Events = append(inst.Events, occurrenceFor(node, event, false, false))

	var breach *models.BreachSignal

	if node.Terminal || node.Failure {
		inst.Terminal = true

		if node.Failure {
			inst.Status = models.SeverityRed
			breach = t.breachSignal(version.ID, inst, node.Key, models.SeverityRed, ReasonFailure, event.ReceivedAt)
		}
	} else {
		t.registerExpectations(version, inst, node, event.EventTime)
	}

	rec := &models.TransitionRecord{
		WorkflowVersionID: version.ID,
		CorrelationKey:    inst.CorrelationKey,
		ToNode:            node.Key,
		GroupHash:         inst.GroupHash,
		Status:            inst.Status,
		Deltas:            deltas,
		EventTime:         event.EventTime,
		ReceivedAt:        event.ReceivedAt,
	}

	return Outcome{Applied: true, Transition: rec, Breach: breach, Instance: cloneInstance(inst)}
}

func (t *Tracker) applyTransition(version *models.WorkflowVersion, inst *models.CorrelationInstance, node *models.GraphNode, event models.NormalizedEvent) Outcome {
	graph := version.Graph
	from := inst.CurrentStage
	satisfied := inst.PendingFor(node.Key)

	var (
		late         bool
		freshLate    bool
		lateSeverity = models.SeverityAmber
	)

	for _, exp := range satisfied {
		switch {
		case exp.Status == models.ExpectationBreached:
			// Breach already counted and alerted when the timer fired.
			late = true
			lateSeverity = lateSeverity.Worse(exp.Severity)
		case event.EventTime.After(exp.DueAt):
			late = true
			freshLate = true
			lateSeverity = lateSeverity.Worse(exp.Severity)
		}

		if exp.Status == models.ExpectationPending {
			t.sched.Cancel(exp.TimerID)
		}

		exp.Status = models.ExpectationSatisfied
	}

	inst.RemoveSatisfied()

	violation := len(satisfied) == 0 &&
		!node.Start &&
		graph.EdgeBetween(from, node.Key) == nil &&
		!graph.HasOptionalInbound(node.Key)

	deltas := map[string]models.StageDelta{}

	if fromNode := graph.NodeByKey(from); fromNode != nil && counted(fromNode) {
		d := deltas[from]
		d.InFlight--

		if node.Failure {
			d.Failed++
		} else {
			d.Completed++
		}

		deltas[from] = d
	}

	if counted(node) {
		d := deltas[node.Key]
		d.InFlight++
		deltas[node.Key] = d
	}

	if freshLate {
		d := deltas[node.Key]
		d.Late++
		deltas[node.Key] = d
	}

	status := models.SeverityGreen
	if late {
		status = lateSeverity
	}

	if violation || node.Failure {
		status = models.SeverityRed
	}

	inst.CurrentStage = node.Key
	inst.Status = inst.Status.Worse(status)
	inst.UpdatedAt = event.ReceivedAt
	inst.Events = append(inst.Events, occurrenceFor(node, event, late, violation))

	if node.Terminal || node.Failure {
		inst.Terminal = true
		t.cancelRemaining(inst)
	} else {
		t.registerExpectations(version, inst, node, event.EventTime)
	}

	var breach *models.BreachSignal

	switch {
	case node.Failure:
		breach = t.breachSignal(version.ID, inst, node.Key, models.SeverityRed, ReasonFailure, event.ReceivedAt)
	case violation:
		breach = t.breachSignal(version.ID, inst, node.Key, models.SeverityRed, ReasonOrderViolation, event.ReceivedAt)
	case late:
		breach = t.breachSignal(version.ID, inst, node.Key, lateSeverity, ReasonSLAMissed, event.ReceivedAt)
	}

	rec := &models.TransitionRecord{
		WorkflowVersionID: version.ID,
		CorrelationKey:    inst.CorrelationKey,
		FromNode:          from,
		ToNode:            node.Key,
		Late:              late,
		OrderViolation:    violation,
		GroupHash:         inst.GroupHash,
		Status:            status,
		Deltas:            deltas,
		EventTime:         event.EventTime,
		ReceivedAt:        event.ReceivedAt,
	}

	return Outcome{Applied: true, Transition: rec, Breach: breach, Instance: cloneInstance(inst)}
}

// HandleMissed marks a fired expectation breached and produces the synthetic
// breach transition. Returns false when the expectation was satisfied or
// cancelled before the callback reached the lane, which is not an error.
func (t *Tracker) HandleMissed(m Missed) (Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[instanceKey{m.WorkflowVersionID, m.CorrelationKey}]
	if !ok {
		return Outcome{}, false
	}

	var exp *models.PendingExpectation

	for _, candidate := range inst.Pending {
		if candidate.ID == m.ExpectationID {
			exp = candidate
			break
		}
	}

	if exp == nil || exp.Status != models.ExpectationPending {
		return Outcome{}, false
	}

	// The expectation stays on the instance, marked breached, so a late
	// arrival of the destination event is flagged late instead of being
	// treated as an order violation.
	exp.Status = models.ExpectationBreached
	inst.Status = inst.Status.Worse(exp.Severity)
	inst.UpdatedAt = m.FiredAt

	rec := &models.TransitionRecord{
		WorkflowVersionID: m.WorkflowVersionID,
		CorrelationKey:    m.CorrelationKey,
		FromNode:          exp.FromNode,
		ToNode:            exp.ToNode,
		Late:              true,
		GroupHash:         inst.GroupHash,
		Status:            exp.Severity,
		Deltas: map[string]models.StageDelta{
			exp.ToNode: {Late: 1},
		},
		EventTime:  exp.DueAt,
		ReceivedAt: m.FiredAt,
	}

	breach := t.breachSignal(m.WorkflowVersionID, inst, exp.ToNode, exp.Severity, ReasonExpectationMissed, m.FiredAt)

	return Outcome{Applied: true, Transition: rec, Breach: breach, Instance: cloneInstance(inst)}, true
}

// registerExpectations arms one deadline per expected occurrence of every
// non-optional outgoing edge that declares a deadline. Optional edges never
// create expectations; their absence is not a breach.
func (t *Tracker) registerExpectations(version *models.WorkflowVersion, inst *models.CorrelationInstance, node *models.GraphNode, eventTime time.Time) {
	for _, edge := range version.Graph.OutgoingEdges(node.Key) {
		if edge.Optional || (edge.MaxLatencySec <= 0 && edge.AbsoluteDeadline == "") {
			continue
		}

		count := edge.ExpectedCount
		if count <= 0 {
			count = 1
		}

		for i := 0; i < count; i++ {
			exp := &models.PendingExpectation{
				ID:       uuid.NewString(),
				FromNode: edge.From,
				ToNode:   edge.To,
				DueAt:    edge.DueAt(eventTime),
				Severity: models.NormalizeSeverity(string(edge.Severity)),
				Status:   models.ExpectationPending,
			}

			miss := Missed{
				WorkflowVersionID: version.ID,
				CorrelationKey:    inst.CorrelationKey,
				ExpectationID:     exp.ID,
			}

			exp.TimerID = t.sched.Schedule(inst.CorrelationKey, exp.DueAt, func(now time.Time) {
				miss.FiredAt = now
				t.fireMissed(miss)
			})

			inst.Pending = append(inst.Pending, exp)
		}
	}
}

func (t *Tracker) breachSignal(versionID string, inst *models.CorrelationInstance, nodeKey string, severity models.Severity, reason string, at time.Time) *models.BreachSignal {
	return &models.BreachSignal{
		WorkflowVersionID: versionID,
		Node:              nodeKey,
		CorrelationKey:    inst.CorrelationKey,
		GroupHash:         inst.GroupHash,
		Severity:          severity,
		Reason:            reason,
		DedupeKey:         versionID + ":" + nodeKey + ":" + inst.CorrelationKey,
		TriggeredAt:       at,
	}
}

// cancelRemaining resolves every still-pending expectation as moot after a
// terminal or failure node is reached. No alert fires for moot expectations.
func (t *Tracker) cancelRemaining(inst *models.CorrelationInstance) {
	for _, exp := range inst.Pending {
		if exp.Status != models.ExpectationPending {
			continue
		}

		t.sched.Cancel(exp.TimerID)
		exp.Status = models.ExpectationMoot
	}
}

// Instance returns a deep copy of one tracked correlation.
func (t *Tracker) Instance(workflowVersionID, correlationKey string) (*models.CorrelationInstance, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	inst, ok := t.instances[instanceKey{workflowVersionID, correlationKey}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCorrelation, correlationKey)
	}

	return cloneInstance(inst), nil
}

// List returns deep copies of the tracked correlations for one workflow
// version, most recently updated first.
func (t *Tracker) List(workflowVersionID string, filter ListFilter) []*models.CorrelationInstance {
	t.mu.RLock()

	var out []*models.CorrelationInstance

	for key, inst := range t.instances {
		if key.workflowVersionID != workflowVersionID {
			continue
		}

		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}

		if filter.GroupHash != "" && inst.GroupHash != filter.GroupHash {
			continue
		}

		out = append(out, cloneInstance(inst))
	}

	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}

		return out[i].CorrelationKey < out[j].CorrelationKey
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil
		}

		out = out[filter.Offset:]
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out
}

// Sweep re-fires every pending expectation whose deadline has passed. The
// timer wheel already covers the common case; the sweep is the safety net
// for timers lost to scheduler churn. Firing is idempotent because
// HandleMissed ignores expectations that are no longer pending.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()

	var overdue []Missed

	for key, inst := range t.instances {
		for _, exp := range inst.Pending {
			if exp.Status != models.ExpectationPending || exp.DueAt.After(now) {
				continue
			}

			overdue = append(overdue, Missed{
				WorkflowVersionID: key.workflowVersionID,
				CorrelationKey:    key.correlationKey,
				ExpectationID:     exp.ID,
				FiredAt:           now,
			})
		}
	}

	t.mu.Unlock()

	for _, m := range overdue {
		t.fireMissed(m)
	}

	return len(overdue)
}

func (t *Tracker) fireMissed(m Missed) {
	if t.onMissed == nil {
		t.logger.Error("Deadline fired with no missed-expectation sink registered",
			"correlation_key", m.CorrelationKey,
			"expectation_id", m.ExpectationID,
		)

		return
	}

	t.onMissed(m)
}

func counted(node *models.GraphNode) bool {
	return !node.Terminal && !node.Failure
}

func occurrenceFor(node *models.GraphNode, event models.NormalizedEvent, late, violation bool) models.EventOccurrence {
	return models.EventOccurrence{
		Node:           node.Key,
		EventID:        event.EventID,
		EventTime:      event.EventTime,
		ReceivedAt:     event.ReceivedAt,
		Late:           late,
		OrderViolation: violation,
		PayloadExcerpt: payloadExcerpt(event.Payload),
	}
}

func payloadExcerpt(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}

	if len(raw) > payloadExcerptLimit {
		raw = raw[:payloadExcerptLimit]
	}

	return string(raw)
}

func cloneInstance(inst *models.CorrelationInstance) *models.CorrelationInstance {
	clone := *inst

	clone.Events = append([]models.EventOccurrence(nil), inst.Events...)

	clone.Pending = make([]*models.PendingExpectation, len(inst.Pending))
	for i, exp := range inst.Pending {
		copied := *exp
		clone.Pending[i] = &copied
	}

	if inst.Group != nil {
		clone.Group = make(map[string]string, len(inst.Group))
		for k, v := range inst.Group {
			clone.Group[k] = v
		}
	}

	return &clone
}
