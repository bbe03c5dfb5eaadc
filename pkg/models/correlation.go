package models

import "time"

// CorrelationStatus is the derived traffic-light state of one tracked item.
type CorrelationStatus = Severity

// ExpectationStatus tracks the lifecycle of one pending transition.
type ExpectationStatus string

const (
	ExpectationPending   ExpectationStatus = "pending"
	ExpectationSatisfied ExpectationStatus = "satisfied"
	ExpectationBreached  ExpectationStatus = "breached"
	ExpectationMoot      ExpectationStatus = "moot" // terminal node reached first
)

// PendingExpectation is a live deadline awaiting the destination node's event.
// It survives a breach (marked breached, not removed) so a late-arriving event
// is flagged late instead of silently accepted.
type PendingExpectation struct {
	ID       string            `json:"id"`
	FromNode string            `json:"from_node"`
	ToNode   string            `json:"to_node"`
	DueAt    time.Time         `json:"due_at"`
	Severity Severity          `json:"severity"`
	Status   ExpectationStatus `json:"status"`
	TimerID  uint64            `json:"-"`
}

// EventOccurrence is one entry of the append-only per-correlation event log.
type EventOccurrence struct {
	Node           string    `json:"node"`
	EventID        string    `json:"event_id,omitempty"`
	EventTime      time.Time `json:"event_time"`
	ReceivedAt     time.Time `json:"received_at"`
	Late           bool      `json:"late"`
	OrderViolation bool      `json:"order_violation"`
	PayloadExcerpt string    `json:"payload_excerpt,omitempty"`
}

// CorrelationInstance is the runtime state of one tracked item moving through
// a workflow version. Created on the first event for an unseen correlation,
// mutated on every matching event, never deleted by the engine.
type CorrelationInstance struct {
	WorkflowID        string                `json:"workflow_id"`
	WorkflowVersionID string                `json:"workflow_version_id"`
	CorrelationKey    string                `json:"correlation_key"`
	CurrentStage      string                `json:"current_stage"`
	Status            CorrelationStatus     `json:"status"`
	Terminal          bool                  `json:"terminal"`
	GroupHash         string                `json:"group_hash"`
	GroupLabel        string                `json:"group_label"`
	Group             map[string]string     `json:"group,omitempty"`
	StartedAt         time.Time             `json:"started_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
	Events            []EventOccurrence     `json:"events"`
	Pending           []*PendingExpectation `json:"pending_expectations"`
}

// PendingFor returns the not-yet-satisfied expectations targeting a node.
// Breached expectations are included so late satisfaction can be detected.
func (c *CorrelationInstance) PendingFor(toNode string) []*PendingExpectation {
	var out []*PendingExpectation

	for _, exp := range c.Pending {
		if exp.ToNode == toNode && (exp.Status == ExpectationPending || exp.Status == ExpectationBreached) {
			out = append(out, exp)
		}
	}

	return out
}

// RemoveSatisfied drops satisfied expectations from the pending list.
// Breached and moot entries stay for the timeline read model.
func (c *CorrelationInstance) RemoveSatisfied() {
	kept := c.Pending[:0]

	for _, exp := range c.Pending {
		if exp.Status != ExpectationSatisfied {
			kept = append(kept, exp)
		}
	}

	c.Pending = kept
}

// HasSeenEvent reports whether an event id was already applied to this run.
func (c *CorrelationInstance) HasSeenEvent(eventID string) bool {
	if eventID == "" {
		return false
	}

	for _, occ := range c.Events {
		if occ.EventID == eventID {
			return true
		}
	}

	return false
}

// StageDelta is the signed counter adjustment for one node.
type StageDelta struct {
	InFlight  int `json:"in_flight,omitempty"`
	Completed int `json:"completed,omitempty"`
	Late      int `json:"late,omitempty"`
	Failed    int `json:"failed,omitempty"`
}

// TransitionRecord is the aggregation feed emitted for every applied event or
// deadline breach. Deltas are signed; the aggregator applies them exactly once.
type TransitionRecord struct {
	WorkflowVersionID string                `json:"workflow_version_id"`
	CorrelationKey    string                `json:"correlation_key"`
	FromNode          string                `json:"from_node,omitempty"`
	ToNode            string                `json:"to_node"`
	Late              bool                  `json:"late"`
	OrderViolation    bool                  `json:"order_violation"`
	GroupHash         string                `json:"group_hash"`
	Status            Severity              `json:"status"`
	Deltas            map[string]StageDelta `json:"deltas,omitempty"`
	EventTime         time.Time             `json:"event_time"`
	ReceivedAt        time.Time             `json:"received_at"`
}

// BreachSignal asks the alert engine to raise or escalate an alert.
type BreachSignal struct {
	WorkflowVersionID string    `json:"workflow_version_id"`
	Node              string    `json:"node"`
	CorrelationKey    string    `json:"correlation_key"`
	GroupHash         string    `json:"group_hash,omitempty"`
	Severity          Severity  `json:"severity"`
	Reason            string    `json:"reason"`
	DedupeKey         string    `json:"dedupe_key"`
	TriggeredAt       time.Time `json:"triggered_at"`
}
