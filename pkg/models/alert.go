package models

import "time"

// AlertState is the operator-facing lifecycle of an alert.
type AlertState string

const (
	AlertStateOpen       AlertState = "open"
	AlertStateAck        AlertState = "ack"
	AlertStateSuppressed AlertState = "suppressed"
	AlertStateResolved   AlertState = "resolved"
)

// Alert is a deduplicated breach notification. Identity is the dedupe key;
// re-triggering an open alert bumps LastTriggeredAt instead of duplicating.
type Alert struct {
	ID                string     `json:"id"`
	DedupeKey         string     `json:"dedupe_key"`
	WorkflowVersionID string     `json:"workflow_version_id"`
	NodeKey           string     `json:"node_key"`
	CorrelationKey    string     `json:"correlation_key,omitempty"`
	GroupHash         string     `json:"group_hash,omitempty"`
	Severity          Severity   `json:"severity"`
	State             AlertState `json:"state"`
	Title             string     `json:"title"`
	Reason            string     `json:"reason"`
	TriggeredAt       time.Time  `json:"triggered_at"`
	LastTriggeredAt   time.Time  `json:"last_triggered_at"`
	AckedBy           string     `json:"acked_by,omitempty"`
	AckedAt           *time.Time `json:"acked_at,omitempty"`
	SuppressedUntil   *time.Time `json:"suppressed_until,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// AuditLogEntry records an operator action against an alert.
type AuditLogEntry struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Until      time.Time `json:"until,omitzero"`
	At         time.Time `json:"at"`
}
