// Package events defines the bus events flowing between the ingestion edge,
// the evaluation engine and downstream consumers such as wallboards.
package events

import (
	"time"

	"github.com/sentinel-flow/sentinel/pkg/models"
)

type EventType string

// Kafka topics.
const (
	Topic      = "sentinel.events"      // accepted business events entering evaluation
	AlertTopic = "sentinel.alerts"      // alert lifecycle notifications
	DLQTopic   = "sentinel.events.dlq"  // envelopes rejected at the ingestion edge
	ViewTopic  = "sentinel.transitions" // evaluated transitions feeding read models
)

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	EventIngestedEvent      EventType = "event.ingested"
	EventRejectedEvent      EventType = "event.rejected"
	TransitionRecordedEvent EventType = "transition.recorded"
	ExpectationMissedEvent  EventType = "expectation.missed"
	AlertTriggeredEvent     EventType = "alert.triggered"
	AlertStateChangedEvent  EventType = "alert.state.changed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventIngested carries an accepted, normalized business event into the
// evaluation engine. The partition key is the correlation key so one item's
// events stay ordered.
type EventIngested struct {
	BaseEvent

	Event models.NormalizedEvent `json:"event"`
}

func (e EventIngested) GetType() EventType {
	return EventIngestedEvent
}

// EventRejected is the dead-letter envelope for events that failed
// validation or publication at the ingestion edge.
type EventRejected struct {
	BaseEvent

	Raw    map[string]any `json:"raw,omitempty"`
	Reason string         `json:"reason"`
}

func (e EventRejected) GetType() EventType {
	return EventRejectedEvent
}

// TransitionRecorded mirrors one applied transition for read-model builders.
type TransitionRecorded struct {
	BaseEvent

	Transition models.TransitionRecord `json:"transition"`
}

func (e TransitionRecorded) GetType() EventType {
	return TransitionRecordedEvent
}

// ExpectationMissed is the synthetic event emitted when a deadline fires
// without the expected business event having arrived.
type ExpectationMissed struct {
	BaseEvent

	WorkflowVersionID string    `json:"workflow_version_id"`
	CorrelationKey    string    `json:"correlation_key"`
	Node              string    `json:"node"`
	DueAt             time.Time `json:"due_at"`
	Severity          string    `json:"severity"`
}

func (e ExpectationMissed) GetType() EventType {
	return ExpectationMissedEvent
}

// AlertTriggered is published when a breach opens or re-fires an alert.
type AlertTriggered struct {
	BaseEvent

	Alert models.Alert `json:"alert"`
}

func (e AlertTriggered) GetType() EventType {
	return AlertTriggeredEvent
}

// AlertStateChanged is published on operator transitions (ack, suppress,
// resolve).
type AlertStateChanged struct {
	BaseEvent

	Alert    models.Alert `json:"alert"`
	Actor    string       `json:"actor,omitempty"`
	Previous string       `json:"previous"`
}

func (e AlertStateChanged) GetType() EventType {
	return AlertStateChangedEvent
}
