package models

import "time"

// RawEvent is the wire envelope accepted from producers, REST or Kafka.
// Fields the engine acts on are fixed and validated; the payload is an
// opaque blob carried through untouched.
type RawEvent struct {
	EventID        string            `json:"eventId,omitempty"`
	SourceSystem   string            `json:"sourceSystem"  validate:"required"`
	EventType      string            `json:"eventType"     validate:"required"`
	EventTime      time.Time         `json:"eventTime"     validate:"required"`
	CorrelationKey string            `json:"correlationKey" validate:"required"`
	WorkflowKey    string            `json:"workflowKey,omitempty"`
	WorkflowKeys   []string          `json:"workflowKeys,omitempty"`
	Group          map[string]string `json:"group,omitempty"`
	Payload        map[string]any    `json:"payload,omitempty"`
}

// NormalizedEvent is the engine-internal envelope: trimmed, defaulted, with
// resolved receipt time and a guaranteed event id.
type NormalizedEvent struct {
	EventID        string            `json:"event_id"`
	SourceSystem   string            `json:"source_system"`
	EventType      string            `json:"event_type"`
	EventTime      time.Time         `json:"event_time"`
	ReceivedAt     time.Time         `json:"received_at"`
	CorrelationKey string            `json:"correlation_key"`
	WorkflowKey    string            `json:"workflow_key,omitempty"`
	WorkflowKeys   []string          `json:"workflow_keys,omitempty"`
	Group          map[string]string `json:"group,omitempty"`
	Payload        map[string]any    `json:"payload,omitempty"`
}
