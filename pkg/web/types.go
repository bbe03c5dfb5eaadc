// Package web provides the HTTP handlers for event intake, workflow
// management, wallboards and alert operations.
package web

import "time"

// CreateWorkflowRequest registers a workflow together with its first graph.
type CreateWorkflowRequest struct {
	Key   string         `json:"key"   validate:"required,min=2"`
	Name  string         `json:"name"  validate:"required,min=3"`
	Owner string         `json:"owner"`
	Graph map[string]any `json:"graph" validate:"required"`
}

// PublishVersionRequest binds a new graph version to an existing workflow.
type PublishVersionRequest struct {
	Graph     map[string]any `json:"graph" validate:"required"`
	CreatedBy string         `json:"created_by"`
}

// AlertActionRequest carries the operator identity for alert transitions.
type AlertActionRequest struct {
	Actor  string     `json:"actor"`
	Reason string     `json:"reason"`
	Until  *time.Time `json:"until,omitempty"` // suppress only
}
