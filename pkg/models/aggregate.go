package models

import "time"

// StageAggregateRow holds the rolling counters for one
// (workflowVersion, node, group, bucket) cell of the wallboard.
type StageAggregateRow struct {
	WorkflowVersionID string    `json:"workflow_version_id"`
	NodeKey           string    `json:"node_key"`
	GroupHash         string    `json:"group_hash"`
	BucketStart       time.Time `json:"bucket_start"`
	InFlight          int64     `json:"in_flight"`
	Completed         int64     `json:"completed"`
	Late              int64     `json:"late"`
	Failed            int64     `json:"failed"`
}
