// Package models defines the core domain models for workflow SLA monitoring.
package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"
	WorkflowStatusPublished WorkflowStatus = "published"
	WorkflowStatusRetired   WorkflowStatus = "retired"
)

// Workflow is the catalog entry grouping all versions of one monitored process.
type Workflow struct {
	ID              string         `json:"id"`
	Key             string         `json:"key"  validate:"required,min=2"`
	Name            string         `json:"name" validate:"required,min=3"`
	Owner           string         `json:"owner"`
	Status          WorkflowStatus `json:"status"`
	ActiveVersionID string         `json:"active_version_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// WorkflowVersion binds an immutable graph to a workflow. A running
// correlation stays on the version that was active when it started.
type WorkflowVersion struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	VersionNum int            `json:"version_num"`
	Graph      *WorkflowGraph `json:"graph"`
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// WorkflowGraph is the static definition of stages and expected transitions.
type WorkflowGraph struct {
	Nodes           []*GraphNode   `json:"nodes"`
	Edges           []*GraphEdge   `json:"edges"`
	GroupDimensions []string       `json:"groupDimensions,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// GraphNode is one stage of the workflow, matched by event type. A failure
// node is a designated failure path: reaching it ends the run and counts the
// prior stage as failed instead of completed.
type GraphNode struct {
	Key       string `json:"key"       validate:"required"`
	EventType string `json:"eventType" validate:"required"`
	Start     bool   `json:"start,omitempty"`
	Terminal  bool   `json:"terminal,omitempty"`
	Failure   bool   `json:"failure,omitempty"`
}

// GraphEdge declares an expected transition with an optional deadline. At most
// one of MaxLatencySec/AbsoluteDeadline is meaningful; when both are set the
// earlier-firing deadline governs.
type GraphEdge struct {
	From             string   `json:"from" validate:"required"`
	To               string   `json:"to"   validate:"required"`
	MaxLatencySec    int      `json:"maxLatencySec,omitempty"`
	AbsoluteDeadline string   `json:"absoluteDeadline,omitempty"` // UTC time-of-day, "HH:MM" or "HH:MMZ"
	Severity         Severity `json:"severity,omitempty"`
	Optional         bool     `json:"optional,omitempty"`
	ExpectedCount    int      `json:"expectedCount,omitempty"`
}

var (
	ErrGraphNoNodes        = errors.New("graph must declare at least one node")
	ErrGraphNoStartNode    = errors.New("graph must have exactly one start node")
	ErrGraphDuplicateNode  = errors.New("graph node keys must be unique")
	ErrGraphUnknownNode    = errors.New("graph edge references unknown node")
	ErrGraphBadDeadline    = errors.New("graph edge has invalid absolute deadline")
	ErrGraphUnreachable    = errors.New("graph node unreachable from start")
	ErrGraphDuplicateEvent = errors.New("graph nodes must not share an event type")
)

// Validate enforces the structural invariants a graph must satisfy before the
// catalog accepts it.
func (g *WorkflowGraph) Validate() error {
	if g == nil || len(g.Nodes) == 0 {
		return ErrGraphNoNodes
	}

	byKey := make(map[string]*GraphNode, len(g.Nodes))
	byEvent := make(map[string]string, len(g.Nodes))

	for _, node := range g.Nodes {
		if node.Key == "" || node.EventType == "" {
			return fmt.Errorf("%w: node %q", ErrGraphUnknownNode, node.Key)
		}

		if _, dup := byKey[node.Key]; dup {
			return fmt.Errorf("%w: %q", ErrGraphDuplicateNode, node.Key)
		}

		if prior, dup := byEvent[node.EventType]; dup {
			return fmt.Errorf("%w: %q and %q both match %q", ErrGraphDuplicateEvent, prior, node.Key, node.EventType)
		}

		byKey[node.Key] = node
		byEvent[node.EventType] = node.Key
	}

	incoming := make(map[string]int, len(g.Nodes))

	for _, edge := range g.Edges {
		if _, ok := byKey[edge.From]; !ok {
			return fmt.Errorf("%w: edge from %q", ErrGraphUnknownNode, edge.From)
		}

		if _, ok := byKey[edge.To]; !ok {
			return fmt.Errorf("%w: edge to %q", ErrGraphUnknownNode, edge.To)
		}

		if edge.AbsoluteDeadline != "" {
			if _, err := ParseDeadlineOfDay(edge.AbsoluteDeadline); err != nil {
				return fmt.Errorf("%w: %q on edge %s->%s", ErrGraphBadDeadline, edge.AbsoluteDeadline, edge.From, edge.To)
			}
		}

		incoming[edge.To]++
	}

	if err := g.validateStart(byKey, incoming); err != nil {
		return err
	}

	return g.validateReachability(byKey)
}

// validateStart requires exactly one reachable start: either a single node
// flagged start, or a single node with no incoming edges.
func (g *WorkflowGraph) validateStart(byKey map[string]*GraphNode, incoming map[string]int) error {
	var starts []string

	for _, node := range g.Nodes {
		if node.Start {
			starts = append(starts, node.Key)
		}
	}

	if len(starts) == 0 {
		for _, node := range g.Nodes {
			if incoming[node.Key] == 0 {
				starts = append(starts, node.Key)
			}
		}
	}

	if len(starts) != 1 {
		return fmt.Errorf("%w: found %d candidates", ErrGraphNoStartNode, len(starts))
	}

	return nil
}

func (g *WorkflowGraph) validateReachability(byKey map[string]*GraphNode) error {
	start := g.StartNode()
	if start == nil {
		return ErrGraphNoStartNode
	}

	seen := map[string]bool{start.Key: true}
	queue := []string{start.Key}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.Edges {
			if edge.From == current && !seen[edge.To] {
				seen[edge.To] = true
				queue = append(queue, edge.To)
			}
		}
	}

	for key := range byKey {
		if !seen[key] {
			return fmt.Errorf("%w: %q", ErrGraphUnreachable, key)
		}
	}

	return nil
}

// StartNode returns the declared or inferred start node, nil when ambiguous.
func (g *WorkflowGraph) StartNode() *GraphNode {
	for _, node := range g.Nodes {
		if node.Start {
			return node
		}
	}

	incoming := make(map[string]int, len(g.Nodes))
	for _, edge := range g.Edges {
		incoming[edge.To]++
	}

	var found *GraphNode

	for _, node := range g.Nodes {
		if incoming[node.Key] == 0 {
			if found != nil {
				return nil
			}

			found = node
		}
	}

	return found
}

// NodeByKey returns the node with the given key, nil when absent.
func (g *WorkflowGraph) NodeByKey(key string) *GraphNode {
	for _, node := range g.Nodes {
		if node.Key == key {
			return node
		}
	}

	return nil
}

// NodeByEventType returns the node matching an event type, nil when absent.
func (g *WorkflowGraph) NodeByEventType(eventType string) *GraphNode {
	for _, node := range g.Nodes {
		if node.EventType == eventType {
			return node
		}
	}

	return nil
}

// OutgoingEdges returns the edges leaving the given node key.
func (g *WorkflowGraph) OutgoingEdges(from string) []*GraphEdge {
	var out []*GraphEdge

	for _, edge := range g.Edges {
		if edge.From == from {
			out = append(out, edge)
		}
	}

	return out
}

// HasOptionalInbound reports whether any edge into the node is optional.
// An event arriving on such a node without a pending expectation is not an
// order violation.
func (g *WorkflowGraph) HasOptionalInbound(to string) bool {
	for _, edge := range g.Edges {
		if edge.To == to && edge.Optional {
			return true
		}
	}

	return false
}

// EdgeBetween returns the edge from->to, nil when absent.
func (g *WorkflowGraph) EdgeBetween(from, to string) *GraphEdge {
	for _, edge := range g.Edges {
		if edge.From == from && edge.To == to {
			return edge
		}
	}

	return nil
}
