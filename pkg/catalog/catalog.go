// Package catalog is the registry of monitored workflows and their immutable
// graph versions. Definitions are validated on the way in; a rejected graph
// never mutates catalog state.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sentinel-flow/sentinel/pkg/models"
)

var validate = validator.New()

type Catalog struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	byKey     map[string]string
	versions  map[string]*models.WorkflowVersion

	logger *slog.Logger
}

func NewCatalog(logger *slog.Logger) *Catalog {
	return &Catalog{
		workflows: make(map[string]*models.Workflow),
		byKey:     make(map[string]string),
		versions:  make(map[string]*models.WorkflowVersion),
		logger:    logger.With("module", "workflow_catalog"),
	}
}

// Create registers a workflow with its first graph version and activates it.
// Validation happens before any state change.
func (c *Catalog) Create(workflow *models.Workflow, graphDocument map[string]any) (*models.Workflow, *models.WorkflowVersion, error) {
	if err := validate.Struct(workflow); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	graph, err := decodeGraph(graphDocument)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byKey[workflow.Key]; exists {
		return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateKey, workflow.Key)
	}

	now := time.Now().UTC()

	stored := *workflow
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}

	stored.Status = models.WorkflowStatusPublished
	stored.CreatedAt = now
	stored.UpdatedAt = now

	version := &models.WorkflowVersion{
		ID:         uuid.New().String(),
		WorkflowID: stored.ID,
		VersionNum: 1,
		Graph:      graph,
		CreatedBy:  stored.Owner,
		CreatedAt:  now,
	}

	stored.ActiveVersionID = version.ID

	c.workflows[stored.ID] = &stored
	c.byKey[stored.Key] = stored.ID
	c.versions[version.ID] = version

	c.logger.Info("Workflow created",
		"workflow_id", stored.ID,
		"key", stored.Key,
		"version_id", version.ID,
	)

	return cloneWorkflow(&stored), version, nil
}

// PublishVersion binds a new immutable graph version and makes it active.
// Correlations already running stay on the version they started with.
func (c *Catalog) PublishVersion(workflowID string, graphDocument map[string]any, createdBy string) (*models.WorkflowVersion, error) {
	graph, err := decodeGraph(graphDocument)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	workflow, ok := c.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	highest := 0

	for _, version := range c.versions {
		if version.WorkflowID == workflowID && version.VersionNum > highest {
			highest = version.VersionNum
		}
	}

	version := &models.WorkflowVersion{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		VersionNum: highest + 1,
		Graph:      graph,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now().UTC(),
	}

	c.versions[version.ID] = version
	workflow.ActiveVersionID = version.ID
	workflow.UpdatedAt = version.CreatedAt

	c.logger.Info("Workflow version published",
		"workflow_id", workflowID,
		"version_id", version.ID,
		"version_num", version.VersionNum,
	)

	return version, nil
}

// Retire deactivates a workflow; events no longer fan out to it.
func (c *Catalog) Retire(workflowID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	workflow, ok := c.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	workflow.Status = models.WorkflowStatusRetired
	workflow.UpdatedAt = time.Now().UTC()

	return nil
}

func (c *Catalog) Workflow(id string) (*models.Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	workflow, ok := c.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}

	return cloneWorkflow(workflow), nil
}

func (c *Catalog) WorkflowByKey(key string) (*models.Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: key %q", ErrWorkflowNotFound, key)
	}

	return cloneWorkflow(c.workflows[id]), nil
}

func (c *Catalog) Workflows() []*models.Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(c.workflows))
	for _, workflow := range c.workflows {
		out = append(out, cloneWorkflow(workflow))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out
}

// Version returns one immutable graph version by id.
func (c *Catalog) Version(versionID string) (*models.WorkflowVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	version, ok := c.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}

	return version, nil
}

// ActiveVersion returns the version new correlations bind to.
func (c *Catalog) ActiveVersion(workflowID string) (*models.WorkflowVersion, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	workflow, ok := c.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	version, ok := c.versions[workflow.ActiveVersionID]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s has no active version", ErrVersionNotFound, workflowID)
	}

	return version, nil
}

// VersionsFor lists all versions of one workflow, newest first.
func (c *Catalog) VersionsFor(workflowID string) []*models.WorkflowVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*models.WorkflowVersion

	for _, version := range c.versions {
		if version.WorkflowID == workflowID {
			out = append(out, version)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].VersionNum > out[j].VersionNum })

	return out
}

// ResolveForEvent picks the active versions an event feeds. An explicit
// workflowKey (or workflowKeys list) wins; otherwise the event fans out to
// every published workflow whose active graph declares its event type.
func (c *Catalog) ResolveForEvent(event models.NormalizedEvent) []*models.WorkflowVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := event.WorkflowKeys
	if event.WorkflowKey != "" {
		keys = append([]string{event.WorkflowKey}, keys...)
	}

	if len(keys) > 0 {
		var out []*models.WorkflowVersion

		seen := map[string]bool{}

		for _, key := range keys {
			if seen[key] {
				continue
			}

			seen[key] = true

			id, ok := c.byKey[key]
			if !ok {
				c.logger.Warn("Event references unknown workflow key", "workflow_key", key)

				continue
			}

			if version := c.activeVersionLocked(id); version != nil {
				out = append(out, version)
			}
		}

		return out
	}

	var out []*models.WorkflowVersion

	for id, workflow := range c.workflows {
		if workflow.Status != models.WorkflowStatusPublished {
			continue
		}

		version := c.activeVersionLocked(id)
		if version == nil {
			continue
		}

		if version.Graph.NodeByEventType(event.EventType) != nil {
			out = append(out, version)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })

	return out
}

func (c *Catalog) activeVersionLocked(workflowID string) *models.WorkflowVersion {
	workflow, ok := c.workflows[workflowID]
	if !ok || workflow.Status == models.WorkflowStatusRetired {
		return nil
	}

	return c.versions[workflow.ActiveVersionID]
}

func decodeGraph(document map[string]any) (*models.WorkflowGraph, error) {
	if err := validateGraphDocument(document); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	var graph models.WorkflowGraph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	return &graph, nil
}

func cloneWorkflow(workflow *models.Workflow) *models.Workflow {
	clone := *workflow

	return &clone
}
