package services

import (
	"log/slog"
	"sort"
	"time"

	"github.com/sentinel-flow/sentinel/pkg/alerting"
	"github.com/sentinel-flow/sentinel/pkg/catalog"
	"github.com/sentinel-flow/sentinel/pkg/models"
	"github.com/sentinel-flow/sentinel/pkg/scheduler"
	"github.com/sentinel-flow/sentinel/pkg/tracker"
)

// GroupTile is one wallboard cell: a business grouping rolled up to its
// worst live status.
type GroupTile struct {
	GroupHash  string          `json:"group_hash"`
	GroupLabel string          `json:"group_label"`
	Status     models.Severity `json:"status"`
	Active     int             `json:"active"`
	Completed  int             `json:"completed"`
	Breached   int             `json:"breached"`
	OpenAlerts int             `json:"open_alerts"`
	NextDueAt  *time.Time      `json:"next_due_at,omitempty"`
}

// WallboardView is the full wallboard for one workflow.
type WallboardView struct {
	WorkflowID        string      `json:"workflow_id"`
	WorkflowKey       string      `json:"workflow_key"`
	WorkflowVersionID string      `json:"workflow_version_id"`
	GeneratedAt       time.Time   `json:"generated_at"`
	Tiles             []GroupTile `json:"tiles"`
}

// WallboardService composes the live wallboard from tracker and alert state.
type WallboardService struct {
	catalog *catalog.Catalog
	tracker *tracker.Tracker
	alerts  *alerting.Engine
	clock   scheduler.Clock
	logger  *slog.Logger
}

func NewWallboardService(cat *catalog.Catalog, trk *tracker.Tracker, alerts *alerting.Engine, clock scheduler.Clock, logger *slog.Logger) *WallboardService {
	return &WallboardService{
		catalog: cat,
		tracker: trk,
		alerts:  alerts,
		clock:   clock,
		logger:  logger.With("module", "wallboard_view"),
	}
}

// Wallboard rolls the active version's correlations up into one tile per
// group, worst status first.
func (s *WallboardService) Wallboard(workflowID string) (*WallboardView, error) {
	workflow, err := s.catalog.Workflow(workflowID)
	if err != nil {
		return nil, err
	}

	version, err := s.catalog.ActiveVersion(workflowID)
	if err != nil {
		return nil, err
	}

	tiles := map[string]*GroupTile{}

	for _, inst := range s.tracker.List(version.ID, tracker.ListFilter{}) {
		tile, ok := tiles[inst.GroupHash]
		if !ok {
			tile = &GroupTile{
				GroupHash:  inst.GroupHash,
				GroupLabel: inst.GroupLabel,
				Status:     models.SeverityGreen,
			}
			tiles[inst.GroupHash] = tile
		}

		tile.Status = tile.Status.Worse(inst.Status)

		if inst.Terminal {
			tile.Completed++
		} else {
			tile.Active++
		}

		if inst.Status != models.SeverityGreen {
			tile.Breached++
		}

		for _, exp := range inst.Pending {
			if exp.Status != models.ExpectationPending {
				continue
			}

			if tile.NextDueAt == nil || exp.DueAt.Before(*tile.NextDueAt) {
				dueAt := exp.DueAt
				tile.NextDueAt = &dueAt
			}
		}
	}

	for _, alert := range s.alerts.List(models.AlertStateOpen, 0) {
		if alert.WorkflowVersionID != version.ID {
			continue
		}

		if tile, ok := tiles[alert.GroupHash]; ok {
			tile.OpenAlerts++
		}
	}

	view := &WallboardView{
		WorkflowID:        workflow.ID,
		WorkflowKey:       workflow.Key,
		WorkflowVersionID: version.ID,
		GeneratedAt:       s.clock.Now(),
		Tiles:             make([]GroupTile, 0, len(tiles)),
	}

	for _, tile := range tiles {
		view.Tiles = append(view.Tiles, *tile)
	}

	sort.Slice(view.Tiles, func(i, j int) bool {
		if view.Tiles[i].Status.Rank() != view.Tiles[j].Status.Rank() {
			return view.Tiles[i].Status.Rank() > view.Tiles[j].Status.Rank()
		}

		return view.Tiles[i].GroupLabel < view.Tiles[j].GroupLabel
	})

	return view, nil
}
