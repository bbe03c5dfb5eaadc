package services

import (
	"fmt"
	"log/slog"

	"github.com/sentinel-flow/sentinel/pkg/alerting"
	"github.com/sentinel-flow/sentinel/pkg/catalog"
	"github.com/sentinel-flow/sentinel/pkg/models"
	"github.com/sentinel-flow/sentinel/pkg/tracker"
)

// TimelineView is the drill-down for one tracked item: its event history,
// pending and breached deadlines, and every alert it raised.
type TimelineView struct {
	Instance *models.CorrelationInstance `json:"instance"`
	Alerts   []*models.Alert             `json:"alerts"`
}

// TimelineService resolves one correlation across catalog versions.
type TimelineService struct {
	catalog *catalog.Catalog
	tracker *tracker.Tracker
	alerts  *alerting.Engine
	logger  *slog.Logger
}

func NewTimelineService(cat *catalog.Catalog, trk *tracker.Tracker, alerts *alerting.Engine, logger *slog.Logger) *TimelineService {
	return &TimelineService{
		catalog: cat,
		tracker: trk,
		alerts:  alerts,
		logger:  logger.With("module", "item_timeline"),
	}
}

// Timeline finds the correlation in the given workflow. With an empty
// workflow id it searches every registered workflow, which serves lookups
// straight off an alert that only carries the correlation key.
func (s *TimelineService) Timeline(workflowID, correlationKey string) (*TimelineView, error) {
	workflows := s.catalog.Workflows()

	if workflowID != "" {
		workflow, err := s.catalog.Workflow(workflowID)
		if err != nil {
			return nil, err
		}

		workflows = []*models.Workflow{workflow}
	}

	for _, workflow := range workflows {
		for _, version := range s.catalog.VersionsFor(workflow.ID) {
			inst, err := s.tracker.Instance(version.ID, correlationKey)
			if err != nil {
				continue
			}

			return &TimelineView{
				Instance: inst,
				Alerts:   s.alerts.ListForCorrelation(version.ID, correlationKey),
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrItemNotFound, correlationKey)
}

// Items lists the tracked correlations of a workflow's active version.
func (s *TimelineService) Items(workflowID string, filter tracker.ListFilter) ([]*models.CorrelationInstance, error) {
	version, err := s.catalog.ActiveVersion(workflowID)
	if err != nil {
		return nil, err
	}

	return s.tracker.List(version.ID, filter), nil
}
