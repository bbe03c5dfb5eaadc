// Package ingestion is the intake edge and the evaluation loop. The edge
// validates, normalizes, archives and publishes producer events; the loop
// consumes them and drives the tracker, aggregator and alert engine through
// per-correlation lanes.
package ingestion

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentinel-flow/sentinel/pkg/aggregate"
	"github.com/sentinel-flow/sentinel/pkg/alerting"
	"github.com/sentinel-flow/sentinel/pkg/archive"
	"github.com/sentinel-flow/sentinel/pkg/catalog"
	"github.com/sentinel-flow/sentinel/pkg/eventbus"
	"github.com/sentinel-flow/sentinel/pkg/events"
	"github.com/sentinel-flow/sentinel/pkg/grouping"
	"github.com/sentinel-flow/sentinel/pkg/models"
	"github.com/sentinel-flow/sentinel/pkg/otelhelper"
	"github.com/sentinel-flow/sentinel/pkg/scheduler"
	"github.com/sentinel-flow/sentinel/pkg/tracker"
)

const (
	defaultLanes     = 16
	defaultLaneDepth = 256
)

// IngestResult reports what the intake edge did with one envelope.
type IngestResult struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

type Dependencies struct {
	Catalog    *catalog.Catalog
	Tracker    *tracker.Tracker
	Aggregator *aggregate.Aggregator
	Alerts     *alerting.Engine
	Archive    archive.EventArchive
	Bus        eventbus.EventBus
	Limiter    RateLimiter
	Tracer     trace.Tracer
	Clock      scheduler.Clock
	Logger     *slog.Logger
}

// Pipeline is safe for concurrent use. All state mutation for one
// correlation key funnels through a single lane, which is what makes a
// tracker update, its aggregation deltas and its alert raising atomic with
// respect to other events for the same key.
type Pipeline struct {
	validate *validator.Validate

	catalog    *catalog.Catalog
	tracker    *tracker.Tracker
	aggregator *aggregate.Aggregator
	alerts     *alerting.Engine
	archive    archive.EventArchive
	bus        eventbus.EventBus
	limiter    RateLimiter
	tracer     trace.Tracer
	clock      scheduler.Clock
	keyer      *grouping.Keyer
	logger     *slog.Logger

	lanes []chan func()
	wg    sync.WaitGroup
}

func NewPipeline(deps Dependencies) *Pipeline {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NoopLimiter{}
	}

	p := &Pipeline{
		validate:   validator.New(),
		catalog:    deps.Catalog,
		tracker:    deps.Tracker,
		aggregator: deps.Aggregator,
		alerts:     deps.Alerts,
		archive:    deps.Archive,
		bus:        deps.Bus,
		limiter:    limiter,
		tracer:     deps.Tracer,
		clock:      deps.Clock,
		keyer:      grouping.NewKeyer(),
		logger:     deps.Logger.With("module", "ingestion_pipeline"),
		lanes:      make([]chan func(), defaultLanes),
	}

	for i := range p.lanes {
		p.lanes[i] = make(chan func(), defaultLaneDepth)
	}

	p.tracker.OnMissed(p.handleMissed)

	return p
}

// Start launches the lane workers and subscribes the evaluation loop to the
// event topic. It returns once the subscription is established.
func (p *Pipeline) Start(ctx context.Context) error {
	for _, lane := range p.lanes {
		p.wg.Add(1)

		go func(jobs <-chan func()) {
			defer p.wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				case job := <-jobs:
					job()
				}
			}
		}(lane)
	}

	if err := p.bus.Handle(events.EventIngestedEvent, p.onIngested); err != nil {
		return err
	}

	return p.bus.Subscribe(ctx, events.Topic)
}

// Wait blocks until the lane workers have drained after context cancellation.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Accept is the intake edge: rate limit, validate, normalize, archive,
// publish. A rejected envelope never reaches the evaluation loop; a
// publish failure is dead-lettered and reported to the producer.
func (p *Pipeline) Accept(ctx context.Context, raw models.RawEvent) (IngestResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "ingestion.accept",
		attribute.String(otelhelper.EventTypeKey, raw.EventType),
		attribute.String(otelhelper.CorrelationKeyKey, raw.CorrelationKey),
	)
	defer span.End()

	allowed, err := p.limiter.Allow(ctx, raw.SourceSystem)
	if err != nil {
		p.logger.Warn("Rate limiter unavailable, admitting event", "error", err)
	} else if !allowed {
		return IngestResult{}, fmt.Errorf("%w: %s", ErrRateLimited, raw.SourceSystem)
	}

	if err := p.validate.Struct(raw); err != nil {
		otelhelper.SetError(span, err)

		return IngestResult{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	event := normalize(raw, p.clock.Now())
	span.SetAttributes(attribute.String(otelhelper.EventIDKey, event.EventID))

	result, err := p.archive.Save(ctx, event)
	if err != nil {
		otelhelper.SetError(span, err)

		return IngestResult{}, fmt.Errorf("failed to archive event: %w", err)
	}

	if result == archive.SaveDuplicate {
		p.logger.Debug("Duplicate event id at intake", "event_id", event.EventID)

		return IngestResult{EventID: event.EventID, Duplicate: true}, nil
	}

	ingested := events.EventIngested{
		BaseEvent: events.BaseEvent{
			ID:        p.bus.GenerateID(),
			Type:      events.EventIngestedEvent,
			Timestamp: event.ReceivedAt,
		},
		Event: event,
	}

	if err := p.bus.Publish(ctx, event.CorrelationKey, ingested); err != nil {
		otelhelper.SetError(span, err)
		p.deadLetter(ctx, raw, err)

		return IngestResult{}, fmt.Errorf("failed to publish event: %w", err)
	}

	return IngestResult{EventID: event.EventID}, nil
}

func (p *Pipeline) deadLetter(ctx context.Context, raw models.RawEvent, cause error) {
	rejected := events.EventRejected{
		BaseEvent: events.BaseEvent{
			ID:        p.bus.GenerateID(),
			Type:      events.EventRejectedEvent,
			Timestamp: p.clock.Now(),
		},
		Raw: map[string]any{
			"eventId":        raw.EventID,
			"sourceSystem":   raw.SourceSystem,
			"eventType":      raw.EventType,
			"correlationKey": raw.CorrelationKey,
			"payload":        raw.Payload,
		},
		Reason: cause.Error(),
	}

	if err := p.bus.Publish(ctx, raw.CorrelationKey, rejected); err != nil {
		p.logger.Error("Failed to dead-letter rejected event",
			"event_id", raw.EventID,
			"error", err,
		)
	}
}

func (p *Pipeline) onIngested(ctx context.Context, event interface{}) error {
	ingested, ok := event.(*events.EventIngested)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	p.dispatch(ingested.Event.CorrelationKey, func() {
		p.process(ctx, ingested.Event)
	})

	return nil
}

// process evaluates one event against every workflow version it resolves to.
// Runs inside the event's lane.
func (p *Pipeline) process(ctx context.Context, event models.NormalizedEvent) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "ingestion.process",
		attribute.String(otelhelper.EventIDKey, event.EventID),
		attribute.String(otelhelper.EventTypeKey, event.EventType),
		attribute.String(otelhelper.CorrelationKeyKey, event.CorrelationKey),
	)
	defer span.End()

	versions := p.catalog.ResolveForEvent(event)
	if len(versions) == 0 {
		p.logger.Debug("Event matched no workflow",
			"event_type", event.EventType,
			"correlation_key", event.CorrelationKey,
		)

		return
	}

	for _, version := range versions {
		group := projectGroup(event.Group, version.Graph.GroupDimensions)
		outcome, err := p.tracker.ApplyEvent(version, event, p.keyer.Hash(group), p.keyer.Label(group))

		if err != nil {
			if tracker.IsNoNodeForEvent(err) {
				continue
			}

			otelhelper.SetError(span, err)
			p.logger.Error("Failed to apply event",
				"event_id", event.EventID,
				"workflow_version_id", version.ID,
				"error", err,
			)

			continue
		}

		p.settle(ctx, outcome)
	}
}

// settle fans the outcome of one tracker mutation out to the aggregator, the
// alert engine and the bus. Runs inside the correlation's lane.
func (p *Pipeline) settle(ctx context.Context, outcome tracker.Outcome) {
	if !outcome.Applied {
		return
	}

	if outcome.Transition != nil {
		p.aggregator.OnTransition(*outcome.Transition)
		p.publishTransition(ctx, *outcome.Transition)
	}

	if outcome.Breach != nil {
		alert := p.alerts.Raise(*outcome.Breach)
		p.publishAlert(ctx, outcome.Breach.CorrelationKey, *alert)
	}
}

func (p *Pipeline) handleMissed(m tracker.Missed) {
	p.dispatch(m.CorrelationKey, func() {
		outcome, ok := p.tracker.HandleMissed(m)
		if !ok {
			return
		}

		ctx := context.Background()
		p.settle(ctx, outcome)

		missed := events.ExpectationMissed{
			BaseEvent: events.BaseEvent{
				ID:        p.bus.GenerateID(),
				Type:      events.ExpectationMissedEvent,
				Timestamp: m.FiredAt,
			},
			WorkflowVersionID: m.WorkflowVersionID,
			CorrelationKey:    m.CorrelationKey,
			Node:              outcome.Transition.ToNode,
			DueAt:             outcome.Transition.EventTime,
			Severity:          string(outcome.Transition.Status),
		}

		if err := p.bus.Publish(ctx, m.CorrelationKey, missed); err != nil {
			p.logger.Error("Failed to publish missed expectation",
				"correlation_key", m.CorrelationKey,
				"error", err,
			)
		}
	})
}

func (p *Pipeline) publishTransition(ctx context.Context, rec models.TransitionRecord) {
	event := events.TransitionRecorded{
		BaseEvent: events.BaseEvent{
			ID:        p.bus.GenerateID(),
			Type:      events.TransitionRecordedEvent,
			Timestamp: rec.ReceivedAt,
		},
		Transition: rec,
	}

	if err := p.bus.Publish(ctx, rec.CorrelationKey, event); err != nil {
		p.logger.Error("Failed to publish transition",
			"correlation_key", rec.CorrelationKey,
			"error", err,
		)
	}
}

func (p *Pipeline) publishAlert(ctx context.Context, key string, alert models.Alert) {
	event := events.AlertTriggered{
		BaseEvent: events.BaseEvent{
			ID:        p.bus.GenerateID(),
			Type:      events.AlertTriggeredEvent,
			Timestamp: alert.LastTriggeredAt,
		},
		Alert: alert,
	}

	if err := p.bus.Publish(ctx, key, event); err != nil {
		p.logger.Error("Failed to publish alert",
			"alert_id", alert.ID,
			"error", err,
		)
	}
}

// dispatch routes a job to the lane owning the correlation key. Blocks when
// the lane is full, which backpressures the bus consumer.
func (p *Pipeline) dispatch(correlationKey string, job func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(correlationKey))

	p.lanes[int(h.Sum32())%len(p.lanes)] <- job
}

func normalize(raw models.RawEvent, receivedAt time.Time) models.NormalizedEvent {
	eventID := strings.TrimSpace(raw.EventID)
	if eventID == "" {
		eventID = uuid.New().String()
	}

	return models.NormalizedEvent{
		EventID:        eventID,
		SourceSystem:   strings.TrimSpace(raw.SourceSystem),
		EventType:      strings.TrimSpace(raw.EventType),
		EventTime:      raw.EventTime.UTC(),
		ReceivedAt:     receivedAt.UTC(),
		CorrelationKey: strings.TrimSpace(raw.CorrelationKey),
		WorkflowKey:    strings.TrimSpace(raw.WorkflowKey),
		WorkflowKeys:   raw.WorkflowKeys,
		Group:          raw.Group,
		Payload:        raw.Payload,
	}
}

// projectGroup keeps only the dimensions the graph declares. An empty
// declaration accepts the full map.
func projectGroup(group map[string]string, dimensions []string) map[string]string {
	if len(dimensions) == 0 || len(group) == 0 {
		return group
	}

	out := make(map[string]string, len(dimensions))

	for _, dim := range dimensions {
		if value, ok := group[dim]; ok {
			out[dim] = value
		}
	}

	return out
}
