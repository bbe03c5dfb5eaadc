package alerting

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-flow/sentinel/pkg/models"
)

// DefaultSuppressionWindow is applied when suppress is called without an
// explicit until.
const DefaultSuppressionWindow = 15 * time.Minute

// Clock narrows the time dependency for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Engine owns the alert map. All mutation goes through the engine mutex; the
// per-dedupe-key identity rule means concurrent raises for one key collapse
// into a single alert.
type Engine struct {
	mu                sync.RWMutex
	byDedupe          map[string]*models.Alert
	byID              map[string]*models.Alert
	audit             []models.AuditLogEntry
	suppressionWindow time.Duration
	clock             Clock
	logger            *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithSuppressionWindow overrides the default suppress-without-until window.
func WithSuppressionWindow(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.suppressionWindow = window
		}
	}
}

func NewEngine(clock Clock, logger *slog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		byDedupe:          make(map[string]*models.Alert),
		byID:              make(map[string]*models.Alert),
		suppressionWindow: DefaultSuppressionWindow,
		clock:             clock,
		logger:            logger.With("module", "alert_engine"),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Raise applies a breach signal. First breach for a dedupe key opens a new
// alert; re-triggering an open or acked alert bumps lastTriggeredAt and may
// escalate severity but never duplicates; a suppressed alert whose window has
// elapsed reopens; a resolved alert starts a brand-new lifecycle.
func (e *Engine) Raise(signal models.BreachSignal) *models.Alert {
	now := e.clock.Now().UTC()

	triggeredAt := signal.TriggeredAt
	if triggeredAt.IsZero() {
		triggeredAt = now
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	alert, exists := e.byDedupe[signal.DedupeKey]

	if exists && alert.State == models.AlertStateResolved {
		// Resolved alerts are historical. A new breach on the same key
		// starts over with a fresh identity and triggeredAt.
		exists = false
	}

	if !exists {
		alert = e.open(signal, triggeredAt)
		e.byDedupe[signal.DedupeKey] = alert
		e.byID[alert.ID] = alert

		e.logger.Info("Alert opened",
			"alert_id", alert.ID,
			"dedupe_key", alert.DedupeKey,
			"severity", alert.Severity,
			"reason", alert.Reason,
		)

		return e.clone(alert)
	}

	alert.LastTriggeredAt = e.laterOf(alert.LastTriggeredAt, triggeredAt)
	alert.Severity = alert.Severity.Worse(signal.Severity)
	alert.Reason = signal.Reason

	if alert.State == models.AlertStateSuppressed {
		if alert.SuppressedUntil != nil && now.Before(*alert.SuppressedUntil) {
			// Still inside the suppression window: record the re-trigger
			// but keep quiet.
			return e.clone(alert)
		}

		alert.State = models.AlertStateOpen
		alert.SuppressedUntil = nil

		e.logger.Info("Suppression expired, alert reopened", "alert_id", alert.ID, "dedupe_key", alert.DedupeKey)
	}

	return e.clone(alert)
}

func (e *Engine) open(signal models.BreachSignal, triggeredAt time.Time) *models.Alert {
	return &models.Alert{
		ID:                uuid.New().String(),
		DedupeKey:         signal.DedupeKey,
		WorkflowVersionID: signal.WorkflowVersionID,
		NodeKey:           signal.Node,
		CorrelationKey:    signal.CorrelationKey,
		GroupHash:         signal.GroupHash,
		Severity:          models.NormalizeSeverity(string(signal.Severity)),
		State:             models.AlertStateOpen,
		Title:             signal.Node + " " + signal.Reason,
		Reason:            signal.Reason,
		TriggeredAt:       triggeredAt,
		LastTriggeredAt:   triggeredAt,
	}
}

// Ack marks an alert acknowledged. Re-acking is a no-op that still refreshes
// the reason when supplied.
func (e *Engine) Ack(id, actor, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.byID[id]
	if !ok {
		return ErrAlertNotFound
	}

	now := e.clock.Now().UTC()

	if alert.State == models.AlertStateOpen || alert.State == models.AlertStateSuppressed {
		alert.State = models.AlertStateAck
		alert.SuppressedUntil = nil
	}

	alert.AckedBy = actor
	alert.AckedAt = &now

	e.recordAudit(id, "ack", actor, reason, time.Time{}, now)

	return nil
}

// Suppress quiets an alert until the given time; a zero until applies the
// configured default window. The underlying deadline timers keep firing;
// suppression only changes how later raises are treated, and expiry is
// evaluated lazily on the next raise or read.
func (e *Engine) Suppress(id string, until time.Time, actor, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.byID[id]
	if !ok {
		return ErrAlertNotFound
	}

	now := e.clock.Now().UTC()

	if until.IsZero() {
		until = now.Add(e.suppressionWindow)
	}

	if alert.State != models.AlertStateResolved {
		alert.State = models.AlertStateSuppressed
		alert.SuppressedUntil = &until
	}

	e.recordAudit(id, "suppress", actor, reason, until, now)

	return nil
}

// Resolve closes the alert lifecycle. Resolved is terminal; a later breach on
// the same dedupe key opens a fresh alert.
func (e *Engine) Resolve(id, actor, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.byID[id]
	if !ok {
		return ErrAlertNotFound
	}

	now := e.clock.Now().UTC()

	if alert.State != models.AlertStateResolved {
		alert.State = models.AlertStateResolved
		alert.ResolvedAt = &now
		alert.SuppressedUntil = nil
	}

	e.recordAudit(id, "resolve", actor, reason, time.Time{}, now)

	return nil
}

// Get returns the alert by id, expiring a stale suppression window on read.
func (e *Engine) Get(id string) (*models.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.byID[id]
	if !ok {
		return nil, ErrAlertNotFound
	}

	e.expireSuppression(alert)

	return e.clone(alert), nil
}

// List returns alerts sorted by lastTriggeredAt descending, optionally
// filtered by state. Suppression expiry is evaluated lazily here, so a
// wallboard read always sees reopened alerts.
func (e *Engine) List(state models.AlertState, limit int) []*models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.Alert, 0, len(e.byID))

	for _, alert := range e.byID {
		e.expireSuppression(alert)

		if state != "" && alert.State != state {
			continue
		}

		out = append(out, e.clone(alert))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTriggeredAt.After(out[j].LastTriggeredAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

// ListForCorrelation returns the alerts attached to one correlation key.
func (e *Engine) ListForCorrelation(workflowVersionID, correlationKey string) []*models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*models.Alert

	for _, alert := range e.byID {
		if alert.WorkflowVersionID == workflowVersionID && alert.CorrelationKey == correlationKey {
			e.expireSuppression(alert)
			out = append(out, e.clone(alert))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTriggeredAt.After(out[j].LastTriggeredAt)
	})

	return out
}

// AuditTrail returns a copy of the operator action log.
func (e *Engine) AuditTrail() []models.AuditLogEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.AuditLogEntry, len(e.audit))
	copy(out, e.audit)

	return out
}

func (e *Engine) expireSuppression(alert *models.Alert) {
	if alert.State != models.AlertStateSuppressed || alert.SuppressedUntil == nil {
		return
	}

	if !e.clock.Now().UTC().Before(*alert.SuppressedUntil) {
		alert.State = models.AlertStateOpen
		alert.SuppressedUntil = nil
	}
}

func (e *Engine) recordAudit(alertID, action, actor, reason string, until, at time.Time) {
	e.audit = append(e.audit, models.AuditLogEntry{
		ID:         uuid.New().String(),
		EntityType: "alert",
		EntityID:   alertID,
		Action:     action,
		Actor:      actor,
		Reason:     reason,
		Until:      until,
		At:         at,
	})
}

func (e *Engine) laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}

	return a
}

func (e *Engine) clone(alert *models.Alert) *models.Alert {
	copied := *alert

	return &copied
}
