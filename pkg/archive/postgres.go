package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sentinel-flow/sentinel/pkg/models"

	_ "github.com/lib/pq" // postgres driver
)

const createEventsTableSQL = `
	CREATE TABLE IF NOT EXISTS events (
		event_id        TEXT PRIMARY KEY,
		source_system   TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		correlation_key TEXT NOT NULL,
		event_time      TIMESTAMP WITH TIME ZONE NOT NULL,
		received_at     TIMESTAMP WITH TIME ZONE NOT NULL,
		envelope        JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_correlation_key ON events (correlation_key);
	CREATE INDEX IF NOT EXISTS idx_events_received_at ON events (received_at DESC);
`

// PostgresArchive stores events in PostgreSQL. Idempotency rides on the
// event_id primary key: inserting a duplicate is a no-op reported to the
// caller.
type PostgresArchive struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresArchive(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresArchive, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := database.ExecContext(ctx, createEventsTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	return &PostgresArchive{
		db:     database,
		logger: logger.With("module", "event_archive"),
	}, nil
}

func (a *PostgresArchive) Save(ctx context.Context, event models.NormalizedEvent) (SaveResult, error) {
	envelope, err := json.Marshal(event)
	if err != nil {
		return SaveDuplicate, fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	result, err := a.db.ExecContext(ctx, `
		INSERT INTO events (event_id, source_system, event_type, correlation_key, event_time, received_at, envelope)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID,
		event.SourceSystem,
		event.EventType,
		event.CorrelationKey,
		event.EventTime,
		event.ReceivedAt,
		envelope,
	)
	if err != nil {
		return SaveDuplicate, fmt.Errorf("failed to archive event %s: %w", event.EventID, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return SaveDuplicate, fmt.Errorf("failed to read archive result for event %s: %w", event.EventID, err)
	}

	if inserted == 0 {
		return SaveDuplicate, nil
	}

	return SaveStored, nil
}

func (a *PostgresArchive) Recent(ctx context.Context, limit int) ([]models.NormalizedEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT envelope FROM events ORDER BY received_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.NormalizedEvent

	for rows.Next() {
		var envelope []byte
		if err := rows.Scan(&envelope); err != nil {
			return nil, fmt.Errorf("failed to scan event envelope: %w", err)
		}

		var event models.NormalizedEvent
		if err := json.Unmarshal(envelope, &event); err != nil {
			a.logger.Warn("Skipping undecodable archived event", "error", err)

			continue
		}

		out = append(out, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent events: %w", err)
	}

	return out, nil
}

func (a *PostgresArchive) HealthCheck(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (a *PostgresArchive) Close(_ context.Context) error {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
