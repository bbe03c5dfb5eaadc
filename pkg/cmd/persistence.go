// Package cmd provides common initialization helpers for the command-line
// entry points.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sentinel-flow/sentinel/pkg/archive"
)

// NewArchive picks the event archive from the database URL scheme. An empty
// URL selects the in-memory archive for local development.
func NewArchive(ctx context.Context, logger *slog.Logger, databaseURL string) archive.EventArchive {
	if databaseURL == "" || strings.HasPrefix(databaseURL, "memory://") {
		return archive.NewMemoryArchive()
	}

	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		pg, err := archive.NewPostgresArchive(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL event archive: %w", err))
		}

		return pg
	}

	panic("Unsupported event archive provider: " + databaseURL)
}
