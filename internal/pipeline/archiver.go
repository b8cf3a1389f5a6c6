// Package pipeline hosts long-running background jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AuditArchiver is the narrow interface the runner needs from the blob layer.
type AuditArchiver interface {
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}

// Archiver periodically moves old audit entries to cold storage.
type Archiver struct {
	blobArchiver  AuditArchiver
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver. Entries older than retentionDays are
// archived on every run; runs happen every interval.
func NewArchiver(blobArchiver AuditArchiver, retentionDays int, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
	}
}

// Run executes a single archive run against the retention cutoff.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit entries before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete", slog.Int64("audit_archived", archived))
	return nil
}

// RunLoop runs the archiver on its interval until the context is cancelled.
// A failed run is logged and retried on the next tick.
func (a *Archiver) RunLoop(ctx context.Context) error {
	a.logger.Info("archiver loop started", slog.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
