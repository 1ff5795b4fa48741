// Package ledger persists migration runs and per-template outcomes so that
// repeated runs against the same stores can be compared after the fact.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/dtmigrate/pkg/migration"
)

// Compile-time check that Ledger records migration outcomes.
var _ migration.OutcomeRecorder = (*Ledger)(nil)

// ErrNoActiveRun is returned by Record and FinishRun before StartRun.
var ErrNoActiveRun = errors.New("no active run")

// Ledger writes runs and outcomes to a database. A Ledger tracks one active
// run at a time; Record may be called concurrently.
type Ledger struct {
	db     *gorm.DB
	logger hclog.Logger
	run    *Run
}

// New creates a ledger on db.
func New(db *gorm.DB, logger hclog.Logger) *Ledger {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Ledger{db: db, logger: logger.Named("ledger")}
}

// AutoMigrate creates or updates the ledger tables.
func (l *Ledger) AutoMigrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&Run{}, &OutcomeRecord{}); err != nil {
		return fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	return nil
}

// StartRun records the start of a run and makes it the active run.
func (l *Ledger) StartRun(ctx context.Context, source, destination string, concurrency int) (*Run, error) {
	run := &Run{
		Source:      source,
		Destination: destination,
		Concurrency: concurrency,
		StartedAt:   time.Now(),
	}
	if err := l.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	l.run = run
	l.logger.Debug("started run", "run", run.RunUUID, "source", source, "destination", destination)
	return run, nil
}

// Record implements migration.OutcomeRecorder.
func (l *Ledger) Record(ctx context.Context, o migration.Outcome) error {
	if l.run == nil {
		return ErrNoActiveRun
	}

	total := 0
	for _, n := range o.Replacements {
		total += n
	}
	rec := &OutcomeRecord{
		RunID:         l.run.ID,
		Template:      o.Template,
		Status:        string(o.Status),
		SourceID:      o.SourceID,
		DestinationID: o.DestinationID,
		EntityName:    o.Remap.EntityName,
		OldCode:       o.Remap.OldCode,
		NewCode:       o.Remap.NewCode,
		Replacements:  total,
		Reason:        o.Reason,
		DurationMS:    o.Duration.Milliseconds(),
	}
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record outcome of %q: %w", o.Template, err)
	}
	return nil
}

// FinishRun stores the report totals on the active run and clears it.
func (l *Ledger) FinishRun(ctx context.Context, report *migration.Report) (*Run, error) {
	if l.run == nil {
		return nil, ErrNoActiveRun
	}

	run := l.run
	finished := report.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	run.FinishedAt = &finished
	run.Created = report.Created()
	run.Updated = report.Updated()
	run.Failed = report.Failed()
	run.PeakConcurrency = report.PeakConcurrency
	if err := l.db.WithContext(ctx).Save(run).Error; err != nil {
		return nil, fmt.Errorf("failed to finish run %s: %w", run.RunUUID, err)
	}

	l.run = nil
	l.logger.Debug("finished run",
		"run", run.RunUUID,
		"created", run.Created,
		"updated", run.Updated,
		"failed", run.Failed)
	return run, nil
}

// Outcomes returns the outcomes recorded for a run ordered by template name.
func (l *Ledger) Outcomes(ctx context.Context, runID uint) ([]OutcomeRecord, error) {
	var records []OutcomeRecord
	err := l.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("template ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load outcomes of run %d: %w", runID, err)
	}
	return records, nil
}

// LatestRun returns the most recently started run.
func (l *Ledger) LatestRun(ctx context.Context) (*Run, error) {
	var run Run
	err := l.db.WithContext(ctx).Order("started_at DESC, id DESC").First(&run).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load latest run: %w", err)
	}
	return &run, nil
}
