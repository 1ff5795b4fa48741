package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/dtmigrate/pkg/audit"
	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
	"github.com/hashicorp-forge/dtmigrate/pkg/docpkg"
	"github.com/hashicorp-forge/dtmigrate/pkg/templates"
)

// Config contains migrator configuration. Source and Destination are
// required; every other field has a default.
type Config struct {
	Source      crm.Store
	Destination crm.Store

	Repository TemplateRepository // Default: templates.NewRepository
	Resolver   *Resolver          // Default: NewResolver
	Rewrite    RewriteFunc        // Default: docpkg.Rewrite
	Scratch    *Scratch           // Default: in-memory scratch space

	// Audit receives each template's original content before it is
	// rewritten. Failures are logged and do not fail the template.
	Audit audit.Sink
	// Recorder receives every outcome. Failures are logged.
	Recorder OutcomeRecorder

	Concurrency int // Templates migrated at the same time (default: 5)
	Logger      hclog.Logger

	// OnOutcome is called once per template as soon as it finishes. It may
	// be called from several goroutines at once.
	OnOutcome func(Outcome)
}

// Migrator migrates templates from a source store to a destination store.
type Migrator struct {
	source      crm.Store
	dest        crm.Store
	repo        TemplateRepository
	resolver    *Resolver
	rewrite     RewriteFunc
	scratch     *Scratch
	audit       audit.Sink
	recorder    OutcomeRecorder
	concurrency int
	logger      hclog.Logger
	onOutcome   func(Outcome)
}

// New creates a migrator.
func New(cfg *Config) (*Migrator, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("source store is required")
	}
	if cfg.Destination == nil {
		return nil, errors.New("destination store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	m := &Migrator{
		source:      cfg.Source,
		dest:        cfg.Destination,
		repo:        cfg.Repository,
		resolver:    cfg.Resolver,
		rewrite:     cfg.Rewrite,
		scratch:     cfg.Scratch,
		audit:       cfg.Audit,
		recorder:    cfg.Recorder,
		concurrency: cfg.Concurrency,
		logger:      logger.Named("migrator"),
		onOutcome:   cfg.OnOutcome,
	}
	if m.repo == nil {
		m.repo = templates.NewRepository(logger)
	}
	if m.resolver == nil {
		m.resolver = NewResolver(logger)
	}
	if m.rewrite == nil {
		m.rewrite = docpkg.Rewrite
	}
	if m.scratch == nil {
		m.scratch = NewScratch(nil, "")
	}
	if m.concurrency == 0 {
		m.concurrency = DefaultConcurrency
	}
	return m, nil
}

// Run lists the candidate templates in the source store and migrates all of
// them. Only a failure to list candidates is returned as an error; failures
// of individual templates are reported in the Report.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	candidates, err := m.repo.ListCandidates(ctx, m.source)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate templates: %w", err)
	}
	return m.MigrateAll(ctx, candidates), nil
}

// MigrateAll migrates the given templates with bounded concurrency and
// returns one outcome per template, in input order.
func (m *Migrator) MigrateAll(ctx context.Context, tmpls []templates.Template) *Report {
	report := &Report{
		Outcomes:  make([]Outcome, len(tmpls)),
		StartedAt: time.Now(),
	}

	m.logger.Info("migrating templates",
		"source", crm.NameOf(m.source),
		"destination", crm.NameOf(m.dest),
		"templates", len(tmpls),
		"concurrency", m.concurrency)

	pool := NewPool(m.concurrency)
	pool.Run(ctx, len(tmpls), func(ctx context.Context, i int) {
		report.Outcomes[i] = m.MigrateTemplate(ctx, tmpls[i])
	})

	report.FinishedAt = time.Now()
	report.PeakConcurrency = pool.Peak()

	m.logger.Info("migration finished",
		"created", report.Created(),
		"updated", report.Updated(),
		"failed", report.Failed(),
		"duration", report.FinishedAt.Sub(report.StartedAt))

	return report
}
