package migrate

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/dtmigrate/internal/cmd/base"
	"github.com/hashicorp-forge/dtmigrate/pkg/audit"
	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
	"github.com/hashicorp-forge/dtmigrate/pkg/database"
	"github.com/hashicorp-forge/dtmigrate/pkg/ledger"
	"github.com/hashicorp-forge/dtmigrate/pkg/migration"
	"github.com/hashicorp-forge/dtmigrate/pkg/templates"
)

type Command struct {
	*base.Command

	// Fs is the filesystem used for audit copies and scratch buffers.
	// Defaults to the operating system filesystem.
	Fs afero.Fs

	flagConfig      string
	flagYes         bool
	flagLogLevel    string
	flagConcurrency int
}

func (c *Command) Synopsis() string {
	return "Migrate document templates from the source to the destination"
}

func (c *Command) Help() string {
	return `Usage: dtmigrate migrate -config=<file> [options]

  This command copies every active, user-created Word document template
  from the source instance to the destination instance. The entity type
  code bound into each template is rewritten to the destination's code.
  Templates that already exist in the destination (by name) are updated.` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("migrate", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to dtmigrate config `file`.",
	)
	f.BoolVar(
		&c.flagYes, "yes", false,
		"Migrate without asking for confirmation.",
	)
	f.StringVar(
		&c.flagLogLevel, "log-level", "",
		"Log level (trace, debug, info, warn, error). Overrides log_level in the config file.",
	)
	f.IntVar(
		&c.flagConcurrency, "concurrency", 0,
		"Templates migrated at the same time. Overrides migration.concurrency in the config file.",
	)

	return f
}

func (c *Command) Run(args []string) int {
	logger, ui := c.Log, c.UI

	// Parse flags.
	flags := c.Flags()
	if err := flags.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if c.flagConcurrency < 0 {
		ui.Error("concurrency must not be negative")
		return 1
	}

	// Parse configuration.
	cfg, err := c.LoadConfig(c.flagConfig, c.flagLogLevel)
	if err != nil {
		ui.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}
	concurrency := cfg.Migration.Concurrency
	if c.flagConcurrency > 0 {
		concurrency = c.flagConcurrency
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, dest, err := c.Stores(cfg)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	for _, s := range []crm.Store{source, dest} {
		id, err := s.WhoAmI(ctx)
		if err != nil {
			ui.Error(fmt.Sprintf("error connecting to %s: %s", crm.NameOf(s), crm.Diagnostic(err)))
			return 1
		}
		ui.Info(fmt.Sprintf("Connected to %s as user %s", crm.NameOf(s), id))
	}

	repo := templates.NewRepository(logger)
	candidates, err := repo.ListCandidates(ctx, source)
	if err != nil {
		ui.Error(fmt.Sprintf("error listing templates: %s", crm.Diagnostic(err)))
		return 1
	}
	if len(candidates) == 0 {
		ui.Info("No templates to migrate")
		return 0
	}

	ui.Info(fmt.Sprintf("Found %d templates to migrate from %s to %s",
		len(candidates), cfg.Source.URL, cfg.Destination.URL))
	if !c.flagYes {
		ok, err := confirm(ui, "Do you want to upload the templates? (Y/N)")
		if err != nil {
			ui.Error(fmt.Sprintf("error reading confirmation: %v", err))
			return 1
		}
		if !ok {
			ui.Warn("Migration cancelled")
			return 0
		}
	}

	fs := c.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	sink, err := audit.New(cfg.Audit, fs, logger)
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing audit sink: %v", err))
		return 1
	}

	var scratch *migration.Scratch
	if cfg.Migration.ScratchDir != "" {
		scratch = migration.NewScratch(fs, cfg.Migration.ScratchDir)
	}

	var ldg *ledger.Ledger
	if cfg.Ledger != nil {
		db, err := database.Connect(*cfg.Ledger, logger)
		if err != nil {
			ui.Error(fmt.Sprintf("error initializing ledger database: %v", err))
			return 1
		}
		defer func() { _ = database.Close(db) }()

		ldg = ledger.New(db, logger)
		if err := ldg.AutoMigrate(ctx); err != nil {
			ui.Error(err.Error())
			return 1
		}
		run, err := ldg.StartRun(ctx, cfg.Source.URL, cfg.Destination.URL, concurrency)
		if err != nil {
			ui.Error(err.Error())
			return 1
		}
		logger.Info("recording run", "run", run.RunUUID)
	}

	// Outcomes arrive from several workers.
	out := &cli.ConcurrentUi{Ui: ui}
	migCfg := &migration.Config{
		Source:      source,
		Destination: dest,
		Repository:  repo,
		Scratch:     scratch,
		Audit:       sink,
		Concurrency: concurrency,
		Logger:      logger,
		OnOutcome:   func(o migration.Outcome) { printOutcome(out, o) },
	}
	if ldg != nil {
		migCfg.Recorder = ldg
	}
	m, err := migration.New(migCfg)
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing migrator: %v", err))
		return 1
	}

	report := m.MigrateAll(ctx, candidates)

	if ldg != nil {
		if _, err := ldg.FinishRun(context.WithoutCancel(ctx), report); err != nil {
			ui.Warn(fmt.Sprintf("error recording run totals: %v", err))
		}
	}

	// Final summary.
	ui.Info("")
	ui.Info("=== Summary ===")
	ui.Info(fmt.Sprintf("Templates created: %d", report.Created()))
	ui.Info(fmt.Sprintf("Templates updated: %d", report.Updated()))
	if report.Failed() > 0 {
		ui.Error(fmt.Sprintf("Templates failed: %d", report.Failed()))
		return 1
	}
	ui.Info("Templates failed: 0")
	return 0
}

// confirm asks question once. Only y or yes confirms.
func confirm(ui cli.Ui, question string) (bool, error) {
	answer, err := ui.Ask(question)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func printOutcome(ui cli.Ui, o migration.Outcome) {
	if !o.Succeeded() {
		ui.Error(fmt.Sprintf("Failed to migrate '%s': %s", o.Template, o.Reason))
		return
	}

	parts := make([]string, 0, len(o.Replacements))
	for part := range o.Replacements {
		parts = append(parts, part)
	}
	sort.Strings(parts)
	for _, part := range parts {
		ui.Output(fmt.Sprintf("Replaced '%s' with '%s' inside %s on %s",
			o.Remap.Pattern(), o.Remap.Replacement(), part, o.Template))
	}
	if len(parts) == 0 {
		ui.Warn(fmt.Sprintf("No reference to '%s' found in %s", o.Remap.Pattern(), o.Template))
	}

	verb := "Created"
	if o.Status == migration.StatusUpdated {
		verb = "Updated"
	}
	ui.Info(fmt.Sprintf("%s '%s' (%s) in the destination", verb, o.Template, o.DestinationID))
}
