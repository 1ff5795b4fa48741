package list

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/hashicorp-forge/dtmigrate/internal/cmd/base"
	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
	"github.com/hashicorp-forge/dtmigrate/pkg/migration"
	"github.com/hashicorp-forge/dtmigrate/pkg/templates"
)

type Command struct {
	*base.Command

	flagConfig   string
	flagLogLevel string
}

func (c *Command) Synopsis() string {
	return "List the templates a migration would copy"
}

func (c *Command) Help() string {
	return `Usage: dtmigrate list -config=<file> [options]

  This command lists the templates in the source instance that a migration
  would copy, with the entity type code remapping each one would receive.
  Nothing is written to either instance.` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("list", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to dtmigrate config `file`.",
	)
	f.StringVar(
		&c.flagLogLevel, "log-level", "",
		"Log level (trace, debug, info, warn, error). Overrides log_level in the config file.",
	)

	return f
}

func (c *Command) Run(args []string) int {
	logger, ui := c.Log, c.UI

	flags := c.Flags()
	if err := flags.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, err := c.LoadConfig(c.flagConfig, c.flagLogLevel)
	if err != nil {
		ui.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	source, dest, err := c.Stores(cfg)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	candidates, err := templates.NewRepository(logger).ListCandidates(ctx, source)
	if err != nil {
		ui.Error(fmt.Sprintf("error listing templates: %s", crm.Diagnostic(err)))
		return 1
	}
	if len(candidates) == 0 {
		ui.Info("No templates to migrate")
		return 0
	}

	resolver := migration.NewResolver(logger)
	unresolved, unreadable := 0, 0
	for _, t := range candidates {
		if t.ReadErr != nil {
			ui.Warn(fmt.Sprintf("%s\t-\t%s", t.Name, t.ReadErr))
			unreadable++
			continue
		}
		oldCode, err := resolver.Resolve(ctx, source, t.EntityName)
		if err != nil {
			ui.Warn(fmt.Sprintf("%s\t%s\t%s", t.Name, t.EntityName, describe(err)))
			unresolved++
			continue
		}
		newCode, err := resolver.Resolve(ctx, dest, t.EntityName)
		if err != nil {
			ui.Warn(fmt.Sprintf("%s\t%s\t%s", t.Name, t.EntityName, describe(err)))
			unresolved++
			continue
		}
		remap := migration.Remap{EntityName: t.EntityName, OldCode: oldCode, NewCode: newCode}
		ui.Output(fmt.Sprintf("%s\t%s -> %s", t.Name, remap.Pattern(), remap.Replacement()))
	}

	ui.Info(fmt.Sprintf("%d templates, %d without entity metadata", len(candidates), unresolved))
	if unreadable > 0 {
		ui.Warn(fmt.Sprintf("%d templates could not be read", unreadable))
	}
	return 0
}

func describe(err error) string {
	if errors.Is(err, crm.ErrMetadataNotFound) {
		var nf *crm.NotFoundError
		if errors.As(err, &nf) {
			return "entity missing in " + nf.Store
		}
		return "entity missing"
	}
	return crm.Diagnostic(err)
}
