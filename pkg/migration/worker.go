package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
	"github.com/hashicorp-forge/dtmigrate/pkg/docpkg"
	"github.com/hashicorp-forge/dtmigrate/pkg/templates"
)

// MigrateTemplate moves one template to the destination store:
//
//  1. resolve the entity type code in both stores
//  2. rewrite the package, replacing "<entity>/<old>" with "<entity>/<new>"
//  3. create or update the destination template by name
//
// Every error, including a panic, is converted into a failed Outcome. A
// template that could not be read from the source fails as a corrupt package.
func (m *Migrator) MigrateTemplate(ctx context.Context, tmpl templates.Template) (out Outcome) {
	start := time.Now()
	out = Outcome{Template: tmpl.Name, SourceID: tmpl.ID}
	logger := m.logger.With("template", tmpl.Name)

	defer func() {
		if r := recover(); r != nil {
			out = m.fail(out, fmt.Errorf("unexpected panic: %v", r))
		}
		out.Duration = time.Since(start)
		m.finish(ctx, out)
	}()

	if err := ctx.Err(); err != nil {
		return m.fail(out, fmt.Errorf("not started: %w", err))
	}
	if tmpl.ReadErr != nil {
		return m.fail(out, fmt.Errorf("%w: %w", docpkg.ErrPackageCorrupt, tmpl.ReadErr))
	}

	oldCode, err := m.resolver.Resolve(ctx, m.source, tmpl.EntityName)
	if err != nil {
		return m.fail(out, err)
	}
	newCode, err := m.resolver.Resolve(ctx, m.dest, tmpl.EntityName)
	if err != nil {
		return m.fail(out, err)
	}
	out.Remap = Remap{EntityName: tmpl.EntityName, OldCode: oldCode, NewCode: newCode}

	if m.audit != nil {
		location, err := m.audit.StoreOriginal(ctx, tmpl.Name, tmpl.Content)
		if err != nil {
			logger.Warn("failed to store original content", "error", err)
		} else if location != "" {
			logger.Debug("stored original content", "location", location)
		}
	}

	content, replacements, err := m.rewriteInScratch(tmpl, out.Remap)
	if err != nil {
		return m.fail(out, err)
	}
	out.Replacements = replacements
	for part, n := range replacements {
		logger.Debug("replaced entity reference",
			"part", part,
			"pattern", out.Remap.Pattern(),
			"replacement", out.Remap.Replacement(),
			"count", n)
	}

	tmpl.Content = content
	tmpl.EntityTypeCode = newCode
	result, err := m.repo.Upsert(ctx, m.dest, tmpl)
	if err != nil {
		return m.fail(out, err)
	}

	out.DestinationID = result.ID
	switch result.Action {
	case templates.ActionUpdated:
		out.Status = StatusUpdated
	default:
		out.Status = StatusCreated
	}
	logger.Info("template migrated",
		"status", out.Status,
		"id", out.DestinationID,
		"pattern", out.Remap.Pattern(),
		"replacement", out.Remap.Replacement())
	return out
}

// rewriteInScratch runs the rewrite on a private scratch copy of the
// template's content. The buffer is released on every path.
func (m *Migrator) rewriteInScratch(tmpl templates.Template, remap Remap) ([]byte, map[string]int, error) {
	buf, err := m.scratch.Acquire(tmpl.Name, tmpl.Content)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := buf.Release(); err != nil {
			m.logger.Warn("failed to release scratch buffer", "template", tmpl.Name, "path", buf.Path(), "error", err)
		}
	}()

	original, err := buf.Bytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read scratch buffer: %w", err)
	}
	res, err := m.rewrite(original, remap.Pattern(), remap.Replacement())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to rewrite package: %w", err)
	}
	if err := buf.Replace(res.Content); err != nil {
		return nil, nil, fmt.Errorf("failed to write scratch buffer: %w", err)
	}
	rewritten, err := buf.Bytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read scratch buffer: %w", err)
	}
	return rewritten, res.Replacements, nil
}

// fail marks an outcome as failed.
func (m *Migrator) fail(out Outcome, err error) Outcome {
	out.Status = StatusFailed
	out.DestinationID = uuid.Nil
	out.Err = err
	out.Reason = crm.Diagnostic(err)
	m.logger.Error("template migration failed", "template", out.Template, "error", out.Reason)
	return out
}

// finish hands a terminal outcome to the recorder and the callback.
func (m *Migrator) finish(ctx context.Context, out Outcome) {
	if m.recorder != nil {
		// Outcomes are recorded even after the run is cancelled.
		if err := m.recorder.Record(context.WithoutCancel(ctx), out); err != nil {
			m.logger.Warn("failed to record outcome", "template", out.Template, "error", err)
		}
	}
	if m.onOutcome != nil {
		m.onOutcome(out)
	}
}
