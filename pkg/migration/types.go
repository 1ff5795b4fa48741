// Package migration copies document templates from a source store to a
// destination store, rewriting the entity type code embedded in each
// template so its data bindings keep working in the destination.
package migration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
	"github.com/hashicorp-forge/dtmigrate/pkg/docpkg"
	"github.com/hashicorp-forge/dtmigrate/pkg/templates"
)

// Status is the terminal state of a template migration.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusFailed  Status = "failed"
)

// Remap is the entity type code change applied to one template.
type Remap struct {
	EntityName string
	OldCode    int
	NewCode    int
}

// Pattern returns the text replaced in the template, e.g. "account/1".
func (r Remap) Pattern() string {
	return fmt.Sprintf("%s/%d", r.EntityName, r.OldCode)
}

// Replacement returns the text written in place of Pattern.
func (r Remap) Replacement() string {
	return fmt.Sprintf("%s/%d", r.EntityName, r.NewCode)
}

// Outcome is the result of migrating one template.
type Outcome struct {
	Template string    // Template name
	SourceID uuid.UUID // Template id in the source store
	Status   Status

	// DestinationID is the id of the template in the destination store.
	// It is uuid.Nil for failed outcomes.
	DestinationID uuid.UUID
	Remap         Remap
	// Replacements maps package part names to the number of replaced
	// occurrences.
	Replacements map[string]int

	// Reason is a human-readable failure description including remote fault
	// details and the innermost cause.
	Reason   string
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the template reached the destination.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusCreated || o.Status == StatusUpdated
}

// Report collects the outcomes of one run. It holds exactly one outcome per
// candidate template.
type Report struct {
	Outcomes        []Outcome
	StartedAt       time.Time
	FinishedAt      time.Time
	PeakConcurrency int
}

// Created returns the number of templates created in the destination.
func (r *Report) Created() int { return r.count(StatusCreated) }

// Updated returns the number of existing destination templates updated.
func (r *Report) Updated() int { return r.count(StatusUpdated) }

// Failed returns the number of templates that failed.
func (r *Report) Failed() int { return r.count(StatusFailed) }

func (r *Report) count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Err returns the combined errors of all failed templates, ordered by
// template name, or nil when every template succeeded.
func (r *Report) Err() error {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}
	sort.SliceStable(failed, func(i, j int) bool { return failed[i].Template < failed[j].Template })

	var result *multierror.Error
	for _, o := range failed {
		result = multierror.Append(result, fmt.Errorf("template %q: %w", o.Template, o.Err))
	}
	return result.ErrorOrNil()
}

// TemplateRepository lists and writes templates.
type TemplateRepository interface {
	ListCandidates(ctx context.Context, source crm.Store) ([]templates.Template, error)
	Upsert(ctx context.Context, dest crm.Store, t templates.Template) (templates.UpsertResult, error)
}

// RewriteFunc rewrites every occurrence of pattern in a packaged document.
type RewriteFunc func(content []byte, pattern, replacement string) (*docpkg.Result, error)

// OutcomeRecorder persists outcomes.
type OutcomeRecorder interface {
	Record(ctx context.Context, o Outcome) error
}
