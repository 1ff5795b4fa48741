package templates

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
)

// Action is the write performed by Upsert.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// UpsertResult describes the write performed by Upsert.
type UpsertResult struct {
	Action Action
	ID     uuid.UUID
}

// candidateColumns are the attributes read for each candidate template.
var candidateColumns = []string{
	AttrContent,
	AttrName,
	AttrAssociatedEntityTypeCode,
	AttrDocumentType,
	AttrClientData,
}

// Repository reads and writes document templates.
type Repository struct {
	logger hclog.Logger
}

// NewRepository creates a template repository.
func NewRepository(logger hclog.Logger) *Repository {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Repository{logger: logger.Named("templates")}
}

// CandidateQuery returns the query selecting templates eligible for
// migration: active, word-processing and not authored by the system.
func CandidateQuery() crm.Query {
	return crm.Query{
		Entity:  Entity,
		Columns: candidateColumns,
		Conditions: []crm.Condition{
			crm.Equal(AttrStatus, false),
			crm.Equal(AttrDocumentType, DocumentTypeWord),
			crm.NotEqual(AttrCreatedByName, SystemAuthor),
		},
	}
}

// ListCandidates returns the templates in source eligible for migration.
// A record that cannot be converted is still returned, with ReadErr set, so
// that it is reported alongside the others.
func (r *Repository) ListCandidates(ctx context.Context, source crm.Store) ([]Template, error) {
	records, err := source.Query(ctx, CandidateQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate templates in %s: %w", crm.NameOf(source), err)
	}

	out := make([]Template, 0, len(records))
	for _, rec := range records {
		t, err := FromRecord(rec)
		if err != nil {
			r.logger.Warn("unreadable candidate template", "store", crm.NameOf(source), "id", rec.ID, "error", err)
			t = Template{
				ID:      rec.ID,
				Name:    nameOf(rec),
				ReadErr: fmt.Errorf("failed to read template %s from %s: %w", rec.ID, crm.NameOf(source), err),
			}
		}
		out = append(out, t)
	}

	r.logger.Debug("listed candidate templates", "store", crm.NameOf(source), "count", len(out))
	return out, nil
}

func nameOf(rec crm.Record) string {
	if name, err := rec.String(AttrName); err == nil && name != "" {
		return name
	}
	return rec.ID.String()
}

// FindExisting looks up an active template by name in dest and returns the
// id of the first match.
func (r *Repository) FindExisting(ctx context.Context, dest crm.Store, name string) (uuid.UUID, bool, error) {
	q := crm.Query{
		Entity:  Entity,
		Columns: []string{AttrID},
		Conditions: []crm.Condition{
			crm.Equal(AttrStatus, false),
			crm.Equal(AttrName, name),
		},
	}
	records, err := dest.Query(ctx, q)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to look up template %q in %s: %w", name, crm.NameOf(dest), err)
	}
	if len(records) == 0 {
		return uuid.Nil, false, nil
	}
	if len(records) > 1 {
		r.logger.Warn("multiple templates share a name, updating the first",
			"store", crm.NameOf(dest), "name", name, "count", len(records))
	}
	return records[0].ID, true, nil
}

// Upsert updates the active template with the same name in dest, or
// creates one when none exists.
func (r *Repository) Upsert(ctx context.Context, dest crm.Store, t Template) (UpsertResult, error) {
	if err := t.Validate(); err != nil {
		return UpsertResult{}, fmt.Errorf("invalid template %q: %w", t.Name, err)
	}

	id, found, err := r.FindExisting(ctx, dest, t.Name)
	if err != nil {
		return UpsertResult{}, err
	}

	attrs := t.Attributes()
	if found {
		if err := dest.Update(ctx, Entity, id, attrs); err != nil {
			return UpsertResult{}, fmt.Errorf("failed to update template %q (%s) in %s: %w", t.Name, id, crm.NameOf(dest), err)
		}
		r.logger.Debug("updated template", "store", crm.NameOf(dest), "name", t.Name, "id", id)
		return UpsertResult{Action: ActionUpdated, ID: id}, nil
	}

	id, err = dest.Create(ctx, Entity, attrs)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to create template %q in %s: %w", t.Name, crm.NameOf(dest), err)
	}
	r.logger.Debug("created template", "store", crm.NameOf(dest), "name", t.Name, "id", id)
	return UpsertResult{Action: ActionCreated, ID: id}, nil
}
