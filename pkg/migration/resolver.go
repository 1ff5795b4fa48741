package migration

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
)

// Resolver looks up entity type codes.
type Resolver struct {
	logger hclog.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger hclog.Logger) *Resolver {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Resolver{logger: logger.Named("resolver")}
}

// Resolve returns the type code of entity in store. An entity unknown to the
// store yields an error matching crm.ErrMetadataNotFound.
func (r *Resolver) Resolve(ctx context.Context, store crm.Store, entity string) (int, error) {
	if entity == "" {
		return 0, &crm.NotFoundError{Entity: entity, Store: crm.NameOf(store)}
	}
	code, err := store.EntityTypeCode(ctx, entity)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve type code of %q in %s: %w", entity, crm.NameOf(store), err)
	}
	r.logger.Trace("resolved entity type code", "store", crm.NameOf(store), "entity", entity, "code", code)
	return code, nil
}
