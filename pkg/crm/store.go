// Package crm describes the record store that document templates are read
// from and written to.
//
// A Store is an opaque handle to one store instance (for example one
// organization of a hosted record-management system). The migration engine
// only needs a handful of operations from it:
//
//   - Query: run a filtered query against one entity and get rows back
//   - Create / Update: write a record
//   - EntityTypeCode: look up the instance-specific numeric type code of an entity
//   - WhoAmI: identify the account the handle is authenticated as
//
// Implementations must be safe for concurrent use; the migrator shares one
// handle per instance across all of its workers.
package crm

import (
	"context"

	"github.com/google/uuid"
)

// Store is a handle to a single record-store instance.
type Store interface {
	// Query returns every record of q.Entity matching all conditions.
	Query(ctx context.Context, q Query) ([]Record, error)

	// Create creates a record and returns the id assigned by the store.
	Create(ctx context.Context, entity string, attrs Attributes) (uuid.UUID, error)

	// Update overwrites the given attributes of an existing record.
	Update(ctx context.Context, entity string, id uuid.UUID, attrs Attributes) error

	// EntityTypeCode returns the numeric type code of an entity in this
	// instance. Returns an error wrapping ErrMetadataNotFound when the entity
	// does not exist.
	EntityTypeCode(ctx context.Context, logicalName string) (int, error)

	// WhoAmI returns the id of the authenticated user.
	WhoAmI(ctx context.Context) (uuid.UUID, error)
}

// Named is implemented by stores that can describe themselves in logs and
// failure messages.
type Named interface {
	Name() string
}

// NameOf returns the store's name, or "store" if it has none.
func NameOf(s Store) string {
	if n, ok := s.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return "store"
}
