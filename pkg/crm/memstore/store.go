// Package memstore provides an in-memory crm.Store for tests and local
// rehearsals. It keeps records per entity, serves entity type codes from a
// fixed table and supports fault injection.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hashicorp-forge/dtmigrate/pkg/crm"
)

// Compile-time check that Store implements crm.Store.
var _ crm.Store = (*Store)(nil)

// Op names the store operation a fault hook is invoked for.
type Op string

const (
	OpQuery          Op = "query"
	OpCreate         Op = "create"
	OpUpdate         Op = "update"
	OpEntityTypeCode Op = "entitytypecode"
)

// FaultFunc is consulted before every operation. Returning a non-nil error
// fails the operation with that error.
type FaultFunc func(op Op, entity string, attrs crm.Attributes) error

// Store is an in-memory record store. The zero value is not usable; call New.
type Store struct {
	name   string
	userID uuid.UUID

	mu        sync.RWMutex
	records   map[string]map[uuid.UUID]crm.Attributes
	typeCodes map[string]int
	defaults  map[string]crm.Attributes
	fault     FaultFunc

	queries atomic.Int64
	creates atomic.Int64
	updates atomic.Int64
	lookups atomic.Int64
}

// New creates an empty store with the given name and entity type codes.
func New(name string, typeCodes map[string]int) *Store {
	codes := make(map[string]int, len(typeCodes))
	for k, v := range typeCodes {
		codes[k] = v
	}
	return &Store{
		name:      name,
		userID:    uuid.New(),
		records:   make(map[string]map[uuid.UUID]crm.Attributes),
		typeCodes: codes,
		defaults:  make(map[string]crm.Attributes),
	}
}

// Name returns the store name given to New.
func (s *Store) Name() string {
	return s.name
}

// SetFault installs a fault hook. Pass nil to remove it.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// SetTypeCode registers (or replaces) an entity type code.
func (s *Store) SetTypeCode(entity string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typeCodes[entity] = code
}

// SetDefaults registers attribute values that Create assigns to new records
// of an entity when the caller does not supply them.
func (s *Store) SetDefaults(entity string, defaults crm.Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[entity] = defaults.Clone()
}

// Seed inserts a record without consulting the fault hook and returns its id.
func (s *Store) Seed(entity string, attrs crm.Attributes) uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(entity)[id] = attrs.Clone()
	return id
}

// Get returns a copy of a record's attributes.
func (s *Store) Get(entity string, id uuid.UUID) (crm.Attributes, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs, ok := s.records[entity][id]
	if !ok {
		return nil, false
	}
	return attrs.Clone(), true
}

// Count returns the number of records of an entity.
func (s *Store) Count(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[entity])
}

// Calls returns how many times each operation has been invoked.
func (s *Store) Calls() map[Op]int64 {
	return map[Op]int64{
		OpQuery:          s.queries.Load(),
		OpCreate:         s.creates.Load(),
		OpUpdate:         s.updates.Load(),
		OpEntityTypeCode: s.lookups.Load(),
	}
}

// Query implements crm.Store. Results are ordered by id for stable output.
func (s *Store) Query(ctx context.Context, q crm.Query) ([]crm.Record, error) {
	s.queries.Add(1)
	if err := s.check(ctx, OpQuery, q.Entity, nil); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []crm.Record
	for id, attrs := range s.records[q.Entity] {
		rec := crm.Record{ID: id, Attributes: attrs}
		if !q.Matches(rec) {
			continue
		}
		out = append(out, crm.Record{ID: id, Attributes: project(attrs, q.Columns)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Create implements crm.Store.
func (s *Store) Create(ctx context.Context, entity string, attrs crm.Attributes) (uuid.UUID, error) {
	s.creates.Add(1)
	if err := s.check(ctx, OpCreate, entity, attrs); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := attrs.Clone()
	for k, v := range s.defaults[entity] {
		if _, ok := rec[k]; !ok {
			rec[k] = v
		}
	}
	s.table(entity)[id] = rec
	return id, nil
}

// Update implements crm.Store.
func (s *Store) Update(ctx context.Context, entity string, id uuid.UUID, attrs crm.Attributes) error {
	s.updates.Add(1)
	if err := s.check(ctx, OpUpdate, entity, attrs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[entity][id]
	if !ok {
		return &crm.Fault{
			Op:         fmt.Sprintf("update %s", entity),
			StatusCode: 404,
			Code:       "0x80040217",
			Message:    fmt.Sprintf("%s with id %s does not exist", entity, id),
		}
	}
	for k, v := range attrs {
		existing[k] = v
	}
	return nil
}

// EntityTypeCode implements crm.Store.
func (s *Store) EntityTypeCode(ctx context.Context, logicalName string) (int, error) {
	s.lookups.Add(1)
	if err := s.check(ctx, OpEntityTypeCode, logicalName, nil); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.typeCodes[logicalName]
	if !ok {
		return 0, &crm.NotFoundError{Entity: logicalName, Store: s.name}
	}
	return code, nil
}

// WhoAmI implements crm.Store.
func (s *Store) WhoAmI(ctx context.Context) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	return s.userID, nil
}

func (s *Store) check(ctx context.Context, op Op, entity string, attrs crm.Attributes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	fault := s.fault
	s.mu.RUnlock()
	if fault != nil {
		return fault(op, entity, attrs)
	}
	return nil
}

// table must be called with mu held for writing.
func (s *Store) table(entity string) map[uuid.UUID]crm.Attributes {
	t, ok := s.records[entity]
	if !ok {
		t = make(map[uuid.UUID]crm.Attributes)
		s.records[entity] = t
	}
	return t
}

func project(attrs crm.Attributes, columns []string) crm.Attributes {
	if len(columns) == 0 {
		return attrs.Clone()
	}
	out := make(crm.Attributes, len(columns))
	for _, c := range columns {
		if v, ok := attrs[c]; ok {
			out[c] = v
		}
	}
	return out
}
