/*Package tables provides read access to the metadata of internal tables.

An internal table is a table a tenant (organization) provisioned in the hosted
database. Clients address it by its symbolic name; the backing query engine
knows it only by its identifier. The pair (organization, name) is unique, and
the identifier never changes once assigned.
*/
package tables

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InternalTable is the metadata of a tenant-owned table
type InternalTable struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"table_name"`
	OrganizationID uuid.UUID `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store finds internal tables. Implementations must scope every lookup
// to the given organization.
type Store interface {
	// FindByNames returns the tables of the organization whose names are in names.
	// Names without a table are silently absent from the result.
	FindByNames(ctx context.Context, organizationID uuid.UUID, names []string) ([]InternalTable, error)
}

type memoryKey struct {
	organizationID uuid.UUID
	name           string
}

// MemoryStore is an in-process Store. It is meant for tests and for
// running the proxy without a metadata database.
type MemoryStore struct {
	mutex  sync.RWMutex
	tables map[memoryKey]InternalTable
	// number of FindByNames calls, see Calls
	calls int
}

// NewMemoryStore returns a store holding the given tables
func NewMemoryStore(tables ...InternalTable) *MemoryStore {
	s := &MemoryStore{tables: make(map[memoryKey]InternalTable)}
	for _, t := range tables {
		s.Put(t)
	}
	return s
}

// Put adds or replaces a table
func (s *MemoryStore) Put(t InternalTable) {
	s.mutex.Lock()
	s.tables[memoryKey{t.OrganizationID, t.Name}] = t
	s.mutex.Unlock()
}

// Delete removes a table
func (s *MemoryStore) Delete(organizationID uuid.UUID, name string) {
	s.mutex.Lock()
	delete(s.tables, memoryKey{organizationID, name})
	s.mutex.Unlock()
}

// Calls returns how many times FindByNames was called
func (s *MemoryStore) Calls() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.calls
}

// FindByNames implements Store
func (s *MemoryStore) FindByNames(ctx context.Context, organizationID uuid.UUID, names []string) ([]InternalTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calls++
	var result []InternalTable
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if t, ok := s.tables[memoryKey{organizationID, name}]; ok {
			result = append(result, t)
		}
	}
	return result, nil
}
