/*Package resolver maps symbolic table names to the identifiers of internal
tables owned by a tenant.

Resolution is all-or-nothing: either every requested name resolves to a
table of the requesting organization, or the call fails with a NotFoundError
listing every name that did not resolve.
*/
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/dbproxy/core/cache"
	"github.com/relabs-tech/dbproxy/core/logger"
	"github.com/relabs-tech/dbproxy/core/tables"
)

// ErrNotFound is matched by every NotFoundError
var ErrNotFound = errors.New("internal table not found")

// NotFoundError lists the names that did not resolve, in request order
type NotFoundError struct {
	Names []string
}

func (e *NotFoundError) Error() string {
	return "Internal table not found: " + strings.Join(e.Names, ",")
}

// Is makes errors.Is(err, ErrNotFound) work
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// CacheObserver is notified about cache hits and misses
type CacheObserver interface {
	CacheHits(n int)
	CacheMisses(n int)
}

type cacheKey struct {
	organizationID uuid.UUID
	name           string
}

// Resolver resolves table names with one store lookup per call
type Resolver struct {
	store    tables.Store
	cache    *cache.Cache[cacheKey, string]
	versions *cache.Versions[uuid.UUID]
	observer CacheObserver
}

// Option configures a Resolver
type Option func(*Resolver)

// WithCache enables caching of resolved names for ttl. Cached names of an
// organization are dropped by Invalidate. A nil clock selects time.Now.
func WithCache(ttl time.Duration, clock cache.Clock) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.cache = cache.New[cacheKey, string](ttl, clock)
		}
	}
}

// WithCacheObserver reports cache hits and misses
func WithCacheObserver(observer CacheObserver) Option {
	return func(r *Resolver) {
		r.observer = observer
	}
}

// New creates a resolver on the given store. Without options, every call
// reads from the store.
func New(store tables.Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, versions: cache.NewVersions[uuid.UUID]()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the identifier for every name. The result has exactly one
// entry per distinct name; if any name does not belong to a table of the
// organization, Resolve returns a *NotFoundError naming all of them.
func (r *Resolver) Resolve(ctx context.Context, organizationID uuid.UUID, names []string) (map[string]string, error) {
	names = distinct(names)
	result := make(map[string]string, len(names))
	if len(names) == 0 {
		return result, nil
	}

	// the version is taken before the lookup, so a concurrent invalidation
	// makes whatever we write below unreadable
	version := r.versions.Current(organizationID)

	missing := names
	if r.cache != nil {
		missing = missing[:0:0]
		for _, name := range names {
			if id, ok := r.cache.Read(cacheKey{organizationID, name}, version); ok {
				result[name] = id
			} else {
				missing = append(missing, name)
			}
		}
		if r.observer != nil {
			r.observer.CacheHits(len(names) - len(missing))
			r.observer.CacheMisses(len(missing))
		}
		if len(missing) == 0 {
			return result, nil
		}
	}

	found, err := r.store.FindByNames(ctx, organizationID, missing)
	if err != nil {
		return nil, fmt.Errorf("cannot look up internal tables: %w", err)
	}
	for _, t := range found {
		if t.OrganizationID != organizationID {
			// never trust a store to have scoped the query
			continue
		}
		id := t.ID.String()
		result[t.Name] = id
		if r.cache != nil {
			r.cache.Write(cacheKey{organizationID, t.Name}, version, id)
		}
	}

	var unresolved []string
	for _, name := range missing {
		if _, ok := result[name]; !ok {
			unresolved = append(unresolved, name)
		}
	}
	if len(unresolved) > 0 {
		logger.FromContext(ctx).Debugln("unresolved internal tables:", unresolved)
		return nil, &NotFoundError{Names: unresolved}
	}
	return result, nil
}

// Invalidate drops all cached names of an organization
func (r *Resolver) Invalidate(organizationID uuid.UUID) {
	r.versions.Bump(organizationID)
	r.purge()
}

// InvalidateAll drops all cached names
func (r *Resolver) InvalidateAll() {
	r.versions.BumpAll()
	r.purge()
}

func (r *Resolver) purge() {
	if r.cache == nil {
		return
	}
	r.cache.Purge(func(k cacheKey) uint64 { return r.versions.Current(k.organizationID) })
}

func distinct(names []string) []string {
	seen := make(map[string]bool, len(names))
	result := make([]string, 0, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			result = append(result, name)
		}
	}
	return result
}
