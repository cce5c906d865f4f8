// Package memory is a process-local cache storage for development and tests.
// Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pario-ai/tablecache/pkg/models"
	"github.com/pario-ai/tablecache/pkg/store"
)

// Storage holds named stores in maps guarded by a RWMutex.
type Storage struct {
	mu     sync.RWMutex
	order  []string
	stores map[string]*Store
}

var _ store.Storage = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{stores: make(map[string]*Store)}
}

// Open returns the named store, creating it if needed.
func (s *Storage) Open(_ context.Context, name string) (store.Store, error) {
	if name == "" {
		return nil, fmt.Errorf("open store: name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.stores[name]; ok {
		return st, nil
	}
	st := &Store{name: name, entries: make(map[string]models.Entry)}
	s.stores[name] = st
	s.order = append(s.order, name)
	return st, nil
}

// Has reports whether the named store exists.
func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stores[name]
	return ok, nil
}

// Names lists stores in creation order.
func (s *Storage) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Delete drops a store. A Store handle held elsewhere keeps working but is
// no longer reachable through the Storage.
func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stores[name]
	if !ok {
		return false, nil
	}
	st.detach()
	delete(s.stores, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Match searches every store, oldest first.
func (s *Storage) Match(ctx context.Context, key string) (models.Entry, bool, error) {
	s.mu.RLock()
	stores := make([]*Store, 0, len(s.order))
	for _, n := range s.order {
		stores = append(stores, s.stores[n])
	}
	s.mu.RUnlock()

	for _, st := range stores {
		if e, ok, _ := st.Match(ctx, key); ok {
			return e, true, nil
		}
	}
	return models.Entry{}, false, nil
}

// Close is a no-op.
func (s *Storage) Close() error { return nil }

// Store is an in-memory key → entry map.
type Store struct {
	name     string
	mu       sync.RWMutex
	entries  map[string]models.Entry
	detached bool
}

// Name returns the store's version tag.
func (st *Store) Name() string { return st.name }

// Put stores a copy of entry under key.
func (st *Store) Put(_ context.Context, key string, entry models.Entry) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.detached {
		return nil
	}
	st.entries[key] = entry.Clone()
	return nil
}

// Match returns a copy of the entry under key.
func (st *Store) Match(_ context.Context, key string) (models.Entry, bool, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.entries[key]
	if !ok {
		return models.Entry{}, false, nil
	}
	return e.Clone(), true, nil
}

// Keys lists keys in lexical order.
func (st *Store) Keys(_ context.Context) ([]string, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	keys := make([]string, 0, len(st.entries))
	for k := range st.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes one entry.
func (st *Store) Delete(_ context.Context, key string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.entries[key]
	delete(st.entries, key)
	return ok, nil
}

// Info returns entry count and total body size.
func (st *Store) Info(_ context.Context) (models.StoreInfo, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	info := models.StoreInfo{Name: st.name, Entries: int64(len(st.entries))}
	for _, e := range st.entries {
		info.Bytes += int64(len(e.Body))
	}
	return info, nil
}

func (st *Store) detach() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.detached = true
	st.entries = make(map[string]models.Entry)
}
