// Package store defines the named cache stores the manager reads and writes.
//
// A Storage holds any number of stores, each identified by a cache version
// tag. A Store maps request keys to stored responses; a second Put under
// the same key replaces the first.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pario-ai/tablecache/pkg/models"
)

// ErrNotFound is returned when a named store does not exist.
var ErrNotFound = errors.New("store not found")

// Storage manages named cache stores.
type Storage interface {
	// Open returns the store with the given name, creating it empty if needed.
	Open(ctx context.Context, name string) (Store, error)
	// Has reports whether a store with the given name exists.
	Has(ctx context.Context, name string) (bool, error)
	// Names lists all stores in creation order.
	Names(ctx context.Context) ([]string, error)
	// Delete removes a store and all of its entries. It reports whether
	// the store existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Match looks key up in every store, in creation order, and returns
	// the first hit.
	Match(ctx context.Context, key string) (models.Entry, bool, error)
	// Close releases backend resources.
	Close() error
}

// Store is a single named key → entry mapping.
type Store interface {
	Name() string
	// Put stores entry under key, replacing any previous entry.
	Put(ctx context.Context, key string, entry models.Entry) error
	// Match returns the entry for key, if any.
	Match(ctx context.Context, key string) (models.Entry, bool, error)
	// Keys lists the request keys held by the store.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes the entry for key. It reports whether one existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Info returns entry count and payload size.
	Info(ctx context.Context) (models.StoreInfo, error)
}

// RequestKey builds the cache key for a request: method plus absolute URL
// with the fragment removed.
func RequestKey(method string, u *url.URL) string {
	if method == "" {
		method = http.MethodGet
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return method + " " + c.String()
}

// KeyFor is RequestKey for an outgoing request.
func KeyFor(r *http.Request) string {
	return RequestKey(r.Method, r.URL)
}

// Describe returns a summary of every store in storage, in creation order.
// The store named current is flagged.
func Describe(ctx context.Context, storage Storage, current string) ([]models.StoreInfo, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]models.StoreInfo, 0, len(names))
	for _, name := range names {
		st, err := storage.Open(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("open store %q: %w", name, err)
		}
		info, err := st.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe store %q: %w", name, err)
		}
		info.Current = name == current
		infos = append(infos, info)
	}
	return infos, nil
}
