// Package redis keeps cache stores in Redis so several proxy replicas can
// share one set of generations.
//
// Layout: a sorted set <prefix>stores holds store names scored by creation
// time; each store is a hash <prefix>store:<name> of request key → JSON entry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pario-ai/tablecache/pkg/models"
	"github.com/pario-ai/tablecache/pkg/store"
)

const defaultPrefix = "tablecache:"

// Storage implements store.Storage on a Redis client.
type Storage struct {
	client *redis.Client
	prefix string
}

var _ store.Storage = (*Storage)(nil)

// New wraps an existing client. An empty prefix uses "tablecache:".
func New(client *redis.Client, prefix string) *Storage {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Storage{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int, prefix string) (*Storage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client, prefix), nil
}

// putScript writes a hash field only while the store is still in the
// index, so a write racing Delete cannot recreate an orphaned hash.
var putScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
end
return -1
`)

func (s *Storage) indexKey() string           { return s.prefix + "stores" }
func (s *Storage) storeKey(name string) string { return s.prefix + "store:" + name }

// Open registers the store name if it is new.
func (s *Storage) Open(ctx context.Context, name string) (store.Store, error) {
	if name == "" {
		return nil, fmt.Errorf("open store: name is required")
	}
	err := s.client.ZAddNX(ctx, s.indexKey(), &redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: name,
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	return &Store{s: s, name: name}, nil
}

// Has reports whether the store is registered.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	_, err := s.client.ZScore(ctx, s.indexKey(), name).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup store %q: %w", name, err)
	}
	return true, nil
}

// Names lists stores in creation order.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return names, nil
}

// Delete removes the store's index entry and hash atomically.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.indexKey(), name)
		pipe.Del(ctx, s.storeKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete store %q: %w", name, err)
	}
	return removed.Val() > 0, nil
}

// Match searches every store, oldest first.
func (s *Storage) Match(ctx context.Context, key string) (models.Entry, bool, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return models.Entry{}, false, err
	}
	for _, name := range names {
		st := &Store{s: s, name: name}
		e, ok, err := st.Match(ctx, key)
		if err != nil {
			return models.Entry{}, false, err
		}
		if ok {
			return e, true, nil
		}
	}
	return models.Entry{}, false, nil
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}

// Store is one Redis hash.
type Store struct {
	s    *Storage
	name string
}

// Name returns the store's version tag.
func (st *Store) Name() string { return st.name }

// Put writes entry under key. Writes to an unregistered (evicted) store
// are discarded.
func (st *Store) Put(ctx context.Context, key string, entry models.Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	keys := []string{st.s.indexKey(), st.s.storeKey(st.name)}
	if err := putScript.Run(ctx, st.s.client, keys, st.name, key, data).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Match returns the entry under key.
func (st *Store) Match(ctx context.Context, key string) (models.Entry, bool, error) {
	data, err := st.s.client.HGet(ctx, st.s.storeKey(st.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Entry{}, false, nil
	}
	if err != nil {
		return models.Entry{}, false, fmt.Errorf("cache get error: %w", err)
	}
	var e models.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return models.Entry{}, false, fmt.Errorf("cache unmarshal error: %w", err)
	}
	return e, true, nil
}

// Keys lists keys in lexical order.
func (st *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := st.s.client.HKeys(ctx, st.s.storeKey(st.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes one entry.
func (st *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := st.s.client.HDel(ctx, st.s.storeKey(st.name), key).Result()
	if err != nil {
		return false, fmt.Errorf("cache delete error: %w", err)
	}
	return n > 0, nil
}

// Info decodes every entry to total body bytes; fine for operator use,
// not for hot paths.
func (st *Store) Info(ctx context.Context) (models.StoreInfo, error) {
	vals, err := st.s.client.HVals(ctx, st.s.storeKey(st.name)).Result()
	if err != nil {
		return models.StoreInfo{}, fmt.Errorf("store info: %w", err)
	}
	info := models.StoreInfo{Name: st.name, Entries: int64(len(vals))}
	for _, v := range vals {
		var e models.Entry
		if err := json.Unmarshal([]byte(v), &e); err == nil {
			info.Bytes += int64(len(e.Body))
		}
	}
	return info, nil
}
