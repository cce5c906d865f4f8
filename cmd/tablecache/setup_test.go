package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/pario-ai/tablecache/pkg/config"
	"github.com/pario-ai/tablecache/pkg/store/memory"
	"github.com/pario-ai/tablecache/pkg/store/sqlite"
)

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	cfg.Storage.Driver = "memory"
	s, err := openStorage(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*memory.Storage); !ok {
		t.Errorf("expected memory storage, got %T", s)
	}

	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "cache.db")
	s, err = openStorage(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*sqlite.Storage); !ok {
		t.Errorf("expected sqlite storage, got %T", s)
	}

	cfg.Storage.Driver = "etcd"
	if _, err := openStorage(ctx, cfg); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestCacheEvictAndClear(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	t.Setenv("TABLECACHE_DB_PATH", dbPath)
	t.Setenv("TABLECACHE_VERSION", "v2")

	s, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, name := range []string{"v1", "v2", "v3"} {
		if _, err := s.Open(ctx, name); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		root := &cobra.Command{Use: "tablecache"}
		root.AddCommand(newCacheCmd())
		root.SetOut(&out)
		root.SetArgs(args)
		if err := root.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	if out := run("cache", "evict"); !strings.Contains(out, "Deleted 2") {
		t.Errorf("evict output %q", out)
	}
	out := run("cache", "stats")
	if !strings.Contains(out, "v2") || strings.Contains(out, "v1") || strings.Contains(out, "v3") {
		t.Errorf("stats after evict:\n%s", out)
	}
	if out := run("cache", "clear"); !strings.Contains(out, "Deleted 1") {
		t.Errorf("clear output %q", out)
	}
	if out := run("cache", "stats"); !strings.Contains(out, "No cache stores") {
		t.Errorf("stats after clear:\n%s", out)
	}
}
