package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/tablecache/pkg/models"
	"github.com/pario-ai/tablecache/pkg/store"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 2
)

type writeJob struct {
	store store.Store
	key   string
	entry models.Entry
}

// writer persists cache entries off the response path. The queue is
// bounded; when it is full the write is dropped.
type writer struct {
	jobs   chan writeJob
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool

	pending atomic.Int64
	queued  atomic.Int64
	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

func newWriter(size, workers int, logger *zap.Logger) *writer {
	if size <= 0 {
		size = defaultQueueSize
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	w := &writer{
		jobs:   make(chan writeJob, size),
		logger: logger,
	}
	for range workers {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

func (w *writer) enqueue(job writeJob) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}

	w.pending.Add(1)
	select {
	case w.jobs <- job:
		w.queued.Add(1)
		return true
	default:
		w.pending.Add(-1)
		w.dropped.Add(1)
		w.logger.Warn("cache write queue full, dropping write", zap.String("key", job.key))
		return false
	}
}

func (w *writer) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		if err := job.store.Put(context.Background(), job.key, job.entry); err != nil {
			w.failed.Add(1)
			w.logger.Warn("cache write failed",
				zap.String("store", job.store.Name()),
				zap.String("key", job.key),
				zap.Error(err),
			)
		} else {
			w.written.Add(1)
		}
		w.pending.Add(-1)
	}
}

// flush polls until no write is pending or ctx is done.
func (w *writer) flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for w.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (w *writer) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *writer) stats() models.WriterStats {
	return models.WriterStats{
		Queued:  w.queued.Load(),
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
	}
}
