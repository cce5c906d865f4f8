// Package manager implements the offline resource cache manager.
//
// A Manager owns one versioned cache store. It is installed (the static
// asset manifest is warmed into the store for the current version tag),
// activated (stores of every other tag are evicted) and then intercepts
// same-origin GET traffic with a network-first, cache-fallback policy.
//
// The manager is an http.RoundTripper. Hosts either use it directly as a
// transport or attach per-application clients with Manager.Client, which
// lets the manager model the claim-existing-clients behavior of activation.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/tablecache/pkg/logging"
	"github.com/pario-ai/tablecache/pkg/models"
	"github.com/pario-ai/tablecache/pkg/store"
)

var (
	// ErrStoreOpen is returned when the cache store for the current version
	// cannot be opened. The host should retry installation later.
	ErrStoreOpen = errors.New("open cache store")
	// ErrNotInstalled is returned by Activate before Install has completed.
	ErrNotInstalled = errors.New("cache manager not installed")
	// ErrOffline is returned by RoundTrip for a navigation that failed on
	// the network and has neither a cached response nor an offline
	// document to fall back to.
	ErrOffline = errors.New("offline with no cached response")
)

// Phase is a lifecycle state.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseInstalling
	PhaseWaiting
	PhaseActivating
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInstalling:
		return "installing"
	case PhaseWaiting:
		return "waiting"
	case PhaseActivating:
		return "activating"
	case PhaseActive:
		return "active"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Options configures a Manager.
type Options struct {
	// Origin is the application's own origin. Requests to any other origin
	// pass through untouched.
	Origin *url.URL
	// Version is the current cache version tag.
	Version string
	// Manifest lists root-relative paths warmed during Install.
	Manifest []string
	// OfflineDocument is served for navigation requests that miss the
	// cache while offline. Defaults to "/index.html".
	OfflineDocument string
	// SkipWaiting activates immediately after a successful install instead
	// of waiting for the host to call Activate.
	SkipWaiting bool
	// ClaimClients takes control of clients attached before activation.
	ClaimClients bool
	// Network performs the real requests. Defaults to http.DefaultTransport.
	Network http.RoundTripper
	Logger  *zap.Logger
	// QueueSize and Workers size the background cache writer.
	QueueSize int
	Workers   int
	// InstallConcurrency bounds parallel manifest fetches.
	InstallConcurrency int
}

// InstallResult reports which manifest assets were cached.
type InstallResult struct {
	Cached []string
	Failed []string
}

// Manager is the offline resource cache manager. Create one with New.
type Manager struct {
	id      string
	opts    Options
	storage store.Storage
	network http.RoundTripper
	logger  *zap.Logger

	// lifecycle serializes Install and Activate.
	lifecycle sync.Mutex
	state     state
	activated atomic.Bool

	writer  *writer
	clients clientSet
}

// state is the manager's lifecycle state. Reads happen on every request,
// writes only from lifecycle transitions.
type state struct {
	mu      sync.RWMutex
	phase   Phase
	current store.Store
}

func (s *state) get() (Phase, store.Store) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase, s.current
}

func (s *state) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *state) setCurrent(p Phase, st store.Store) {
	s.mu.Lock()
	s.phase = p
	s.current = st
	s.mu.Unlock()
}

// New creates a Manager over storage. It does not touch storage until
// Register or Install is called.
func New(storage store.Storage, opts Options) (*Manager, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if opts.Origin == nil || opts.Origin.Scheme == "" || opts.Origin.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL")
	}
	if opts.Version == "" {
		return nil, fmt.Errorf("version tag is required")
	}
	if opts.OfflineDocument == "" {
		opts.OfflineDocument = "/index.html"
	}
	if opts.InstallConcurrency <= 0 {
		opts.InstallConcurrency = 4
	}
	opts.Manifest = append([]string(nil), opts.Manifest...)

	network := opts.Network
	if network == nil {
		network = http.DefaultTransport
	}

	id := uuid.NewString()
	logger := logging.OrNop(opts.Logger).With(
		zap.String("instance", id),
		zap.String("version", opts.Version),
	)

	m := &Manager{
		id:      id,
		opts:    opts,
		storage: storage,
		network: network,
		logger:  logger,
		writer:  newWriter(opts.QueueSize, opts.Workers, logger),
	}
	m.clients.init()
	return m, nil
}

// ID returns the instance identifier.
func (m *Manager) ID() string { return m.id }

// Version returns the current cache version tag.
func (m *Manager) Version() string { return m.opts.Version }

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	p, _ := m.state.get()
	return p
}

// Activated reports whether the manager has been activated at least once.
// Clients attached from then on start controlled.
func (m *Manager) Activated() bool { return m.activated.Load() }

// Register installs the manager and, with SkipWaiting, activates it.
// Calling Register on an already registered manager is a no-op; after a
// failed install the manager is unregistered again and Register may be
// retried.
func (m *Manager) Register(ctx context.Context) error {
	if m.Phase() != PhaseUninitialized {
		return nil
	}
	_, err := m.Install(ctx)
	return err
}

// Install opens the store for the current version and warms it with the
// manifest. Only a store-open failure is returned; individual asset
// failures are logged and listed in the result.
func (m *Manager) Install(ctx context.Context) (InstallResult, error) {
	res, err := m.install(ctx)
	if err != nil {
		return res, err
	}
	if m.opts.SkipWaiting {
		if _, err := m.Activate(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (m *Manager) install(ctx context.Context) (InstallResult, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	prev, prevStore := m.state.get()
	m.state.setPhase(PhaseInstalling)
	m.logger.Info("installing", zap.Int("assets", len(m.opts.Manifest)))

	st, err := m.storage.Open(ctx, m.opts.Version)
	if err != nil {
		m.state.setCurrent(prev, prevStore)
		m.logger.Error("install failed", zap.Error(err))
		return InstallResult{}, fmt.Errorf("%w %q: %w", ErrStoreOpen, m.opts.Version, err)
	}
	m.state.setCurrent(PhaseInstalling, st)

	res := m.warm(ctx, st)
	m.state.setPhase(PhaseWaiting)
	m.logger.Info("installed",
		zap.Int("cached", len(res.Cached)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// warm fetches every manifest asset and stores the 200 responses. It never
// fails as a whole.
func (m *Manager) warm(ctx context.Context, st store.Store) InstallResult {
	ok := make([]bool, len(m.opts.Manifest))
	client := &http.Client{Transport: m.network}

	var g errgroup.Group
	g.SetLimit(m.opts.InstallConcurrency)
	for i, path := range m.opts.Manifest {
		g.Go(func() error {
			if err := m.cacheAsset(ctx, client, st, path); err != nil {
				m.logger.Warn("failed to cache asset", zap.String("path", path), zap.Error(err))
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var res InstallResult
	for i, path := range m.opts.Manifest {
		if ok[i] {
			res.Cached = append(res.Cached, path)
		} else {
			res.Failed = append(res.Failed, path)
		}
	}
	return res
}

func (m *Manager) cacheAsset(ctx context.Context, client *http.Client, st store.Store, path string) error {
	u, err := m.resolve(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	entry := models.Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
	if err := st.Put(ctx, store.RequestKey(http.MethodGet, u), entry); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Activate evicts every store whose tag is not the current version and
// moves the manager to Active. It returns the evicted store names.
// Activating an already active manager repeats the (idempotent) eviction.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	phase, _ := m.state.get()
	if phase < PhaseWaiting {
		return nil, ErrNotInstalled
	}
	m.state.setPhase(PhaseActivating)

	evicted, err := m.evict(ctx)
	if err != nil {
		m.state.setPhase(phase)
		m.logger.Error("activation failed", zap.Error(err))
		return evicted, err
	}

	m.state.setPhase(PhaseActive)
	m.activated.Store(true)
	claimed := 0
	if m.opts.ClaimClients {
		claimed = m.clients.claimAll()
	}
	m.logger.Info("activated",
		zap.Strings("evicted", evicted),
		zap.Int("claimed_clients", claimed),
	)
	return evicted, nil
}

func (m *Manager) evict(ctx context.Context) ([]string, error) {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cache stores: %w", err)
	}

	var (
		evicted []string
		errs    []error
	)
	for _, name := range names {
		if name == m.opts.Version {
			continue
		}
		if _, err := m.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete cache store %q: %w", name, err))
			continue
		}
		evicted = append(evicted, name)
	}
	return evicted, errors.Join(errs...)
}

// Status returns a snapshot of the manager's state.
func (m *Manager) Status() models.Status {
	phase, _ := m.state.get()
	attached, controlled := m.clients.counts()
	return models.Status{
		Instance:   m.id,
		Version:    m.opts.Version,
		Phase:      phase.String(),
		Origin:     originString(m.opts.Origin),
		Attached:   attached,
		Controlled: controlled,
		Writer:     m.writer.stats(),
	}
}

// Flush waits until every queued cache write has been attempted.
func (m *Manager) Flush(ctx context.Context) error {
	return m.writer.flush(ctx)
}

// Close stops the background writer after draining queued writes. The
// storage is owned by the caller and is left open.
func (m *Manager) Close() error {
	m.writer.close()
	return nil
}

func (m *Manager) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	return m.opts.Origin.ResolveReference(ref), nil
}

func originString(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
