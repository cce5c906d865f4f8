package manager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/tablecache/pkg/models"
	"github.com/pario-ai/tablecache/pkg/store"
)

// SourceHeader is set on responses the manager produced itself instead of
// relaying from the network.
const SourceHeader = "X-Tablecache-Source"

// Values of SourceHeader.
const (
	SourceCache       = "cache"
	SourceOffline     = "offline-document"
	SourceUnavailable = "unavailable"
)

// RoundTrip implements http.RoundTripper. Before the first activation every
// request passes straight to the network.
func (m *Manager) RoundTrip(req *http.Request) (*http.Response, error) {
	if !m.activated.Load() {
		return m.network.RoundTrip(req)
	}
	return m.intercept(req)
}

// Intercepts reports whether the manager applies its caching policy to req.
// Cross-origin and non-GET requests are left alone.
func (m *Manager) Intercepts(req *http.Request) bool {
	if req.Method != "" && req.Method != http.MethodGet {
		return false
	}
	return sameOrigin(m.opts.Origin, req.URL)
}

func (m *Manager) intercept(req *http.Request) (*http.Response, error) {
	if !m.Intercepts(req) {
		return m.network.RoundTrip(req)
	}

	resp, err := m.network.RoundTrip(req)
	if err != nil {
		return m.fallback(req, err)
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return m.fallback(req, fmt.Errorf("read response: %w", err))
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	_, current := m.state.get()
	if current != nil {
		m.writer.enqueue(writeJob{
			store: current,
			key:   store.KeyFor(req),
			entry: models.Entry{
				Status:   resp.StatusCode,
				Header:   resp.Header.Clone(),
				Body:     append([]byte(nil), body...),
				StoredAt: time.Now().UTC(),
			},
		})
	}
	return resp, nil
}

// fallback runs the offline chain: exact cache hit, then the offline
// document for navigations. A navigation that misses both fails with
// ErrOffline; any other miss gets a synthetic 503.
func (m *Manager) fallback(req *http.Request, cause error) (*http.Response, error) {
	ctx := context.WithoutCancel(req.Context())
	key := store.KeyFor(req)
	m.logger.Debug("network failed, using cache", zap.String("key", key), zap.Error(cause))

	if e, ok := m.match(ctx, key); ok {
		return entryResponse(req, e, SourceCache), nil
	}

	if IsNavigation(req) {
		if u, err := m.resolve(m.opts.OfflineDocument); err == nil {
			if e, ok := m.match(ctx, store.RequestKey(http.MethodGet, u)); ok {
				return entryResponse(req, e, SourceOffline), nil
			}
		}
		m.logger.Warn("offline navigation without offline document", zap.String("key", key))
		return nil, fmt.Errorf("%w: %s: %w", ErrOffline, key, cause)
	}

	m.logger.Info("offline with no cached response", zap.String("key", key))
	return unavailableResponse(req), nil
}

// match looks in the current store first and then in every store. Read
// errors count as misses.
func (m *Manager) match(ctx context.Context, key string) (models.Entry, bool) {
	_, current := m.state.get()
	if current != nil {
		e, ok, err := current.Match(ctx, key)
		if err != nil {
			m.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return e, true
		}
	}
	e, ok, err := m.storage.Match(ctx, key)
	if err != nil {
		m.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return models.Entry{}, false
	}
	return e, ok
}

// NavigationModeHeader carries the fetch mode of a request. Browsers send
// it on their own; other hosts can use MarkNavigation.
const NavigationModeHeader = "Sec-Fetch-Mode"

// IsNavigation reports whether req is a top-level navigation.
func IsNavigation(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get(NavigationModeHeader), "navigate")
}

// MarkNavigation flags req as a top-level navigation.
func MarkNavigation(req *http.Request) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set(NavigationModeHeader, "navigate")
}

func entryResponse(req *http.Request, e models.Entry, source string) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(SourceHeader, source)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func unavailableResponse(req *http.Request) *http.Response {
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{SourceHeader: {SourceUnavailable}},
		Body:          http.NoBody,
		ContentLength: 0,
		Request:       req,
	}
}

func sameOrigin(origin, target *url.URL) bool {
	if target == nil {
		return false
	}
	if !strings.EqualFold(origin.Scheme, target.Scheme) {
		return false
	}
	if !strings.EqualFold(origin.Hostname(), target.Hostname()) {
		return false
	}
	return effectivePort(origin) == effectivePort(target)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}
