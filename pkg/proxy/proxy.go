// Package proxy hosts the cache manager in front of the application origin.
// Browsers talk to the proxy; every request is forwarded to the origin
// through a manager client, so the offline cache policy applies without any
// change to the application.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/tablecache/pkg/config"
	"github.com/pario-ai/tablecache/pkg/logging"
	"github.com/pario-ai/tablecache/pkg/manager"
	"github.com/pario-ai/tablecache/pkg/models"
)

// StatusPath serves the manager status as JSON.
const StatusPath = "/_tablecache/status"

// InstanceHeader carries the manager instance ID on proxied responses.
const InstanceHeader = "X-Tablecache-Instance"

// Server is the tablecache reverse proxy.
type Server struct {
	cfg    *config.Config
	origin *url.URL
	mgr    *manager.Manager
	client atomic.Pointer[manager.Client]
	logger *zap.Logger
	mux    *http.ServeMux
}

// New creates a proxy Server. mgr may be nil, in which case requests are
// forwarded over network without any caching.
func New(cfg *config.Config, mgr *manager.Manager, network http.RoundTripper, logger *zap.Logger) (*Server, error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}
	if network == nil {
		network = http.DefaultTransport
	}

	s := &Server{
		cfg:    cfg,
		origin: origin,
		mgr:    mgr,
		logger: logging.OrNop(logger),
		mux:    http.NewServeMux(),
	}

	transport := network
	if mgr != nil {
		s.client.Store(mgr.Client())
		transport = clientTransport{s}
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(origin)
			r.SetXForwarded()
		},
		Transport:      transport,
		ModifyResponse: s.modifyResponse,
		ErrorHandler:   s.handleError,
	}

	s.mux.HandleFunc(StatusPath, s.handleStatus)
	s.mux.Handle("/", rp)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.mgr != nil && manager.IsNavigation(r) {
		s.reload()
	}
	s.mux.ServeHTTP(w, r)
}

// reload treats a navigation as a page load: once the manager is active, an
// uncontrolled client is replaced by a fresh one, which starts controlled.
func (s *Server) reload() {
	old := s.client.Load()
	if old.Controlled() || !s.mgr.Activated() {
		return
	}
	next := s.mgr.Client()
	if !s.client.CompareAndSwap(old, next) {
		next.Detach()
		return
	}
	old.Detach()
	s.logger.Info("proxy client reattached under manager control", zap.String("instance", s.mgr.ID()))
}

// clientTransport routes through whichever client the proxy holds now.
type clientTransport struct{ s *Server }

func (t clientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.s.client.Load().RoundTrip(req)
}

// ListenAndServe starts the proxy server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("tablecache proxy listening",
			zap.String("addr", s.cfg.Listen),
			zap.String("origin", s.origin.String()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if c := s.client.Load(); c != nil {
			c.Detach()
		}
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Status reports the manager status, or a disabled placeholder when the
// proxy runs without a manager.
func (s *Server) Status() models.Status {
	if s.mgr == nil {
		return models.Status{
			Version: s.cfg.Version,
			Phase:   "disabled",
			Origin:  s.origin.Scheme + "://" + s.origin.Host,
		}
	}
	return s.mgr.Status()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		s.logger.Warn("encode status", zap.Error(err))
	}
}

func (s *Server) modifyResponse(resp *http.Response) error {
	if s.mgr != nil {
		resp.Header.Set(InstanceHeader, s.mgr.ID())
	}
	return nil
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("upstream request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeJSONError(w, http.StatusBadGateway, "origin unreachable")
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"tablecache_error","code":%d}}`, message, code)
}
