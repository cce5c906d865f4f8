package manager

import (
	"net/http"
	"sync"
	"sync/atomic"
)

// Client is one application instance attached to the manager, for example
// a browser tab behind the proxy or a long-lived http.Client in the host.
// An uncontrolled client bypasses the manager entirely.
type Client struct {
	m          *Manager
	controlled atomic.Bool
}

// Client attaches a new application instance. It is controlled right away
// if the manager has been activated; otherwise it becomes controlled at
// activation only when ClaimClients is set.
func (m *Manager) Client() *Client {
	c := &Client{m: m}
	c.controlled.Store(m.activated.Load())
	m.clients.add(c)
	return c
}

// Controlled reports whether requests from c go through the cache policy.
func (c *Client) Controlled() bool { return c.controlled.Load() }

// RoundTrip implements http.RoundTripper.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	if !c.controlled.Load() {
		return c.m.network.RoundTrip(req)
	}
	return c.m.intercept(req)
}

// HTTPClient returns an http.Client using c as its transport.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c}
}

// Detach removes c from the manager; it keeps its current control state.
func (c *Client) Detach() {
	c.m.clients.remove(c)
}

type clientSet struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
}

func (s *clientSet) init() {
	s.clients = make(map[*Client]struct{})
}

func (s *clientSet) add(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *clientSet) remove(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// claimAll puts every attached client under control and returns how many
// changed hands.
func (s *clientSet) claimAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for c := range s.clients {
		if c.controlled.CompareAndSwap(false, true) {
			n++
		}
	}
	return n
}

func (s *clientSet) counts() (attached, controlled int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		attached++
		if c.controlled.Load() {
			controlled++
		}
	}
	return attached, controlled
}
