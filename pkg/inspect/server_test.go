package inspect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap/zaptest"

	"github.com/pario-ai/tablecache/pkg/models"
	"github.com/pario-ai/tablecache/pkg/store/memory"
)

func newTestServer(t *testing.T, status StatusSource) *Server {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	v1, _ := s.Open(ctx, "v1")
	_ = v1.Put(ctx, "GET http://table.test/", models.Entry{Status: 200, Body: []byte("old")})
	v2, _ := s.Open(ctx, "v2")
	_ = v2.Put(ctx, "GET http://table.test/index.html", models.Entry{Status: 200, Body: []byte("shell")})
	return New(s, status, "v2", "test", zaptest.NewLogger(t))
}

// connect serves srv over an in-memory transport and returns a client
// session. The server stops when the test ends.
func connect(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Run(ctx, serverTransport) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(func() {
		defer session.Close()
		cancel()
		select {
		case err := <-serveErr:
			if err != nil {
				t.Errorf("run returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("run did not stop after cancel")
		}
	})
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("call %s: empty result", name)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("call %s: unexpected content %T", name, res.Content[0])
	}
	return text.Text, res.IsError
}

func TestListTools(t *testing.T) {
	session := connect(t, newTestServer(t, nil))

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"tablecache_status": true, "tablecache_stores": true, "tablecache_keys": true}
	if len(res.Tools) != len(want) {
		t.Errorf("expected %d tools, got %d", len(want), len(res.Tools))
	}
	for _, tool := range res.Tools {
		if !want[tool.Name] {
			t.Errorf("unexpected tool %s", tool.Name)
		}
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
	}
}

func TestStoresTool(t *testing.T) {
	session := connect(t, newTestServer(t, nil))

	text, isErr := callTool(t, session, "tablecache_stores", nil)
	if isErr {
		t.Fatalf("unexpected error: %s", text)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows:\n%s", text)
	}
	if !strings.HasPrefix(lines[2], "v1") || strings.HasSuffix(lines[2], "*") {
		t.Errorf("unexpected v1 row %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "v2") || !strings.HasSuffix(lines[3], "*") {
		t.Errorf("v2 should be marked current: %q", lines[3])
	}
}

func TestKeysTool(t *testing.T) {
	session := connect(t, newTestServer(t, nil))

	text, isErr := callTool(t, session, "tablecache_keys", map[string]any{"store": "v2"})
	if isErr || !strings.Contains(text, "GET http://table.test/index.html") {
		t.Errorf("unexpected keys output: %s", text)
	}
	if text, isErr := callTool(t, session, "tablecache_keys", map[string]any{"store": "v9"}); !isErr {
		t.Errorf("unknown store should be a tool error, got %q", text)
	}

	// A missing argument fails input validation or the handler check.
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "tablecache_keys",
		Arguments: map[string]any{},
	})
	if err == nil && !res.IsError {
		t.Error("missing store argument should fail")
	}
}

func TestStatusTool(t *testing.T) {
	status := statusFunc(func() models.Status {
		return models.Status{Version: "v2", Phase: "active", Controlled: 3}
	})
	session := connect(t, newTestServer(t, status))

	text, isErr := callTool(t, session, "tablecache_status", nil)
	if isErr {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "active") || !strings.Contains(text, "3 controlled") {
		t.Errorf("unexpected status output:\n%s", text)
	}
}

func TestStatusToolWithoutSource(t *testing.T) {
	session := connect(t, newTestServer(t, nil))
	if _, isErr := callTool(t, session, "tablecache_status", nil); !isErr {
		t.Error("expected tool error without a status source")
	}
}

func TestRemoteStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.Status{Version: "v7", Phase: "waiting"})
	}))
	defer ts.Close()

	st, err := RemoteStatus{URL: ts.URL}.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Version != "v7" || st.Phase != "waiting" {
		t.Errorf("unexpected status %+v", st)
	}

	ts.Close()
	if _, err := (RemoteStatus{URL: ts.URL}).Status(context.Background()); err == nil {
		t.Error("expected error from closed server")
	}
}

func TestUnknownTool(t *testing.T) {
	session := connect(t, newTestServer(t, nil))
	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "tablecache_nope"})
	if err == nil {
		t.Error("expected an error for an unknown tool")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	serverTransport, _ := mcp.NewInMemoryTransports()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, serverTransport) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("cancel should be a clean exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
