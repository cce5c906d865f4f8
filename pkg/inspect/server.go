// Package inspect serves read-only views of the cache as MCP tools, so
// agents and editors can look at a running deployment over stdio.
package inspect

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/pario-ai/tablecache/pkg/logging"
	"github.com/pario-ai/tablecache/pkg/store"
)

const serverName = "tablecache"

// Server is the inspection server.
type Server struct {
	storage   store.Storage
	status    StatusSource
	current   string
	logger    *zap.Logger
	mcpServer *mcp.Server
}

// New creates a Server over storage. current is the version tag flagged
// as current in store listings. status may be nil when no manager is
// reachable.
func New(storage store.Storage, status StatusSource, current, version string, logger *zap.Logger) *Server {
	s := &Server{
		storage:   storage,
		status:    status,
		current:   current,
		logger:    logging.OrNop(logger),
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil),
	}
	registerTools(s.mcpServer, s)
	return s
}

// Run serves the tools over transport until the peer disconnects or ctx is
// done. Cancellation is a clean exit.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("inspection server started", zap.String("current", s.current))
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve inspection tools: %w", err)
	}
	return nil
}
