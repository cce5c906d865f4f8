package inspect

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pario-ai/tablecache/pkg/store"
)

type statusInput struct{}

type storesInput struct{}

type keysInput struct {
	Store string `json:"store" jsonschema:"store name (cache version tag)"`
}

func registerTools(srv *mcp.Server, s *Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "tablecache_status",
		Description: "Show the cache manager lifecycle phase, current version, controlled clients and write queue counters.",
	}, s.handleStatus)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "tablecache_stores",
		Description: "List cache stores in creation order with entry counts and sizes. The current version is marked.",
	}, s.handleStores)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "tablecache_keys",
		Description: "List the request keys held by one cache store.",
	}, s.handleKeys)
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ statusInput) (*mcp.CallToolResult, any, error) {
	if s.status == nil {
		return errorResult("no cache manager status available"), nil, nil
	}
	st, err := s.status.Status(ctx)
	if err != nil {
		return errorResult("status: %v", err), nil, nil
	}
	return textResult(formatStatus(st)), nil, nil
}

func (s *Server) handleStores(ctx context.Context, _ *mcp.CallToolRequest, _ storesInput) (*mcp.CallToolResult, any, error) {
	infos, err := store.Describe(ctx, s.storage, s.current)
	if err != nil {
		return errorResult("list stores: %v", err), nil, nil
	}
	return textResult(formatStores(infos)), nil, nil
}

func (s *Server) handleKeys(ctx context.Context, _ *mcp.CallToolRequest, in keysInput) (*mcp.CallToolResult, any, error) {
	if in.Store == "" {
		return errorResult("store is required"), nil, nil
	}
	ok, err := s.storage.Has(ctx, in.Store)
	if err != nil {
		return errorResult("lookup store: %v", err), nil, nil
	}
	if !ok {
		return errorResult("%v: %s", store.ErrNotFound, in.Store), nil, nil
	}
	st, err := s.storage.Open(ctx, in.Store)
	if err != nil {
		return errorResult("open store: %v", err), nil, nil
	}
	keys, err := st.Keys(ctx)
	if err != nil {
		return errorResult("list keys: %v", err), nil, nil
	}
	return textResult(formatKeys(in.Store, keys)), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}
