package recon

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/sonde/idgen"
	"github.com/hazyhaar/sonde/kit"
)

// RegisterMCP registers all recon tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	mw := mcpContext()
	svc.registerSearch(srv, mw)
	svc.registerQuerySource(srv, mw)
	svc.registerListSources(srv, mw)
	svc.registerExport(srv, mw)
}

// mcpContext stamps every tool invocation with the transport and a fresh
// request ID so audit rows from MCP calls carry the same identifiers as
// HTTP ones.
func mcpContext() kit.Middleware {
	transport := func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			return next(kit.WithTransport(ctx, "mcp"), req)
		}
	}
	requestID := func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			return next(kit.WithRequestID(ctx, idgen.New()), req)
		}
	}
	return kit.Chain(transport, requestID)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (svc *Service) registerSearch(srv *mcp.Server, mw kit.Middleware) {
	type req struct {
		Query      string `json:"query"`
		SearchType string `json:"search_type"`
	}

	tool := &mcp.Tool{
		Name:        "sonde_search",
		Description: "Aggregate OSINT findings about a target across all enabled sources of a category",
		InputSchema: inputSchema(map[string]any{
			"query":       map[string]any{"type": "string", "description": "Target identifier (domain, email, IP, or username)"},
			"search_type": map[string]any{"type": "string", "description": "Query category: email, domain, ip, or username"},
		}, []string{"query", "search_type"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Run(ctx, p.Query, p.SearchType)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

func (svc *Service) registerQuerySource(srv *mcp.Server, mw kit.Middleware) {
	type req struct {
		SourceID string `json:"source_id"`
		Query    string `json:"query"`
	}

	tool := &mcp.Tool{
		Name:        "sonde_query_source",
		Description: "Query a single source by id and return its result envelope",
		InputSchema: inputSchema(map[string]any{
			"source_id": map[string]any{"type": "string", "description": "Catalog source id"},
			"query":     map[string]any{"type": "string", "description": "Target identifier"},
		}, []string{"source_id", "query"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.QuerySource(ctx, p.SourceID, p.Query)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

func (svc *Service) registerListSources(srv *mcp.Server, mw kit.Middleware) {
	type req struct {
		Category string `json:"category"`
	}

	tool := &mcp.Tool{
		Name:        "sonde_sources",
		Description: "List enabled sources, optionally filtered by category",
		InputSchema: inputSchema(map[string]any{
			"category": map[string]any{"type": "string", "description": "Optional category filter: email, domain, ip, username"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Sources(p.Category)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if len(r.Params.Arguments) > 0 {
			if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

func (svc *Service) registerExport(srv *mcp.Server, mw kit.Middleware) {
	type req struct {
		Format string `json:"format"`
	}

	tool := &mcp.Tool{
		Name:        "sonde_export",
		Description: "Export cached intelligence as json or csv",
		InputSchema: inputSchema(map[string]any{
			"format": map[string]any{"type": "string", "description": "Export format: json or csv"},
		}, []string{"format"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		out, err := svc.Export(p.Format)
		if err != nil {
			return nil, err
		}
		return map[string]string{"export": out}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}
