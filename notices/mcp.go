package notices

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/avis/kit"
)

// RegisterMCP registers the avis tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerRun(srv)
	svc.registerSentRecent(srv)
	svc.registerRuns(srv)
	svc.registerResolveDate(srv)
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

// readTimeout bounds the query tools; avis_resolve_date may download a PDF.
const readTimeout = 30 * time.Second

// readTool wraps the query tools: logged, and bounded by readTimeout.
func (svc *Service) readTool(name string) kit.Middleware {
	return kit.Chain(kit.Logging(svc.logger, name), kit.Timeout(readTimeout))
}

type runRequest struct {
	Sources []string `json:"sources"`
}

// runEndpoint runs the catalog, or the request's sources when given. Shared
// by avis_run and POST /runs.
func (svc *Service) runEndpoint() kit.Endpoint {
	return kit.Logging(svc.logger, "avis_run")(func(ctx context.Context, r any) (any, error) {
		p := r.(*runRequest)
		var sources []Source
		if len(p.Sources) > 0 {
			var err error
			if sources, err = SourcesFromURLs(p.Sources); err != nil {
				return nil, err
			}
		}
		return svc.Run(ctx, sources)
	})
}

func (svc *Service) registerRun(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "avis_run",
		Description: "Run one discovery pass and deliver new notices; returns the run summary",
		InputSchema: inputSchema(map[string]any{
			"sources": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Source URLs to scan instead of the configured catalog",
			},
		}, nil),
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p runRequest
		if len(r.Params.Arguments) > 0 {
			if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.runEndpoint(), decode)
}

func (svc *Service) registerSentRecent(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "avis_sent_recent",
		Description: "List the most recently delivered notices from the sent ledger",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max entries (default 20)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.Limit <= 0 || p.Limit > maxLimit {
			p.Limit = 20
		}
		entries, err := svc.Recent(ctx, p.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"entries": entries, "count": len(entries)}, nil
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

	kit.RegisterMCPTool(srv, tool, svc.readTool(tool.Name)(endpoint), decode)
}

func (svc *Service) registerRuns(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "avis_runs",
		Description: "List recent runs with their status and delivery counts",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max runs (default 10)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.Limit <= 0 || p.Limit > maxLimit {
			p.Limit = 10
		}
		runs, err := svc.Runs(ctx, p.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"runs": runs, "count": len(runs)}, nil
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

	kit.RegisterMCPTool(srv, tool, svc.readTool(tool.Name)(endpoint), decode)
}

func (svc *Service) registerResolveDate(srv *mcp.Server) {
	type req struct {
		Text string `json:"text"`
		Link string `json:"link"`
	}

	tool := &mcp.Tool{
		Name:        "avis_resolve_date",
		Description: "Resolve the publish date of a notice from its text and link, and report whether it is inside the recency window",
		InputSchema: inputSchema(map[string]any{
			"text": map[string]any{"type": "string", "description": "Notice title or surrounding text"},
			"link": map[string]any{"type": "string", "description": "Notice URL"},
		}, []string{"text"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		rd := svc.ResolveDate(ctx, p.Text, p.Link)
		out := map[string]any{
			"provenance": rd.Provenance,
			"in_window":  false,
			"window":     svc.cfg.Recency.Window,
		}
		if !rd.IsZero() {
			out["date"] = rd.Date.Format(time.DateOnly)
			out["in_window"] = svc.inWindow(rd.Date)
		}
		return out, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.readTool(tool.Name)(endpoint), decode)
}
