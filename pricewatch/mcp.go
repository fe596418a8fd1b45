package pricewatch

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/satsview/kit"
)

// RegisterMCP registers the satsview tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerAnnotateHTML(srv)
	s.registerAnnotateURL(srv)
	s.registerRate(srv)
}

var formatProp = map[string]any{
	"type":        "string",
	"enum":        []string{"html", "markdown"},
	"description": "Output format, default html",
}

func (s *Service) registerAnnotateHTML(srv *mcp.Server) {
	type req struct {
		HTML   string `json:"html"`
		URL    string `json:"url"`
		Format string `json:"format"`
	}

	tool := &mcp.Tool{
		Name:        "satsview_annotate_html",
		Description: "Annotate every fiat price in an HTML document with its bitcoin value",
		InputSchema: kit.InputSchema(map[string]any{
			"html":   map[string]any{"type": "string", "description": "HTML document or fragment"},
			"url":    map[string]any{"type": "string", "description": "Page URL, used to resolve links"},
			"format": formatProp,
		}, "html"),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		f, err := ParseFormat(p.Format)
		if err != nil {
			return nil, err
		}
		return s.AnnotateHTML(ctx, []byte(p.HTML), p.URL, f)
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[req]())
}

func (s *Service) registerAnnotateURL(srv *mcp.Server) {
	type req struct {
		URL    string `json:"url"`
		Format string `json:"format"`
	}

	tool := &mcp.Tool{
		Name:        "satsview_annotate_url",
		Description: "Fetch a web page and annotate every fiat price with its bitcoin value",
		InputSchema: kit.InputSchema(map[string]any{
			"url":    map[string]any{"type": "string", "description": "Page URL"},
			"format": formatProp,
		}, "url"),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		f, err := ParseFormat(p.Format)
		if err != nil {
			return nil, err
		}
		return s.AnnotateURL(ctx, p.URL, f)
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[req]())
}

func (s *Service) registerRate(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "satsview_rate",
		Description: "Current bitcoin exchange rate and its freshness",
		InputSchema: kit.InputSchema(map[string]any{}),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		rt, ok := s.Rate()
		if !ok {
			return nil, errors.New("no exchange rate yet")
		}
		return map[string]any{
			"currency": s.cfg.Currency.Code,
			"rate":     rt,
			"usable":   rt.Usable(),
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeJSON[req]())
}

func (s *Service) endpoint(op string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(s.logger, op))(ep)
}

// MCPServer returns a new MCP server carrying the satsview tools.
func (s *Service) MCPServer(version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "satsview", Version: version}, nil)
	s.RegisterMCP(srv)
	return srv
}
