// File: internal/mcp/server.go
// Package mcp exposes the modelling assistant as Model Context Protocol tools,
// so AI clients can request suggestions, reviews, explanations and scores for
// an attack tree they hold.
package mcp

import (
	"context"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/internal/service"
)

// Server wraps an Assistant and registers its operations as MCP tools.
type Server struct {
	server    *gomcp.Server
	assistant *service.Assistant
	logger    *zap.Logger
}

// NewServer creates the MCP server. Tools read the active scenario from a; the
// tree itself travels with every call.
func NewServer(a *service.Assistant, version string, logger *zap.Logger) (*Server, error) {
	if a == nil {
		return nil, errNoAssistant
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if version == "" {
		version = "dev"
	}
	s := &Server{assistant: a, logger: logger.Named("MCP")}
	s.server = gomcp.NewServer(&gomcp.Implementation{Name: "arborist", Version: version}, nil)
	s.registerTools()
	return s, nil
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("MCP server listening on stdio.")
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying server, for tests and custom transports.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "suggest_nodes",
		Description: "Rank attack steps to add under a parent node of the tree. Returns the top suggestions and an overflow list.",
	}, s.handleSuggest)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "review_tree",
		Description: "Flag nodes of the tree that look vague, duplicated, off-scenario or low value, most severe first.",
	}, s.handleReview)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "explain_label",
		Description: "Explain an attack step label in plain language, with its severity and closest known techniques.",
	}, s.handleExplain)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "evaluate_tree",
		Description: "Score the tree against the active scenario: coverage, structure, duplicates and low-value penalties.",
	}, s.handleEvaluate)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "set_scenario",
		Description: "Show the active scenario, optionally switching to a loaded scenario id or registering a goal label.",
	}, s.handleScenario)
}
