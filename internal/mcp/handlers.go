// File: internal/mcp/handlers.go
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/api/schemas"
)

func (s *Server) handleSuggest(ctx context.Context, _ *gomcp.CallToolRequest, in suggestInput) (*gomcp.CallToolResult, schemas.SuggestResult, error) {
	tree, err := in.Tree.toTree()
	if err != nil {
		return errorResult(fmt.Sprintf("invalid tree: %s", err)), schemas.SuggestResult{}, nil
	}
	id, label := parentLabel(tree, in.Parent)
	if label == "" {
		return errorResult("parent is required"), schemas.SuggestResult{}, nil
	}
	res := s.assistant.Suggest(ctx, tree, label)
	res.ParentID = id
	res.ParentLabel = label
	if res.Top == nil {
		res.Top = []schemas.Suggestion{}
	}
	if res.More == nil {
		res.More = []schemas.Suggestion{}
	}
	s.logger.Debug("Suggestions served.", zap.String("parent", label), zap.Int("top", len(res.Top)))
	return nil, res, nil
}

func (s *Server) handleReview(ctx context.Context, _ *gomcp.CallToolRequest, in reviewInput) (*gomcp.CallToolResult, reviewOutput, error) {
	tree, err := in.Tree.toTree()
	if err != nil {
		return errorResult(fmt.Sprintf("invalid tree: %s", err)), reviewOutput{}, nil
	}
	if in.MaxVisible < 0 {
		return errorResult("max_visible must not be negative"), reviewOutput{}, nil
	}
	for _, label := range in.Keep {
		s.assistant.Keep(label)
	}
	flags := s.assistant.Prune(ctx, tree, in.MaxVisible)
	if flags == nil {
		flags = []schemas.PruneFlag{}
	}
	return nil, reviewOutput{Flags: flags, Count: len(flags)}, nil
}

func (s *Server) handleExplain(ctx context.Context, _ *gomcp.CallToolRequest, in explainInput) (*gomcp.CallToolResult, schemas.Explanation, error) {
	if strings.TrimSpace(in.Label) == "" {
		return errorResult("label is required"), schemas.Explanation{}, nil
	}
	return nil, s.assistant.Explain(ctx, in.Label), nil
}

func (s *Server) handleEvaluate(_ context.Context, _ *gomcp.CallToolRequest, in evaluateInput) (*gomcp.CallToolResult, schemas.Evaluation, error) {
	tree, err := in.Tree.toTree()
	if err != nil {
		return errorResult(fmt.Sprintf("invalid tree: %s", err)), schemas.Evaluation{}, nil
	}
	return nil, s.assistant.Evaluate(tree), nil
}

func (s *Server) handleScenario(_ context.Context, _ *gomcp.CallToolRequest, in scenarioInput) (*gomcp.CallToolResult, scenarioOutput, error) {
	if in.ID != "" {
		s.assistant.SelectScenario(in.ID)
	}
	if goal := strings.TrimSpace(in.Goal); goal != "" {
		s.assistant.RegisterScenarioGoal(goal, nil)
	}
	return nil, s.scenarioState(), nil
}

func (s *Server) scenarioState() scenarioOutput {
	sc := s.assistant.Context()
	must := sc.MustHave()
	if must == nil {
		must = []string{}
	}
	return scenarioOutput{
		ID:        sc.ID(),
		Goal:      sc.Goal(),
		MustHave:  must,
		Scenarios: s.assistant.ScenarioIDs(),
		Assisted:  s.assistant.Assisted(),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// errNoAssistant is returned by NewServer when no assistant is supplied.
var errNoAssistant = errors.New("mcp server requires an assistant")
