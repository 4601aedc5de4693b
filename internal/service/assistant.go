// File: internal/service/assistant.go
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/attacktree"
	"github.com/xkilldash9x/arborist/internal/evaluate"
	"github.com/xkilldash9x/arborist/internal/explain"
	"github.com/xkilldash9x/arborist/internal/kb"
	"github.com/xkilldash9x/arborist/internal/observability"
	"github.com/xkilldash9x/arborist/internal/prune"
	"github.com/xkilldash9x/arborist/internal/scenario"
	"github.com/xkilldash9x/arborist/internal/semantic"
	"github.com/xkilldash9x/arborist/internal/suggest"
)

// AssistantOptions wires the engines behind an Assistant.
type AssistantOptions struct {
	// Assisted is false in the baseline condition: suggest and prune return
	// nothing and explain only describes the goal.
	Assisted         bool
	Suggest          suggest.Options
	Prune            prune.Options
	PlantChildrenCap int
	Advisor          *semantic.Advisor
	Booster          suggest.Booster
	Recorder         *observability.Recorder
}

// Assistant is the facade the UI, CLI and MCP surfaces talk to. It owns the
// active scenario context, the session graph and the kept set, and records
// every user-visible action.
type Assistant struct {
	mu        sync.RWMutex
	sc        *scenario.Context
	scenarios map[string]*scenario.Scenario

	assisted  bool
	graph     *attacktree.Graph
	planter   *attacktree.Planter
	kept      *prune.KeptSet
	suggester *suggest.Engine
	pruner    *prune.Engine
	explainer *explain.Engine
	scorer    *evaluate.Scorer
	recorder  *observability.Recorder
	logger    *zap.Logger
}

// NewAssistant creates an Assistant over the given knowledge.
func NewAssistant(k *Knowledge, opts AssistantOptions, logger *zap.Logger) *Assistant {
	if logger == nil {
		logger = zap.NewNop()
	}
	graph := attacktree.NewGraph(logger)
	return &Assistant{
		sc:        k.Context,
		scenarios: k.Scenarios,
		assisted:  opts.Assisted,
		graph:     graph,
		planter:   attacktree.NewPlanter(graph, k.Index, opts.PlantChildrenCap, logger),
		kept:      prune.NewKeptSet(),
		suggester: suggest.New(opts.Suggest, opts.Advisor, opts.Booster, logger),
		pruner:    prune.New(opts.Prune, opts.Advisor, logger),
		explainer: explain.New(opts.Advisor, 0, logger),
		scorer:    evaluate.New(logger),
		recorder:  opts.Recorder,
		logger:    logger.Named("Assistant"),
	}
}

// -- Accessors --

// Context returns the active scenario context.
func (a *Assistant) Context() *scenario.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sc
}

// Graph is the session's tree.
func (a *Assistant) Graph() *attacktree.Graph { return a.graph }

// Kept is the session's prune suppression set.
func (a *Assistant) Kept() *prune.KeptSet { return a.kept }

// Assisted reports whether the session runs with suggestions and pruning.
func (a *Assistant) Assisted() bool { return a.assisted }

// Recorder returns the session recorder, which may be nil.
func (a *Assistant) Recorder() *observability.Recorder { return a.recorder }

// ScenarioIDs lists the loaded scenarios.
func (a *Assistant) ScenarioIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.scenarios))
	for id := range a.scenarios {
		out = append(out, id)
	}
	return sortedStrings(out)
}

// -- Scenario Setup --

// SelectScenario makes a loaded scenario active. Unknown ids fall back to a
// generic scenario with no gold lists.
func (a *Assistant) SelectScenario(id string) {
	a.mu.Lock()
	s, ok := a.scenarios[id]
	if !ok {
		a.logger.Warn("Unknown scenario; using a generic one.", zap.String("scenario", id))
		s = scenario.Generic(id)
	}
	a.sc = a.sc.WithScenario(s)
	a.mu.Unlock()

	a.recorder.SetScenario(s.ID)
	a.recorder.Record(observability.EventScenarioGoalChanged, map[string]any{"scenario": s.ID, "goal": s.Goal})
}

// RegisterScenarioGoal sets the goal label that is exempt from pruning and
// explained as the root objective. A non-nil s also replaces the active
// scenario.
func (a *Assistant) RegisterScenarioGoal(label string, s *scenario.Scenario) {
	a.mu.Lock()
	sc := a.sc
	if s != nil {
		sc = sc.WithScenario(s)
	}
	a.sc = sc.WithGoal(label)
	id := a.sc.ID()
	a.mu.Unlock()

	a.recorder.SetScenario(id)
	a.recorder.Record(observability.EventScenarioGoalChanged, map[string]any{"scenario": id, "goal": strings.TrimSpace(label)})
}

// AddScenarioAliases merges alias -> canonical pairs into the active scenario.
func (a *Assistant) AddScenarioAliases(pairs map[string]string) {
	if len(pairs) == 0 {
		return
	}
	a.mu.Lock()
	a.sc = a.sc.WithAliases(pairs)
	a.mu.Unlock()
}

// -- Core Operations --

// Resolve maps a label to its best KB entry.
func (a *Assistant) Resolve(label string) kb.Resolution {
	return a.Context().Index().Resolve(label)
}

// Suggest ranks candidates to add under parentLabel in tree.
func (a *Assistant) Suggest(ctx context.Context, tree schemas.Tree, parentLabel string) schemas.SuggestResult {
	if !a.assisted {
		return schemas.SuggestResult{Top: []schemas.Suggestion{}, More: []schemas.Suggestion{}, ParentLabel: parentLabel}
	}
	res := a.suggester.Suggest(ctx, suggest.Request{Tree: tree, ParentLabel: parentLabel, Scenario: a.Context()})
	a.recorder.Record(observability.EventSuggestShown, map[string]any{
		"parent": parentLabel,
		"top":    suggestionIDs(res.Top),
		"more":   suggestionIDs(res.More),
	})
	return res
}

// Prune reviews tree and returns at most maxVisible flags (the configured cap
// when maxVisible is not positive). Kept labels are never flagged.
func (a *Assistant) Prune(ctx context.Context, tree schemas.Tree, maxVisible int) []schemas.PruneFlag {
	if !a.assisted {
		return []schemas.PruneFlag{}
	}
	flags := a.pruner.Prune(ctx, prune.Request{Tree: tree, Scenario: a.Context(), MaxVisible: maxVisible, Kept: a.kept})
	if len(flags) > 0 {
		ids := make([]string, len(flags))
		for i, f := range flags {
			ids[i] = f.ElementID
		}
		a.recorder.Record(observability.EventPruneShown, map[string]any{"flags": ids})
	}
	return flags
}

// Explain describes a label. In the baseline condition only the goal is explained.
func (a *Assistant) Explain(ctx context.Context, label string) schemas.Explanation {
	sc := a.Context()
	var out schemas.Explanation
	if a.assisted || sc.IsGoal(label) {
		out = a.explainer.Explain(ctx, label, sc)
	} else {
		out = schemas.Explanation{Title: strings.TrimSpace(label), Severity: schemas.SeverityUnknown, Summary: explain.NoExplanation}
	}
	a.recorder.Record(observability.EventExplainView, map[string]any{"label": label, "title": out.Title})
	return out
}

// Evaluate scores tree against the active scenario.
func (a *Assistant) Evaluate(tree schemas.Tree) schemas.Evaluation {
	ev := a.scorer.Evaluate(tree, a.Context())
	a.recorder.Record(observability.EventEvaluation, map[string]any{
		"overall":    ev.Score.Overall,
		"coverage":   ev.Score.Coverage,
		"structure":  ev.Score.Structure,
		"duplicates": ev.Score.Duplicates,
		"low_value":  ev.Score.LowValue,
	})
	return ev
}

// -- Session Graph Operations --

// SuggestForNode ranks candidates under a node of the session graph.
func (a *Assistant) SuggestForNode(ctx context.Context, parentID string) (schemas.SuggestResult, error) {
	n, err := a.graph.Node(parentID)
	if err != nil {
		return schemas.SuggestResult{}, err
	}
	res := a.Suggest(ctx, a.graph.Snapshot(), n.Label)
	res.ParentID = n.ID
	return res, nil
}

// AcceptSuggestion plants s into the session graph under parentID.
func (a *Assistant) AcceptSuggestion(s schemas.Suggestion, parentID string) (attacktree.PlantResult, error) {
	res, err := a.planter.Accept(s, parentID)
	if err != nil {
		return res, fmt.Errorf("failed to accept suggestion %q: %w", s.ID, err)
	}
	payload := map[string]any{"suggestion_id": s.ID, "label": res.Node.Label, "source": string(s.Source), "node_id": res.Node.ID}
	if res.Parent != nil {
		payload["parent_id"] = res.Parent.ID
	}
	a.recorder.Record(observability.EventNodeAddedFromSugg, payload)
	return res, nil
}

// PruneSession reviews the session graph.
func (a *Assistant) PruneSession(ctx context.Context, maxVisible int) []schemas.PruneFlag {
	return a.Prune(ctx, a.graph.Snapshot(), maxVisible)
}

// Keep suppresses further flags on label for the rest of the session.
func (a *Assistant) Keep(label string) {
	a.kept.Keep(label)
	a.recorder.Record(observability.EventPruneKeep, map[string]any{"label": label})
}

// RemoveFlagged deletes a flagged node and its links.
func (a *Assistant) RemoveFlagged(nodeID string) (schemas.Node, error) {
	n, links, err := a.graph.RemoveNode(nodeID)
	if err != nil {
		return n, err
	}
	a.recorder.Record(observability.EventPruneRemove, map[string]any{"node_id": n.ID, "label": n.Label, "links_removed": links})
	return n, nil
}

// AddNode adds a plain node to the session graph.
func (a *Assistant) AddNode(label string, pos schemas.Position) (schemas.Node, error) {
	n, err := a.graph.AddNode(label, pos)
	if err != nil {
		return n, err
	}
	a.recorder.Record(observability.EventNodeAdded, map[string]any{"node_id": n.ID, "label": n.Label})
	return n, nil
}

// AddGate adds an AND or OR gate to the session graph.
func (a *Assistant) AddGate(kind schemas.GateKind, pos schemas.Position) (schemas.Node, error) {
	n, err := a.graph.AddGate(kind, pos)
	if err != nil {
		return n, err
	}
	a.recorder.Record(observability.EventNodeAdded, map[string]any{"node_id": n.ID, "gate": string(n.Gate)})
	return n, nil
}

// RenameNode relabels a node.
func (a *Assistant) RenameNode(id, label string) (schemas.Node, error) {
	old, updated, err := a.graph.Rename(id, label)
	if err != nil {
		return updated, err
	}
	a.recorder.Record(observability.EventNodeRenamed, map[string]any{"node_id": id, "from": old.Label, "to": updated.Label})
	return updated, nil
}

// MoveNode repositions a node.
func (a *Assistant) MoveNode(id string, pos schemas.Position) (schemas.Node, error) {
	return a.graph.Move(id, pos)
}

// DeleteNode removes a node and its links.
func (a *Assistant) DeleteNode(id string) (schemas.Node, error) {
	n, links, err := a.graph.RemoveNode(id)
	if err != nil {
		return n, err
	}
	a.recorder.Record(observability.EventNodeDeleted, map[string]any{"node_id": n.ID, "label": n.Label, "links_removed": links})
	return n, nil
}

// AddLink connects two nodes.
func (a *Assistant) AddLink(source, target string) (schemas.Link, error) {
	l, err := a.graph.AddLink(source, target)
	if err != nil {
		return l, err
	}
	a.recorder.Record(observability.EventLinkAdded, map[string]any{"link_id": l.ID, "source": l.Source, "target": l.Target})
	return l, nil
}

// DeleteLink removes a link.
func (a *Assistant) DeleteLink(id string) (schemas.Link, error) {
	l, err := a.graph.RemoveLink(id)
	if err != nil {
		return l, err
	}
	a.recorder.Record(observability.EventLinkDeleted, map[string]any{"link_id": l.ID})
	return l, nil
}

// ReplaceTree swaps the session graph for an imported tree.
func (a *Assistant) ReplaceTree(tree schemas.Tree) error {
	if err := a.graph.Replace(tree); err != nil {
		return err
	}
	a.recorder.Record(observability.EventTreeReplaced, map[string]any{"nodes": len(tree.Nodes), "links": len(tree.Links)})
	return nil
}

// ClearTree empties the session graph.
func (a *Assistant) ClearTree() {
	a.graph.Clear()
	a.recorder.Record(observability.EventTreeReplaced, map[string]any{"nodes": 0, "links": 0})
}

func suggestionIDs(in []schemas.Suggestion) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = s.ID
	}
	return out
}
