// File: internal/mcp/types.go
package mcp

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/attacktree"
)

// -- Tool Inputs --

// treeInput is the attack tree a client sends with each call. Only node ids
// and link endpoints are required; canvas geometry is optional.
type treeInput struct {
	Nodes []nodeInput `json:"nodes" jsonschema:"the nodes of the attack tree"`
	Links []linkInput `json:"links,omitempty" jsonschema:"directed parent to child links between nodes"`
}

type nodeInput struct {
	ID    string  `json:"id" jsonschema:"unique node id"`
	Label string  `json:"label,omitempty" jsonschema:"free-text step or goal label; empty for gates"`
	Gate  string  `json:"gate,omitempty" jsonschema:"AND or OR for gate nodes"`
	X     float64 `json:"x,omitempty" jsonschema:"canvas x position"`
	Y     float64 `json:"y,omitempty" jsonschema:"canvas y position"`
}

type linkInput struct {
	ID     string `json:"id,omitempty" jsonschema:"link id; generated when empty"`
	Source string `json:"source" jsonschema:"parent node id"`
	Target string `json:"target" jsonschema:"child node id"`
}

type suggestInput struct {
	Tree   treeInput `json:"tree" jsonschema:"the current attack tree"`
	Parent string    `json:"parent" jsonschema:"id or label of the node to suggest children for"`
}

type reviewInput struct {
	Tree       treeInput `json:"tree" jsonschema:"the current attack tree"`
	MaxVisible int       `json:"max_visible,omitempty" jsonschema:"maximum number of flags to return"`
	Keep       []string  `json:"keep,omitempty" jsonschema:"labels the user chose to keep; never flagged again in this session"`
}

type explainInput struct {
	Label string `json:"label" jsonschema:"the node label to explain"`
}

type evaluateInput struct {
	Tree treeInput `json:"tree" jsonschema:"the attack tree to score"`
}

type scenarioInput struct {
	ID   string `json:"id,omitempty" jsonschema:"id of a loaded scenario to switch to"`
	Goal string `json:"goal,omitempty" jsonschema:"goal label to register for the active scenario"`
}

// -- Tool Outputs --

type reviewOutput struct {
	Flags []schemas.PruneFlag `json:"flags"`
	Count int                 `json:"count"`
}

type scenarioOutput struct {
	ID        string   `json:"id"`
	Goal      string   `json:"goal"`
	MustHave  []string `json:"gold_must_have"`
	Scenarios []string `json:"scenarios"`
	Assisted  bool     `json:"assisted"`
}

// -- Conversion --

// toTree validates the input and converts it to an engine snapshot.
func (in treeInput) toTree() (schemas.Tree, error) {
	tree := schemas.Tree{
		Nodes: make([]schemas.Node, 0, len(in.Nodes)),
		Links: make([]schemas.Link, 0, len(in.Links)),
	}
	seen := make(map[string]struct{}, len(in.Nodes))
	for _, n := range in.Nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			return schemas.Tree{}, fmt.Errorf("node with label %q has no id", n.Label)
		}
		if _, dup := seen[id]; dup {
			return schemas.Tree{}, fmt.Errorf("duplicate node id %q", id)
		}
		seen[id] = struct{}{}

		gate := schemas.GateKind(strings.ToUpper(strings.TrimSpace(n.Gate)))
		switch gate {
		case schemas.GateNone, schemas.GateAND, schemas.GateOR:
		default:
			return schemas.Tree{}, fmt.Errorf("node %q has unknown gate %q", id, n.Gate)
		}
		label := n.Label
		if gate != schemas.GateNone && strings.TrimSpace(label) == "" {
			label = string(gate)
		}
		tree.Nodes = append(tree.Nodes, schemas.Node{
			ID:       id,
			Label:    label,
			Gate:     gate,
			Position: schemas.Position{X: n.X, Y: n.Y},
			Size:     attacktree.NodeSize(label),
		})
	}
	for i, l := range in.Links {
		if _, ok := seen[l.Source]; !ok {
			return schemas.Tree{}, fmt.Errorf("link source %q is not a node", l.Source)
		}
		if _, ok := seen[l.Target]; !ok {
			return schemas.Tree{}, fmt.Errorf("link target %q is not a node", l.Target)
		}
		id := l.ID
		if id == "" {
			id = fmt.Sprintf("link-%d", i+1)
		}
		tree.Links = append(tree.Links, schemas.Link{ID: id, Source: l.Source, Target: l.Target})
	}
	return tree, nil
}

// parentLabel maps a node id to its label; anything else is used as a label.
func parentLabel(tree schemas.Tree, parent string) (string, string) {
	for _, n := range tree.Nodes {
		if n.ID == parent {
			return n.ID, n.Label
		}
	}
	return "", strings.TrimSpace(parent)
}
