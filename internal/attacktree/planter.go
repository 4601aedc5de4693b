package attacktree

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/kb"
)

// Planting geometry.
const (
	RootX        = 160.0
	RootY        = 120.0
	ChildOffsetX = 240.0
	ChildSpacing = 70.0
	// DefaultChildCap bounds how many KB children are attached to a root
	// planted on an empty canvas.
	DefaultChildCap = 4
)

// PlantResult describes what accepting a suggestion added to the graph.
type PlantResult struct {
	Node     schemas.Node   `json:"node"`
	Parent   *schemas.Node  `json:"parent,omitempty"`
	AsRoot   bool           `json:"as_root"`
	Children []schemas.Node `json:"children,omitempty"`
	Links    []schemas.Link `json:"links"`
}

// Planter turns accepted suggestions into graph nodes and links.
type Planter struct {
	graph    *Graph
	index    *kb.Index
	childCap int
	log      *zap.Logger
}

// NewPlanter creates a Planter. A non-positive childCap uses DefaultChildCap.
func NewPlanter(g *Graph, idx *kb.Index, childCap int, logger *zap.Logger) *Planter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if childCap <= 0 {
		childCap = DefaultChildCap
	}
	return &Planter{graph: g, index: idx, childCap: childCap, log: logger.Named("Planter")}
}

// Accept adds the suggestion to the graph. With a parentID the node is placed
// to the right of that parent and linked from it. Without one, the most
// recently added node acts as parent; on an empty canvas the suggestion
// becomes a root and up to childCap of its KB children are attached below it.
func (p *Planter) Accept(s schemas.Suggestion, parentID string) (PlantResult, error) {
	var parent schemas.Node
	switch {
	case parentID != "":
		n, err := p.graph.Node(parentID)
		if err != nil {
			return PlantResult{}, fmt.Errorf("failed to accept suggestion '%s': %w", s.Name, err)
		}
		parent = n
	default:
		snap := p.graph.Snapshot()
		if len(snap.Nodes) == 0 {
			return p.plantRoot(s)
		}
		parent = snap.Nodes[len(snap.Nodes)-1]
	}

	pos := schemas.Position{X: parent.Position.X + ChildOffsetX, Y: parent.Position.Y}
	node, err := p.graph.AddNode(s.Name, pos)
	if err != nil {
		return PlantResult{}, fmt.Errorf("failed to add suggested node: %w", err)
	}
	link, err := p.graph.AddLink(parent.ID, node.ID)
	if err != nil {
		return PlantResult{}, fmt.Errorf("failed to link suggested node: %w", err)
	}
	p.log.Debug("Suggestion planted", zap.String("name", s.Name), zap.String("parent", parent.Label))
	return PlantResult{Node: node, Parent: &parent, Links: []schemas.Link{link}}, nil
}

func (p *Planter) plantRoot(s schemas.Suggestion) (PlantResult, error) {
	root, err := p.graph.AddNode(s.Name, schemas.Position{X: RootX, Y: RootY})
	if err != nil {
		return PlantResult{}, fmt.Errorf("failed to plant root: %w", err)
	}
	res := PlantResult{Node: root, AsRoot: true, Links: []schemas.Link{}}

	for i, child := range p.kbChildren(s) {
		if i >= p.childCap {
			break
		}
		pos := schemas.Position{X: RootX + ChildOffsetX, Y: RootY + float64(i)*ChildSpacing}
		cn, err := p.graph.AddNode(child.DisplayName(), pos)
		if err != nil {
			return res, fmt.Errorf("failed to plant child '%s': %w", child.ID, err)
		}
		link, err := p.graph.AddLink(root.ID, cn.ID)
		if err != nil {
			return res, fmt.Errorf("failed to link child '%s': %w", child.ID, err)
		}
		res.Children = append(res.Children, cn)
		res.Links = append(res.Links, link)
	}
	p.log.Debug("Suggestion planted as root", zap.String("name", s.Name), zap.Int("children", len(res.Children)))
	return res, nil
}

func (p *Planter) kbChildren(s schemas.Suggestion) []*kb.Entry {
	if p.index == nil {
		return nil
	}
	if e, ok := p.index.Entry(s.ID); ok {
		return p.index.ChildrenOf(e)
	}
	if r := p.index.Lookup(s.Name); r.OK() {
		return p.index.ChildrenOf(r.Entry)
	}
	return nil
}
