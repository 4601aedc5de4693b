package attacktree

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/api/schemas"
)

var (
	// ErrNodeNotFound is returned when an operation names an unknown node.
	ErrNodeNotFound = errors.New("node not found")
	// ErrLinkNotFound is returned when an operation names an unknown link.
	ErrLinkNotFound = errors.New("link not found")
	// ErrInvalidLink is returned for self links and links that would duplicate
	// an existing parent -> child connection.
	ErrInvalidLink = errors.New("invalid link")
	// ErrEmptyLabel is returned when a node would be created or renamed to
	// blank text.
	ErrEmptyLabel = errors.New("label must not be empty")
)

// Default canvas geometry.
const (
	nodeHeight   = 44.0
	minNodeWidth = 120.0
	maxNodeWidth = 360.0
	gateSide     = 38.0
)

// NodeSize is the auto-fit size of a step node for a label.
func NodeSize(label string) schemas.Size {
	chars := utf8.RuneCountInString(label)
	if chars == 0 {
		chars = 4
	}
	w := 16 + float64(chars)*7.5
	return schemas.Size{Width: min(maxNodeWidth, max(minNodeWidth, w)), Height: nodeHeight}
}

// Graph is the in-memory canvas model: nodes, gates and directed links. It is
// safe for concurrent use; readers always receive copies.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]schemas.Node
	order     []string // node IDs in insertion order
	links     map[string]schemas.Link
	linkOrder []string
	log       *zap.Logger
}

// NewGraph creates an empty graph.
func NewGraph(logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		nodes: make(map[string]schemas.Node),
		links: make(map[string]schemas.Link),
		log:   logger.Named("Graph"),
	}
}

// AddNode creates a step node. The label is trimmed and must not be blank.
func (g *Graph) AddNode(label string, pos schemas.Position) (schemas.Node, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return schemas.Node{}, ErrEmptyLabel
	}
	n := schemas.Node{
		ID:       uuid.NewString(),
		Label:    label,
		Position: pos,
		Size:     NodeSize(label),
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.insertNode(n)
	g.log.Debug("Node added", zap.String("id", n.ID), zap.String("label", label))
	return n, nil
}

// AddGate creates an AND or OR gate. The gate's label is its kind.
func (g *Graph) AddGate(kind schemas.GateKind, pos schemas.Position) (schemas.Node, error) {
	kind = schemas.GateKind(strings.ToUpper(string(kind)))
	if kind != schemas.GateAND && kind != schemas.GateOR {
		return schemas.Node{}, fmt.Errorf("unknown gate kind '%s'", kind)
	}
	n := schemas.Node{
		ID:       uuid.NewString(),
		Label:    string(kind),
		Gate:     kind,
		Position: pos,
		Size:     schemas.Size{Width: gateSide, Height: gateSide},
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.insertNode(n)
	g.log.Debug("Gate added", zap.String("id", n.ID), zap.String("kind", string(kind)))
	return n, nil
}

func (g *Graph) insertNode(n schemas.Node) {
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = n
}

// AddLink connects parent -> child. Both nodes must exist, a node cannot link
// to itself, and the same parent -> child pair cannot be linked twice.
func (g *Graph) AddLink(source, target string) (schemas.Link, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[source]; !ok {
		return schemas.Link{}, fmt.Errorf("source '%s': %w", source, ErrNodeNotFound)
	}
	if _, ok := g.nodes[target]; !ok {
		return schemas.Link{}, fmt.Errorf("target '%s': %w", target, ErrNodeNotFound)
	}
	if source == target {
		return schemas.Link{}, fmt.Errorf("node '%s' cannot link to itself: %w", source, ErrInvalidLink)
	}
	for _, l := range g.links {
		if l.Source == source && l.Target == target {
			return schemas.Link{}, fmt.Errorf("link '%s' -> '%s' already exists: %w", source, target, ErrInvalidLink)
		}
	}

	l := schemas.Link{ID: uuid.NewString(), Source: source, Target: target}
	g.links[l.ID] = l
	g.linkOrder = append(g.linkOrder, l.ID)
	g.log.Debug("Link added", zap.String("id", l.ID), zap.String("source", source), zap.String("target", target))
	return l, nil
}

// Rename changes a node's label and refits its width. Gates keep their size.
func (g *Graph) Rename(id, label string) (old schemas.Node, updated schemas.Node, err error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return schemas.Node{}, schemas.Node{}, ErrEmptyLabel
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return schemas.Node{}, schemas.Node{}, fmt.Errorf("rename '%s': %w", id, ErrNodeNotFound)
	}
	old = n
	n.Label = label
	if !n.IsGate() {
		n.Size = NodeSize(label)
	}
	g.nodes[id] = n
	return old, n, nil
}

// Move updates a node's canvas position.
func (g *Graph) Move(id string, pos schemas.Position) (schemas.Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return schemas.Node{}, fmt.Errorf("move '%s': %w", id, ErrNodeNotFound)
	}
	n.Position = pos
	g.nodes[id] = n
	return n, nil
}

// RemoveNode deletes a node together with every link touching it. It returns
// the removed node and the number of links dropped.
func (g *Graph) RemoveNode(id string) (schemas.Node, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return schemas.Node{}, 0, fmt.Errorf("remove '%s': %w", id, ErrNodeNotFound)
	}
	dropped := 0
	for lid, l := range g.links {
		if l.Source == id || l.Target == id {
			delete(g.links, lid)
			dropped++
		}
	}
	if dropped > 0 {
		g.linkOrder = compact(g.linkOrder, func(lid string) bool { _, ok := g.links[lid]; return ok })
	}
	delete(g.nodes, id)
	g.order = compact(g.order, func(nid string) bool { return nid != id })

	g.log.Debug("Node removed", zap.String("id", id), zap.Int("links_dropped", dropped))
	return n, dropped, nil
}

// RemoveLink deletes a single link.
func (g *Graph) RemoveLink(id string) (schemas.Link, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.links[id]
	if !ok {
		return schemas.Link{}, fmt.Errorf("remove link '%s': %w", id, ErrLinkNotFound)
	}
	delete(g.links, id)
	g.linkOrder = compact(g.linkOrder, func(lid string) bool { return lid != id })
	return l, nil
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (schemas.Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return schemas.Node{}, fmt.Errorf("node '%s': %w", id, ErrNodeNotFound)
	}
	return n, nil
}

// FindByLabel returns the first node, in insertion order, whose label equals
// label ignoring case and surrounding space.
func (g *Graph) FindByLabel(label string) (schemas.Node, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return schemas.Node{}, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range g.order {
		if n := g.nodes[id]; strings.EqualFold(strings.TrimSpace(n.Label), label) {
			return n, true
		}
	}
	return schemas.Node{}, false
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Snapshot returns a copy of the current tree in insertion order.
func (g *Graph) Snapshot() schemas.Tree {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tree := schemas.Tree{
		Nodes: make([]schemas.Node, 0, len(g.order)),
		Links: make([]schemas.Link, 0, len(g.linkOrder)),
	}
	for _, id := range g.order {
		tree.Nodes = append(tree.Nodes, g.nodes[id])
	}
	for _, id := range g.linkOrder {
		tree.Links = append(tree.Links, g.links[id])
	}
	return tree
}

// Clear removes everything.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]schemas.Node)
	g.links = make(map[string]schemas.Link)
	g.order = nil
	g.linkOrder = nil
}

// Replace swaps the graph contents for tree. Nodes without an ID get a fresh
// one, blank step labels are rejected, and links must reference nodes of the
// same tree.
func (g *Graph) Replace(tree schemas.Tree) error {
	nodes := make(map[string]schemas.Node, len(tree.Nodes))
	order := make([]string, 0, len(tree.Nodes))
	for _, n := range tree.Nodes {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("duplicate node id '%s'", n.ID)
		}
		n.Label = strings.TrimSpace(n.Label)
		n.Gate = schemas.GateKind(strings.ToUpper(string(n.Gate)))
		switch n.Gate {
		case schemas.GateNone:
			if n.Label == "" {
				return fmt.Errorf("node '%s': %w", n.ID, ErrEmptyLabel)
			}
			if n.Size == (schemas.Size{}) {
				n.Size = NodeSize(n.Label)
			}
		case schemas.GateAND, schemas.GateOR:
			if n.Label == "" {
				n.Label = string(n.Gate)
			}
			if n.Size == (schemas.Size{}) {
				n.Size = schemas.Size{Width: gateSide, Height: gateSide}
			}
		default:
			return fmt.Errorf("node '%s' has unknown gate kind '%s'", n.ID, n.Gate)
		}
		nodes[n.ID] = n
		order = append(order, n.ID)
	}

	links := make(map[string]schemas.Link, len(tree.Links))
	linkOrder := make([]string, 0, len(tree.Links))
	for _, l := range tree.Links {
		if _, ok := nodes[l.Source]; !ok {
			return fmt.Errorf("link source '%s': %w", l.Source, ErrNodeNotFound)
		}
		if _, ok := nodes[l.Target]; !ok {
			return fmt.Errorf("link target '%s': %w", l.Target, ErrNodeNotFound)
		}
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		if _, dup := links[l.ID]; dup {
			return fmt.Errorf("duplicate link id '%s'", l.ID)
		}
		links[l.ID] = l
		linkOrder = append(linkOrder, l.ID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes, g.order = nodes, order
	g.links, g.linkOrder = links, linkOrder
	g.log.Info("Tree replaced", zap.Int("nodes", len(nodes)), zap.Int("links", len(links)))
	return nil
}

func compact(ids []string, keep func(string) bool) []string {
	out := ids[:0]
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}
