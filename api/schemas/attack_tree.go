package schemas

// -- Canonical Attack Tree Data Model --

// GateKind distinguishes plain steps from AND/OR gates. The empty value is a
// regular (non-gate) node.
type GateKind string

const (
	GateNone GateKind = ""
	GateAND  GateKind = "AND"
	GateOR   GateKind = "OR"
)

// Position is the canvas location of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the rendered size of a node.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Node represents a single element on the attack-tree canvas. Gates carry a
// GateKind; every other node is a step or goal identified by its free-text label.
type Node struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Gate     GateKind `json:"gate,omitempty"`
	Position Position `json:"position"`
	Size     Size     `json:"size"`
}

// IsGate reports whether the node is an AND or OR gate.
func (n Node) IsGate() bool {
	return n.Gate == GateAND || n.Gate == GateOR
}

// Link is a directed parent -> child connection between two nodes.
type Link struct {
	ID     string `json:"id"`
	Source string `json:"source"` // The ID of the parent node.
	Target string `json:"target"` // The ID of the child node.
}

// Tree is a read-only snapshot of the canvas. Every engine query takes a fresh
// snapshot; nothing is cached between calls.
type Tree struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Topology indexes a Tree snapshot for neighbour and degree queries.
type Topology struct {
	byID       map[string]Node
	children   map[string][]string
	neighbours map[string][]string
}

// Topology builds the adjacency index of the snapshot. Links that reference
// unknown nodes are ignored.
func (t Tree) Topology() *Topology {
	topo := &Topology{
		byID:       make(map[string]Node, len(t.Nodes)),
		children:   make(map[string][]string),
		neighbours: make(map[string][]string),
	}
	for _, n := range t.Nodes {
		topo.byID[n.ID] = n
	}
	for _, l := range t.Links {
		_, srcOK := topo.byID[l.Source]
		_, dstOK := topo.byID[l.Target]
		if !srcOK || !dstOK {
			continue
		}
		topo.children[l.Source] = append(topo.children[l.Source], l.Target)
		topo.neighbours[l.Source] = append(topo.neighbours[l.Source], l.Target)
		topo.neighbours[l.Target] = append(topo.neighbours[l.Target], l.Source)
	}
	return topo
}

// Node returns the node with the given ID.
func (t *Topology) Node(id string) (Node, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// Children returns the targets of the node's outgoing links, in link order.
func (t *Topology) Children(id string) []Node {
	ids := t.children[id]
	out := make([]Node, 0, len(ids))
	for _, cid := range ids {
		out = append(out, t.byID[cid])
	}
	return out
}

// Neighbours returns the IDs of every node connected to id in either direction.
// A node linked twice appears twice.
func (t *Topology) Neighbours(id string) []string {
	return t.neighbours[id]
}

// Degree is the undirected number of links touching the node.
func (t *Topology) Degree(id string) int {
	return len(t.neighbours[id])
}
