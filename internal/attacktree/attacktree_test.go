// internal/attacktree/attacktree_test.go
package attacktree

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/kb"
)

// -- Test Fixture Setup --

var testLogger *zap.Logger

func TestMain(m *testing.M) {
	testLogger = zap.NewNop()
	exitCode := m.Run()
	_ = testLogger.Sync()
	os.Exit(exitCode)
}

// -- Test Helper Functions --

// getTestGraph returns Goal -> OR -> {A, B} plus an unlinked node C.
func getTestGraph(t *testing.T) (*Graph, map[string]schemas.Node) {
	t.Helper()
	g := NewGraph(testLogger)
	nodes := map[string]schemas.Node{}

	var err error
	nodes["goal"], err = g.AddNode("Take over account", schemas.Position{X: 160, Y: 120})
	require.NoError(t, err)
	nodes["or"], err = g.AddGate(schemas.GateOR, schemas.Position{X: 380, Y: 140})
	require.NoError(t, err)
	nodes["a"], err = g.AddNode("Phishing Credentials", schemas.Position{X: 600, Y: 100})
	require.NoError(t, err)
	nodes["b"], err = g.AddNode("Credential Stuffing", schemas.Position{X: 600, Y: 180})
	require.NoError(t, err)
	nodes["c"], err = g.AddNode("Unlinked idea", schemas.Position{X: 0, Y: 0})
	require.NoError(t, err)

	for _, pair := range [][2]string{{"goal", "or"}, {"or", "a"}, {"or", "b"}} {
		_, err := g.AddLink(nodes[pair[0]].ID, nodes[pair[1]].ID)
		require.NoError(t, err)
	}
	return g, nodes
}

// -- Graph --

func TestGraph_AddAndSnapshot(t *testing.T) {
	t.Parallel()
	g, nodes := getTestGraph(t)

	snap := g.Snapshot()
	require.Len(t, snap.Nodes, 5)
	require.Len(t, snap.Links, 3)
	assert.Equal(t, nodes["goal"].ID, snap.Nodes[0].ID, "snapshot preserves insertion order")
	assert.Equal(t, "OR", snap.Nodes[1].Label)
	assert.True(t, snap.Nodes[1].IsGate())
	assert.Equal(t, schemas.Size{Width: 38, Height: 38}, snap.Nodes[1].Size)

	topo := snap.Topology()
	assert.Equal(t, 3, topo.Degree(nodes["or"].ID))
	assert.Len(t, topo.Children(nodes["or"].ID), 2)
	assert.Zero(t, topo.Degree(nodes["c"].ID))

	t.Run("should return copies", func(t *testing.T) {
		snap.Nodes[0].Label = "mutated"
		n, err := g.Node(nodes["goal"].ID)
		require.NoError(t, err)
		assert.Equal(t, "Take over account", n.Label)
	})
}

func TestGraph_Validation(t *testing.T) {
	t.Parallel()
	g, nodes := getTestGraph(t)

	t.Run("should reject blank labels", func(t *testing.T) {
		_, err := g.AddNode("   ", schemas.Position{})
		assert.ErrorIs(t, err, ErrEmptyLabel)
		_, _, err = g.Rename(nodes["a"].ID, "")
		assert.ErrorIs(t, err, ErrEmptyLabel)
	})

	t.Run("should reject unknown gate kinds", func(t *testing.T) {
		_, err := g.AddGate("XOR", schemas.Position{})
		assert.Error(t, err)
		gate, err := g.AddGate("and", schemas.Position{})
		require.NoError(t, err)
		assert.Equal(t, schemas.GateAND, gate.Gate)
	})

	t.Run("should reject bad links", func(t *testing.T) {
		_, err := g.AddLink("missing", nodes["a"].ID)
		assert.ErrorIs(t, err, ErrNodeNotFound)
		_, err = g.AddLink(nodes["a"].ID, nodes["a"].ID)
		assert.ErrorIs(t, err, ErrInvalidLink)
		_, err = g.AddLink(nodes["or"].ID, nodes["a"].ID)
		assert.ErrorIs(t, err, ErrInvalidLink, "duplicate parent -> child")
	})
}

func TestGraph_Mutations(t *testing.T) {
	t.Parallel()

	t.Run("should rename and refit width", func(t *testing.T) {
		g, nodes := getTestGraph(t)
		old, updated, err := g.Rename(nodes["c"].ID, "  A much longer and more concrete attack step label  ")
		require.NoError(t, err)
		assert.Equal(t, "Unlinked idea", old.Label)
		assert.Equal(t, "A much longer and more concrete attack step label", updated.Label)
		assert.Greater(t, updated.Size.Width, old.Size.Width)
	})

	t.Run("should remove a node with its links", func(t *testing.T) {
		g, nodes := getTestGraph(t)
		removed, dropped, err := g.RemoveNode(nodes["or"].ID)
		require.NoError(t, err)
		assert.Equal(t, "OR", removed.Label)
		assert.Equal(t, 3, dropped)

		snap := g.Snapshot()
		assert.Len(t, snap.Nodes, 4)
		assert.Empty(t, snap.Links)

		_, _, err = g.RemoveNode(nodes["or"].ID)
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})

	t.Run("should remove a single link", func(t *testing.T) {
		g, _ := getTestGraph(t)
		first := g.Snapshot().Links[0]
		_, err := g.RemoveLink(first.ID)
		require.NoError(t, err)
		assert.Len(t, g.Snapshot().Links, 2)
		_, err = g.RemoveLink(first.ID)
		assert.ErrorIs(t, err, ErrLinkNotFound)
	})

	t.Run("should move and find by label", func(t *testing.T) {
		g, nodes := getTestGraph(t)
		moved, err := g.Move(nodes["a"].ID, schemas.Position{X: 1, Y: 2})
		require.NoError(t, err)
		assert.Equal(t, schemas.Position{X: 1, Y: 2}, moved.Position)

		found, ok := g.FindByLabel(" phishing credentials ")
		require.True(t, ok)
		assert.Equal(t, nodes["a"].ID, found.ID)
		_, ok = g.FindByLabel("")
		assert.False(t, ok)
	})

	t.Run("should clear", func(t *testing.T) {
		g, _ := getTestGraph(t)
		g.Clear()
		assert.Zero(t, g.Len())
		assert.Empty(t, g.Snapshot().Links)
	})
}

func TestGraph_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	g := NewGraph(testLogger)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = g.AddNode("step", schemas.Position{})
		}()
		go func() {
			defer wg.Done()
			_ = g.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, g.Len())
}

// -- Export / Import --

func TestExportImport(t *testing.T) {
	t.Parallel()
	g, _ := getTestGraph(t)
	snap := g.Snapshot()

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, snap))
	assert.Contains(t, buf.String(), `"gate": "OR"`)

	back, err := Import(&buf)
	require.NoError(t, err)
	assert.Equal(t, snap, back)

	other := NewGraph(testLogger)
	require.NoError(t, other.Replace(back))
	assert.Equal(t, snap, other.Snapshot())

	t.Run("should export an empty tree with empty arrays", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, Export(&out, schemas.Tree{}))
		assert.JSONEq(t, `{"nodes":[],"links":[]}`, out.String())
	})

	t.Run("should round trip through a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tree.json")
		require.NoError(t, SaveFile(path, snap))
		loaded, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, snap, loaded)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		_, err := Import(bytes.NewBufferString("nope"))
		assert.Error(t, err)
	})
}

func TestGraph_Replace(t *testing.T) {
	t.Parallel()

	t.Run("should fill ids and sizes", func(t *testing.T) {
		g := NewGraph(testLogger)
		err := g.Replace(schemas.Tree{
			Nodes: []schemas.Node{{ID: "n1", Label: "Root"}, {Gate: "and"}},
			Links: []schemas.Link{{Source: "n1", Target: "n1"}},
		})
		require.NoError(t, err)
		snap := g.Snapshot()
		require.Len(t, snap.Nodes, 2)
		assert.NotEmpty(t, snap.Nodes[1].ID)
		assert.Equal(t, "AND", snap.Nodes[1].Label)
		assert.Equal(t, NodeSize("Root"), snap.Nodes[0].Size)
		assert.NotEmpty(t, snap.Links[0].ID)
	})

	t.Run("should reject dangling links and keep the old tree", func(t *testing.T) {
		g, _ := getTestGraph(t)
		err := g.Replace(schemas.Tree{
			Nodes: []schemas.Node{{ID: "n1", Label: "Root"}},
			Links: []schemas.Link{{ID: "l1", Source: "n1", Target: "ghost"}},
		})
		assert.ErrorIs(t, err, ErrNodeNotFound)
		assert.Equal(t, 5, g.Len())
	})

	t.Run("should reject blank steps and unknown gates", func(t *testing.T) {
		g := NewGraph(testLogger)
		assert.ErrorIs(t, g.Replace(schemas.Tree{Nodes: []schemas.Node{{ID: "x"}}}), ErrEmptyLabel)
		assert.Error(t, g.Replace(schemas.Tree{Nodes: []schemas.Node{{ID: "x", Gate: "XOR"}}}))
		assert.Error(t, g.Replace(schemas.Tree{Nodes: []schemas.Node{{ID: "x", Label: "a"}, {ID: "x", Label: "b"}}}))
	})
}

func TestNodeSize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 120.0, NodeSize("ab").Width)
	assert.Equal(t, 360.0, NodeSize(string(make([]byte, 200))).Width)
	assert.Equal(t, 16+20*7.5, NodeSize("abcdefghijklmnopqrst").Width)
	assert.Equal(t, 44.0, NodeSize("x").Height)
}

// -- Planter --

func plantIndex() *kb.Index {
	return kb.BuildIndex([]kb.Entry{
		{
			ID:       "password_reset_flow",
			Name:     "Password Reset Flow",
			Children: []kb.ChildRef{"a", "b", "c", "d", "e"},
		},
		{ID: "a", Name: "Child A"}, {ID: "b", Name: "Child B"}, {ID: "c", Name: "Child C"},
		{ID: "d", Name: "Child D"}, {ID: "e", Name: "Child E"},
	})
}

func TestPlanter(t *testing.T) {
	t.Parallel()
	suggestion := schemas.Suggestion{ID: "password_reset_flow", Name: "Password Reset Flow"}

	t.Run("should plant a root with capped children on an empty canvas", func(t *testing.T) {
		g := NewGraph(testLogger)
		res, err := NewPlanter(g, plantIndex(), 0, testLogger).Accept(suggestion, "")
		require.NoError(t, err)

		assert.True(t, res.AsRoot)
		assert.Equal(t, schemas.Position{X: 160, Y: 120}, res.Node.Position)
		require.Len(t, res.Children, DefaultChildCap)
		assert.Equal(t, "Child A", res.Children[0].Label)
		assert.Equal(t, schemas.Position{X: 400, Y: 120 + 3*70}, res.Children[3].Position)
		assert.Len(t, res.Links, DefaultChildCap)
		assert.Equal(t, 5, g.Len())
	})

	t.Run("should place a child right of the parent", func(t *testing.T) {
		g, nodes := getTestGraph(t)
		res, err := NewPlanter(g, plantIndex(), 2, testLogger).Accept(suggestion, nodes["a"].ID)
		require.NoError(t, err)

		assert.False(t, res.AsRoot)
		require.NotNil(t, res.Parent)
		assert.Equal(t, nodes["a"].ID, res.Parent.ID)
		assert.Equal(t, schemas.Position{X: 840, Y: 100}, res.Node.Position)
		require.Len(t, res.Links, 1)
		assert.Equal(t, nodes["a"].ID, res.Links[0].Source)
		assert.Empty(t, res.Children, "children are only planted for a fresh root")
	})

	t.Run("should fall back to the newest node as parent", func(t *testing.T) {
		g, nodes := getTestGraph(t)
		res, err := NewPlanter(g, nil, 0, testLogger).Accept(suggestion, "")
		require.NoError(t, err)
		assert.Equal(t, nodes["c"].ID, res.Parent.ID)
	})

	t.Run("should fail on an unknown parent", func(t *testing.T) {
		g, _ := getTestGraph(t)
		_, err := NewPlanter(g, nil, 0, testLogger).Accept(suggestion, "ghost")
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})
}
