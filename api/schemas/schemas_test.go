package schemas_test

import (
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/arborist/api/schemas"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want schemas.Severity
	}{
		{"high", schemas.SeverityHigh},
		{" Medium ", schemas.SeverityMedium},
		{"LOW", schemas.SeverityLow},
		{"info", schemas.SeverityInfo},
		{"", schemas.SeverityUnknown},
		{"critical", schemas.SeverityUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, schemas.ParseSeverity(tt.in))
		})
	}

	assert.Greater(t, schemas.SeverityHigh.Weight(), schemas.SeverityMedium.Weight())
	assert.Greater(t, schemas.SeverityMedium.Weight(), schemas.SeverityUnknown.Weight())
	assert.Greater(t, schemas.SeverityUnknown.Weight(), schemas.SeverityLow.Weight())
}

func TestTopology(t *testing.T) {
	tree := schemas.Tree{
		Nodes: []schemas.Node{
			{ID: "root", Label: "Goal"},
			{ID: "or", Gate: schemas.GateOR},
			{ID: "a", Label: "A"},
			{ID: "b", Label: "B"},
		},
		Links: []schemas.Link{
			{ID: "1", Source: "root", Target: "or"},
			{ID: "2", Source: "or", Target: "a"},
			{ID: "3", Source: "or", Target: "b"},
			{ID: "4", Source: "or", Target: "ghost"},
		},
	}
	topo := tree.Topology()

	t.Run("should index children in link order", func(t *testing.T) {
		kids := topo.Children("or")
		require.Len(t, kids, 2)
		assert.Equal(t, "a", kids[0].ID)
		assert.Equal(t, "b", kids[1].ID)
		assert.Empty(t, topo.Children("a"))
	})

	t.Run("should count undirected degree and skip dangling links", func(t *testing.T) {
		assert.Equal(t, 3, topo.Degree("or"))
		assert.Equal(t, 1, topo.Degree("root"))
		assert.Equal(t, []string{"or"}, topo.Neighbours("a"))
		assert.Zero(t, topo.Degree("ghost"))
	})

	t.Run("should look up nodes and gates", func(t *testing.T) {
		n, ok := topo.Node("or")
		require.True(t, ok)
		assert.True(t, n.IsGate())
		n, _ = topo.Node("a")
		assert.False(t, n.IsGate())
		_, ok = topo.Node("ghost")
		assert.False(t, ok)
	})
}

func TestWireFormat(t *testing.T) {
	data, err := json.Marshal(schemas.Node{ID: "n1", Label: "Step", Position: schemas.Position{X: 1, Y: 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"n1","label":"Step","position":{"x":1,"y":2},"size":{"width":0,"height":0}}`, string(data),
		"non-gate nodes omit the gate field")

	data, err = json.Marshal(schemas.Evaluation{})
	require.NoError(t, err)
	for _, key := range []string{`"lowValue"`, `"mustHaveTot"`, `"connectedPct"`, `"duplicateClusters"`} {
		assert.Contains(t, string(data), key)
	}
}
