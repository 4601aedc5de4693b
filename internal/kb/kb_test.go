// internal/kb/kb_test.go
package kb

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/similarity"
)

// -- Test Helper Functions --

func sampleEntries() []Entry {
	return []Entry{
		{
			ID:        "password_reset_flow",
			Name:      "Password Reset Flow",
			Aliases:   []string{"request password reset", "forgot password"},
			Severity:  "high",
			Scenarios: []string{"auth"},
			Children:  []ChildRef{"intercept_reset_email", "Phishing Credentials", "missing_child"},
		},
		{
			ID:          "intercept_reset_email",
			Name:        "Intercept Reset Email",
			Severity:    "High",
			Scenarios:   []string{"auth"},
			Description: "Gain access to the mailbox that receives the reset link.",
		},
		{
			ID:         "phishing_credentials",
			Name:       "Phishing Credentials",
			Aliases:    []string{"phish login"},
			Severity:   "medium",
			Scenarios:  []string{"auth", "shop"},
			LayExplain: "Trick someone into typing their password on a fake page.",
		},
		{ID: "", Name: "No Id Entry"},
		{ID: "phishing_credentials", Name: "Duplicate Id"},
		{ID: "default_admin_password", Aliases: []string{"forgot password"}},
	}
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return NewIndex(sampleEntries(), similarity.NewScorer(similarity.DefaultWeights()), zap.NewNop())
}

// -- Entry --

func TestEntry(t *testing.T) {
	t.Parallel()

	t.Run("should default missing fields", func(t *testing.T) {
		e := Entry{ID: "x"}
		assert.Equal(t, "x", e.DisplayName())
		assert.Equal(t, schemas.SeverityUnknown, e.Level())
		assert.Equal(t, 0.4, e.Level().Weight())
		assert.Equal(t, noNarrative, e.Narrative())
	})

	t.Run("should pick the best narrative", func(t *testing.T) {
		e := Entry{Description: "desc", Comms: "comms"}
		assert.Equal(t, "desc", e.Narrative())
		e.LayExplain = "plain words"
		assert.Equal(t, "plain words", e.Narrative())
		assert.Equal(t, "comms", (&Entry{Comms: " comms "}).Narrative())
	})

	t.Run("should scope by scenario", func(t *testing.T) {
		e := Entry{Scenarios: []string{"auth"}}
		assert.True(t, e.RelevantTo("auth"))
		assert.True(t, e.RelevantTo(""))
		assert.True(t, e.RelevantTo(SandboxScenario))
		assert.False(t, e.RelevantTo("shop"))
	})

	t.Run("should build search text", func(t *testing.T) {
		e := Entry{ID: "a", Name: "Alpha", Aliases: []string{"first", "one"}, Description: "d", Why: "w"}
		assert.Equal(t, "Alpha | first, one | d", e.SearchText())
	})
}

// -- Loader --

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("should read a bare json array with mixed child shapes", func(t *testing.T) {
		data := []byte(`[{"id":"a","name":"A","children":["b",{"id":"c"}]},{"id":"b"}]`)
		entries, err := Decode(data, FormatJSON)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, []ChildRef{"b", "c"}, entries[0].Children)
	})

	t.Run("should read a wrapped json document", func(t *testing.T) {
		data := []byte(`{"patterns":[{"id":"a","severity":"low","lay_explain":"x"}]}`)
		entries, err := Decode(data, FormatJSON)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "x", entries[0].LayExplain)
		assert.Equal(t, schemas.SeverityLow, entries[0].Level())
	})

	t.Run("should read yaml in both shapes", func(t *testing.T) {
		seq := "- id: a\n  children:\n    - b\n    - id: c\n"
		entries, err := Decode([]byte(seq), FormatYAML)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, []ChildRef{"b", "c"}, entries[0].Children)

		doc := "patterns:\n  - id: a\n    aliases: [x, y]\n"
		entries, err = Decode([]byte(doc), FormatYAML)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, []string{"x", "y"}, entries[0].Aliases)
	})

	t.Run("should reject malformed children", func(t *testing.T) {
		_, err := Decode([]byte(`[{"id":"a","children":[42]}]`), FormatJSON)
		assert.Error(t, err)
	})

	t.Run("should treat empty input as an empty KB", func(t *testing.T) {
		entries, err := Decode([]byte("  \n"), FormatJSON)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path := filepath.Join(dir, "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- id: a\n  name: Alpha\n"), 0o600))
	entries, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Alpha", entries[0].Name)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read KB file")
}

// -- Index & Resolver --

func TestNewIndex(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)

	assert.Equal(t, 4, idx.Len(), "entries without id and duplicate ids are skipped")
	e, ok := idx.Entry("phishing_credentials")
	require.True(t, ok)
	assert.Equal(t, "Phishing Credentials", e.Name, "first id registration wins")

	e, ok = idx.Entry("default_admin_password")
	require.True(t, ok)
	assert.Equal(t, "default_admin_password", e.Name, "missing name falls back to id")
}

func TestResolve(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)

	tests := []struct {
		name   string
		label  string
		id     string
		method Method
	}{
		{"exact id", "intercept_reset_email", "intercept_reset_email", MethodID},
		{"canonical name", "  password RESET flow ", "password_reset_flow", MethodCanon},
		{"canonical with stop words", "Intercept the reset emails", "intercept_reset_email", MethodCanon},
		{"alias", "Phish-Login", "phishing_credentials", MethodAlias},
		{"alias collision keeps first", "forgot password", "password_reset_flow", MethodAlias},
		{"fuzzy", "phishing credential harvest", "phishing_credentials", MethodFuzzy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := idx.Resolve(tt.label)
			require.True(t, r.OK())
			assert.Equal(t, tt.id, r.ID)
			assert.Equal(t, tt.method, r.Method)
			if tt.method != MethodFuzzy {
				assert.Equal(t, 1.0, r.Score)
				assert.True(t, r.Exact())
			} else {
				assert.Less(t, r.Score, 1.0)
				assert.False(t, r.Exact())
			}
		})
	}

	t.Run("should return an empty resolution for blank input", func(t *testing.T) {
		assert.False(t, idx.Resolve("   ").OK())
		assert.False(t, idx.Resolve("?!").OK())
	})

	t.Run("should tolerate a nil index", func(t *testing.T) {
		var empty *Index
		assert.False(t, empty.Resolve("anything").OK())
		assert.Zero(t, empty.Len())
	})
}

func TestResolveID(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)

	id, ok := idx.ResolveID("Password Reset Flow", similarity.DefaultHigh)
	assert.True(t, ok)
	assert.Equal(t, "password_reset_flow", id)

	_, ok = idx.ResolveID("bake a cake", similarity.DefaultMed)
	assert.False(t, ok)
}

func TestChildrenOf(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)

	parent, _ := idx.Entry("password_reset_flow")
	kids := idx.ChildrenOf(parent)
	require.Len(t, kids, 2, "unknown child references are dropped")
	assert.Equal(t, "intercept_reset_email", kids[0].ID)
	assert.Equal(t, "phishing_credentials", kids[1].ID, "children may be referenced by name")
	assert.Nil(t, idx.ChildrenOf(nil))
}

func TestTopK(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)

	got := idx.TopK("reset email interception", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "intercept_reset_email", got[0].Entry.ID)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
	assert.Nil(t, idx.TopK("", 3))
	assert.Nil(t, idx.TopK("reset", 0))
}

// Every entry resolves to itself by id and by name with score 1, provided ids
// and names do not collide.
func TestResolveExactness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOfNDistinct(
			rapid.StringMatching(`[a-z]{4,10}( [a-z]{4,10}){0,2}`), 1, 12,
			func(s string) string { return Key(s) },
		).Draw(t, "names")

		entries := make([]Entry, len(names))
		for i, n := range names {
			entries[i] = Entry{ID: fmt.Sprintf("entry_%d", i), Name: n}
		}
		idx := BuildIndex(entries)

		for _, e := range entries {
			byID := idx.Resolve(e.ID)
			if byID.ID != e.ID || byID.Score != 1 {
				t.Fatalf("Resolve(%q) = %+v", e.ID, byID)
			}
			byName := idx.Resolve(e.Name)
			if byName.ID != e.ID || byName.Score != 1 {
				t.Fatalf("Resolve(%q) = %+v, want %s", e.Name, byName, e.ID)
			}
		}
	})
}
