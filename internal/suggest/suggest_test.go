package suggest

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/kb"
	"github.com/xkilldash9x/arborist/internal/scenario"
	"github.com/xkilldash9x/arborist/internal/semantic"
	"github.com/xkilldash9x/arborist/internal/similarity"
)

// -- Test Helper Functions --

func testIndex() *kb.Index {
	return kb.BuildIndex([]kb.Entry{
		{
			ID: "phishing_credentials", Name: "Phishing Credentials", Severity: "high",
			Scenarios: []string{"auth", "shop"},
			Children:  []kb.ChildRef{"fake_login_page", "credential_stuffing"},
		},
		{ID: "fake_login_page", Name: "Fake Login Page", Severity: "medium"},
		{ID: "credential_stuffing", Name: "Credential Stuffing", Severity: "high", Scenarios: []string{"auth"}},
		{ID: "password_reset_flow", Name: "Password Reset Flow", Severity: "medium", Scenarios: []string{"auth"}},
		{ID: "intercept_reset_email", Name: "Intercept Reset Email", Severity: "medium", Scenarios: []string{"auth"}},
		{ID: "bake_cookies", Name: "Bake Cookies", Severity: "low", Scenarios: []string{"shop"}},
	})
}

func authContext(idx *kb.Index) *scenario.Context {
	s := &scenario.Scenario{ID: "auth", Goal: "Take over the account", GoldMustHave: []string{"Credential Stuffing"}}
	return scenario.NewContext(s, idx, similarity.DefaultThresholds())
}

func tree(labels ...string) schemas.Tree {
	var t schemas.Tree
	for i, l := range labels {
		t.Nodes = append(t.Nodes, schemas.Node{ID: string(rune('a' + i)), Label: l})
	}
	return t
}

func names(in []schemas.Suggestion) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, s.Name)
	}
	return out
}

func find(t *testing.T, res schemas.SuggestResult, id string) schemas.Suggestion {
	t.Helper()
	for _, s := range append(append([]schemas.Suggestion{}, res.Top...), res.More...) {
		if s.ID == id {
			return s
		}
	}
	require.Failf(t, "suggestion missing", "no suggestion with id %q", id)
	return schemas.Suggestion{}
}

type fixedOracle struct{ matches []semantic.Match }

func (f fixedOracle) Ready(context.Context) bool { return true }
func (f fixedOracle) TopK(context.Context, string, int) ([]semantic.Match, error) {
	return f.matches, nil
}

type recordingBooster struct {
	scenarioID, parent string
	add                schemas.Suggestion
}

func (b *recordingBooster) Merge(ranked []schemas.Suggestion, scenarioID, parentLabel string) []schemas.Suggestion {
	b.scenarioID, b.parent = scenarioID, parentLabel
	return rank(append(ranked, b.add))
}

// -- Engine --

func TestSuggest_RanksPools(t *testing.T) {
	t.Parallel()
	idx := testIndex()
	engine := New(DefaultOptions(), nil, nil, nil)

	res := engine.Suggest(context.Background(), Request{
		Tree:        tree("Phishing Credentials"),
		ParentLabel: "Phishing Credentials",
		Scenario:    authContext(idx),
	})

	assert.Equal(t, "phishing_credentials", res.ParentID)
	if diff := cmp.Diff([]string{"Credential Stuffing", "Fake Login Page", "Intercept Reset Email"}, names(res.Top)); diff != "" {
		t.Errorf("top mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Password Reset Flow"}, names(res.More)); diff != "" {
		t.Errorf("more mismatch (-want +got):\n%s", diff)
	}

	t.Run("should boost and badge must-have items", func(t *testing.T) {
		cs := find(t, res, "credential_stuffing")
		assert.Equal(t, schemas.SourceParent, cs.Source)
		assert.Equal(t, ReasonMustHave, cs.Reason)
		assert.Equal(t, schemas.BadgeMustHave, cs.Badge)
		assert.InDelta(t, 0.7+0.25+0.2+0.25, cs.Score, 1e-9)
	})

	t.Run("should explain typical children", func(t *testing.T) {
		flp := find(t, res, "fake_login_page")
		assert.Equal(t, schemas.SourceParent, flp.Source)
		assert.Equal(t, "Typical child of “Phishing Credentials”.", flp.Reason)
		assert.InDelta(t, 0.75, flp.Score, 1e-9)
		assert.Empty(t, flp.Badge)
	})

	t.Run("should keep the best variant per id", func(t *testing.T) {
		ire := find(t, res, "intercept_reset_email")
		assert.Equal(t, schemas.SourceScenario, ire.Source, "scenario 0.7 beats common 0.6")
		assert.Equal(t, ReasonScenario, ire.Reason)
	})
}

func TestSuggest_EmptyTree(t *testing.T) {
	t.Parallel()
	res := New(DefaultOptions(), nil, nil, nil).Suggest(context.Background(), Request{Scenario: authContext(testIndex())})

	assert.Empty(t, res.ParentID)
	assert.Equal(t, []string{"Credential Stuffing", "Phishing Credentials", "Intercept Reset Email"}, names(res.Top))
	assert.Equal(t, []string{"Password Reset Flow"}, names(res.More))
}

func TestSuggest_MinScoreAndLimits(t *testing.T) {
	t.Parallel()
	idx := testIndex()
	shop := scenario.NewContext(&scenario.Scenario{ID: "shop"}, idx, similarity.Thresholds{})

	opts := DefaultOptions()
	opts.MinScore = 0.55
	res := New(opts, nil, nil, nil).Suggest(context.Background(), Request{Scenario: shop})
	assert.Equal(t, []string{"Phishing Credentials", "Credential Stuffing"}, names(res.Top))
	assert.Empty(t, res.More)
	assert.NotNil(t, res.More, "empty lists encode as []")

	res = New(DefaultOptions(), nil, nil, nil).Suggest(context.Background(), Request{
		Scenario: authContext(idx), TopK: 1, MoreK: 1,
	})
	assert.Len(t, res.Top, 1)
	assert.Len(t, res.More, 1)
}

func TestSuggest_ExcludesExistingNodes(t *testing.T) {
	t.Parallel()
	booster := &recordingBooster{add: schemas.Suggestion{ID: "woz-1", Name: "phishing credentials!", Source: schemas.SourceWoZ, Score: 5}}
	engine := New(DefaultOptions(), nil, booster, nil)

	res := engine.Suggest(context.Background(), Request{
		Tree:        tree("credential stuffing", "Phishing Credentials", "AND"),
		ParentLabel: "  Phishing Credentials ",
		Scenario:    authContext(testIndex()),
	})

	assert.Equal(t, "auth", booster.scenarioID)
	assert.Equal(t, "Phishing Credentials", booster.parent)
	for _, s := range append(res.Top, res.More...) {
		assert.NotEqual(t, "credential_stuffing", s.ID)
		assert.NotEqual(t, "phishing_credentials", s.ID)
		assert.NotEqual(t, "woz-1", s.ID, "remote items that repeat a tree label are dropped")
	}
}

func TestSuggest_SemanticPool(t *testing.T) {
	t.Parallel()
	advisor := semantic.NewAdvisor(fixedOracle{matches: []semantic.Match{
		{ID: "ghost", Score: 0.95},
		{ID: "fake_login_page", Score: 0.8},
	}}, semantic.AdvisorConfig{}, nil)

	res := New(DefaultOptions(), advisor, nil, nil).Suggest(context.Background(), Request{
		ParentLabel: "webcam factory login",
		Scenario:    authContext(testIndex()),
	})

	assert.Empty(t, res.ParentID)
	flp := find(t, res, "fake_login_page")
	assert.Equal(t, schemas.SourceSemantic, flp.Source)
	assert.Equal(t, "Semantically close to “webcam factory login”.", flp.Reason)
	assert.InDelta(t, 0.65, flp.Score, 1e-9)
}

func TestSuggest_SynergyPair(t *testing.T) {
	t.Parallel()
	idx := kb.BuildIndex([]kb.Entry{
		{ID: "password_reset_flow", Name: "Password Reset Flow", Scenarios: []string{"auth"}},
		{ID: "intercept_reset_email", Name: "Intercept Reset Email", Scenarios: []string{"auth"}},
	})
	sc := scenario.NewContext(&scenario.Scenario{ID: "auth"}, idx, similarity.DefaultThresholds())
	pair := DefaultSynergyPairs()[0]

	res := New(DefaultOptions(), nil, nil, nil).Suggest(context.Background(), Request{
		Tree:        tree("Password Reset Flow"),
		ParentLabel: "Password Reset Flow",
		Scenario:    sc,
	})

	require.NotEmpty(t, res.Top)
	assert.Equal(t, "intercept_reset_email", res.Top[0].ID)
	assert.Equal(t, pair.Text, res.Top[0].Reason)
	baseline := schemas.SeverityUnknown.Weight() + scenarioBonus
	assert.Greater(t, res.Top[0].Score, baseline)
}

func TestSynergyPair_Other(t *testing.T) {
	p := SynergyPair{A: "a", B: "b"}
	other, ok := p.Other("a")
	assert.True(t, ok)
	assert.Equal(t, "b", other)
	other, ok = p.Other("b")
	assert.True(t, ok)
	assert.Equal(t, "a", other)
	_, ok = p.Other("c")
	assert.False(t, ok)
}

func TestLess(t *testing.T) {
	in := []schemas.Suggestion{
		{Name: "beta", Score: 0.5},
		{Name: "Alpha", Score: 0.5},
		{Name: "gamma", Score: 0.9},
	}
	assert.Equal(t, []string{"gamma", "Alpha", "beta"}, names(rank(in)))
}

// -- Properties --

func TestSuggestNeverRepeatsTreeContent(t *testing.T) {
	idx := testIndex()
	sc := authContext(idx)
	engine := New(DefaultOptions(), nil, nil, nil)
	labels := []string{
		"Phishing Credentials", "fake login page", "Credential Stuffing", "password reset flow",
		"Intercept the reset email", "Bake Cookies", "bake_cookies", "walk the dog", "AND",
	}

	rapid.Check(t, func(t *rapid.T) {
		picked := rapid.SliceOfN(rapid.SampledFrom(labels), 0, 6).Draw(t, "labels")
		parent := rapid.SampledFrom(append(labels, "")).Draw(t, "parent")

		existing := map[string]bool{}
		for _, l := range picked {
			if id, ok := idx.ResolveID(l, sc.Thresholds().High); ok {
				existing[id] = true
			}
		}
		res := engine.Suggest(context.Background(), Request{Tree: tree(picked...), ParentLabel: parent, Scenario: sc})
		for _, s := range append(res.Top, res.More...) {
			if existing[s.ID] {
				t.Fatalf("suggested %q which is already in the tree %v", s.ID, picked)
			}
			if s.Score < DefaultOptions().MinScore {
				t.Fatalf("suggested %q below the minimum score", s.ID)
			}
		}
	})
}
