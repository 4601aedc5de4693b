package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/arborist/internal/kb"
	"github.com/xkilldash9x/arborist/internal/similarity"
)

const authJSON = `{
  "goal": "Take over the victim's account",
  "goal_explain": "Get into someone else's account.",
  "gold_must_have": ["Password Reset Flow", "Intercept Reset Email", "Session hijack"],
  "gold_low_value": ["Brute force the CAPTCHA"],
  "gold_nice_to_have": ["Phishing Credentials"],
  "aliases": {
    "Intercept Reset Email": ["read the reset mail", "grab reset link"],
    "steal session cookie": "Session hijack"
  }
}`

func testIndex() *kb.Index {
	return kb.BuildIndex([]kb.Entry{
		{ID: "password_reset_flow", Name: "Password Reset Flow", Scenarios: []string{"auth"}},
		{ID: "intercept_reset_email", Name: "Intercept Reset Email", Scenarios: []string{"auth"}},
		{ID: "phishing_credentials", Name: "Phishing Credentials", Scenarios: []string{"auth", "shop"}},
		{ID: "captcha_bruteforce", Name: "Brute force the CAPTCHA"},
		{ID: "cookie_theft", Name: "Steal Session Cookie", Scenarios: []string{"auth"}},
	})
}

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("should accept both alias shapes in json", func(t *testing.T) {
		s, err := Decode([]byte(authJSON), kb.FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, 3, s.Aliases.Len())

		canon, ok := s.Aliases.Canonical("Steal session-cookie")
		require.True(t, ok)
		assert.Equal(t, "Session hijack", canon)
		assert.Equal(t, []string{"intercept reset email", "read the reset mail", "grab reset link"},
			s.Aliases.Expand("intercept reset email"))
	})

	t.Run("should accept both alias shapes in yaml", func(t *testing.T) {
		doc := "goal: Steal money\naliases:\n  refund scam: Item not received\n  Stack discounts:\n    - coupon stacking\n"
		s, err := Decode([]byte(doc), kb.FormatYAML)
		require.NoError(t, err)
		assert.Equal(t, "Steal money", s.Goal)
		assert.Equal(t, []string{"stack discounts", "coupon stacking"}, s.Aliases.Expand("stack discounts"))
		canon, ok := s.Aliases.Canonical("refund scam")
		require.True(t, ok)
		assert.Equal(t, "Item not received", canon)
	})

	t.Run("should reject non string aliases", func(t *testing.T) {
		_, err := Decode([]byte(`{"aliases":{"a":[1,2]}}`), kb.FormatJSON)
		assert.Error(t, err)
		_, err = Decode([]byte(`{"aliases":{"a":3}}`), kb.FormatJSON)
		assert.Error(t, err)
	})
}

func TestGoalSummary(t *testing.T) {
	t.Parallel()
	var nilScenario *Scenario
	assert.Equal(t, defaultGoalSummary, nilScenario.GoalSummary())
	assert.Equal(t, "brief text", (&Scenario{Brief: "brief text"}).GoalSummary())
	assert.Equal(t, "explained", (&Scenario{GoalExplain: "explained", Brief: "b"}).GoalSummary())
}

func TestLoadDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth.json"), []byte(authJSON), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.yaml"), []byte("id: webshop\ngoal: Get free goods\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	got, err := LoadDir(dir)
	require.Error(t, err, "broken files are reported")
	assert.Contains(t, err.Error(), "broken.json")
	require.Len(t, got, 2, "valid files still load")
	assert.Equal(t, "auth", got["auth"].ID, "id defaults to the file name")
	assert.Equal(t, "Get free goods", got["webshop"].Goal)
}

func TestAliasTable(t *testing.T) {
	t.Parallel()

	table := NewAliasTable(map[string]string{"grab link": "Find exposed links", "dup": "x"})
	table.Add("grab link", "Something else")
	canon, _ := table.Canonical("GRAB LINK")
	assert.Equal(t, "Find exposed links", canon, "the first canonical wins")
	assert.Equal(t, []string{"unrelated"}, table.Expand("unrelated"))

	var merged AliasTable
	merged.Merge(table)
	assert.Equal(t, table.Pairs(), merged.Pairs())
}

func TestContext(t *testing.T) {
	t.Parallel()

	s, err := Decode([]byte(authJSON), kb.FormatJSON)
	require.NoError(t, err)
	s.ID = "auth"
	ctx := NewContext(s, testIndex(), similarity.DefaultThresholds())

	t.Run("should resolve gold ids through aliases", func(t *testing.T) {
		assert.Equal(t, []string{"cookie_theft", "intercept_reset_email", "password_reset_flow"}, ctx.GoldIDs())
	})

	t.Run("should match the goal ignoring case and space", func(t *testing.T) {
		assert.True(t, ctx.IsGoal("  take over the VICTIM's account "))
		assert.False(t, ctx.IsGoal("take over"))
		assert.False(t, NewContext(nil, nil, similarity.Thresholds{}).IsGoal(""))
	})

	t.Run("should recognise gold labels", func(t *testing.T) {
		assert.True(t, ctx.IsGoldLabel("password reset flow"))
		assert.True(t, ctx.IsGoldLabel("steal the session cookies"))
		assert.False(t, ctx.IsGoldLabel("Phishing Credentials"))
	})

	t.Run("should match low value items", func(t *testing.T) {
		phrase, ok := ctx.LowValueMatch("brute-force the captcha")
		require.True(t, ok)
		assert.Equal(t, "Brute force the CAPTCHA", phrase)
		_, ok = ctx.LowValueMatch("Intercept Reset Email")
		assert.False(t, ok)
	})

	t.Run("should scope entries by scenario id", func(t *testing.T) {
		e, _ := testIndex().Entry("captcha_bruteforce")
		assert.False(t, ctx.InScope(e))
		assert.True(t, NewContext(Generic(kb.SandboxScenario), testIndex(), similarity.Thresholds{}).InScope(e))
	})

	t.Run("should copy on modification", func(t *testing.T) {
		other := ctx.WithGoal("Steal money")
		assert.True(t, other.IsGoal("steal money"))
		assert.True(t, ctx.IsGoal("Take over the victim's account"), "the original is untouched")

		extended := NewContext(&Scenario{ID: "auth", GoldMustHave: []string{"phish"}}, testIndex(), similarity.DefaultThresholds())
		assert.Empty(t, extended.GoldIDs())
		extended = extended.WithAliases(map[string]string{"Phishing Credentials": "phish"})
		assert.Equal(t, []string{"phishing_credentials"}, extended.GoldIDs())
	})
}
