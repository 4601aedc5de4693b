package explain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/kb"
	"github.com/xkilldash9x/arborist/internal/scenario"
	"github.com/xkilldash9x/arborist/internal/semantic"
	"github.com/xkilldash9x/arborist/internal/similarity"
)

type fixedOracle struct{ matches []semantic.Match }

func (f fixedOracle) Ready(context.Context) bool { return true }
func (f fixedOracle) TopK(context.Context, string, int) ([]semantic.Match, error) {
	return f.matches, nil
}

func testContext() *scenario.Context {
	idx := kb.BuildIndex([]kb.Entry{
		{
			ID:          "intercept_reset_email",
			Name:        "Intercept Reset Email",
			Severity:    "high",
			Description: "Read the password reset email before the owner does.",
			Why:         "Completes the reset flow.",
		},
		{ID: "default_admin_password", Name: "Default Admin Password", Severity: "medium"},
	})
	s := &scenario.Scenario{ID: "auth", Goal: "Take over the account", Brief: "Get into the victim's account."}
	return scenario.NewContext(s, idx, similarity.DefaultThresholds())
}

func TestExplain(t *testing.T) {
	t.Parallel()
	sc := testContext()
	engine := New(nil, 0, nil)
	ctx := context.Background()

	t.Run("should describe the scenario goal", func(t *testing.T) {
		got := engine.Explain(ctx, "  take over the ACCOUNT ", sc)
		assert.Equal(t, schemas.Explanation{
			Title:    "Goal: Take over the account",
			Severity: schemas.SeverityInfo,
			Summary:  "Get into the victim's account.",
			Why:      "Root objective",
		}, got)
	})

	t.Run("should explain an exact match from the KB", func(t *testing.T) {
		got := engine.Explain(ctx, "intercept the reset email", sc)
		assert.Equal(t, "Intercept Reset Email", got.Title)
		assert.Equal(t, schemas.SeverityHigh, got.Severity)
		assert.Equal(t, "Read the password reset email before the owner does.", got.Summary)
		assert.Equal(t, "Completes the reset flow.", got.Why)
		assert.Empty(t, got.Closest)
	})

	t.Run("should add a hint on a fuzzy match", func(t *testing.T) {
		got := engine.Explain(ctx, "Intercept Reset Emails now", sc)
		assert.Equal(t, "Intercept Reset Email", got.Title)
		assert.Contains(t, got.Summary, "(closest match: Intercept Reset Email)")
	})

	t.Run("should fall back for entries without narrative", func(t *testing.T) {
		got := engine.Explain(ctx, "default_admin_password", sc)
		assert.Equal(t, schemas.SeverityMedium, got.Severity)
		assert.Equal(t, "This item appears in the KB but lacks a narrative.", got.Summary)
	})

	t.Run("should return unknown with lexical hints when nothing resolves", func(t *testing.T) {
		got := engine.Explain(ctx, "reset mailbox", sc)
		assert.Equal(t, "reset mailbox", got.Title)
		assert.Equal(t, schemas.SeverityUnknown, got.Severity)
		assert.Equal(t, NoExplanation, got.Summary)
		assert.Empty(t, got.Why)
		require.NotEmpty(t, got.Closest)
		assert.Equal(t, "intercept_reset_email", got.Closest[0].ID)
		assert.Less(t, got.Closest[0].Similarity, 72)
	})

	t.Run("should use a dash title for blank labels", func(t *testing.T) {
		got := engine.Explain(ctx, "   ", sc)
		assert.Equal(t, "—", got.Title)
		assert.Equal(t, NoExplanation, got.Summary)
		assert.Nil(t, got.Closest)
	})
}

func TestExplain_SemanticClosest(t *testing.T) {
	t.Parallel()
	sc := testContext()
	advisor := semantic.NewAdvisor(fixedOracle{matches: []semantic.Match{
		{ID: "default_admin_password", Score: 0.814},
		{ID: "ghost", Score: 0.9},
	}}, semantic.AdvisorConfig{}, nil)

	got := New(advisor, 3, nil).Explain(context.Background(), "factory login for the webcam", sc)
	assert.Equal(t, schemas.SeverityUnknown, got.Severity)
	assert.Equal(t, []schemas.ClosestMatch{
		{ID: "default_admin_password", Name: "Default Admin Password", Similarity: 81},
	}, got.Closest, "unknown ids are skipped and scores shown as percentages")
}
