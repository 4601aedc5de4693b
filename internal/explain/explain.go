package explain

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/scenario"
	"github.com/xkilldash9x/arborist/internal/semantic"
)

// Fixed explanation texts.
const (
	NoExplanation = "No explanation available."
	GoalWhy       = "Root objective"
	GoalPrefix    = "Goal: "
	untitled      = "—"
)

// DefaultClosestK is how many "closest known technique" hints are attached
// to an unresolved label.
const DefaultClosestK = 3

// Engine produces plain-language explanations for node labels.
type Engine struct {
	advisor  *semantic.Advisor
	closestK int
	logger   *zap.Logger
}

// New creates an Engine. The advisor is optional.
func New(advisor *semantic.Advisor, closestK int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if closestK <= 0 {
		closestK = DefaultClosestK
	}
	return &Engine{advisor: advisor, closestK: closestK, logger: logger.Named("Explain")}
}

// Explain always returns an explanation. The scenario goal is described as the
// root objective. A label resolving at T_MED or better is explained from its
// KB entry; a fuzzy resolution adds a hint naming the matched entry. Anything
// else is "unknown", with the closest KB entries attached as hints: semantic
// neighbours when the oracle answers in time, lexical ones otherwise.
func (e *Engine) Explain(ctx context.Context, label string, sc *scenario.Context) schemas.Explanation {
	start := time.Now()
	defer func() {
		e.logger.Debug("Explain computed", zap.String("label", label), zap.Duration("took", time.Since(start)))
	}()

	if sc.IsGoal(label) {
		return schemas.Explanation{
			Title:    GoalPrefix + sc.Goal(),
			Severity: schemas.SeverityInfo,
			Summary:  sc.Scenario().GoalSummary(),
			Why:      GoalWhy,
		}
	}

	idx := sc.Index()
	r := idx.Resolve(label)
	if r.OK() && r.Score >= sc.Thresholds().Med {
		entry := r.Entry
		summary := entry.Narrative()
		if !r.Exact() {
			summary = fmt.Sprintf("%s (closest match: %s)", summary, entry.DisplayName())
		}
		return schemas.Explanation{
			Title:    entry.DisplayName(),
			Severity: entry.Level(),
			Summary:  summary,
			Why:      strings.TrimSpace(entry.Why),
		}
	}

	title := strings.TrimSpace(label)
	if title == "" {
		title = untitled
	}
	out := schemas.Explanation{
		Title:    title,
		Severity: schemas.SeverityUnknown,
		Summary:  NoExplanation,
	}
	if title == untitled {
		return out
	}
	out.Closest = e.closest(ctx, label, sc)
	return out
}

func (e *Engine) closest(ctx context.Context, label string, sc *scenario.Context) []schemas.ClosestMatch {
	idx := sc.Index()
	if matches, ok := e.advisor.Nearest(ctx, semantic.ChannelExplain, label, e.closestK); ok {
		out := make([]schemas.ClosestMatch, 0, len(matches))
		for _, m := range matches {
			entry, found := idx.Entry(m.ID)
			if !found {
				continue
			}
			out = append(out, schemas.ClosestMatch{ID: entry.ID, Name: entry.DisplayName(), Similarity: percent(m.Score)})
		}
		if len(out) > 0 {
			return out
		}
	}

	var out []schemas.ClosestMatch
	for _, m := range idx.TopK(label, e.closestK) {
		out = append(out, schemas.ClosestMatch{ID: m.Entry.ID, Name: m.Entry.DisplayName(), Similarity: percent(m.Score)})
	}
	return out
}

func percent(score float64) int {
	return int(math.Round(max(0, min(1, score)) * 100))
}
