package suggest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/kb"
	"github.com/xkilldash9x/arborist/internal/scenario"
	"github.com/xkilldash9x/arborist/internal/semantic"
)

// Score contributions.
const (
	parentBonus     = 0.25
	scenarioBonus   = 0.2
	parentScenario  = 0.2
	commonScenario  = 0.1
	semanticBonus   = 0.15
	semanticInScope = 0.1
	goldBonus       = 0.25
	synergyBonus    = 0.20
)

// Reason texts.
const (
	ReasonScenario = "Relevant to the chosen scenario."
	ReasonCommon   = "Common in many attack trees."
	ReasonMustHave = "Must-have path for this scenario."
)

// SynergyPair names two KB ids that motivate each other: when one is in the
// tree, the other is boosted and explained with Text.
type SynergyPair struct {
	A    string `mapstructure:"a" json:"a" yaml:"a"`
	B    string `mapstructure:"b" json:"b" yaml:"b"`
	Text string `mapstructure:"text" json:"text" yaml:"text"`
}

// Other returns the partner of id, if id belongs to the pair.
func (p SynergyPair) Other(id string) (string, bool) {
	switch id {
	case p.A:
		return p.B, true
	case p.B:
		return p.A, true
	}
	return "", false
}

// DefaultCommonIDs is the fallback pool of broadly applicable patterns.
func DefaultCommonIDs() []string {
	return []string{
		"credential_stuffing", "phishing_credentials", "password_spraying",
		"password_reset_flow", "intercept_reset_email",
		"use_stolen_account_saved_card", "use_leaked_card_details",
		"stack_discounts_referrals", "item_not_received_refund",
		"join_home_wifi", "access_local_interface_rtsp", "default_admin_password",
		"default_stream_key", "predictable_link_enumeration", "find_exposed_links_public",
		"use_shared_device_history", "phishing_for_link",
	}
}

// DefaultSynergyPairs returns the stock synergy table.
func DefaultSynergyPairs() []SynergyPair {
	return []SynergyPair{{
		A:    "password_reset_flow",
		B:    "intercept_reset_email",
		Text: "Password reset typically requires BOTH requesting a reset AND accessing the reset email.",
	}}
}

// Options tunes the engine.
type Options struct {
	MinScore  float64
	TopK      int
	MoreK     int
	CommonIDs []string
	Synergy   []SynergyPair
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		MinScore:  0.35,
		TopK:      3,
		MoreK:     7,
		CommonIDs: DefaultCommonIDs(),
		Synergy:   DefaultSynergyPairs(),
	}
}

// Booster merges externally curated suggestions into a ranking. It returns the
// merged list sorted best first.
type Booster interface {
	Merge(ranked []schemas.Suggestion, scenarioID, parentLabel string) []schemas.Suggestion
}

// Request is one suggest query.
type Request struct {
	Tree        schemas.Tree
	ParentLabel string
	Scenario    *scenario.Context
	// TopK and MoreK override the configured list sizes when positive.
	TopK  int
	MoreK int
}

// Engine ranks candidate nodes to add under a selected parent.
type Engine struct {
	opts    Options
	advisor *semantic.Advisor
	booster Booster
	logger  *zap.Logger
}

// New creates an Engine. The advisor and booster are optional.
func New(opts Options, advisor *semantic.Advisor, booster Booster, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MoreK < 0 {
		opts.MoreK = def.MoreK
	}
	return &Engine{opts: opts, advisor: advisor, booster: booster, logger: logger.Named("Suggest")}
}

type query struct {
	req        Request
	idx        *kb.Index
	sc         *scenario.Context
	existing   map[string]struct{}
	treeLabels []string
}

// Suggest computes a fresh ranking. It never mutates the tree.
func (e *Engine) Suggest(ctx context.Context, req Request) schemas.SuggestResult {
	start := time.Now()
	sc := req.Scenario
	q := &query{req: req, idx: sc.Index(), sc: sc, existing: make(map[string]struct{})}
	high := sc.Thresholds().High

	for _, n := range req.Tree.Nodes {
		if n.IsGate() || strings.TrimSpace(n.Label) == "" {
			continue
		}
		q.treeLabels = append(q.treeLabels, n.Label)
		if id, ok := q.idx.ResolveID(n.Label, high); ok {
			q.existing[id] = struct{}{}
		}
	}

	res := schemas.SuggestResult{
		Top:         []schemas.Suggestion{},
		More:        []schemas.Suggestion{},
		ParentLabel: req.ParentLabel,
	}

	var pools []schemas.Suggestion
	parentLabel := strings.TrimSpace(req.ParentLabel)
	if parentLabel != "" {
		if id, ok := q.idx.ResolveID(parentLabel, high); ok {
			res.ParentID = id
			pools = append(pools, e.parentPool(q, id)...)
		} else {
			pools = append(pools, e.semanticPool(ctx, q)...)
		}
	}
	pools = append(pools, e.scenarioPool(q)...)
	pools = append(pools, e.commonPool(q)...)

	ranked := e.filter(q, rank(mergeByID(pools)))
	kept := ranked[:0]
	for _, s := range ranked {
		if s.Score >= e.opts.MinScore {
			kept = append(kept, s)
		}
	}
	ranked = kept

	if e.booster != nil {
		ranked = e.filter(q, e.booster.Merge(ranked, sc.ID(), parentLabel))
	}

	topK, moreK := e.opts.TopK, e.opts.MoreK
	if req.TopK > 0 {
		topK = req.TopK
	}
	if req.MoreK > 0 {
		moreK = req.MoreK
	}
	topEnd := min(topK, len(ranked))
	moreEnd := min(topK+moreK, len(ranked))
	res.Top = append(res.Top, ranked[:topEnd]...)
	res.More = append(res.More, ranked[topEnd:moreEnd]...)

	e.logger.Debug("Suggestions computed",
		zap.String("parent", parentLabel),
		zap.Int("candidates", len(pools)),
		zap.Int("ranked", len(ranked)),
		zap.Duration("took", time.Since(start)))
	return res
}

func (e *Engine) parentPool(q *query, parentID string) []schemas.Suggestion {
	parent, _ := q.idx.Entry(parentID)
	var out []schemas.Suggestion
	for _, child := range q.idx.ChildrenOf(parent) {
		score := child.Level().Weight() + parentBonus
		if q.sc.InScope(child) {
			score += parentScenario
		}
		reason := fmt.Sprintf("Typical child of “%s”.", strings.TrimSpace(q.req.ParentLabel))
		out = append(out, e.candidate(q, child, schemas.SourceParent, reason, score))
	}
	return out
}

func (e *Engine) scenarioPool(q *query) []schemas.Suggestion {
	var out []schemas.Suggestion
	for _, entry := range q.idx.Entries() {
		if !q.sc.InScope(entry) {
			continue
		}
		score := entry.Level().Weight() + scenarioBonus
		out = append(out, e.candidate(q, entry, schemas.SourceScenario, ReasonScenario, score))
	}
	return out
}

func (e *Engine) commonPool(q *query) []schemas.Suggestion {
	var out []schemas.Suggestion
	for _, id := range e.opts.CommonIDs {
		entry, ok := q.idx.Entry(id)
		if !ok {
			continue
		}
		score := entry.Level().Weight()
		if q.sc.InScope(entry) {
			score += commonScenario
		}
		out = append(out, e.candidate(q, entry, schemas.SourceCommon, ReasonCommon, score))
	}
	return out
}

// semanticPool offers the nearest KB entries to an unrecognised parent label.
func (e *Engine) semanticPool(ctx context.Context, q *query) []schemas.Suggestion {
	matches, ok := e.advisor.Nearest(ctx, semantic.ChannelSuggest, q.req.ParentLabel, 0)
	if !ok {
		return nil
	}
	var out []schemas.Suggestion
	for _, m := range matches {
		entry, found := q.idx.Entry(m.ID)
		if !found {
			continue
		}
		score := entry.Level().Weight() + semanticBonus
		if q.sc.InScope(entry) {
			score += semanticInScope
		}
		reason := fmt.Sprintf("Semantically close to “%s”.", strings.TrimSpace(q.req.ParentLabel))
		out = append(out, e.candidate(q, entry, schemas.SourceSemantic, reason, score))
	}
	return out
}

// candidate applies the gold boost and then pairwise synergy, which overrides
// the reason but keeps the badge.
func (e *Engine) candidate(q *query, entry *kb.Entry, src schemas.SuggestionSource, reason string, score float64) schemas.Suggestion {
	s := schemas.Suggestion{ID: entry.ID, Name: entry.DisplayName(), Source: src, Reason: reason}
	if q.sc.IsGoldID(entry.ID) {
		score += goldBonus
		s.Reason = ReasonMustHave
		s.Badge = schemas.BadgeMustHave
	}
	for _, pair := range e.opts.Synergy {
		other, ok := pair.Other(entry.ID)
		if !ok {
			continue
		}
		if _, present := q.existing[other]; present {
			score += synergyBonus
			s.Reason = pair.Text
			break
		}
	}
	s.Score = score
	return s
}

// filter drops candidates already present in the tree, by resolved id or by a
// name that reads as the same concept as an existing label.
func (e *Engine) filter(q *query, in []schemas.Suggestion) []schemas.Suggestion {
	high := q.sc.Thresholds().High
	scorer := q.idx.Scorer()
	out := make([]schemas.Suggestion, 0, len(in))
next:
	for _, s := range in {
		if _, present := q.existing[s.ID]; present {
			continue
		}
		for _, label := range q.treeLabels {
			if scorer.Similarity(s.Name, label) >= high {
				continue next
			}
		}
		out = append(out, s)
	}
	return out
}

// mergeByID keeps the best-scoring variant of each id. On equal scores the
// first variant wins, so parent beats scenario beats common.
func mergeByID(in []schemas.Suggestion) []schemas.Suggestion {
	best := make(map[string]int, len(in))
	var out []schemas.Suggestion
	for _, s := range in {
		if i, seen := best[s.ID]; seen {
			if s.Score > out[i].Score {
				out[i] = s
			}
			continue
		}
		best[s.ID] = len(out)
		out = append(out, s)
	}
	return out
}

// rank sorts by descending score, then alphabetically by name.
func rank(in []schemas.Suggestion) []schemas.Suggestion {
	sort.SliceStable(in, func(i, j int) bool {
		return Less(in[i], in[j])
	})
	return in
}

// Less orders suggestions best first: higher score, then name ignoring case.
func Less(a, b schemas.Suggestion) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if la != lb {
		return la < lb
	}
	return a.Name < b.Name
}
