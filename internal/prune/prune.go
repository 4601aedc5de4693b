package prune

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/kb"
	"github.com/xkilldash9x/arborist/internal/scenario"
	"github.com/xkilldash9x/arborist/internal/semantic"
	"github.com/xkilldash9x/arborist/internal/textnorm"
)

// Flag scores. Lower is more severe.
const (
	ScoreEmptyGate     = 0.10
	ScoreDuplicate     = 0.15
	ScoreIrrelevant    = 0.15
	ScoreUnaryGate     = 0.20
	ScoreSemanticDup   = 0.20
	ScoreAndMisuse     = 0.25
	ScoreOrphan        = 0.30
	ScoreLowValue      = 0.35
	ScoreVague         = 0.45
	lowRelevanceCutoff = 0.45
	minFlagScore       = 0.05
)

// DefaultMaxVisible caps the flag list when the caller does not.
const DefaultMaxVisible = 3

// DefaultDomainVocabulary lists words that mark a label as security related.
func DefaultDomainVocabulary() []string {
	return []string{
		"password", "credential", "login", "token", "session", "injection", "privilege",
		"access", "api", "payment", "wifi", "camera", "default", "admin", "bucket", "key",
		"cookie", "otp", "code", "email", "reset", "phish", "card", "refund", "coupon",
		"discount", "link", "stream", "rtsp", "router", "network", "account", "mfa", "sms",
		"malware", "spoof", "steal", "stolen", "leak", "brute", "guess", "intercept",
	}
}

// DefaultGenericWords lists words that say nothing concrete on their own.
func DefaultGenericWords() []string {
	return []string{"thing", "stuff", "misc", "todo", "attack", "hack", "bypass", "step", "task", "other", "something"}
}

// DefaultAlternativeCategories groups KB ids that are independent routes to
// the same outcome. Two of them under one AND gate are usually alternatives.
func DefaultAlternativeCategories() map[string][]string {
	return map[string][]string{
		"credential_acquisition": {
			"phishing_credentials", "credential_stuffing", "password_spraying", "use_shared_device_history",
		},
		"payment_fraud": {
			"use_stolen_account_saved_card", "use_leaked_card_details", "stack_discounts_referrals",
			"item_not_received_refund",
		},
		"stream_access": {"default_admin_password", "default_stream_key", "access_local_interface_rtsp"},
		"link_discovery": {"predictable_link_enumeration", "find_exposed_links_public", "phishing_for_link"},
	}
}

// Options tunes the engine.
type Options struct {
	MaxVisible            int
	DomainVocabulary      []string
	GenericWords          []string
	AlternativeCategories map[string][]string
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		MaxVisible:            DefaultMaxVisible,
		DomainVocabulary:      DefaultDomainVocabulary(),
		GenericWords:          DefaultGenericWords(),
		AlternativeCategories: DefaultAlternativeCategories(),
	}
}

// KeptSet holds labels the user chose to keep. A kept label is never flagged
// again for the rest of the session. Labels compare trimmed and case-folded.
type KeptSet struct {
	mu     sync.RWMutex
	labels map[string]struct{}
}

// NewKeptSet returns a set seeded with labels.
func NewKeptSet(labels ...string) *KeptSet {
	k := &KeptSet{labels: make(map[string]struct{})}
	for _, l := range labels {
		k.Keep(l)
	}
	return k
}

func keptKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Keep adds label to the set. Blank labels are ignored.
func (k *KeptSet) Keep(label string) {
	key := keptKey(label)
	if key == "" {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.labels == nil {
		k.labels = make(map[string]struct{})
	}
	k.labels[key] = struct{}{}
}

// IsKept reports whether label was kept. A nil set keeps nothing.
func (k *KeptSet) IsKept(label string) bool {
	if k == nil {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.labels[keptKey(label)]
	return ok
}

// Labels returns the kept labels, sorted.
func (k *KeptSet) Labels() []string {
	if k == nil {
		return nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.labels))
	for l := range k.labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Reset forgets every kept label.
func (k *KeptSet) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.labels = make(map[string]struct{})
}

// Request is one prune query.
type Request struct {
	Tree     schemas.Tree
	Scenario *scenario.Context
	// MaxVisible overrides the configured cap when positive.
	MaxVisible int
	Kept       *KeptSet
}

// Engine reviews a tree for structural and content defects.
type Engine struct {
	opts       Options
	vocabulary map[string]struct{}
	generic    map[string]struct{}
	category   map[string]string
	advisor    *semantic.Advisor
	logger     *zap.Logger
}

// New creates an Engine. The advisor is optional.
func New(opts Options, advisor *semantic.Advisor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxVisible <= 0 {
		opts.MaxVisible = DefaultMaxVisible
	}
	e := &Engine{
		opts:       opts,
		vocabulary: stemSet(opts.DomainVocabulary),
		generic:    stemSet(opts.GenericWords),
		category:   make(map[string]string),
		advisor:    advisor,
		logger:     logger.Named("Prune"),
	}
	cats := make([]string, 0, len(opts.AlternativeCategories))
	for c := range opts.AlternativeCategories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		for _, id := range opts.AlternativeCategories[c] {
			if _, taken := e.category[id]; !taken {
				e.category[id] = c
			}
		}
	}
	return e
}

// stemSet indexes words by their stem and by the stem of their plural, so
// "cookie" also catches "cookies".
func stemSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, 2*len(words))
	for _, w := range words {
		w = textnorm.Normalize(w)
		if w == "" {
			continue
		}
		out[textnorm.Stem(w)] = struct{}{}
		out[textnorm.Stem(w+"s")] = struct{}{}
	}
	return out
}

type review struct {
	sc    *scenario.Context
	idx   *kb.Index
	top   *schemas.Topology
	flags map[string]schemas.PruneFlag
	order map[string]int
}

func (r *review) flag(n schemas.Node, reason string, score float64) {
	if cur, ok := r.flags[n.ID]; ok && cur.Score <= score {
		return
	}
	r.flags[n.ID] = schemas.PruneFlag{ElementID: n.ID, Label: displayLabel(n), Reason: reason, Score: score}
}

func displayLabel(n schemas.Node) string {
	if n.IsGate() && strings.TrimSpace(n.Label) == "" {
		return string(n.Gate)
	}
	return n.Label
}

// Prune returns at most MaxVisible flags, most severe first, one per node.
// Goal and must-have nodes are never flagged, nor are labels in Kept.
func (e *Engine) Prune(ctx context.Context, req Request) []schemas.PruneFlag {
	start := time.Now()
	r := &review{
		sc:    req.Scenario,
		idx:   req.Scenario.Index(),
		top:   req.Tree.Topology(),
		flags: make(map[string]schemas.PruneFlag),
		order: make(map[string]int, len(req.Tree.Nodes)),
	}
	for i, n := range req.Tree.Nodes {
		if _, dup := r.order[n.ID]; !dup {
			r.order[n.ID] = i
		}
	}

	e.structural(r, req.Tree.Nodes)
	e.content(ctx, r, req.Tree.Nodes)

	out := make([]schemas.PruneFlag, 0, len(r.flags))
	for _, f := range r.flags {
		if req.Kept.IsKept(f.Label) {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return r.order[out[i].ElementID] < r.order[out[j].ElementID]
	})

	limit := e.opts.MaxVisible
	if req.MaxVisible > 0 {
		limit = req.MaxVisible
	}
	if len(out) > limit {
		out = out[:limit]
	}

	e.logger.Debug("Prune computed",
		zap.Int("nodes", len(req.Tree.Nodes)),
		zap.Int("flags", len(r.flags)),
		zap.Int("shown", len(out)),
		zap.Duration("took", time.Since(start)))
	return out
}

func (e *Engine) protected(r *review, n schemas.Node) bool {
	return r.sc.IsGoal(n.Label) || r.sc.IsGoldLabel(n.Label)
}

// -- Structural Pass --

func (e *Engine) structural(r *review, nodes []schemas.Node) {
	for _, n := range nodes {
		if n.IsGate() {
			e.gate(r, n)
			continue
		}
		if strings.TrimSpace(n.Label) == "" || e.protected(r, n) {
			continue
		}
		if r.top.Degree(n.ID) == 0 {
			r.flag(n, "Unlinked node: connect it to the tree or remove it.", ScoreOrphan)
		}
	}
}

func (e *Engine) gate(r *review, n schemas.Node) {
	children := r.top.Children(n.ID)
	switch len(children) {
	case 0:
		r.flag(n, fmt.Sprintf("%s gate has no children (incomplete structure).", n.Gate), ScoreEmptyGate)
		return
	case 1:
		r.flag(n, fmt.Sprintf("%s gate has only one child: remove the gate or add a sibling.", n.Gate), ScoreUnaryGate)
		return
	}
	if !strings.EqualFold(string(n.Gate), string(schemas.GateAND)) {
		return
	}
	members := make(map[string]map[string]struct{})
	for _, c := range children {
		if c.IsGate() {
			continue
		}
		id, ok := r.idx.ResolveID(c.Label, r.sc.Thresholds().High)
		if !ok {
			continue
		}
		cat, ok := e.category[id]
		if !ok {
			continue
		}
		if members[cat] == nil {
			members[cat] = make(map[string]struct{})
		}
		members[cat][id] = struct{}{}
	}
	cats := make([]string, 0, len(members))
	for cat, ids := range members {
		if len(ids) >= 2 {
			cats = append(cats, cat)
		}
	}
	if len(cats) == 0 {
		return
	}
	sort.Strings(cats)
	r.flag(n, fmt.Sprintf("AND groups alternatives (%s) that usually belong under OR.",
		strings.ReplaceAll(cats[0], "_", " ")), ScoreAndMisuse)
}

// -- Content Pass --

type seenLabel struct {
	label string
	id    string
}

func (e *Engine) content(ctx context.Context, r *review, nodes []schemas.Node) {
	th := r.sc.Thresholds()
	scorer := r.idx.Scorer()
	var seen []seenLabel
	nearestSeen := make(map[string]string)

	// One deadline covers every oracle query of this review.
	semanticLive := e.advisor.Enabled()
	semCtx, cancel := context.WithTimeout(ctx, e.advisor.Timeout())
	defer cancel()

	for _, n := range nodes {
		label := strings.TrimSpace(n.Label)
		if n.IsGate() || label == "" {
			continue
		}
		id, _ := r.idx.ResolveID(label, th.High)
		protected := e.protected(r, n)

		var earlier string
		for _, s := range seen {
			if (id != "" && s.id == id) || scorer.Similarity(label, s.label) >= th.High {
				earlier = s.label
				break
			}
		}
		seen = append(seen, seenLabel{label: label, id: id})
		if protected {
			continue
		}
		if earlier != "" {
			r.flag(n, fmt.Sprintf("Looks like a duplicate of “%s”.", earlier), ScoreDuplicate)
			continue
		}

		res := r.idx.Resolve(label)
		var entry *kb.Entry
		if res.OK() && res.Score >= th.Med {
			entry = res.Entry
		}
		if entry != nil && r.sc.InScope(entry) {
			if lvl := entry.Level(); lvl == schemas.SeverityHigh || lvl == schemas.SeverityMedium {
				continue
			}
		}

		if phrase, ok := r.sc.LowValueMatch(label); ok {
			r.flag(n, fmt.Sprintf("Distractor for this scenario (matches “%s”).", phrase), ScoreLowValue)
		}
		if entry == nil {
			if !e.mentionsDomain(label) {
				r.flag(n, "Doesn't look related to the objective.", ScoreIrrelevant)
			}
			if semanticLive {
				earlier, ok := e.semanticDuplicate(semCtx, label, nearestSeen)
				if !ok {
					semanticLive = false
					e.logger.Debug("Oracle unavailable; skipping semantic duplicates for this review.")
				}
				if earlier != "" {
					r.flag(n, fmt.Sprintf("Means the same as “%s”.", earlier), ScoreSemanticDup)
				}
			}
		} else if keep := relevance(entry, r.sc); keep < lowRelevanceCutoff {
			r.flag(n, fmt.Sprintf("Low value here given the current scenario and severity (%s).", entry.Level()),
				max(keep, minFlagScore))
		}
		if e.vague(label) {
			r.flag(n, "Too generic: rename it to a concrete step.", ScoreVague)
		}
	}
}

// relevance is severity weight nudged up for in-scope entries and down for
// out-of-scope ones.
func relevance(entry *kb.Entry, sc *scenario.Context) float64 {
	keep := entry.Level().Weight() - 0.15
	if sc.InScope(entry) {
		keep += 0.3
	}
	return math.Round(keep*1e9) / 1e9
}

func (e *Engine) mentionsDomain(label string) bool {
	for _, w := range strings.Fields(textnorm.Normalize(label)) {
		if _, ok := e.vocabulary[textnorm.Stem(w)]; ok {
			return true
		}
	}
	return false
}

func (e *Engine) vague(label string) bool {
	tokens := textnorm.Tokenize(label)
	if len(tokens) < 2 {
		return true
	}
	for _, t := range tokens {
		if _, ok := e.generic[t]; !ok {
			return false
		}
	}
	return true
}

// semanticDuplicate reports an earlier unrecognised label whose nearest KB
// entry is the same as label's. The bool is false when the oracle gave no
// answer (not ready, timed out, failed or stale).
func (e *Engine) semanticDuplicate(ctx context.Context, label string, nearestSeen map[string]string) (string, bool) {
	matches, ok := e.advisor.Nearest(ctx, semantic.ChannelPrune, label, 1)
	if !ok {
		return "", false
	}
	if len(matches) == 0 {
		return "", true
	}
	nearest := matches[0].ID
	if earlier, dup := nearestSeen[nearest]; dup {
		return earlier, true
	}
	nearestSeen[nearest] = label
	return "", true
}
