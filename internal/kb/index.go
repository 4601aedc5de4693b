package kb

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/internal/similarity"
	"github.com/xkilldash9x/arborist/internal/textnorm"
)

// Method records which lookup stage produced a Resolution.
type Method string

const (
	MethodNone  Method = ""
	MethodID    Method = "id"
	MethodCanon Method = "canon"
	MethodAlias Method = "alias"
	MethodFuzzy Method = "fuzzy"
)

// Resolution is the outcome of resolving a label. A failed resolution is the
// zero value, never an error.
type Resolution struct {
	ID      string  `json:"id,omitempty"`
	Entry   *Entry  `json:"-"`
	Score   float64 `json:"score"`
	Method  Method  `json:"method,omitempty"`
	Matched string  `json:"matched,omitempty"` // The name or alias that matched.
}

// OK reports whether any entry was found.
func (r Resolution) OK() bool { return r.Entry != nil }

// Exact reports whether the match came from an id or key lookup.
func (r Resolution) Exact() bool {
	return r.Method == MethodID || r.Method == MethodCanon || r.Method == MethodAlias
}

// Match is one ranked fuzzy candidate.
type Match struct {
	Entry   *Entry
	Score   float64
	Matched string
}

type keyTarget struct {
	id     string
	method Method
}

// Index is the immutable lookup structure over a loaded KB. It is built once
// per load and safe for concurrent readers.
type Index struct {
	entries []*Entry
	byID    map[string]*Entry
	keys    map[string]keyTarget
	scorer  similarity.Scorer
}

// BuildIndex indexes entries with the default similarity weights.
func BuildIndex(entries []Entry) *Index {
	return NewIndex(entries, similarity.NewScorer(similarity.DefaultWeights()), nil)
}

// NewIndex indexes entries. Entries without an id are skipped; on duplicate
// ids, and on name or alias keys that collide, the first registration wins.
// All names are registered before any alias so a name is never shadowed by
// another entry's alias.
func NewIndex(entries []Entry, scorer similarity.Scorer, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("KBIndex")

	idx := &Index{
		byID:   make(map[string]*Entry, len(entries)),
		keys:   make(map[string]keyTarget, len(entries)*2),
		scorer: similarity.NewScorer(scorer.Weights),
	}

	for i := range entries {
		e := entries[i]
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			log.Warn("Skipping KB entry without id", zap.String("name", e.Name))
			continue
		}
		if _, dup := idx.byID[e.ID]; dup {
			log.Warn("Duplicate KB id ignored", zap.String("id", e.ID))
			continue
		}
		if strings.TrimSpace(e.Name) == "" {
			e.Name = e.ID
		}
		stored := &e
		idx.byID[e.ID] = stored
		idx.entries = append(idx.entries, stored)
	}

	for _, e := range idx.entries {
		idx.register(e.Name, e.ID, MethodCanon)
	}
	for _, e := range idx.entries {
		for _, a := range e.Aliases {
			idx.register(a, e.ID, MethodAlias)
		}
	}

	log.Debug("KB index built", zap.Int("entries", len(idx.entries)), zap.Int("keys", len(idx.keys)))
	return idx
}

func (idx *Index) register(text, id string, method Method) {
	k := Key(text)
	if k == "" {
		return
	}
	if _, taken := idx.keys[k]; !taken {
		idx.keys[k] = keyTarget{id: id, method: method}
	}
}

// Key is the canonical lookup key of a label. Labels made only of stop words
// fall back to their plain normalized form so they remain addressable.
func Key(label string) string {
	if k := textnorm.Canonical(label); k != "" {
		return k
	}
	return textnorm.Normalize(label)
}

// Len is the number of indexed entries.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Entries returns the indexed entries in load order.
func (idx *Index) Entries() []*Entry {
	if idx == nil {
		return nil
	}
	return idx.entries
}

// Entry looks an entry up by exact id.
func (idx *Index) Entry(id string) (*Entry, bool) {
	if idx == nil {
		return nil, false
	}
	e, ok := idx.byID[id]
	return e, ok
}

// Scorer is the similarity function the index resolves with.
func (idx *Index) Scorer() similarity.Scorer {
	if idx == nil {
		return similarity.NewScorer(similarity.DefaultWeights())
	}
	return idx.scorer
}

// Lookup performs the exact stages only: id, then canonical/alias key.
func (idx *Index) Lookup(labelOrID string) Resolution {
	if idx == nil {
		return Resolution{}
	}
	trimmed := strings.TrimSpace(labelOrID)
	if trimmed == "" {
		return Resolution{}
	}
	if e, ok := idx.byID[trimmed]; ok {
		return Resolution{ID: e.ID, Entry: e, Score: 1, Method: MethodID, Matched: e.ID}
	}
	if t, ok := idx.keys[Key(trimmed)]; ok {
		e := idx.byID[t.id]
		return Resolution{ID: e.ID, Entry: e, Score: 1, Method: t.method, Matched: trimmed}
	}
	return Resolution{}
}

// Resolve maps a label or id to its best KB entry: exact id, then canonical or
// alias key, then the best fuzzy match over every name and alias. The fuzzy
// stage enforces no minimum; callers apply their own threshold.
func (idx *Index) Resolve(labelOrID string) Resolution {
	if r := idx.Lookup(labelOrID); r.OK() {
		return r
	}
	if idx == nil || textnorm.Normalize(labelOrID) == "" {
		return Resolution{}
	}
	best := Resolution{}
	for _, e := range idx.entries {
		score, matched := idx.bestScore(labelOrID, e)
		if score > best.Score {
			best = Resolution{ID: e.ID, Entry: e, Score: score, Method: MethodFuzzy, Matched: matched}
		}
	}
	return best
}

// ResolveID returns the resolved id when the match scores at least min. Exact
// lookups always pass.
func (idx *Index) ResolveID(label string, min float64) (string, bool) {
	r := idx.Resolve(label)
	if !r.OK() || r.Score < min {
		return "", false
	}
	return r.ID, true
}

// ChildrenOf resolves an entry's declared children. References may be ids or
// names; unknown references are dropped.
func (idx *Index) ChildrenOf(e *Entry) []*Entry {
	if e == nil {
		return nil
	}
	out := make([]*Entry, 0, len(e.Children))
	for _, ref := range e.Children {
		if r := idx.Lookup(string(ref)); r.OK() {
			out = append(out, r.Entry)
		}
	}
	return out
}

// TopK ranks entries by their best name/alias similarity to label. Ties break
// by name.
func (idx *Index) TopK(label string, k int) []Match {
	if idx == nil || k <= 0 || textnorm.Normalize(label) == "" {
		return nil
	}
	matches := make([]Match, 0, len(idx.entries))
	for _, e := range idx.entries {
		score, matched := idx.bestScore(label, e)
		if score > 0 {
			matches = append(matches, Match{Entry: e, Score: score, Matched: matched})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entry.DisplayName() < matches[j].Entry.DisplayName()
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func (idx *Index) bestScore(label string, e *Entry) (float64, string) {
	best, matched := idx.scorer.Similarity(label, e.Name), e.Name
	for _, a := range e.Aliases {
		if s := idx.scorer.Similarity(label, a); s > best {
			best, matched = s, a
		}
	}
	return best, matched
}
