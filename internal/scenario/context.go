package scenario

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/arborist/internal/kb"
	"github.com/xkilldash9x/arborist/internal/similarity"
)

// Context is the active scenario resolved against a KB index. Engines receive
// it as an explicit argument; it is never read from package state. A Context
// is immutable once built, so the With* methods return modified copies.
type Context struct {
	scenario   *Scenario
	index      *kb.Index
	thresholds similarity.Thresholds
	scorer     similarity.Scorer

	id       string
	goal     string
	aliases  AliasTable
	goldIDs  map[string]struct{}
	lowIDs   map[string]struct{}
	mustHave []string
	lowValue []string
	nice     []string
}

// NewContext resolves the scenario's gold lists against idx. A nil scenario
// yields the generic default scenario. Gold phrases, and their aliases, count
// as KB ids only when they resolve at or above th.High.
func NewContext(s *Scenario, idx *kb.Index, th similarity.Thresholds) *Context {
	if s == nil {
		s = Generic("")
	}
	if th == (similarity.Thresholds{}) {
		th = similarity.DefaultThresholds()
	}
	c := &Context{
		scenario:   s,
		index:      idx,
		thresholds: th,
		id:         s.ID,
		goal:       strings.TrimSpace(s.Goal),
		mustHave:   nonEmpty(s.GoldMustHave),
		lowValue:   nonEmpty(s.GoldLowValue),
		nice:       nonEmpty(s.GoldNiceToHave),
	}
	if idx != nil {
		c.scorer = idx.Scorer()
	} else {
		c.scorer = similarity.NewScorer(similarity.DefaultWeights())
	}
	c.aliases.Merge(s.Aliases)
	c.resolve()
	return c
}

func (c *Context) resolve() {
	c.goldIDs = c.resolvePhrases(c.mustHave)
	c.lowIDs = c.resolvePhrases(c.lowValue)
}

func (c *Context) resolvePhrases(phrases []string) map[string]struct{} {
	out := make(map[string]struct{})
	if c.index == nil {
		return out
	}
	for _, p := range phrases {
		for _, variant := range c.aliases.Expand(p) {
			if id, ok := c.index.ResolveID(variant, c.thresholds.High); ok {
				out[id] = struct{}{}
			}
		}
	}
	return out
}

func (c *Context) clone() *Context {
	cp := *c
	cp.aliases = AliasTable{}
	cp.aliases.Merge(c.aliases)
	return &cp
}

// WithGoal returns a copy of the context with a different goal label.
func (c *Context) WithGoal(goal string) *Context {
	cp := c.clone()
	cp.goal = strings.TrimSpace(goal)
	return cp
}

// WithScenario returns a context for s on the same index and thresholds.
func (c *Context) WithScenario(s *Scenario) *Context {
	return NewContext(s, c.index, c.thresholds)
}

// WithAliases returns a copy of the context with extra alias -> canonical
// pairs and the gold ids re-resolved through them.
func (c *Context) WithAliases(pairs map[string]string) *Context {
	cp := c.clone()
	cp.aliases.Merge(NewAliasTable(pairs))
	cp.resolve()
	return cp
}

// ID is the scenario id used for KB relevance tags.
func (c *Context) ID() string { return c.id }

// Goal is the registered goal label, possibly empty.
func (c *Context) Goal() string { return c.goal }

// Scenario returns the underlying scenario document.
func (c *Context) Scenario() *Scenario { return c.scenario }

// Index is the KB the context was resolved against.
func (c *Context) Index() *kb.Index { return c.index }

// Thresholds are the similarity cut-offs in force.
func (c *Context) Thresholds() similarity.Thresholds { return c.thresholds }

// Aliases is the merged alias table.
func (c *Context) Aliases() AliasTable { return c.aliases }

// MustHave, LowValue and NiceToHave return the gold phrase lists.
func (c *Context) MustHave() []string   { return c.mustHave }
func (c *Context) LowValue() []string   { return c.lowValue }
func (c *Context) NiceToHave() []string { return c.nice }

// IsGoal reports whether label is the registered goal, ignoring case and
// surrounding space.
func (c *Context) IsGoal(label string) bool {
	return c.goal != "" && strings.EqualFold(strings.TrimSpace(label), c.goal)
}

// InScope reports whether a KB entry is tagged for this scenario.
func (c *Context) InScope(e *kb.Entry) bool {
	return e != nil && e.RelevantTo(c.id)
}

// IsGoldID reports whether id is a must-have KB id.
func (c *Context) IsGoldID(id string) bool {
	_, ok := c.goldIDs[id]
	return ok
}

// GoldIDs returns the resolved must-have ids, sorted.
func (c *Context) GoldIDs() []string {
	return sortedKeys(c.goldIDs)
}

// IsGoldLabel reports whether a node label stands for a must-have item: it
// resolves (at Med or better) to a gold id, or it is a close phrasing (High or
// better) of a gold phrase or one of its aliases.
func (c *Context) IsGoldLabel(label string) bool {
	if c.index != nil {
		if id, ok := c.index.ResolveID(label, c.thresholds.Med); ok && c.IsGoldID(id) {
			return true
		}
	}
	_, ok := c.bestPhrase(label, c.mustHave, c.thresholds.High)
	return ok
}

// LowValueMatch returns the gold low-value phrase a label stands for, matched
// by resolved KB id or by similarity of at least Med.
func (c *Context) LowValueMatch(label string) (string, bool) {
	if c.index != nil && len(c.lowIDs) > 0 {
		if id, ok := c.index.ResolveID(label, c.thresholds.High); ok {
			if _, low := c.lowIDs[id]; low {
				if phrase, ok := c.bestPhrase(label, c.lowValue, 0); ok {
					return phrase, true
				}
				return id, true
			}
		}
	}
	return c.bestPhrase(label, c.lowValue, c.thresholds.Med)
}

// BestMatch returns the phrase of list (expanded through the alias table) that
// label matches best, if it scores at least min.
func (c *Context) BestMatch(label string, list []string, min float64) (string, bool) {
	return c.bestPhrase(label, list, min)
}

func (c *Context) bestPhrase(label string, list []string, min float64) (string, bool) {
	best, bestScore := "", 0.0
	for _, phrase := range list {
		for _, variant := range c.aliases.Expand(phrase) {
			if s := c.scorer.Similarity(label, variant); s > bestScore {
				best, bestScore = phrase, s
			}
		}
	}
	if best == "" || bestScore < min {
		return "", false
	}
	return best, true
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
