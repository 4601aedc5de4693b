package evaluate

import (
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/scenario"
)

// Band weights of the 0-100 score.
const (
	WeightCoverage   = 50
	WeightStructure  = 20
	WeightDuplicates = 15
	WeightLowValue   = 15
)

// Scorer grades a finished tree against a scenario's gold standard. It is a
// pure read of its inputs.
type Scorer struct {
	logger *zap.Logger
}

// New creates a Scorer.
func New(logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{logger: logger.Named("Evaluate")}
}

// Evaluate scores tree. An empty tree scores zero in every band; an empty gold
// list gives full credit for its share of coverage. Labels are matched to gold
// phrases (and their aliases) at the scenario's Med threshold.
func (s *Scorer) Evaluate(tree schemas.Tree, sc *scenario.Context) schemas.Evaluation {
	start := time.Now()
	out := schemas.Evaluation{
		Coverage: schemas.CoverageDetails{
			MustHaveTotal: len(sc.MustHave()),
			NiceHaveTotal: len(sc.NiceToHave()),
			MatchedMust:   []string{},
			MissedMust:    []string{},
		},
		Penalties: schemas.PenaltyDetails{
			LowValueMatched:   []schemas.LowValueHit{},
			DuplicateClusters: [][]string{},
		},
	}
	if len(tree.Nodes) == 0 {
		out.Coverage.MissedMust = append(out.Coverage.MissedMust, sc.MustHave()...)
		out.Structure.Gates = schemas.GateStats{ValidANDPct: 1, ValidORPct: 1}
		return out
	}

	labels := labelsOf(tree)
	s.coverage(&out.Coverage, labels, sc)
	s.lowValue(&out.Penalties, labels, sc)
	s.duplicates(&out.Penalties, labels, sc)
	out.Structure = structure(tree, sc.Goal())

	c := out.Coverage
	covMust := 1.0
	if c.MustHaveTotal > 0 {
		covMust = float64(c.MustHaveHit) / float64(c.MustHaveTotal)
	}
	covNice := 1.0
	if c.NiceHaveTotal > 0 {
		covNice = float64(c.NiceHaveHit) / float64(c.NiceHaveTotal)
	}
	coverageSub := clamp01(0.85*covMust + 0.15*covNice)

	st := out.Structure
	depthOK := 1.0
	if st.MaxDepth < 2 {
		depthOK = float64(st.MaxDepth) / 2
	}
	structSub := clamp01(0.5*st.ConnectedPct + 0.25*st.Gates.ValidANDPct + 0.15*st.Gates.ValidORPct + 0.10*depthOK)

	dupRate := float64(out.Penalties.DuplicateCount) / float64(st.Nodes)
	dupSub := clamp01(1 - math.Min(1, 1.5*dupRate))
	lvSub := clamp01(1 - math.Min(1, 0.3*float64(out.Penalties.LowValueHits)))

	score := schemas.ScoreBreakdown{
		Coverage:   band(WeightCoverage, coverageSub),
		Structure:  band(WeightStructure, structSub),
		Duplicates: band(WeightDuplicates, dupSub),
		LowValue:   band(WeightLowValue, lvSub),
	}
	score.Overall = max(0, min(100, score.Coverage+score.Structure+score.Duplicates+score.LowValue))
	out.Score = score

	s.logger.Debug("Evaluation computed",
		zap.Int("overall", score.Overall),
		zap.Int("nodes", st.Nodes),
		zap.Duration("took", time.Since(start)))
	return out
}

// labelsOf returns the non-gate, non-blank labels in tree order.
func labelsOf(tree schemas.Tree) []string {
	out := make([]string, 0, len(tree.Nodes))
	for _, n := range tree.Nodes {
		if n.IsGate() {
			continue
		}
		if l := strings.TrimSpace(n.Label); l != "" {
			out = append(out, n.Label)
		}
	}
	return out
}

func (s *Scorer) coverage(c *schemas.CoverageDetails, labels []string, sc *scenario.Context) {
	th := sc.Thresholds().Med
	must := make(map[string]struct{})
	nice := make(map[string]struct{})
	for _, l := range labels {
		if g, ok := sc.BestMatch(l, sc.MustHave(), th); ok {
			must[g] = struct{}{}
			if c.LabelToMust == nil {
				c.LabelToMust = make(map[string]string)
			}
			c.LabelToMust[l] = g
		}
		if g, ok := sc.BestMatch(l, sc.NiceToHave(), th); ok {
			nice[g] = struct{}{}
			if c.LabelToNice == nil {
				c.LabelToNice = make(map[string]string)
			}
			c.LabelToNice[l] = g
		}
	}
	for _, g := range sc.MustHave() {
		if _, hit := must[g]; hit {
			c.MatchedMust = append(c.MatchedMust, g)
		} else {
			c.MissedMust = append(c.MissedMust, g)
		}
	}
	c.MustHaveHit = len(must)
	c.NiceHaveHit = len(nice)
}

func (s *Scorer) lowValue(p *schemas.PenaltyDetails, labels []string, sc *scenario.Context) {
	th := sc.Thresholds().Med
	for _, l := range labels {
		if g, ok := sc.BestMatch(l, sc.LowValue(), th); ok {
			p.LowValueHits++
			p.LowValueMatched = append(p.LowValueMatched, schemas.LowValueHit{Label: l, Hit: g})
		}
	}
}

// duplicates clusters labels greedily: each unclustered label opens a cluster
// that absorbs every later unclustered label scoring at least Med against it.
func (s *Scorer) duplicates(p *schemas.PenaltyDetails, labels []string, sc *scenario.Context) {
	th := sc.Thresholds().Med
	scorer := sc.Index().Scorer()
	used := make([]bool, len(labels))
	for i := range labels {
		if used[i] {
			continue
		}
		used[i] = true
		cluster := []string{labels[i]}
		for j := i + 1; j < len(labels); j++ {
			if !used[j] && scorer.Similarity(labels[i], labels[j]) >= th {
				used[j] = true
				cluster = append(cluster, labels[j])
			}
		}
		if len(cluster) > 1 {
			p.DuplicateClusters = append(p.DuplicateClusters, cluster)
			p.DuplicateCount += len(cluster) - 1
		}
	}
}

// structure measures undirected reachability from the root (the goal node when
// present, else the highest-degree node), depth, and gate health.
func structure(tree schemas.Tree, goal string) schemas.StructureStats {
	top := tree.Topology()
	nodes := tree.Nodes
	st := schemas.StructureStats{Nodes: len(nodes), Edges: len(tree.Links)}

	root := -1
	if goal = strings.TrimSpace(goal); goal != "" {
		for i, n := range nodes {
			if strings.EqualFold(strings.TrimSpace(n.Label), goal) {
				root = i
				break
			}
		}
	}
	if root < 0 {
		best := -1
		for i, n := range nodes {
			if d := top.Degree(n.ID); d > best {
				best, root = d, i
			}
		}
	}
	st.RootID = nodes[root].ID

	dist := map[string]int{st.RootID: 0}
	queue := []string{st.RootID}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range top.Neighbours(v) {
			if _, seen := dist[w]; !seen {
				dist[w] = dist[v] + 1
				st.MaxDepth = max(st.MaxDepth, dist[w])
				queue = append(queue, w)
			}
		}
	}
	connected := 0
	for _, n := range nodes {
		if _, ok := dist[n.ID]; ok {
			connected++
		}
	}
	st.ConnectedPct = float64(connected) / float64(len(nodes))

	var andOK, orOK int
	for _, n := range nodes {
		deg := top.Degree(n.ID)
		switch strings.ToUpper(string(n.Gate)) {
		case string(schemas.GateAND):
			st.Gates.ANDCount++
			if deg >= 2 {
				andOK++
			}
		case string(schemas.GateOR):
			st.Gates.ORCount++
			if deg >= 2 {
				orOK++
			}
		}
	}
	st.Gates.ValidANDPct = ratio(andOK, st.Gates.ANDCount)
	st.Gates.ValidORPct = ratio(orOK, st.Gates.ORCount)
	return st
}

func ratio(ok, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}

func band(weight int, sub float64) int {
	return int(math.Round(float64(weight) * sub))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
