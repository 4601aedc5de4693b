package schemas

import "strings"

// -- Assistant Output Schemas --

// Severity is the KB severity of an attack pattern. The values are lowercase to
// match the KB JSON documents.
type Severity string

const (
	SeverityHigh    Severity = "high"
	SeverityMedium  Severity = "medium"
	SeverityLow     Severity = "low"
	SeverityUnknown Severity = "unknown"
	// SeverityInfo is only used for the scenario goal explanation.
	SeverityInfo Severity = "info"
)

// ParseSeverity maps free-form KB text onto a Severity. Anything unrecognised
// (including the empty string) is SeverityUnknown.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	case SeverityInfo:
		return SeverityInfo
	}
	return SeverityUnknown
}

// Weight is the base suggestion score contributed by the severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityHigh:
		return 0.7
	case SeverityMedium:
		return 0.5
	case SeverityLow:
		return 0.3
	}
	return 0.4
}

// SuggestionSource names the candidate pool a suggestion came from.
type SuggestionSource string

const (
	SourceParent   SuggestionSource = "parent"
	SourceScenario SuggestionSource = "scenario"
	SourceCommon   SuggestionSource = "common"
	SourceSemantic SuggestionSource = "semantic"
	SourceWoZ      SuggestionSource = "woz"
)

// BadgeMustHave marks a suggestion that is on the scenario's gold path.
const BadgeMustHave = "must-have"

// Suggestion is a ranked candidate node to add under the selected parent. It is
// recomputed on every query and never persisted.
type Suggestion struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Source SuggestionSource `json:"source"`
	Reason string           `json:"reason"`
	Score  float64          `json:"score"`
	Badge  string           `json:"badge,omitempty"`
}

// SuggestResult splits the ranking into the primary and the overflow list.
type SuggestResult struct {
	Top         []Suggestion `json:"top"`
	More        []Suggestion `json:"more"`
	ParentID    string       `json:"parent_id,omitempty"`
	ParentLabel string       `json:"parent_label,omitempty"`
}

// PruneFlag is a warning about a single node. Lower scores are more severe.
type PruneFlag struct {
	ElementID string  `json:"element_id"`
	Label     string  `json:"label"`
	Reason    string  `json:"reason"`
	Score     float64 `json:"score"`
}

// ClosestMatch is a "closest known technique" hint shown when a label cannot be
// resolved. Similarity is a whole percentage.
type ClosestMatch struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Similarity int    `json:"similarity"`
}

// Explanation is the plain-language description of a node label.
type Explanation struct {
	Title    string         `json:"title"`
	Severity Severity       `json:"severity"`
	Summary  string         `json:"summary"`
	Why      string         `json:"why"`
	Closest  []ClosestMatch `json:"closest,omitempty"`
}

// -- Evaluation Schemas --

// ScoreBreakdown holds the integer band scores; Overall is their clamped sum.
type ScoreBreakdown struct {
	Coverage   int `json:"coverage"`
	Structure  int `json:"structure"`
	Duplicates int `json:"duplicates"`
	LowValue   int `json:"lowValue"`
	Overall    int `json:"overall"`
}

// CoverageDetails reports which gold phrases were matched.
type CoverageDetails struct {
	MustHaveTotal int               `json:"mustHaveTot"`
	MustHaveHit   int               `json:"mustHaveHit"`
	NiceHaveTotal int               `json:"niceHaveTot"`
	NiceHaveHit   int               `json:"niceHaveHit"`
	MatchedMust   []string          `json:"matchedMust"`
	MissedMust    []string          `json:"missedMust"`
	LabelToMust   map[string]string `json:"label2must,omitempty"`
	LabelToNice   map[string]string `json:"label2nice,omitempty"`
}

// GateStats summarises AND/OR gate health.
type GateStats struct {
	ANDCount    int     `json:"andCount"`
	ORCount     int     `json:"orCount"`
	ValidANDPct float64 `json:"validAndPct"`
	ValidORPct  float64 `json:"validOrPct"`
}

// StructureStats describes connectivity of the tree from its root.
type StructureStats struct {
	Nodes        int       `json:"nodes"`
	Edges        int       `json:"edges"`
	RootID       string    `json:"rootId,omitempty"`
	ConnectedPct float64   `json:"connectedPct"`
	MaxDepth     int       `json:"maxDepth"`
	Gates        GateStats `json:"gates"`
}

// LowValueHit records a tree label that matched a gold low-value phrase.
type LowValueHit struct {
	Label string `json:"label"`
	Hit   string `json:"hit"`
}

// PenaltyDetails lists what the duplicate and low-value bands penalised.
type PenaltyDetails struct {
	LowValueHits      int           `json:"lowValueHits"`
	LowValueMatched   []LowValueHit `json:"lowValueMatched"`
	DuplicateClusters [][]string    `json:"duplicateClusters"`
	DuplicateCount    int           `json:"duplicateCount"`
}

// Evaluation is the full quality report of a tree against a scenario.
type Evaluation struct {
	Score     ScoreBreakdown  `json:"score"`
	Coverage  CoverageDetails `json:"coverage"`
	Structure StructureStats  `json:"structure"`
	Penalties PenaltyDetails  `json:"penalties"`
}
