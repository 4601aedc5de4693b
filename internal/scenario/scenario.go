package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/arborist/internal/kb"
	"github.com/xkilldash9x/arborist/internal/textnorm"
)

// DefaultID is the scenario used when a session does not pick one.
const DefaultID = "auth"

const defaultGoalSummary = "This is the attacker's overall objective. Build the tree of steps that achieve it below this node."

// Scenario supplies the goal and gold-standard lists a session is scored and
// assisted against.
type Scenario struct {
	ID             string     `json:"id,omitempty" yaml:"id,omitempty"`
	Goal           string     `json:"goal" yaml:"goal"`
	GoalExplain    string     `json:"goal_explain,omitempty" yaml:"goal_explain,omitempty"`
	GoldMustHave   []string   `json:"gold_must_have" yaml:"gold_must_have"`
	GoldLowValue   []string   `json:"gold_low_value" yaml:"gold_low_value"`
	GoldNiceToHave []string   `json:"gold_nice_to_have,omitempty" yaml:"gold_nice_to_have,omitempty"`
	Aliases        AliasTable `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Brief          string     `json:"brief,omitempty" yaml:"brief,omitempty"`
	GuideText      string     `json:"guideText,omitempty" yaml:"guideText,omitempty"`
}

// GoalSummary is the explanation shown for the goal node.
func (s *Scenario) GoalSummary() string {
	if s == nil {
		return defaultGoalSummary
	}
	for _, text := range []string{s.GoalExplain, s.Brief} {
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	return defaultGoalSummary
}

// Generic returns the placeholder scenario used when nothing could be loaded.
func Generic(id string) *Scenario {
	if id == "" {
		id = DefaultID
	}
	return &Scenario{ID: id}
}

// -- Loading --

// LoadFile reads one scenario document (JSON or YAML by extension). When the
// document carries no id the file name without extension is used.
func LoadFile(path string) (*Scenario, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand scenario path '%s': %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file '%s': %w", expanded, err)
	}
	s, err := Decode(data, kb.FormatFor(expanded))
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario file '%s': %w", expanded, err)
	}
	if s.ID == "" {
		base := filepath.Base(expanded)
		s.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return s, nil
}

// Decode parses a scenario document.
func Decode(data []byte, format kb.Format) (*Scenario, error) {
	var s Scenario
	var err error
	if format == kb.FormatYAML {
		err = yaml.Unmarshal(data, &s)
	} else {
		err = json.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadDir loads every .json, .yaml and .yml scenario in dir, keyed by id. Files
// that fail to parse are reported together; the ones that parsed are still
// returned.
func LoadDir(dir string) (map[string]*Scenario, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand scenario dir '%s': %w", dir, err)
	}
	items, err := os.ReadDir(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenario dir '%s': %w", expanded, err)
	}

	out := make(map[string]*Scenario)
	var failed []string
	for _, item := range items {
		if item.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(item.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		s, err := LoadFile(filepath.Join(expanded, item.Name()))
		if err != nil {
			failed = append(failed, err.Error())
			continue
		}
		if _, dup := out[s.ID]; !dup {
			out[s.ID] = s
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return out, fmt.Errorf("%d scenario file(s) failed to load: %s", len(failed), strings.Join(failed, "; "))
	}
	return out, nil
}

// -- Alias Table --

// AliasTable maps alternative phrasings onto canonical gold phrases. Documents
// may write it as {"alias": "canonical"} or {"canonical": ["alias", ...]}; both
// shapes, and a mix of them, are accepted.
type AliasTable struct {
	toCanonical map[string]string   // normalized alias -> canonical phrase
	expansions  map[string][]string // normalized canonical -> aliases
	canonicals  map[string]string   // normalized canonical -> canonical phrase
}

// NewAliasTable builds a table from alias -> canonical pairs.
func NewAliasTable(pairs map[string]string) AliasTable {
	var t AliasTable
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, alias := range keys {
		t.Add(alias, pairs[alias])
	}
	return t
}

// Add registers alias as another phrasing of canonical. The first canonical
// registered for an alias wins.
func (t *AliasTable) Add(alias, canonical string) {
	a, c := textnorm.Normalize(alias), textnorm.Normalize(canonical)
	if a == "" || c == "" || a == c {
		return
	}
	if t.toCanonical == nil {
		t.toCanonical = make(map[string]string)
		t.expansions = make(map[string][]string)
		t.canonicals = make(map[string]string)
	}
	if _, taken := t.toCanonical[a]; taken {
		return
	}
	if _, seen := t.canonicals[c]; !seen {
		t.canonicals[c] = strings.TrimSpace(canonical)
	}
	t.toCanonical[a] = t.canonicals[c]
	t.expansions[c] = append(t.expansions[c], strings.TrimSpace(alias))
}

// Merge adds every pair of other into t.
func (t *AliasTable) Merge(other AliasTable) {
	keys := make([]string, 0, len(other.expansions))
	for c := range other.expansions {
		keys = append(keys, c)
	}
	sort.Strings(keys)
	for _, c := range keys {
		for _, a := range other.expansions[c] {
			t.Add(a, other.canonicals[c])
		}
	}
}

// Canonical returns the canonical phrase for an alias.
func (t AliasTable) Canonical(alias string) (string, bool) {
	c, ok := t.toCanonical[textnorm.Normalize(alias)]
	return c, ok
}

// Expand returns phrase followed by every alias registered for it.
func (t AliasTable) Expand(phrase string) []string {
	out := []string{phrase}
	return append(out, t.expansions[textnorm.Normalize(phrase)]...)
}

// Len is the number of aliases in the table.
func (t AliasTable) Len() int { return len(t.toCanonical) }

// Pairs returns the alias -> canonical mapping.
func (t AliasTable) Pairs() map[string]string {
	out := make(map[string]string, len(t.toCanonical))
	for c, aliases := range t.expansions {
		for _, a := range aliases {
			out[a] = t.canonicals[c]
		}
	}
	return out
}

// UnmarshalJSON accepts both alias table shapes.
func (t *AliasTable) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("aliases must be an object: %w", err)
	}
	return t.fill(raw)
}

// UnmarshalYAML accepts both alias table shapes.
func (t *AliasTable) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("aliases must be a mapping: %w", err)
	}
	return t.fill(raw)
}

// MarshalJSON writes the alias -> canonical shape.
func (t AliasTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Pairs())
}

func (t *AliasTable) fill(raw map[string]any) error {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			t.Add(k, v)
		case []any:
			for _, item := range v {
				alias, ok := item.(string)
				if !ok {
					return fmt.Errorf("alias list for '%s' must contain only strings", k)
				}
				t.Add(alias, k)
			}
		case nil:
		default:
			return fmt.Errorf("alias '%s' must map to a string or a list of strings", k)
		}
	}
	return nil
}
