package kb

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/arborist/api/schemas"
)

// SandboxScenario is the scenario id under which every entry is in scope.
const SandboxScenario = "sandbox"

const noNarrative = "This item appears in the KB but lacks a narrative."

// Entry is a single attack pattern in the knowledge base. Every field other than
// ID is optional; missing values behave as empty/neutral defaults.
type Entry struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name,omitempty" yaml:"name,omitempty"`
	Aliases     []string   `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Severity    string     `json:"severity,omitempty" yaml:"severity,omitempty"`
	Scenarios   []string   `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
	Children    []ChildRef `json:"children,omitempty" yaml:"children,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Comms       string     `json:"comms,omitempty" yaml:"comms,omitempty"`
	Why         string     `json:"why,omitempty" yaml:"why,omitempty"`
	LayExplain  string     `json:"lay_explain,omitempty" yaml:"lay_explain,omitempty"`
}

// DisplayName is the entry name, or its id when the name is missing.
func (e *Entry) DisplayName() string {
	if name := strings.TrimSpace(e.Name); name != "" {
		return name
	}
	return e.ID
}

// Level returns the parsed severity; a missing value is unknown.
func (e *Entry) Level() schemas.Severity {
	return schemas.ParseSeverity(e.Severity)
}

// RelevantTo reports whether the entry is tagged for the scenario. An empty or
// sandbox scenario id puts every entry in scope.
func (e *Entry) RelevantTo(scenarioID string) bool {
	if scenarioID == "" || scenarioID == SandboxScenario {
		return true
	}
	for _, s := range e.Scenarios {
		if s == scenarioID {
			return true
		}
	}
	return false
}

// Narrative picks the best available explanatory text: the lay explanation,
// then the description, then the comms text. It is the only place explain text
// is chosen from an entry.
func (e *Entry) Narrative() string {
	for _, s := range []string{e.LayExplain, e.Description, e.Comms} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return noNarrative
}

// SearchText is the text embedded for semantic lookups: name, aliases, and
// the available narrative fields joined by " | ".
func (e *Entry) SearchText() string {
	parts := []string{e.DisplayName()}
	if len(e.Aliases) > 0 {
		parts = append(parts, strings.Join(e.Aliases, ", "))
	}
	if e.LayExplain != "" {
		parts = append(parts, e.LayExplain)
	}
	for _, s := range []string{e.Description, e.Comms, e.Why} {
		if s != "" {
			parts = append(parts, s)
			break
		}
	}
	return strings.Join(parts, " | ")
}

// ChildRef references a typical follow-on step. Documents may spell it either
// as a bare string or as an object with an "id" field.
type ChildRef string

// UnmarshalJSON accepts "child_id" or {"id": "child_id"}.
func (c *ChildRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = ChildRef(strings.TrimSpace(s))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("child reference must be a string or an object with an id: %w", err)
	}
	*c = ChildRef(strings.TrimSpace(obj.ID))
	return nil
}

// UnmarshalYAML accepts the same two shapes as UnmarshalJSON.
func (c *ChildRef) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*c = ChildRef(strings.TrimSpace(value.Value))
		return nil
	case yaml.MappingNode:
		var obj struct {
			ID string `yaml:"id"`
		}
		if err := value.Decode(&obj); err != nil {
			return fmt.Errorf("decoding child reference: %w", err)
		}
		*c = ChildRef(strings.TrimSpace(obj.ID))
		return nil
	}
	return fmt.Errorf("child reference must be a string or an object with an id (line %d)", value.Line)
}
