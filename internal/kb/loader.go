package kb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a KB or scenario document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the document format from a file extension. Anything that is
// not .yaml or .yml is read as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// document is the wrapped KB shape: {"patterns": [...]}.
type document struct {
	Patterns []Entry `json:"patterns" yaml:"patterns"`
}

// LoadFile reads a KB file. A leading "~" in the path is expanded.
func LoadFile(path string) ([]Entry, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand KB path '%s': %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read KB file '%s': %w", expanded, err)
	}
	entries, err := Decode(data, FormatFor(expanded))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KB file '%s': %w", expanded, err)
	}
	return entries, nil
}

// Decode parses a KB document. Both a bare array of entries and an object with
// a "patterns" array are accepted.
func Decode(data []byte, format Format) ([]Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if format == FormatYAML {
		return decodeYAML(data)
	}
	return decodeJSON(data)
}

func decodeJSON(data []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(data)
	if trimmed[0] == '[' {
		var entries []Entry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("decoding entry array: %w", err)
		}
		return entries, nil
	}
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decoding patterns document: %w", err)
	}
	return doc.Patterns, nil
}

func decodeYAML(data []byte) ([]Entry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	node := root.Content[0]
	if node.Kind == yaml.SequenceNode {
		var entries []Entry
		if err := node.Decode(&entries); err != nil {
			return nil, fmt.Errorf("decoding entry sequence: %w", err)
		}
		return entries, nil
	}
	var doc document
	if err := node.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding patterns document: %w", err)
	}
	return doc.Patterns, nil
}
