// File: cmd/output.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/attacktree"
)

// readTree loads the exported tree at path, or from stdin when path is "-".
func readTree(cmd *cobra.Command, path string) (schemas.Tree, error) {
	switch path {
	case "":
		return schemas.Tree{}, errors.New("--tree is required")
	case "-":
		tree, err := attacktree.Import(cmd.InOrStdin())
		if err != nil {
			return schemas.Tree{}, fmt.Errorf("failed to read tree from stdin: %w", err)
		}
		return tree, nil
	default:
		return attacktree.LoadFile(path)
	}
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// resolveParent maps a node id to its node; any other value is a free label.
func resolveParent(tree schemas.Tree, parent string) (id, label string) {
	for _, n := range tree.Nodes {
		if n.ID == parent {
			return n.ID, n.Label
		}
	}
	return "", strings.TrimSpace(parent)
}
