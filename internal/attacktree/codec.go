package attacktree

import (
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/arborist/api/schemas"
)

// Export writes the tree as the flat JSON document
// {"nodes":[...], "links":[...]}.
func Export(w io.Writer, tree schemas.Tree) error {
	if tree.Nodes == nil {
		tree.Nodes = []schemas.Node{}
	}
	if tree.Links == nil {
		tree.Links = []schemas.Link{}
	}
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tree: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write tree: %w", err)
	}
	return nil
}

// Import reads a tree written by Export.
func Import(r io.Reader) (schemas.Tree, error) {
	var tree schemas.Tree
	if err := json.NewDecoder(r).Decode(&tree); err != nil {
		return schemas.Tree{}, fmt.Errorf("failed to decode tree: %w", err)
	}
	return tree, nil
}

// SaveFile exports the tree to path, expanding a leading "~".
func SaveFile(path string, tree schemas.Tree) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to expand tree path '%s': %w", path, err)
	}
	f, err := os.Create(expanded)
	if err != nil {
		return fmt.Errorf("failed to create tree file '%s': %w", expanded, err)
	}
	if err := Export(f, tree); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadFile imports a tree from path, expanding a leading "~".
func LoadFile(path string) (schemas.Tree, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return schemas.Tree{}, fmt.Errorf("failed to expand tree path '%s': %w", path, err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return schemas.Tree{}, fmt.Errorf("failed to open tree file '%s': %w", expanded, err)
	}
	defer f.Close()
	return Import(f)
}
