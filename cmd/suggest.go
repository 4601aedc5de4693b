// File: cmd/suggest.go
package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arborist/internal/service"
)

func newSuggestCmd(a *app) *cobra.Command {
	var treePath, parent string
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest attack steps to add under a node",
		Long: `Ranks knowledge-base and scenario steps to add under --parent, which is a
node id from the tree or a free-text label. Prints the top and overflow lists.`,
		Example: `  arborist suggest --tree tree.json --parent n3
  cat tree.json | arborist suggest --tree - --parent "Password Reset Flow"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := readTree(cmd, treePath)
			if err != nil {
				return err
			}
			id, label := resolveParent(tree, parent)
			if label == "" {
				return errors.New("--parent must name a node id or label")
			}

			ctx := cmd.Context()
			c, err := a.components(ctx, service.CreateOptions{})
			if err != nil {
				return err
			}
			defer c.Shutdown()

			res := c.Assistant.Suggest(ctx, tree, label)
			res.ParentID = id
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&treePath, "tree", "t", "", "exported attack tree JSON (\"-\" for stdin)")
	cmd.Flags().StringVarP(&parent, "parent", "p", "", "parent node id or label")
	_ = cmd.MarkFlagRequired("tree")
	_ = cmd.MarkFlagRequired("parent")
	return cmd
}
