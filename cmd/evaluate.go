// File: cmd/evaluate.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arborist/internal/service"
)

func newEvaluateCmd(a *app) *cobra.Command {
	var treePath string
	cmd := &cobra.Command{
		Use:     "evaluate",
		Short:   "Score a tree against the active scenario",
		Example: `  arborist evaluate --tree tree.json --scenario shop`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := readTree(cmd, treePath)
			if err != nil {
				return err
			}
			c, err := a.components(cmd.Context(), service.CreateOptions{})
			if err != nil {
				return err
			}
			defer c.Shutdown()
			return writeJSON(cmd.OutOrStdout(), c.Assistant.Evaluate(tree))
		},
	}
	cmd.Flags().StringVarP(&treePath, "tree", "t", "", "exported attack tree JSON (\"-\" for stdin)")
	_ = cmd.MarkFlagRequired("tree")
	return cmd
}
