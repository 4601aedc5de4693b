// File: cmd/prune.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arborist/internal/service"
)

func newPruneCmd(a *app) *cobra.Command {
	var (
		treePath string
		maxFlags int
		keep     []string
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Flag vague, duplicated, off-scenario or low-value nodes",
		Example: `  arborist prune --tree tree.json --max 5
  arborist prune --tree tree.json --keep "Bribe an insider"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxFlags < 0 {
				return fmt.Errorf("--max must not be negative, got %d", maxFlags)
			}
			tree, err := readTree(cmd, treePath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			c, err := a.components(ctx, service.CreateOptions{})
			if err != nil {
				return err
			}
			defer c.Shutdown()

			for _, label := range keep {
				c.Assistant.Keep(label)
			}
			return writeJSON(cmd.OutOrStdout(), c.Assistant.Prune(ctx, tree, maxFlags))
		},
	}
	cmd.Flags().StringVarP(&treePath, "tree", "t", "", "exported attack tree JSON (\"-\" for stdin)")
	cmd.Flags().IntVarP(&maxFlags, "max", "m", 0, "maximum flags to show (0 uses prune.max_visible)")
	cmd.Flags().StringSliceVarP(&keep, "keep", "k", nil, "labels to keep; never flagged")
	_ = cmd.MarkFlagRequired("tree")
	return cmd
}
