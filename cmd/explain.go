// File: cmd/explain.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arborist/internal/service"
)

func newExplainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "explain <label>",
		Short:   "Explain an attack step label in plain language",
		Example: `  arborist explain "Intercept Reset Email"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.components(ctx, service.CreateOptions{})
			if err != nil {
				return err
			}
			defer c.Shutdown()
			return writeJSON(cmd.OutOrStdout(), c.Assistant.Explain(ctx, args[0]))
		},
	}
}
