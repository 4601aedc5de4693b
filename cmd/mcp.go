// File: cmd/mcp.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/arborist/internal/mcp"
	"github.com/xkilldash9x/arborist/internal/service"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the assistant as MCP tools over stdio",
		Long: `Runs a Model Context Protocol server on stdin/stdout. Clients pass their
attack tree with each tool call: suggest_nodes, review_tree, explain_label,
evaluate_tree and set_scenario. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.components(ctx, service.CreateOptions{Session: true, Poll: true})
			if err != nil {
				return err
			}
			defer c.Shutdown()

			srv, err := mcp.NewServer(c.Assistant, Version, a.logger)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
