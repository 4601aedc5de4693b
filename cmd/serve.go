// File: cmd/serve.go
package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/arborist/internal/api"
	"github.com/xkilldash9x/arborist/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the canvas API with session logging",
		Long: `Starts the HTTP API used by the canvas UI. The session keeps one attack
tree in memory, records every action to the session log and polls the WoZ
feed when it is enabled. Stops on SIGINT or SIGTERM.`,
		Example: `  arborist serve --addr 127.0.0.1:8787 --scenario auth`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.SetServerAddr(addr)
			}
			if !a.logger.Core().Enabled(zapcore.DebugLevel) {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx := cmd.Context()
			c, err := a.components(ctx, service.CreateOptions{Session: true, Poll: true})
			if err != nil {
				return err
			}
			defer c.Shutdown()

			srv := api.NewServer(c.Assistant, a.cfg.Server(), a.logger)
			a.logger.Info("Serving session.",
				zap.String("addr", a.cfg.Server().Addr),
				zap.String("session_log", c.Recorder.Path()))
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
