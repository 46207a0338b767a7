// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/inspectbridge/internal/observability"
	"github.com/xkilldash9x/inspectbridge/internal/server"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the inspect and console APIs over HTTP and websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			b, h := newBridge(cfg, logger)
			defer b.Close()
			logger.Info("Bridge ready.", zap.Int("windows", len(h.Windows())), zap.Int("views", len(cfg.Host().Views)))

			return server.New(cfg.Server(), b, logger).ListenAndServe(ctx)
		},
	}
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().Bool("metrics", true, "expose /metrics (overrides server.enable_metrics)")
	configFlag(serveCmd, "addr", "server.addr")
	configFlag(serveCmd, "metrics", "server.enable_metrics")
	return serveCmd
}
