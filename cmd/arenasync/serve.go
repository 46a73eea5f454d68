package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wallcrawler78/arena-sheets-sync/internal/httpapi"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local health/status/metrics HTTP server and push-progress WebSocket stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer application.close()

			hub := httpapi.NewProgressHub(application.log)
			go hub.Run(ctx)

			server := httpapi.NewServer(application.api, hub, application.log,
				application.cfg.Metrics.Enabled, application.cfg.Metrics.Path)

			addr := fmt.Sprintf("%s:%d", application.cfg.Server.Host, application.cfg.Server.Port)
			return server.Run(ctx, addr)
		},
	}
	return cmd
}
