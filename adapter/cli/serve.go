package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlewis7127/licenceledger/adapter/api"
)

var (
	serveAddr            string
	serveShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the licence HTTP API",
	Long: `Run the licence HTTP API until interrupted.

In local mode the outbox is delivered in process and warms the licence
cache; otherwise run the worker alongside to publish to RabbitMQ.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := RequireApp()
		if err != nil {
			return err
		}
		c := a.Container

		serverCfg := api.DefaultServerConfig()
		serverCfg.Addr = c.Config.APIAddr
		if serveAddr != "" {
			serverCfg.Addr = serveAddr
		}

		handler := api.NewLicenceHandler(a.CreateLicenceHandler, a.GetLicenceHandler, c.Metrics, c.Logger)
		server := api.NewServer(serverCfg, handler, c.Health, c.Metrics, c.Logger)

		ctx := cmd.Context()
		if c.OutboxProcessor != nil {
			if err := c.OutboxProcessor.Start(ctx); err != nil {
				return err
			}
			defer c.OutboxProcessor.Stop()
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to API_ADDR)")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	rootCmd.AddCommand(serveCmd)
}
