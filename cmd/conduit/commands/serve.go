package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openconduit/openconduit/pkg/api"
)

func newServeCommand(version string) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API server",
		Long: `Start the controller's HTTP server. Execution endpoints wrap the
dispatcher and pipeline engine; control-plane endpoints proxy node and
container operations; /metrics serves Prometheus metrics.`,
		Example: `  # Serve on the default port
  conduit serve

  # Serve on a specific address
  conduit serve --host 127.0.0.1 --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, err := loadDefaults()
			if err != nil {
				return err
			}

			tel, err := buildTelemetry(version)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()

			dispatcher, err := buildDispatcher(defaults, tel)
			if err != nil {
				return err
			}

			cfg := api.DefaultConfig()
			cfg.Host = host
			cfg.Port = port

			server := api.New(cfg, defaults, dispatcher, tel)

			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Start()
			}()

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errChan:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen address")
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")

	return cmd
}
