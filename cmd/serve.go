package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pagerender/internal/server"
)

// runServer is a variable so tests can avoid binding a port.
var runServer = func(cmd *cobra.Command, app *server.App) error {
	return app.Run(cmd.Context())
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Starts the headless browser, the preload refresh loop, and the HTTP server.
The process drains in-flight requests and closes the browser on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg, buildOptions...)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return runServer(cmd, app)
		},
	}
}
