package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pagerender/internal/publisher/memory"
	"github.com/JakeFAU/pagerender/internal/server"
)

// buildOptions lets tests swap the browser for a fake engine.
var buildOptions []server.Option

func newRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render <url>",
		Short: "Render one URL and print its HTML",
		Long: `Launches the headless browser, renders a single URL through the same
admission control and timeout the service uses, and writes the HTML to stdout.
Useful as a smoke test for the browser installation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			// One-shot renders never publish refresh events.
			opts := append([]server.Option{server.WithPublisher(memory.New())}, buildOptions...)
			app, err := server.Build(cmd.Context(), cfg, opts...)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() {
				_ = app.Close(context.WithoutCancel(cmd.Context()))
			}()

			html, err := app.Gateway().Render(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("render %s: %w", args[0], err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), html); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			return nil
		},
	}
}
