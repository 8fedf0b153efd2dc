package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/server"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs until interrupted.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Starts polling the configured accounts",
		Long: `Seeds one events job per watched account and runs the worker pool
until SIGINT or SIGTERM. The operations API is served on server.port when
server.enabled is set.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveSession(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.Build(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	rt.logger.Info("crawl command finished", zap.String("base_tag", rt.cfg.BaseTag()))
	return nil
}
