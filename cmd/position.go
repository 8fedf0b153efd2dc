package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/config"
	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
	"github.com/JakeFAU/github-activity-crawler/internal/server"
)

// openPositionStore is a variable so tests can substitute an in-memory store.
var openPositionStore = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (server.PositionStore, error) {
	return server.OpenPositionStore(ctx, cfg, logger)
}

func newPositionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Inspects or resets stored account positions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <account>",
		Short: "Prints the stored position of an account as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runPositionGet,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <account>",
		Short: "Deletes the stored position so the account is polled from scratch",
		Args:  cobra.ExactArgs(1),
		RunE:  runPositionReset,
	})
	return cmd
}

func withPositionStore(cmd *cobra.Command, fn func(server.PositionStore) error) error {
	rt, err := resolveSession(cmd.Context())
	if err != nil {
		return err
	}
	store, err := openPositionStore(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			rt.logger.Warn("position store close failed", zap.Error(cerr))
		}
	}()
	return fn(store)
}

func runPositionGet(cmd *cobra.Command, args []string) error {
	account := args[0]
	return withPositionStore(cmd, func(store server.PositionStore) error {
		pos, ok, err := store.Get(cmd.Context(), account)
		if err != nil {
			return fmt.Errorf("get position %s: %w", account, err)
		}
		if !ok {
			return fmt.Errorf("%s: %w", account, crawler.ErrPositionNotFound)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Account string `json:"account"`
			crawler.Position
		}{Account: account, Position: pos})
	})
}

func runPositionReset(cmd *cobra.Command, args []string) error {
	account := args[0]
	return withPositionStore(cmd, func(store server.PositionStore) error {
		err := store.Delete(cmd.Context(), account)
		switch {
		case errors.Is(err, crawler.ErrPositionNotFound):
			fmt.Fprintf(cmd.OutOrStdout(), "%s had no stored position\n", account)
			return nil
		case err != nil:
			return fmt.Errorf("reset position %s: %w", account, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s reset\n", account)
		return nil
	})
}
