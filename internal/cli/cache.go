package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dwizi/media-relay/internal/adminclient"
	"github.com/dwizi/media-relay/internal/app"
	"github.com/dwizi/media-relay/internal/config"
	"github.com/dwizi/media-relay/internal/resolution"
)

func newCacheCommand(logger *slog.Logger) *cobra.Command {
	var connector string
	var remote bool
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or invalidate resolved media in the configured cache backend",
	}
	cmd.PersistentFlags().StringVar(&connector, "connector", "telegram", "connector whose deliverables to operate on")
	cmd.PersistentFlags().BoolVar(&remote, "remote", false, "go through the running server's admin API instead of opening the backend")

	get := &cobra.Command{
		Use:   "get <platform:contentId[:variant]>",
		Short: "Print one cached entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolution.ParseKey(args[0])
			if err != nil {
				return err
			}
			if remote {
				client, err := adminclient.New(config.FromEnv())
				if err != nil {
					return err
				}
				remoteEntry, err := client.GetCache(cmd.Context(), connector, key.String())
				if err != nil {
					return err
				}
				return printJSON(cmd, remoteEntry.Entry)
			}
			cache, closeCache, err := app.OpenCache(cmd.Context(), config.FromEnv(), connector, logger)
			if err != nil {
				return err
			}
			defer closeCache()
			entry, found, err := cache.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s is not cached for %s", key.String(), connector)
			}
			return printJSON(cmd, entry)
		},
	}

	invalidate := &cobra.Command{
		Use:   "invalidate <platform:contentId[:variant]>",
		Short: "Drop one cached entry so the next request resolves it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolution.ParseKey(args[0])
			if err != nil {
				return err
			}
			if remote {
				client, err := adminclient.New(config.FromEnv())
				if err != nil {
					return err
				}
				if err := client.InvalidateCache(cmd.Context(), connector, key.String()); err != nil {
					return err
				}
				cmd.Printf("invalidated %s for %s\n", key.String(), connector)
				return nil
			}
			cache, closeCache, err := app.OpenCache(cmd.Context(), config.FromEnv(), connector, logger)
			if err != nil {
				return err
			}
			defer closeCache()
			if err := cache.Invalidate(cmd.Context(), key); err != nil {
				return err
			}
			cmd.Printf("invalidated %s for %s\n", key.String(), connector)
			return nil
		},
	}

	cmd.AddCommand(get, invalidate)
	return cmd
}

func printJSON(cmd *cobra.Command, payload any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
