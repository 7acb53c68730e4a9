package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/media-relay/internal/config"
	"github.com/dwizi/media-relay/internal/transform"
)

var localProfiles = map[string]transform.Profile{
	"sticker":        transform.StickerProfile,
	"sticker_square": transform.SquareStickerProfile,
	"audio":          transform.AudioProfile,
	"hls_remux":      transform.HLSRemuxProfile,
}

// newStickerCommand runs the same transform chain the bot uses, against
// local files.
func newStickerCommand(logger *slog.Logger) *cobra.Command {
	var profileName string
	cmd := &cobra.Command{
		Use:   "sticker <input> <output>",
		Short: "Convert a local file with the transform chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, ok := localProfiles[strings.ToLower(strings.TrimSpace(profileName))]
			if !ok {
				return fmt.Errorf("unknown profile %q", profileName)
			}
			input, output := args[0], args[1]
			if profile.Format == "webp" && !transform.ValidStickerInput(input) {
				return fmt.Errorf("unsupported sticker input: %s", input)
			}
			if _, err := os.Stat(input); err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			cfg := config.FromEnv()
			chain := transform.NewDefaultChain(transform.Config{
				FFmpegBinary:   cfg.FFmpegBinary,
				MagickBinary:   cfg.MagickBinary,
				MethodTimeout:  config.Seconds(cfg.TransformMethodTimeout),
				MaxOutputBytes: cfg.TransformMaxOutput,
			}, logger.With("component", "transform"))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, config.Seconds(cfg.TransformTimeoutSec))
			defer cancel()
			started := time.Now()
			if err := chain.Transform(ctx, input, output, profile); err != nil {
				return err
			}
			cmd.Printf("wrote %s (%s, %s)\n", output, profile.Name, time.Since(started).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&profileName, "profile", "sticker", "transform profile: sticker, sticker_square, audio or hls_remux")
	return cmd
}
