package transform

import (
	"log/slog"
	"time"
)

type Config struct {
	FFmpegBinary   string
	MagickBinary   string
	MethodTimeout  time.Duration
	MaxOutputBytes int
}

// NewDefaultChain wires every method in preference order. Methods filter
// themselves by profile, so one chain serves stickers, audio and HLS remux.
func NewDefaultChain(cfg Config, logger *slog.Logger) *Chain {
	runner := ExecRunner{MaxOutputBytes: cfg.MaxOutputBytes}
	return NewChain(cfg.MethodTimeout, logger,
		Passthrough{},
		NewVP9Sticker(cfg.FFmpegBinary, runner),
		NewGenericConvert(cfg.FFmpegBinary, runner),
		NewMagick(cfg.MagickBinary, runner),
		NewHLSRemux(cfg.FFmpegBinary, runner),
		NewAudioExtract(cfg.FFmpegBinary, runner, true),
		NewAudioExtract(cfg.FFmpegBinary, runner, false),
	)
}
