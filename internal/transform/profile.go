package transform

import (
	"path/filepath"
	"strings"
	"time"
)

// Profile names the shape a transform must produce.
type Profile struct {
	Name        string
	Format      string
	MaxWidth    int
	FPS         int
	Quality     int
	// Crop cuts the largest centred square out of the frame before scaling.
	Crop        bool
	Audio       bool
	MaxDuration time.Duration
}

var (
	StickerProfile = Profile{
		Name:        "sticker",
		Format:      "webp",
		MaxWidth:    512,
		FPS:         10,
		Quality:     60,
		MaxDuration: 10 * time.Second,
	}
	SquareStickerProfile = Profile{
		Name:        "sticker_square",
		Format:      "webp",
		MaxWidth:    512,
		FPS:         10,
		Quality:     60,
		Crop:        true,
		MaxDuration: 10 * time.Second,
	}
	HLSRemuxProfile = Profile{
		Name:   "hls_remux",
		Format: "mp4",
		Audio:  true,
	}
	AudioProfile = Profile{
		Name:   "audio",
		Format: "m4a",
		Audio:  true,
	}
	PassthroughProfile = Profile{
		Name: "passthrough",
	}
)

// OutputExt is the file extension for the profile's output, including the dot.
// Passthrough keeps the input's extension.
func (p Profile) OutputExt(inputPath string) string {
	if p.Format == "" {
		return strings.ToLower(filepath.Ext(inputPath))
	}
	return "." + p.Format
}

var (
	videoExts = map[string]bool{".mp4": true, ".mov": true, ".webm": true}
	imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}
)

// ValidStickerInput reports whether path has an extension the sticker chain
// accepts.
func ValidStickerInput(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return videoExts[ext] || imageExts[ext]
}

func isVideoInput(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

func isHLSInput(path string) bool {
	lower := strings.ToLower(path)
	if idx := strings.IndexAny(lower, "?#"); idx >= 0 {
		lower = lower[:idx]
	}
	return strings.HasSuffix(lower, ".m3u8")
}
