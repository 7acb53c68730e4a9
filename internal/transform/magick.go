package transform

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Magick converts still images and gifs through ImageMagick. It is the last
// resort for stickers when ffmpeg cannot decode the input.
type Magick struct {
	binary string
	runner CommandRunner
}

func NewMagick(binary string, runner CommandRunner) *Magick {
	if binary == "" {
		binary = "magick"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Magick{binary: binary, runner: runner}
}

func (m *Magick) Name() string { return "imagemagick" }

func (m *Magick) Supports(inputPath string, profile Profile) bool {
	return profile.Format == "webp" && imageExts[strings.ToLower(filepath.Ext(inputPath))]
}

func (m *Magick) Transform(ctx context.Context, inputPath, outputPath string, profile Profile) error {
	args := []string{inputPath}
	if profile.Crop {
		args = append(args, "-gravity", "center", "-extent", "1:1", "+repage")
	}
	if profile.MaxWidth > 0 {
		args = append(args, "-resize", fmt.Sprintf("%dx>", profile.MaxWidth))
	}
	quality := profile.Quality
	if quality < 1 {
		quality = 60
	}
	args = append(args, "-quality", fmt.Sprint(quality), "-loop", "0", outputPath)
	_, err := m.runner.Run(ctx, m.binary, args...)
	return err
}
