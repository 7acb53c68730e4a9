package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const defaultFFmpegBinary = "ffmpeg"

type ffmpegBase struct {
	binary string
	runner CommandRunner
}

func newFFmpegBase(binary string, runner CommandRunner) ffmpegBase {
	if binary == "" {
		binary = defaultFFmpegBinary
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return ffmpegBase{binary: binary, runner: runner}
}

func (b ffmpegBase) run(ctx context.Context, args []string) error {
	_, err := b.runner.Run(ctx, b.binary, args...)
	return err
}

// VP9Sticker encodes animated webp stickers with libvpx-vp9.
type VP9Sticker struct {
	ffmpegBase
}

func NewVP9Sticker(binary string, runner CommandRunner) *VP9Sticker {
	return &VP9Sticker{ffmpegBase: newFFmpegBase(binary, runner)}
}

func (m *VP9Sticker) Name() string { return "ffmpeg_vp9" }

func (m *VP9Sticker) Supports(inputPath string, profile Profile) bool {
	return profile.Format == "webp" && ValidStickerInput(inputPath)
}

func (m *VP9Sticker) Transform(ctx context.Context, inputPath, outputPath string, profile Profile) error {
	return m.run(ctx, StickerArgs(inputPath, outputPath, profile))
}

// StickerArgs builds the libvpx-vp9 webp argument list. Video inputs are also
// resampled to the profile frame rate.
func StickerArgs(inputPath, outputPath string, profile Profile) []string {
	quality := profile.Quality
	if quality < 1 {
		quality = 60
	}
	args := []string{
		"-y",
		"-i", inputPath,
	}
	if profile.MaxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(profile.MaxDuration.Seconds(), 'f', -1, 64))
	}
	args = append(args,
		"-c:v", "libvpx-vp9",
		"-lossless", "0",
		"-compression_level", "6",
		"-q:v", strconv.Itoa(quality),
		"-loop", "0",
		"-preset", "default",
		"-cpu-used", "4",
		"-deadline", "realtime",
		"-threads", "auto",
		"-an",
		"-vsync", "0",
	)
	if filter := stickerFilter(inputPath, profile); filter != "" {
		args = append(args, "-vf", filter)
	}
	return append(args, "-f", "webp", outputPath)
}

const squareCrop = "crop='min(iw,ih)':'min(iw,ih)'"

func stickerFilter(inputPath string, profile Profile) string {
	var filters []string
	if isVideoInput(inputPath) && profile.FPS > 0 {
		filters = append(filters, fmt.Sprintf("fps=%d", profile.FPS))
	}
	if profile.Crop {
		filters = append(filters, squareCrop)
	}
	if profile.MaxWidth > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:-2:flags=fast_bilinear", profile.MaxWidth))
	}
	return strings.Join(filters, ",")
}

// GenericConvert lets ffmpeg pick the encoder from the output format.
type GenericConvert struct {
	ffmpegBase
}

func NewGenericConvert(binary string, runner CommandRunner) *GenericConvert {
	return &GenericConvert{ffmpegBase: newFFmpegBase(binary, runner)}
}

func (m *GenericConvert) Name() string { return "ffmpeg_generic" }

func (m *GenericConvert) Supports(inputPath string, profile Profile) bool {
	return profile.Format == "webp" && ValidStickerInput(inputPath)
}

func (m *GenericConvert) Transform(ctx context.Context, inputPath, outputPath string, profile Profile) error {
	args := []string{"-y", "-i", inputPath}
	if profile.MaxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(profile.MaxDuration.Seconds(), 'f', -1, 64))
	}
	var filters []string
	if profile.Crop {
		filters = append(filters, squareCrop)
	}
	if profile.MaxWidth > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:-2", profile.MaxWidth))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	args = append(args, "-loop", "0", "-an", outputPath)
	return m.run(ctx, args)
}

// HLSRemux copies an HLS playlist's streams into an mp4 container.
type HLSRemux struct {
	ffmpegBase
}

func NewHLSRemux(binary string, runner CommandRunner) *HLSRemux {
	return &HLSRemux{ffmpegBase: newFFmpegBase(binary, runner)}
}

func (m *HLSRemux) Name() string { return "ffmpeg_hls_remux" }

func (m *HLSRemux) Supports(inputPath string, profile Profile) bool {
	return profile.Name == HLSRemuxProfile.Name
}

func (m *HLSRemux) Transform(ctx context.Context, inputPath, outputPath string, _ Profile) error {
	return m.run(ctx, []string{
		"-y",
		"-i", inputPath,
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		outputPath,
	})
}

// AudioExtract drops the video stream. With reencode off it copies the audio
// stream as is, which is the cheaper fallback when the source is already aac.
type AudioExtract struct {
	ffmpegBase
	reencode bool
}

func NewAudioExtract(binary string, runner CommandRunner, reencode bool) *AudioExtract {
	return &AudioExtract{ffmpegBase: newFFmpegBase(binary, runner), reencode: reencode}
}

func (m *AudioExtract) Name() string {
	if m.reencode {
		return "ffmpeg_audio_aac"
	}
	return "ffmpeg_audio_copy"
}

func (m *AudioExtract) Supports(inputPath string, profile Profile) bool {
	return profile.Name == AudioProfile.Name && !isHLSInput(inputPath)
}

func (m *AudioExtract) Transform(ctx context.Context, inputPath, outputPath string, _ Profile) error {
	args := []string{"-y", "-i", inputPath, "-vn"}
	if m.reencode {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-c:a", "copy")
	}
	return m.run(ctx, append(args, outputPath))
}
