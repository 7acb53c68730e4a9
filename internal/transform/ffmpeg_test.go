package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recordingRunner struct {
	name string
	args []string
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	r.name = name
	r.args = append([]string{}, args...)
	return "", nil
}

func TestStickerArgsForVideoInput(t *testing.T) {
	profile := StickerProfile
	profile.MaxDuration = 0
	got := StickerArgs("in.mp4", "out.webp", profile)
	want := []string{
		"-y", "-i", "in.mp4",
		"-c:v", "libvpx-vp9",
		"-lossless", "0",
		"-compression_level", "6",
		"-q:v", "60",
		"-loop", "0",
		"-preset", "default",
		"-cpu-used", "4",
		"-deadline", "realtime",
		"-threads", "auto",
		"-an",
		"-vsync", "0",
		"-vf", "fps=10,scale=512:-2:flags=fast_bilinear",
		"-f", "webp", "out.webp",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sticker args mismatch (-want +got):\n%s", diff)
	}
}

func TestStickerArgsForImageInputScalesOnly(t *testing.T) {
	got := strings.Join(StickerArgs("in.PNG", "out.webp", StickerProfile), " ")
	if !strings.Contains(got, "-vf scale=512:-2:flags=fast_bilinear") {
		t.Fatalf("expected scale filter, got %s", got)
	}
	if strings.Contains(got, "fps=") {
		t.Fatalf("image input must not resample frame rate: %s", got)
	}
	if !strings.Contains(got, "-t 10") {
		t.Fatalf("expected duration cap, got %s", got)
	}
}

func TestHLSRemuxArgs(t *testing.T) {
	runner := &recordingRunner{}
	method := NewHLSRemux("/usr/bin/ffmpeg", runner)
	if !method.Supports("https://cdn.example/ep1/index.m3u8?t=1", HLSRemuxProfile) {
		t.Fatalf("expected hls remux support")
	}
	if err := method.Transform(context.Background(), "https://cdn.example/ep1/index.m3u8", "out.mp4", HLSRemuxProfile); err != nil {
		t.Fatalf("transform: %v", err)
	}
	want := []string{"-y", "-i", "https://cdn.example/ep1/index.m3u8", "-c", "copy", "-bsf:a", "aac_adtstoasc", "out.mp4"}
	if runner.name != "/usr/bin/ffmpeg" {
		t.Fatalf("unexpected binary %q", runner.name)
	}
	if diff := cmp.Diff(want, runner.args); diff != "" {
		t.Fatalf("remux args mismatch (-want +got):\n%s", diff)
	}
}

func TestValidStickerInput(t *testing.T) {
	for _, path := range []string{"a.mp4", "a.MOV", "a.webm", "a.png", "a.jpg", "a.jpeg", "a.gif", "a.webp"} {
		if !ValidStickerInput(path) {
			t.Fatalf("expected %s to be accepted", path)
		}
	}
	for _, path := range []string{"a.txt", "a.mp3", "a"} {
		if ValidStickerInput(path) {
			t.Fatalf("expected %s to be rejected", path)
		}
	}
}

func TestDefaultChainPicksMethodsByProfile(t *testing.T) {
	chain := NewDefaultChain(Config{}, quietLogger())
	var sticker, audio, hls []string
	for _, method := range chain.methods {
		if method.Supports("in.gif", StickerProfile) {
			sticker = append(sticker, method.Name())
		}
		if method.Supports("in.mp4", AudioProfile) {
			audio = append(audio, method.Name())
		}
		if method.Supports("https://x/y.m3u8", HLSRemuxProfile) {
			hls = append(hls, method.Name())
		}
	}
	if diff := cmp.Diff([]string{"ffmpeg_vp9", "ffmpeg_generic", "imagemagick"}, sticker); diff != "" {
		t.Fatalf("sticker methods (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ffmpeg_audio_aac", "ffmpeg_audio_copy"}, audio); diff != "" {
		t.Fatalf("audio methods (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ffmpeg_hls_remux"}, hls); diff != "" {
		t.Fatalf("hls methods (-want +got):\n%s", diff)
	}
}

func TestSquareStickerCropsBeforeScaling(t *testing.T) {
	got := strings.Join(StickerArgs("in.mp4", "out.webp", SquareStickerProfile), " ")
	if !strings.Contains(got, "-vf fps=10,crop='min(iw,ih)':'min(iw,ih)',scale=512:-2:flags=fast_bilinear") {
		t.Fatalf("expected crop between fps and scale, got %s", got)
	}
	if plain := strings.Join(StickerArgs("in.mp4", "out.webp", StickerProfile), " "); strings.Contains(plain, "crop=") {
		t.Fatalf("plain sticker must keep the aspect ratio: %s", plain)
	}

	runner := &recordingRunner{}
	if err := NewGenericConvert("ffmpeg", runner).Transform(context.Background(), "in.gif", "out.webp", SquareStickerProfile); err != nil {
		t.Fatalf("generic transform: %v", err)
	}
	want := []string{"-y", "-i", "in.gif", "-t", "10", "-vf", "crop='min(iw,ih)':'min(iw,ih)',scale=512:-2", "-loop", "0", "-an", "out.webp"}
	if diff := cmp.Diff(want, runner.args); diff != "" {
		t.Fatalf("generic args mismatch (-want +got):\n%s", diff)
	}

	runner = &recordingRunner{}
	if err := NewMagick("magick", runner).Transform(context.Background(), "in.png", "out.webp", SquareStickerProfile); err != nil {
		t.Fatalf("magick transform: %v", err)
	}
	want = []string{"in.png", "-gravity", "center", "-extent", "1:1", "+repage", "-resize", "512x>", "-quality", "60", "-loop", "0", "out.webp"}
	if diff := cmp.Diff(want, runner.args); diff != "" {
		t.Fatalf("magick args mismatch (-want +got):\n%s", diff)
	}
}
