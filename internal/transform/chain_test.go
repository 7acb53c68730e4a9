package transform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dwizi/media-relay/internal/mediaerr"
)

type fakeMethod struct {
	name       string
	supports   bool
	write      string
	err        error
	blockOnCtx bool
	calls      int
}

func (m *fakeMethod) Name() string { return m.name }

func (m *fakeMethod) Supports(string, Profile) bool { return m.supports }

func (m *fakeMethod) Transform(ctx context.Context, _ string, outputPath string, _ Profile) error {
	m.calls++
	if m.write != "" {
		if err := os.WriteFile(outputPath, []byte(m.write), 0o644); err != nil {
			return err
		}
	}
	if m.blockOnCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChainFallsBackAndRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.webp")
	primary := &fakeMethod{name: "primary", supports: true, write: "partial", err: errors.New("encoder crashed")}
	secondary := &fakeMethod{name: "secondary", supports: true, write: "webp-bytes"}

	chain := NewChain(time.Second, quietLogger(), primary, secondary)
	if err := chain.Transform(context.Background(), filepath.Join(dir, "in.gif"), output, StickerProfile); err != nil {
		t.Fatalf("transform: %v", err)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("unexpected calls primary=%d secondary=%d", primary.calls, secondary.calls)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "webp-bytes" {
		t.Fatalf("expected secondary output, got %q", data)
	}
}

func TestChainTreatsEmptyOutputAsFailure(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.webp")
	empty := &fakeMethod{name: "empty", supports: true}
	good := &fakeMethod{name: "good", supports: true, write: "ok"}

	chain := NewChain(time.Second, quietLogger(), empty, good)
	if err := chain.Transform(context.Background(), "in.png", output, StickerProfile); err != nil {
		t.Fatalf("transform: %v", err)
	}
	if good.calls != 1 {
		t.Fatalf("expected fallback after empty output")
	}
}

func TestChainAllMethodsFail(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.webp")
	first := &fakeMethod{name: "first", supports: true, write: "junk", err: errors.New("first broke")}
	second := &fakeMethod{name: "second", supports: true, err: errors.New("second broke")}

	err := NewChain(time.Second, quietLogger(), first, second).Transform(context.Background(), "in.mp4", output, StickerProfile)
	if !errors.Is(err, mediaerr.ErrTransformFailed) {
		t.Fatalf("expected transform failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "first broke") || !strings.Contains(err.Error(), "second broke") {
		t.Fatalf("expected both failures in error, got %v", err)
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output left behind, stat err=%v", statErr)
	}
}

func TestChainSkipsUnsupportedMethods(t *testing.T) {
	skipped := &fakeMethod{name: "skipped", supports: false, write: "x"}
	err := NewChain(time.Second, quietLogger(), skipped).Transform(context.Background(), "in.txt", filepath.Join(t.TempDir(), "o"), StickerProfile)
	if !errors.Is(err, mediaerr.ErrTransformFailed) {
		t.Fatalf("expected transform failure, got %v", err)
	}
	if skipped.calls != 0 {
		t.Fatalf("unsupported method must not run")
	}
}

func TestChainMethodTimeoutMovesOn(t *testing.T) {
	dir := t.TempDir()
	slow := &fakeMethod{name: "slow", supports: true, write: "partial", blockOnCtx: true}
	fast := &fakeMethod{name: "fast", supports: true, write: "done"}

	chain := NewChain(20*time.Millisecond, quietLogger(), slow, fast)
	if err := chain.Transform(context.Background(), "in.gif", filepath.Join(dir, "out.webp"), StickerProfile); err != nil {
		t.Fatalf("transform: %v", err)
	}
	if fast.calls != 1 {
		t.Fatalf("expected fast method after timeout")
	}
}

func TestPassthroughCopiesMatchingFormat(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.webp")
	if err := os.WriteFile(input, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	method := Passthrough{}
	if !method.Supports(input, StickerProfile) {
		t.Fatalf("expected passthrough for webp input")
	}
	if method.Supports(filepath.Join(dir, "in.gif"), StickerProfile) {
		t.Fatalf("gif must not pass through as webp")
	}
	output := filepath.Join(dir, "out.webp")
	if err := method.Transform(context.Background(), input, output, StickerProfile); err != nil {
		t.Fatalf("transform: %v", err)
	}
	if data, _ := os.ReadFile(output); string(data) != "RIFF" {
		t.Fatalf("unexpected copy %q", data)
	}
}
