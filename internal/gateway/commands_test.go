package gateway

import (
	"testing"

	"github.com/dwizi/media-relay/internal/media"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		text    string
		command string
		arg     string
		ok      bool
	}{
		{text: "/video cat dance", command: "video", arg: "cat dance", ok: true},
		{text: "/Video@relay_bot  cats ", command: "video", arg: "cats", ok: true},
		{text: "/leave", command: "leave", ok: true},
		{text: "/meme\ncat&&3", command: "meme", arg: "cat&&3", ok: true},
		{text: "video cats"},
		{text: "/"},
		{text: ""},
	}
	for _, tc := range cases {
		command, arg, ok := splitCommand(tc.text)
		if command != tc.command || arg != tc.arg || ok != tc.ok {
			t.Fatalf("splitCommand(%q) = %q, %q, %v", tc.text, command, arg, ok)
		}
	}
}

func TestParseMemeQuery(t *testing.T) {
	cases := []struct {
		arg   string
		query string
		count int
	}{
		{arg: "cat", query: "cat", count: 10},
		{arg: "cat vibe && 3", query: "cat vibe", count: 3},
		{arg: "cat&&0", query: "cat", count: 10},
		{arg: "cat&&11", query: "cat", count: 10},
		{arg: "cat&&many", query: "cat", count: 10},
		{arg: "&&5", query: "", count: 5},
	}
	for _, tc := range cases {
		query, count := parseMemeQuery(tc.arg)
		if query != tc.query || count != tc.count {
			t.Fatalf("parseMemeQuery(%q) = %q, %d", tc.arg, query, count)
		}
	}
}

func TestFormatDurationAndTruncate(t *testing.T) {
	if got := formatDuration(75_400_000_000); got != "1:15" {
		t.Fatalf("unexpected duration %q", got)
	}
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	if got := truncate(long); len([]rune(got)) != maxTitleRunes {
		t.Fatalf("expected truncation to %d runes, got %d", maxTitleRunes, len([]rune(got)))
	}
}

func TestStickerVariant(t *testing.T) {
	cases := map[string]string{
		"":         media.VariantSticker,
		"square":   media.VariantStickerSquare,
		" Square ": media.VariantStickerSquare,
		"round":    media.VariantSticker,
	}
	for arg, want := range cases {
		if got := stickerVariant(arg); got != want {
			t.Fatalf("stickerVariant(%q) = %q, want %q", arg, got, want)
		}
	}
}
