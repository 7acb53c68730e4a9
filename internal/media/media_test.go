package media

import "testing"

func TestVariantURLFallsBackToDefaultAndSource(t *testing.T) {
	candidate := Candidate{
		Platform:       PlatformTikTok,
		ContentID:      "7301",
		SourceURL:      "https://cdn.example/source.mp4",
		DefaultVariant: "540p",
		Variants: map[string]string{
			"540p":  "https://cdn.example/540.mp4",
			"audio": "https://cdn.example/music.mp3",
		},
	}
	if got := candidate.VariantURL("AUDIO "); got != "https://cdn.example/music.mp3" {
		t.Fatalf("unexpected audio url %q", got)
	}
	if got := candidate.VariantURL("1080p"); got != "https://cdn.example/540.mp4" {
		t.Fatalf("expected default variant fallback, got %q", got)
	}
	candidate.DefaultVariant = ""
	if got := candidate.VariantURL("1080p"); got != "https://cdn.example/source.mp4" {
		t.Fatalf("expected source url fallback, got %q", got)
	}
	if !candidate.HasVariant("") || candidate.HasVariant("720p") {
		t.Fatal("unexpected HasVariant result")
	}
}

func TestResolvedMediaValid(t *testing.T) {
	if (ResolvedMedia{Platform: PlatformTenor, ContentID: "1"}).Valid() {
		t.Fatal("entry without deliverable url must be invalid")
	}
	if !(ResolvedMedia{Platform: PlatformTenor, ContentID: "1", DeliverableURL: "file-1"}).Valid() {
		t.Fatal("expected complete entry to be valid")
	}
}
