package acquisition

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
	"github.com/dwizi/media-relay/internal/transform"
)

// plan is what a request turns into: the kind to upload as and the profile
// the source must be transformed to. An empty profile name means none.
type plan struct {
	kind    media.Kind
	profile transform.Profile
}

var audioExts = map[string]bool{".mp3": true, ".m4a": true, ".aac": true, ".ogg": true, ".opus": true, ".wav": true}

func planFor(req Request) plan {
	switch media.NormalizeVariant(req.Variant) {
	case media.VariantSticker:
		return plan{kind: media.KindSticker, profile: transform.StickerProfile}
	case media.VariantStickerSquare:
		return plan{kind: media.KindSticker, profile: transform.SquareStickerProfile}
	case media.VariantAudio:
		return plan{kind: media.KindAudio, profile: transform.AudioProfile}
	}
	if req.Candidate.Platform == media.PlatformKKPhim {
		return plan{kind: media.KindVideo, profile: transform.HLSRemuxProfile}
	}
	return plan{kind: media.KindVideo}
}

// profileFor decides on the transform once the source is known. HLS
// playlists always remux; audio files and plain mp4 downloads go up as is.
func (p plan) profileFor(sourcePath string) (transform.Profile, bool) {
	if isHLS(sourcePath) {
		return transform.HLSRemuxProfile, true
	}
	switch p.profile.Name {
	case "", transform.HLSRemuxProfile.Name:
		return transform.Profile{}, false
	case transform.AudioProfile.Name:
		if audioExts[strings.ToLower(filepath.Ext(sourcePath))] {
			return transform.Profile{}, false
		}
	}
	return p.profile, true
}

// validate applies the size and duration ceilings to the declared metadata.
// Sizes are checked again while downloading.
func validate(candidate media.Candidate, plan plan, maxBytes int64) error {
	if candidate.SizeBytes > 0 && maxBytes > 0 && candidate.SizeBytes > maxBytes {
		return mediaerr.Validation(sizeMessage(maxBytes))
	}
	if limit := plan.profile.MaxDuration; limit > 0 && candidate.Duration > limit {
		return mediaerr.Validation(fmt.Sprintf("Stickers can be at most %s long.", limit))
	}
	return nil
}

func sizeMessage(maxBytes int64) string {
	mb := maxBytes / (1024 * 1024)
	if mb < 1 {
		mb = 1
	}
	return fmt.Sprintf("The file is larger than %d MB.", mb)
}

func isHLS(locator string) bool {
	lower := strings.ToLower(strings.TrimSpace(locator))
	if idx := strings.IndexAny(lower, "?#"); idx >= 0 {
		lower = lower[:idx]
	}
	return strings.HasSuffix(lower, ".m3u8")
}
