package media

import (
	"strings"
	"time"
)

type Platform string

const (
	PlatformTikTok   Platform = "tiktok"
	PlatformKKPhim   Platform = "kkphim"
	PlatformTenor    Platform = "tenor"
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
)

type Kind string

const (
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindSticker  Kind = "sticker"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

const (
	VariantAudio         = "audio"
	VariantSticker       = "sticker"
	VariantStickerSquare = "sticker_square"
)

// Candidate is one retrievable item returned by a search. Values are treated
// as immutable once a search produced them.
type Candidate struct {
	Platform       Platform          `json:"platform"`
	ContentID      string            `json:"content_id"`
	Title          string            `json:"title"`
	Author         string            `json:"author,omitempty"`
	AuthorURL      string            `json:"author_url,omitempty"`
	SourceURL      string            `json:"source_url"`
	Variants       map[string]string `json:"variants,omitempty"`
	DefaultVariant string            `json:"default_variant,omitempty"`
	SizeBytes      int64             `json:"size_bytes,omitempty"`
	Duration       time.Duration     `json:"duration,omitempty"`
	Thumbnail      string            `json:"thumbnail,omitempty"`
}

// HasVariant reports whether the candidate advertises a locator for variant.
func (c Candidate) HasVariant(variant string) bool {
	variant = NormalizeVariant(variant)
	if variant == "" {
		return true
	}
	_, ok := c.Variants[variant]
	return ok
}

// VariantURL returns the locator for variant, falling back to the default
// variant and finally to SourceURL.
func (c Candidate) VariantURL(variant string) string {
	variant = NormalizeVariant(variant)
	if variant != "" {
		if url := strings.TrimSpace(c.Variants[variant]); url != "" {
			return url
		}
	}
	if c.DefaultVariant != "" {
		if url := strings.TrimSpace(c.Variants[c.DefaultVariant]); url != "" {
			return url
		}
	}
	return strings.TrimSpace(c.SourceURL)
}

// ResolvedMedia is a deliverable produced by the acquisition pipeline.
type ResolvedMedia struct {
	Platform       Platform  `json:"platform"`
	ContentID      string    `json:"content_id"`
	Variant        string    `json:"variant,omitempty"`
	DeliverableURL string    `json:"deliverable_url"`
	Title          string    `json:"title,omitempty"`
	Author         string    `json:"author,omitempty"`
	Kind           Kind      `json:"kind,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

// Valid reports whether the entry is complete enough to be cached and delivered.
func (m ResolvedMedia) Valid() bool {
	return strings.TrimSpace(m.DeliverableURL) != "" &&
		strings.TrimSpace(string(m.Platform)) != "" &&
		strings.TrimSpace(m.ContentID) != ""
}

func NormalizeVariant(variant string) string {
	return strings.ToLower(strings.TrimSpace(variant))
}
