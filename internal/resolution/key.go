package resolution

import (
	"fmt"
	"strings"

	"github.com/dwizi/media-relay/internal/media"
)

// Key identifies a resolved deliverable: platform, content id and an optional
// variant. Its string form is platform:contentId[:variant].
type Key struct {
	Platform  media.Platform
	ContentID string
	Variant   string
}

func NewKey(platform media.Platform, contentID, variant string) Key {
	return Key{
		Platform:  media.Platform(strings.ToLower(strings.TrimSpace(string(platform)))),
		ContentID: strings.TrimSpace(contentID),
		Variant:   media.NormalizeVariant(variant),
	}
}

func KeyFor(candidate media.Candidate, variant string) Key {
	return NewKey(candidate.Platform, candidate.ContentID, variant)
}

// Content ids are escaped in the string form so that a ':' inside one cannot
// be read back as the variant separator.
var (
	contentIDEscaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	contentIDUnescaper = strings.NewReplacer("%25", "%", "%3A", ":")
)

func (k Key) Valid() bool {
	return k.Platform != "" && k.ContentID != "" &&
		!strings.Contains(string(k.Platform), ":") &&
		!strings.Contains(k.Variant, ":")
}

func (k Key) String() string {
	id := contentIDEscaper.Replace(k.ContentID)
	if k.Variant == "" {
		return string(k.Platform) + ":" + id
	}
	return string(k.Platform) + ":" + id + ":" + k.Variant
}

// ParseKey reverses Key.String.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	var key Key
	switch len(parts) {
	case 2:
		key = NewKey(media.Platform(parts[0]), contentIDUnescaper.Replace(parts[1]), "")
	case 3:
		key = NewKey(media.Platform(parts[0]), contentIDUnescaper.Replace(parts[1]), parts[2])
	default:
		return Key{}, fmt.Errorf("invalid cache key %q: expected platform:contentId[:variant]", raw)
	}
	if !key.Valid() {
		return Key{}, fmt.Errorf("invalid cache key %q", raw)
	}
	return key, nil
}
