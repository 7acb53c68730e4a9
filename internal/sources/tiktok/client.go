package tiktok

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
	"github.com/dwizi/media-relay/internal/sources"
)

const (
	DefaultBaseURL = "https://www.tikwm.com"

	VariantSD = "540p"
	VariantHD = "720p"
)

type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func New(baseURL, userAgent string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		userAgent:  strings.TrimSpace(userAgent),
		httpClient: httpClient,
	}
}

type searchResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Videos []video `json:"videos"`
	} `json:"data"`
}

type detailResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *video `json:"data"`
}

type video struct {
	ID        string `json:"id"`
	VideoID   string `json:"video_id"`
	Title     string `json:"title"`
	Cover     string `json:"cover"`
	Duration  int    `json:"duration"`
	Play      string `json:"play"`
	HDPlay    string `json:"hdplay"`
	Size      int64  `json:"size"`
	HDSize    int64  `json:"hd_size"`
	Music     string `json:"music"`
	MusicInfo struct {
		Play   string `json:"play"`
		Title  string `json:"title"`
		Author string `json:"author"`
	} `json:"music_info"`
	Author struct {
		UniqueID string `json:"unique_id"`
		Nickname string `json:"nickname"`
	} `json:"author"`
}

func (v video) contentID() string {
	if strings.TrimSpace(v.VideoID) != "" {
		return strings.TrimSpace(v.VideoID)
	}
	return strings.TrimSpace(v.ID)
}

func (v video) musicURL() string {
	if strings.TrimSpace(v.MusicInfo.Play) != "" {
		return strings.TrimSpace(v.MusicInfo.Play)
	}
	return strings.TrimSpace(v.Music)
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]media.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, mediaerr.Validation("Please include something to search for.")
	}
	params := url.Values{}
	params.Set("keywords", query)
	params.Set("count", fmt.Sprint(sources.ClampLimit(limit, 10, 30)))
	params.Set("cursor", "0")
	params.Set("HD", "1")

	var payload searchResponse
	if err := sources.GetJSON(ctx, c.httpClient, c.baseURL+"/api/feed/search?"+params.Encode(), c.headers(), &payload); err != nil {
		return nil, fmt.Errorf("tiktok search: %w", err)
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("%w: tiktok search: %s", mediaerr.ErrSourceUnavailable, payload.Msg)
	}
	candidates := make([]media.Candidate, 0, len(payload.Data.Videos))
	for _, item := range payload.Data.Videos {
		if item.contentID() == "" {
			continue
		}
		candidates = append(candidates, c.toCandidate(item))
	}
	return candidates, nil
}

// Lookup fetches the current metadata for one video.
func (c *Client) Lookup(ctx context.Context, contentID string) (media.Candidate, error) {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return media.Candidate{}, mediaerr.Validation("Missing video id.")
	}
	return c.lookup(ctx, "https://www.tiktok.com/@/video/"+contentID, contentID)
}

// LookupURL resolves a shared video link, including vm./vt. short links.
func (c *Client) LookupURL(ctx context.Context, link string) (media.Candidate, error) {
	link = ExtractURL(link)
	if link == "" {
		return media.Candidate{}, mediaerr.Validation("That is not a TikTok link.")
	}
	return c.lookup(ctx, link, "")
}

func (c *Client) lookup(ctx context.Context, link, contentID string) (media.Candidate, error) {
	params := url.Values{}
	params.Set("url", link)
	params.Set("hd", "1")

	var payload detailResponse
	if err := sources.GetJSON(ctx, c.httpClient, c.baseURL+"/api/?"+params.Encode(), c.headers(), &payload); err != nil {
		return media.Candidate{}, fmt.Errorf("tiktok lookup %s: %w", link, err)
	}
	if payload.Code != 0 || payload.Data == nil {
		return media.Candidate{}, fmt.Errorf("%w: tiktok lookup %s: %s", mediaerr.ErrSourceUnavailable, link, payload.Msg)
	}
	item := *payload.Data
	if item.contentID() == "" {
		item.ID = contentID
	}
	if item.contentID() == "" {
		return media.Candidate{}, fmt.Errorf("%w: tiktok lookup %s returned no id", mediaerr.ErrSourceUnavailable, link)
	}
	return c.toCandidate(item), nil
}

var linkPattern = regexp.MustCompile(`(?i)https?://((?:vm|vt|www|m)\.)?tiktok\.com/\S+`)

// ExtractURL returns the first TikTok link in text, or "".
func ExtractURL(text string) string {
	return linkPattern.FindString(text)
}

// RefreshLocator returns a fresh download URL for the video's variant.
func (c *Client) RefreshLocator(ctx context.Context, contentID, variant string) (string, error) {
	candidate, err := c.Lookup(ctx, contentID)
	if err != nil {
		return "", err
	}
	locator := candidate.VariantURL(variant)
	if locator == "" {
		return "", fmt.Errorf("%w: tiktok %s has no %q locator", mediaerr.ErrSourceUnavailable, contentID, variant)
	}
	return locator, nil
}

func (c *Client) toCandidate(item video) media.Candidate {
	variants := map[string]string{}
	if play := c.absolute(item.Play); play != "" {
		variants[VariantSD] = play
	}
	if hd := c.absolute(item.HDPlay); hd != "" {
		variants[VariantHD] = hd
	}
	if music := c.absolute(item.musicURL()); music != "" {
		variants[media.VariantAudio] = music
	}
	author := strings.TrimSpace(item.Author.Nickname)
	authorURL := ""
	if handle := strings.TrimSpace(item.Author.UniqueID); handle != "" {
		if author == "" {
			author = handle
		} else {
			author = fmt.Sprintf("%s (@%s)", author, handle)
		}
		authorURL = "https://www.tiktok.com/@" + handle
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "No description"
	}
	return media.Candidate{
		Platform:       media.PlatformTikTok,
		ContentID:      item.contentID(),
		Title:          title,
		Author:         author,
		AuthorURL:      authorURL,
		SourceURL:      variants[VariantSD],
		Variants:       variants,
		DefaultVariant: VariantSD,
		SizeBytes:      item.Size,
		Duration:       time.Duration(item.Duration) * time.Second,
		Thumbnail:      c.absolute(item.Cover),
	}
}

// absolute expands the relative paths the API returns for some mirrors.
func (c *Client) absolute(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return c.baseURL + "/" + strings.TrimLeft(raw, "/")
}

func (c *Client) headers() map[string]string {
	if c.userAgent == "" {
		return nil
	}
	return map[string]string{"User-Agent": c.userAgent}
}
