package tenor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
	"github.com/dwizi/media-relay/internal/sources"
)

const DefaultBaseURL = "https://tenor.googleapis.com"

// FormatPreference is the order media formats are picked in.
var FormatPreference = []string{"webp", "gif", "mediumgif", "nanogif", "mp4"}

type Client struct {
	baseURL    string
	apiKey     string
	clientKey  string
	httpClient *http.Client
}

func New(baseURL, apiKey, clientKey string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if strings.TrimSpace(clientKey) == "" {
		clientKey = "media-relay"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		clientKey:  strings.TrimSpace(clientKey),
		httpClient: httpClient,
	}
}

type searchResponse struct {
	Results []result `json:"results"`
	Next    string   `json:"next"`
}

type result struct {
	ID                 string                 `json:"id"`
	Title              string                 `json:"title"`
	ContentDescription string                 `json:"content_description"`
	ItemURL            string                 `json:"itemurl"`
	MediaFormats       map[string]mediaFormat `json:"media_formats"`
}

type mediaFormat struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
	Dims     []int   `json:"dims"`
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]media.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, mediaerr.Validation("Please include something to search for.")
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: tenor api key is not configured", mediaerr.ErrSourceUnavailable)
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("key", c.apiKey)
	params.Set("client_key", c.clientKey)
	params.Set("limit", strconv.Itoa(sources.ClampLimit(limit, 10, 50)))
	params.Set("contentfilter", "high")
	params.Set("media_filter", strings.Join(FormatPreference, ","))

	var payload searchResponse
	if err := sources.GetJSON(ctx, c.httpClient, c.baseURL+"/v2/search?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("tenor search: %w", err)
	}
	candidates := make([]media.Candidate, 0, len(payload.Results))
	for _, item := range payload.Results {
		candidate, ok := toCandidate(item)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func toCandidate(item result) (media.Candidate, bool) {
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return media.Candidate{}, false
	}
	variants := map[string]string{}
	preferred := ""
	for _, name := range FormatPreference {
		format, ok := item.MediaFormats[name]
		if !ok || strings.TrimSpace(format.URL) == "" {
			continue
		}
		variants[name] = strings.TrimSpace(format.URL)
		if preferred == "" {
			preferred = name
		}
	}
	if preferred == "" {
		return media.Candidate{}, false
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = strings.TrimSpace(item.ContentDescription)
	}
	if title == "" {
		title = "Untitled"
	}
	best := item.MediaFormats[preferred]
	return media.Candidate{
		Platform:       media.PlatformTenor,
		ContentID:      id,
		Title:          title,
		SourceURL:      variants[preferred],
		Variants:       variants,
		DefaultVariant: preferred,
		SizeBytes:      best.Size,
		Duration:       time.Duration(best.Duration * float64(time.Second)),
		Thumbnail:      strings.TrimSpace(item.ItemURL),
	}, true
}
