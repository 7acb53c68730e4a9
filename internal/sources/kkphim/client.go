package kkphim

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
	"github.com/dwizi/media-relay/internal/sources"
)

const DefaultBaseURL = "https://phimapi.com"

const episodeSeparator = "_ep"

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

// Episode is one playable entry of a title. URL points at an HLS playlist.
type Episode struct {
	Label string
	URL   string
}

type searchResponse struct {
	Status any `json:"status"`
	Data   struct {
		Items []struct {
			Name       string `json:"name"`
			Slug       string `json:"slug"`
			OriginName string `json:"origin_name"`
			Year       int    `json:"year"`
			PosterURL  string `json:"poster_url"`
		} `json:"items"`
		APPDomainCDNImage string `json:"APP_DOMAIN_CDN_IMAGE"`
	} `json:"data"`
}

type detailResponse struct {
	Movie struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"movie"`
	Episodes []struct {
		ServerName string `json:"server_name"`
		ServerData []struct {
			Name     string `json:"name"`
			Slug     string `json:"slug"`
			LinkM3U8 string `json:"link_m3u8"`
		} `json:"server_data"`
	} `json:"episodes"`
}

// Search returns titles. Candidates carry no locator; episodes do.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]media.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, mediaerr.Validation("Please include a title to search for.")
	}
	params := url.Values{}
	params.Set("keyword", query)
	params.Set("limit", strconv.Itoa(sources.ClampLimit(limit, 10, 30)))

	var payload searchResponse
	if err := sources.GetJSON(ctx, c.httpClient, c.baseURL+"/v1/api/tim-kiem?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("kkphim search: %w", err)
	}
	candidates := make([]media.Candidate, 0, len(payload.Data.Items))
	for _, item := range payload.Data.Items {
		title := strings.TrimSpace(item.Name)
		slug := strings.TrimSpace(item.Slug)
		if title == "" || slug == "" {
			continue
		}
		if item.Year > 0 {
			title = fmt.Sprintf("%s (%d)", title, item.Year)
		}
		candidates = append(candidates, media.Candidate{
			Platform:  media.PlatformKKPhim,
			ContentID: slug,
			Title:     title,
			Author:    strings.TrimSpace(item.OriginName),
			Thumbnail: posterURL(payload.Data.APPDomainCDNImage, item.PosterURL),
		})
	}
	return candidates, nil
}

// Episodes lists the first server's episodes for slug, deduplicated by label
// and in natural order.
func (c *Client) Episodes(ctx context.Context, slug string) ([]Episode, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, mediaerr.Validation("Missing title id.")
	}
	var payload detailResponse
	if err := sources.GetJSON(ctx, c.httpClient, c.baseURL+"/phim/"+url.PathEscape(slug), nil, &payload); err != nil {
		return nil, fmt.Errorf("kkphim episodes %s: %w", slug, err)
	}
	if len(payload.Episodes) == 0 {
		return nil, nil
	}
	seen := map[string]bool{}
	episodes := []Episode{}
	for _, item := range payload.Episodes[0].ServerData {
		label := strings.TrimSpace(item.Name)
		link := strings.TrimSpace(item.LinkM3U8)
		if label == "" || link == "" || seen[label] {
			continue
		}
		seen[label] = true
		episodes = append(episodes, Episode{Label: label, URL: link})
	}
	SortEpisodes(episodes)
	return episodes, nil
}

// RefreshLocator resolves an episode content id (slug_epLabel) to its
// current playlist URL.
func (c *Client) RefreshLocator(ctx context.Context, contentID, _ string) (string, error) {
	slug, label, ok := SplitEpisodeID(contentID)
	if !ok {
		return "", fmt.Errorf("%w: %q is not an episode id", mediaerr.ErrSourceUnavailable, contentID)
	}
	episodes, err := c.Episodes(ctx, slug)
	if err != nil {
		return "", err
	}
	episode, found := MatchEpisode(episodes, label)
	if !found {
		return "", fmt.Errorf("%w: episode %s of %s is gone", mediaerr.ErrSourceUnavailable, label, slug)
	}
	return episode.URL, nil
}

// MatchEpisode compares labels with all whitespace removed.
func MatchEpisode(episodes []Episode, input string) (Episode, bool) {
	want := stripSpace(input)
	if want == "" {
		return Episode{}, false
	}
	for _, episode := range episodes {
		if stripSpace(episode.Label) == want {
			return episode, true
		}
	}
	return Episode{}, false
}

// EpisodeCandidate builds the resolvable candidate for one episode of title.
func EpisodeCandidate(title media.Candidate, episode Episode) media.Candidate {
	return media.Candidate{
		Platform:  media.PlatformKKPhim,
		ContentID: EpisodeID(title.ContentID, episode.Label),
		Title:     fmt.Sprintf("%s - Episode %s", title.Title, episode.Label),
		Author:    title.Author,
		SourceURL: episode.URL,
		Thumbnail: title.Thumbnail,
	}
}

func EpisodeID(slug, label string) string {
	return strings.TrimSpace(slug) + episodeSeparator + stripSpace(label)
}

func SplitEpisodeID(contentID string) (string, string, bool) {
	idx := strings.LastIndex(contentID, episodeSeparator)
	if idx <= 0 || idx+len(episodeSeparator) >= len(contentID) {
		return "", "", false
	}
	return contentID[:idx], contentID[idx+len(episodeSeparator):], true
}

// Labels joins the episode labels for display.
func Labels(episodes []Episode) string {
	labels := make([]string, 0, len(episodes))
	for _, episode := range episodes {
		labels = append(labels, episode.Label)
	}
	return strings.Join(labels, ", ")
}

func SortEpisodes(episodes []Episode) {
	sort.SliceStable(episodes, func(i, j int) bool {
		a, errA := strconv.Atoi(episodes[i].Label)
		b, errB := strconv.Atoi(episodes[j].Label)
		if errA == nil && errB == nil {
			return a < b
		}
		return naturalLess(episodes[i].Label, episodes[j].Label)
	})
}

// naturalLess orders digit runs by value so "Tap 2" sorts before "Tap 10".
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		da, restA := leadingDigits(a)
		db, restB := leadingDigits(b)
		if da != "" && db != "" {
			na, _ := strconv.Atoi(da)
			nb, _ := strconv.Atoi(db)
			if na != nb {
				return na < nb
			}
			a, b = restA, restB
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingDigits(s string) (string, string) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end], s[end:]
}

func stripSpace(input string) string {
	return strings.Join(strings.Fields(input), "")
}

func posterURL(cdn, poster string) string {
	poster = strings.TrimSpace(poster)
	if poster == "" || strings.HasPrefix(poster, "http://") || strings.HasPrefix(poster, "https://") {
		return poster
	}
	cdn = strings.TrimRight(strings.TrimSpace(cdn), "/")
	if cdn == "" {
		return poster
	}
	return cdn + "/" + strings.TrimLeft(poster, "/")
}
