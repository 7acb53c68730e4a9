package kkphim

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/api/tim-kiem":
			if r.URL.Query().Get("keyword") != "tu tien" || r.URL.Query().Get("limit") != "10" {
				http.Error(w, "bad query", http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"status":"success","data":{"APP_DOMAIN_CDN_IMAGE":"https://img.example","items":[
				{"name":"Tien Nghich","slug":"tien-nghich","origin_name":"Renegade Immortal","year":2023,"poster_url":"upload/p.jpg"},
				{"name":"","slug":"nameless"}
			]}}`)
		case "/phim/tien-nghich":
			_, _ = io.WriteString(w, `{"movie":{"name":"Tien Nghich"},"episodes":[
				{"server_name":"#1","server_data":[
					{"name":"10","link_m3u8":"https://cdn.example/10.m3u8"},
					{"name":"2","link_m3u8":"https://cdn.example/2.m3u8"},
					{"name":"2","link_m3u8":"https://cdn.example/2-dup.m3u8"},
					{"name":"1 - 5","link_m3u8":"https://cdn.example/1-5.m3u8"},
					{"name":"3","link_m3u8":""}
				]},
				{"server_name":"#2","server_data":[{"name":"99","link_m3u8":"https://other.example/99.m3u8"}]}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSearchReturnsTitles(t *testing.T) {
	server := newTestServer(t)
	candidates, err := New(server.URL, server.Client()).Search(context.Background(), "tu tien", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []media.Candidate{{
		Platform:  media.PlatformKKPhim,
		ContentID: "tien-nghich",
		Title:     "Tien Nghich (2023)",
		Author:    "Renegade Immortal",
		Thumbnail: "https://img.example/upload/p.jpg",
	}}
	if diff := cmp.Diff(want, candidates); diff != "" {
		t.Fatalf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestEpisodesUseFirstServerDedupedAndSorted(t *testing.T) {
	server := newTestServer(t)
	episodes, err := New(server.URL, server.Client()).Episodes(context.Background(), "tien-nghich")
	if err != nil {
		t.Fatalf("episodes: %v", err)
	}
	want := []Episode{
		{Label: "1 - 5", URL: "https://cdn.example/1-5.m3u8"},
		{Label: "2", URL: "https://cdn.example/2.m3u8"},
		{Label: "10", URL: "https://cdn.example/10.m3u8"},
	}
	if diff := cmp.Diff(want, episodes); diff != "" {
		t.Fatalf("episodes mismatch (-want +got):\n%s", diff)
	}
	if Labels(episodes) != "1 - 5, 2, 10" {
		t.Fatalf("unexpected labels %q", Labels(episodes))
	}
}

func TestMatchEpisodeIgnoresWhitespace(t *testing.T) {
	episodes := []Episode{{Label: "1 - 5", URL: "a"}, {Label: "50", URL: "b"}}
	if got, ok := MatchEpisode(episodes, "1-5"); !ok || got.URL != "a" {
		t.Fatalf("expected match for 1-5, got %+v ok=%v", got, ok)
	}
	if got, ok := MatchEpisode(episodes, " 5 0 "); !ok || got.URL != "b" {
		t.Fatalf("expected match for 50, got %+v ok=%v", got, ok)
	}
	if _, ok := MatchEpisode(episodes, "7"); ok {
		t.Fatalf("unexpected match for 7")
	}
}

func TestEpisodeCandidateKey(t *testing.T) {
	title := media.Candidate{Platform: media.PlatformKKPhim, ContentID: "tien-nghich", Title: "Tien Nghich"}
	candidate := EpisodeCandidate(title, Episode{Label: "1 - 5", URL: "https://cdn.example/1-5.m3u8"})
	if candidate.ContentID != "tien-nghich_ep1-5" {
		t.Fatalf("unexpected content id %q", candidate.ContentID)
	}
	slug, label, ok := SplitEpisodeID(candidate.ContentID)
	if !ok || slug != "tien-nghich" || label != "1-5" {
		t.Fatalf("split returned %q %q %v", slug, label, ok)
	}
	if candidate.VariantURL("") != "https://cdn.example/1-5.m3u8" {
		t.Fatalf("unexpected locator %q", candidate.VariantURL(""))
	}
}

func TestRefreshLocatorFindsEpisode(t *testing.T) {
	server := newTestServer(t)
	client := New(server.URL, server.Client())
	locator, err := client.RefreshLocator(context.Background(), "tien-nghich_ep10", "")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if locator != "https://cdn.example/10.m3u8" {
		t.Fatalf("unexpected locator %q", locator)
	}
	if _, err := client.RefreshLocator(context.Background(), "tien-nghich_ep77", ""); !errors.Is(err, mediaerr.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable for missing episode, got %v", err)
	}
	if _, err := client.RefreshLocator(context.Background(), "tien-nghich", ""); !errors.Is(err, mediaerr.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable for title id, got %v", err)
	}
}

func TestNaturalOrder(t *testing.T) {
	episodes := []Episode{{Label: "Tap 10"}, {Label: "Tap 2"}, {Label: "Full"}, {Label: "Tap 1"}}
	SortEpisodes(episodes)
	got := Labels(episodes)
	if got != "Full, Tap 1, Tap 2, Tap 10" {
		t.Fatalf("unexpected order %q", got)
	}
}
