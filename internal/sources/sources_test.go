package sources

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dwizi/media-relay/internal/mediaerr"
)

func TestGetJSONSendsHeadersAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "relay-test" {
			http.Error(w, "missing agent", http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, `{"name":"ok"}`)
	}))
	defer server.Close()

	var out struct {
		Name string `json:"name"`
	}
	if err := GetJSON(context.Background(), server.Client(), server.URL, map[string]string{"User-Agent": "relay-test"}, &out); err != nil {
		t.Fatalf("get json: %v", err)
	}
	if out.Name != "ok" {
		t.Fatalf("unexpected payload %+v", out)
	}
}

func TestGetJSONErrorsWrapSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			_, _ = io.WriteString(w, "{not json")
		case "/huge":
			_, _ = io.WriteString(w, `"`+strings.Repeat("a", maxResponseBytes+10)+`"`)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	for _, path := range []string{"/status", "/broken", "/huge"} {
		var out any
		err := GetJSON(context.Background(), server.Client(), server.URL+path, nil, &out)
		if !errors.Is(err, mediaerr.ErrSourceUnavailable) {
			t.Fatalf("%s: expected source unavailable, got %v", path, err)
		}
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct{ in, want int }{{0, 10}, {-3, 10}, {5, 5}, {99, 30}}
	for _, tc := range cases {
		if got := ClampLimit(tc.in, 10, 30); got != tc.want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
