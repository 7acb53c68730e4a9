package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
)

const maxResponseBytes = 4 * 1024 * 1024

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]media.Candidate, error)
}

// GetJSON fetches rawURL and decodes the JSON body into out. Transport
// failures and non-2xx answers wrap mediaerr.ErrSourceUnavailable.
func GetJSON(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", mediaerr.ErrSourceUnavailable, err)
	}
	defer res.Body.Close()
	body, err := readAllLimited(res.Body, maxResponseBytes)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", mediaerr.ErrSourceUnavailable, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", mediaerr.ErrSourceUnavailable, res.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", mediaerr.ErrSourceUnavailable, err)
	}
	return nil
}

func readAllLimited(body io.Reader, maxBytes int64) ([]byte, error) {
	limited := &io.LimitedReader{R: body, N: maxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("response too large")
	}
	return data, nil
}

// ClampLimit keeps a requested result count within 1..max, using fallback
// when the request is out of range.
func ClampLimit(limit, fallback, max int) int {
	if limit < 1 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
