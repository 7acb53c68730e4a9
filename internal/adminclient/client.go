package adminclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dwizi/media-relay/internal/config"
	"github.com/dwizi/media-relay/internal/heartbeat"
	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/scheduler"
)

// ErrNotCached is returned by GetCache when the key has no entry.
var ErrNotCached = errors.New("not cached")

type Client struct {
	baseURL string
	http    *http.Client
}

type CacheInfo struct {
	Backend        string `json:"backend"`
	Hits           int64  `json:"hits"`
	Misses         int64  `json:"misses"`
	Puts           int64  `json:"puts"`
	ResolverErrors int64  `json:"resolver_errors"`
	StorageErrors  int64  `json:"storage_errors"`
}

type Info struct {
	Name        string                `json:"name"`
	Environment string                `json:"environment"`
	Sessions    map[string]int        `json:"sessions"`
	Caches      map[string]CacheInfo  `json:"caches"`
	ActiveJobs  int                   `json:"active_jobs"`
	Scheduler   []scheduler.JobStatus `json:"scheduler"`
}

type CacheEntry struct {
	Connector string              `json:"connector"`
	Key       string              `json:"key"`
	Entry     media.ResolvedMedia `json:"entry"`
}

func New(cfg config.Config) (*Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.AdminTLSSkipVerify,
	}
	if cfg.AdminTLSCAFile != "" {
		caBytes, err := os.ReadFile(cfg.AdminTLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read admin tls ca file: %w", err)
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(caBytes); !ok {
			return nil, fmt.Errorf("parse admin tls ca file")
		}
		tlsConfig.RootCAs = certPool
	}
	if cfg.AdminTLSCertFile != "" || cfg.AdminTLSKeyFile != "" {
		if cfg.AdminTLSCertFile == "" || cfg.AdminTLSKeyFile == "" {
			return nil, fmt.Errorf("both MEDIA_RELAY_ADMIN_TLS_CERT_FILE and MEDIA_RELAY_ADMIN_TLS_KEY_FILE are required")
		}
		clientCert, err := tls.LoadX509KeyPair(cfg.AdminTLSCertFile, cfg.AdminTLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load admin tls client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}
	timeout := time.Duration(cfg.AdminHTTPTimeoutSec) * time.Second
	if timeout < time.Second {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.AdminAPIURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
			Timeout: timeout,
		},
	}, nil
}

func (c *Client) Info(ctx context.Context) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/info", nil)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := c.doJSON(req, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

func (c *Client) Heartbeat(ctx context.Context) (heartbeat.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/heartbeat", nil)
	if err != nil {
		return heartbeat.Snapshot{}, err
	}
	var snapshot heartbeat.Snapshot
	if err := c.doJSON(req, &snapshot); err != nil {
		return heartbeat.Snapshot{}, err
	}
	return snapshot, nil
}

func (c *Client) GetCache(ctx context.Context, connector, key string) (CacheEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cacheURL(connector, key), nil)
	if err != nil {
		return CacheEntry{}, err
	}
	var entry CacheEntry
	if err := c.doJSON(req, &entry); err != nil {
		return CacheEntry{}, err
	}
	return entry, nil
}

func (c *Client) InvalidateCache(ctx context.Context, connector, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cacheURL(connector, key), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

func (c *Client) cacheURL(connector, key string) string {
	query := url.Values{}
	query.Set("key", strings.TrimSpace(key))
	if connector = strings.TrimSpace(connector); connector != "" {
		query.Set("connector", connector)
	}
	return c.baseURL + "/api/v1/cache?" + query.Encode()
}

func (c *Client) doJSON(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var apiError struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiError)
		if strings.TrimSpace(apiError.Error) == "" {
			apiError.Error = res.Status
		}
		if res.StatusCode == http.StatusNotFound && apiError.Error == "not cached" {
			return ErrNotCached
		}
		return errors.New(apiError.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
