package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dwizi/media-relay/internal/config"
	"github.com/dwizi/media-relay/internal/heartbeat"
	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/resolution"
	"github.com/dwizi/media-relay/internal/scheduler"
)

// CacheAdmin is the slice of resolution.Cache the admin API needs.
type CacheAdmin interface {
	Backend() string
	Get(ctx context.Context, key resolution.Key) (media.ResolvedMedia, bool, error)
	Invalidate(ctx context.Context, key resolution.Key) error
	Stats() resolution.Stats
	Ping(ctx context.Context) error
}

type SessionCounter interface {
	Name() string
	Len() int
}

type JobStatusProvider interface {
	Status() []scheduler.JobStatus
}

type Dependencies struct {
	Config              config.Config
	Caches              map[string]CacheAdmin
	Sessions            []SessionCounter
	Jobs                JobStatusProvider
	ActiveJobs          func() int
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("/api/v1/cache", rt.handleCache)
	mux.Handle("/metrics", promhttp.Handler())

	perMinute := deps.Config.AdminRatePerMinute
	if perMinute < 1 {
		return mux
	}
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		}),
	)(mux)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
