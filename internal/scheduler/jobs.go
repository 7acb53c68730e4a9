package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/dwizi/media-relay/internal/acquisition"
	"github.com/dwizi/media-relay/internal/resolution"
)

const (
	OrphanCleanupSpec = "@every 10m"
	CacheGCSpec       = "@every 30m"
	CacheStatsSpec    = "@every 5m"
)

// GarbageCollector is a cache backend with an explicit compaction step.
type GarbageCollector interface {
	CollectGarbage() error
}

type CacheStats interface {
	Backend() string
	Stats() resolution.Stats
}

// OrphanCleanupJob removes job directories a crashed resolution left behind.
func OrphanCleanupJob(workDir string, maxAge time.Duration, logger *slog.Logger) Job {
	return Job{
		Name:    "orphan-cleanup",
		Spec:    OrphanCleanupSpec,
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			removed, err := acquisition.CleanupOrphans(workDir, maxAge, time.Now())
			if removed > 0 {
				logger.Info("orphaned job directories removed", "work_dir", workDir, "removed", removed)
			}
			return err
		},
	}
}

func CacheGCJob(collector GarbageCollector) Job {
	return Job{
		Name:    "cache-gc",
		Spec:    CacheGCSpec,
		Timeout: 10 * time.Minute,
		Run: func(ctx context.Context) error {
			return collector.CollectGarbage()
		},
	}
}

func CacheStatsJob(caches map[string]CacheStats, logger *slog.Logger) Job {
	return Job{
		Name: "cache-stats",
		Spec: CacheStatsSpec,
		Run: func(ctx context.Context) error {
			for transport, cache := range caches {
				stats := cache.Stats()
				logger.Info("resolution cache stats",
					"transport", transport,
					"backend", cache.Backend(),
					"hits", stats.Hits,
					"misses", stats.Misses,
					"puts", stats.Puts,
					"resolver_errors", stats.ResolverErrors,
					"storage_errors", stats.StorageErrors,
				)
			}
			return nil
		},
	}
}
