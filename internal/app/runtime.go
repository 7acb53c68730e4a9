package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dwizi/media-relay/internal/acquisition"
	"github.com/dwizi/media-relay/internal/config"
	"github.com/dwizi/media-relay/internal/connectors"
	"github.com/dwizi/media-relay/internal/connectors/discord"
	"github.com/dwizi/media-relay/internal/connectors/telegram"
	"github.com/dwizi/media-relay/internal/gateway"
	"github.com/dwizi/media-relay/internal/heartbeat"
	"github.com/dwizi/media-relay/internal/httpapi"
	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/resolution"
	"github.com/dwizi/media-relay/internal/scheduler"
	"github.com/dwizi/media-relay/internal/sources/kkphim"
	"github.com/dwizi/media-relay/internal/sources/tenor"
	"github.com/dwizi/media-relay/internal/sources/tiktok"
	"github.com/dwizi/media-relay/internal/transform"
)

const sourceRequestTimeout = 20 * time.Second

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	backend, err := openCacheBackend(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	runtime, err := build(cfg, backend, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return runtime, nil
}

func build(cfg config.Config, backend *cacheBackend, logger *slog.Logger) (*Runtime, error) {
	var heartbeatRegistry *heartbeat.Registry
	if cfg.HeartbeatEnabled {
		heartbeatRegistry = heartbeat.NewRegistry()
		heartbeatRegistry.Starting("runtime", "booting")
		heartbeatRegistry.Starting("scheduler", "initializing")
		heartbeatRegistry.Starting("api", "initializing")
	}

	sourceClient := &http.Client{Timeout: sourceRequestTimeout}
	videos := tiktok.New(cfg.TikTokAPIBase, cfg.UserAgent, sourceClient)
	movies := kkphim.New(cfg.KKPhimAPIBase, sourceClient)
	memes := tenor.New(cfg.TenorAPIBase, cfg.TenorAPIKey, cfg.TenorClientKey, sourceClient)

	mediaGateway, err := gateway.New(gateway.Config{
		ListLimit:      cfg.ListLimit,
		SelectionTTL:   config.Seconds(cfg.SelectionTTLSec),
		ReactionTTL:    config.Seconds(cfg.ReactionTTLSec),
		SweepInterval:  config.Seconds(cfg.SelectionSweepSec),
		ReactionEmojis: config.SplitCSV(cfg.ReactionEmojisCSV),
		CommandRate:    cfg.CommandRatePerSec,
		CommandBurst:   cfg.CommandBurst,
	}, gateway.Dependencies{
		Videos: videos,
		Movies: movies,
		Memes:  memes,
	}, logger.With("component", "gateway"))
	if err != nil {
		return nil, err
	}

	connectorList := []mediaConnector{}
	if strings.TrimSpace(cfg.TelegramToken) != "" {
		connectorList = append(connectorList, telegram.New(
			cfg.TelegramToken,
			cfg.TelegramAPI,
			cfg.TelegramPoll,
			mediaGateway,
			logger.With("connector", "telegram"),
			telegram.WithCommandSync(cfg.CommandSyncEnabled),
			telegram.WithStagingChat(cfg.TelegramStagingChat),
			telegram.WithConcurrency(cfg.TelegramConcurrency),
			telegram.WithRateLimit(cfg.TelegramRatePerSec, cfg.TelegramRateBurst),
		))
	} else if heartbeatRegistry != nil {
		heartbeatRegistry.Disabled("connector:telegram", "token missing")
	}
	if strings.TrimSpace(cfg.DiscordToken) != "" {
		connectorList = append(connectorList, discord.New(
			cfg.DiscordToken,
			cfg.DiscordAPI,
			cfg.DiscordWSURL,
			mediaGateway,
			logger.With("connector", "discord"),
			discord.WithCommandSync(cfg.CommandSyncEnabled),
			discord.WithCommandGuildIDs(config.SplitCSV(cfg.DiscordCommandGuildIDsCSV)),
			discord.WithApplicationID(cfg.DiscordApplicationID),
			discord.WithStagingChannel(cfg.DiscordStagingChannel),
		))
	} else if heartbeatRegistry != nil {
		heartbeatRegistry.Disabled("connector:discord", "token missing")
	}

	invoker := transform.NewDefaultChain(transform.Config{
		FFmpegBinary:   cfg.FFmpegBinary,
		MagickBinary:   cfg.MagickBinary,
		MethodTimeout:  config.Seconds(cfg.TransformMethodTimeout),
		MaxOutputBytes: cfg.TransformMaxOutput,
	}, logger.With("component", "transform"))

	caches := map[string]*resolution.Cache{}
	transports := map[string]connectors.Transport{}
	runnable := make([]connectors.Connector, 0, len(connectorList))
	for _, connector := range connectorList {
		name := strings.ToLower(strings.TrimSpace(connector.Name()))
		cache := backend.cacheFor(name, cfg.CacheSingleflight, logger)
		pipeline, err := acquisition.New(acquisition.Config{
			WorkDir:          cfg.WorkDir,
			MaxBytes:         cfg.MaxDownloadBytes,
			FetchTimeout:     config.Seconds(cfg.FetchTimeoutSec),
			TransformTimeout: config.Seconds(cfg.TransformTimeoutSec),
			UploadTimeout:    config.Seconds(cfg.UploadTimeoutSec),
			UserAgent:        cfg.UserAgent,
		}, cache, invoker, connector, logger.With("component", "acquisition", "connector", name),
			acquisition.WithRefresher(media.PlatformTikTok, videos),
			acquisition.WithRefresher(media.PlatformKKPhim, movies),
		)
		if err != nil {
			return nil, fmt.Errorf("build %s pipeline: %w", name, err)
		}
		mediaGateway.RegisterTransport(connector, pipeline)
		caches[name] = cache
		transports[name] = connector
		runnable = append(runnable, connector)
		if reporting, ok := connector.(heartbeatAware); ok && heartbeatRegistry != nil {
			reporting.SetHeartbeatReporter(heartbeatRegistry)
		}
	}
	if len(runnable) == 0 {
		logger.Warn("no chat connector configured; only the admin API will run")
	}
	if heartbeatRegistry != nil {
		for _, store := range mediaGateway.Stores() {
			store.SetHeartbeatReporter(heartbeatRegistry)
		}
	}

	schedulerService := scheduler.New(logger.With("component", "scheduler"))
	if heartbeatRegistry != nil {
		schedulerService.SetHeartbeatReporter(heartbeatRegistry)
	}
	jobs := []scheduler.Job{
		scheduler.OrphanCleanupJob(cfg.WorkDir, config.Seconds(cfg.OrphanMaxAgeSec), logger.With("component", "janitor")),
	}
	if len(caches) > 0 {
		stats := map[string]scheduler.CacheStats{}
		for name, cache := range caches {
			stats[name] = cache
		}
		jobs = append(jobs, scheduler.CacheStatsJob(stats, logger.With("component", "resolution")))
	}
	if collector, ok := backend.garbageCollector(); ok {
		jobs = append(jobs, scheduler.CacheGCJob(collector))
	}
	for _, job := range jobs {
		if err := schedulerService.Add(job); err != nil {
			return nil, err
		}
	}

	adminCaches := map[string]httpapi.CacheAdmin{}
	for name, cache := range caches {
		adminCaches[name] = cache
	}
	sessions := []httpapi.SessionCounter{}
	for _, store := range mediaGateway.Stores() {
		sessions = append(sessions, store)
	}
	handler := httpapi.NewRouter(httpapi.Dependencies{
		Config:              cfg,
		Caches:              adminCaches,
		Sessions:            sessions,
		Jobs:                schedulerService,
		ActiveJobs:          func() int { return acquisition.ActiveJobs(cfg.WorkDir) },
		Logger:              logger.With("component", "api"),
		Heartbeat:           heartbeatRegistry,
		HeartbeatStaleAfter: config.Seconds(cfg.HeartbeatStaleSec),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runtime := &Runtime{
		cfg:        cfg,
		logger:     logger,
		backend:    backend,
		caches:     caches,
		gateway:    mediaGateway,
		httpServer: httpServer,
		scheduler:  schedulerService,
		connectors: runnable,
		heartbeat:  heartbeatRegistry,
	}
	if heartbeatRegistry != nil {
		notifier := newHeartbeatNotifier(transports, cfg.AlertConnector, cfg.AlertThreadID, logger.With("component", "heartbeat-notifier"))
		runtime.heartbeatMonitor = heartbeat.NewMonitor(heartbeatRegistry, heartbeat.MonitorConfig{
			Interval:     config.Seconds(cfg.HeartbeatIntervalSec),
			StaleAfter:   config.Seconds(cfg.HeartbeatStaleSec),
			Logger:       logger.With("component", "heartbeat-monitor"),
			OnTransition: notifier.HandleTransition,
		})
	}
	return runtime, nil
}
