package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Environment        string
	LogLevel           string
	HTTPAddr           string
	DataDir            string
	DBPath             string
	WorkDir            string
	AdminRatePerMinute int

	AdminAPIURL         string
	AdminHTTPTimeoutSec int
	AdminTLSSkipVerify  bool
	AdminTLSCAFile      string
	AdminTLSCertFile    string
	AdminTLSKeyFile     string

	CacheBackend       string // memory | sqlite | redis | badger
	CacheMemoryEntries int
	CacheSingleflight  bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisPrefix        string
	BadgerPath         string

	SelectionTTLSec     int
	SelectionSweepSec   int
	ReactionTTLSec      int
	ListLimit           int
	CommandRatePerSec   float64
	CommandBurst        int
	ReactionEmojisCSV   string
	OrphanMaxAgeSec     int
	MaxDownloadBytes    int64
	FetchTimeoutSec     int
	TransformTimeoutSec int
	UploadTimeoutSec    int
	UserAgent           string

	FFmpegBinary           string
	MagickBinary           string
	TransformMethodTimeout int
	TransformMaxOutput     int

	TikTokAPIBase  string
	KKPhimAPIBase  string
	TenorAPIBase   string
	TenorAPIKey    string
	TenorClientKey string

	CommandSyncEnabled bool

	TelegramToken       string
	TelegramAPI         string
	TelegramPoll        int
	TelegramStagingChat string
	TelegramConcurrency int
	TelegramRatePerSec  float64
	TelegramRateBurst   int

	DiscordToken              string
	DiscordAPI                string
	DiscordWSURL              string
	DiscordApplicationID      string
	DiscordCommandGuildIDsCSV string
	DiscordStagingChannel     string

	HeartbeatEnabled     bool
	HeartbeatIntervalSec int
	HeartbeatStaleSec    int
	AlertConnector       string
	AlertThreadID        string
}

func FromEnv() Config {
	dataDir := stringOrDefault("MEDIA_RELAY_DATA_DIR", "/data")
	return Config{
		Environment:        stringOrDefault("MEDIA_RELAY_ENV", "development"),
		LogLevel:           stringOrDefault("MEDIA_RELAY_LOG_LEVEL", "info"),
		HTTPAddr:           stringOrDefault("MEDIA_RELAY_HTTP_ADDR", ":8080"),
		DataDir:            dataDir,
		DBPath:             stringOrDefault("MEDIA_RELAY_DB_PATH", filepath.Join(dataDir, "media-relay", "cache.sqlite")),
		WorkDir:            stringOrDefault("MEDIA_RELAY_WORK_DIR", filepath.Join(dataDir, "work")),
		AdminRatePerMinute: intOrDefault("MEDIA_RELAY_ADMIN_RATE_PER_MINUTE", 120),

		AdminAPIURL:         stringOrDefault("MEDIA_RELAY_ADMIN_API_URL", "http://127.0.0.1:8080"),
		AdminHTTPTimeoutSec: intOrDefault("MEDIA_RELAY_ADMIN_HTTP_TIMEOUT_SECONDS", 30),
		AdminTLSSkipVerify:  boolOrDefault("MEDIA_RELAY_ADMIN_TLS_SKIP_VERIFY", false),
		AdminTLSCAFile:      strings.TrimSpace(os.Getenv("MEDIA_RELAY_ADMIN_TLS_CA_FILE")),
		AdminTLSCertFile:    strings.TrimSpace(os.Getenv("MEDIA_RELAY_ADMIN_TLS_CERT_FILE")),
		AdminTLSKeyFile:     strings.TrimSpace(os.Getenv("MEDIA_RELAY_ADMIN_TLS_KEY_FILE")),

		CacheBackend:       strings.ToLower(stringOrDefault("MEDIA_RELAY_CACHE_BACKEND", "sqlite")),
		CacheMemoryEntries: intOrDefault("MEDIA_RELAY_CACHE_MEMORY_ENTRIES", 4096),
		CacheSingleflight:  boolOrDefault("MEDIA_RELAY_CACHE_SINGLEFLIGHT", true),
		RedisAddr:          strings.TrimSpace(os.Getenv("MEDIA_RELAY_REDIS_ADDR")),
		RedisPassword:      os.Getenv("MEDIA_RELAY_REDIS_PASSWORD"),
		RedisDB:            nonNegativeIntOrDefault("MEDIA_RELAY_REDIS_DB", 0),
		RedisPrefix:        stringOrDefault("MEDIA_RELAY_REDIS_PREFIX", "media-relay:"),
		BadgerPath:         stringOrDefault("MEDIA_RELAY_BADGER_PATH", filepath.Join(dataDir, "badger")),

		SelectionTTLSec:     intOrDefault("MEDIA_RELAY_SELECTION_TTL_SECONDS", 60),
		SelectionSweepSec:   intOrDefault("MEDIA_RELAY_SELECTION_SWEEP_SECONDS", 5),
		ReactionTTLSec:      intOrDefault("MEDIA_RELAY_REACTION_TTL_SECONDS", 180),
		ListLimit:           intOrDefault("MEDIA_RELAY_LIST_LIMIT", 10),
		CommandRatePerSec:   floatOrDefault("MEDIA_RELAY_COMMAND_RATE_PER_SECOND", 1),
		CommandBurst:        intOrDefault("MEDIA_RELAY_COMMAND_BURST", 5),
		ReactionEmojisCSV:   strings.TrimSpace(os.Getenv("MEDIA_RELAY_REACTION_EMOJIS")),
		OrphanMaxAgeSec:     intOrDefault("MEDIA_RELAY_ORPHAN_MAX_AGE_SECONDS", 3600),
		MaxDownloadBytes:    int64OrDefault("MEDIA_RELAY_MAX_DOWNLOAD_BYTES", 20*1024*1024),
		FetchTimeoutSec:     intOrDefault("MEDIA_RELAY_FETCH_TIMEOUT_SECONDS", 90),
		TransformTimeoutSec: intOrDefault("MEDIA_RELAY_TRANSFORM_TIMEOUT_SECONDS", 300),
		UploadTimeoutSec:    intOrDefault("MEDIA_RELAY_UPLOAD_TIMEOUT_SECONDS", 120),
		UserAgent:           stringOrDefault("MEDIA_RELAY_USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) media-relay/0.1"),

		FFmpegBinary:           stringOrDefault("MEDIA_RELAY_FFMPEG_BINARY", "ffmpeg"),
		MagickBinary:           stringOrDefault("MEDIA_RELAY_MAGICK_BINARY", "magick"),
		TransformMethodTimeout: intOrDefault("MEDIA_RELAY_TRANSFORM_METHOD_TIMEOUT_SECONDS", 120),
		TransformMaxOutput:     intOrDefault("MEDIA_RELAY_TRANSFORM_MAX_OUTPUT_BYTES", 64*1024),

		TikTokAPIBase:  stringOrDefault("MEDIA_RELAY_TIKTOK_API_BASE", "https://www.tikwm.com"),
		KKPhimAPIBase:  stringOrDefault("MEDIA_RELAY_KKPHIM_API_BASE", "https://phimapi.com"),
		TenorAPIBase:   stringOrDefault("MEDIA_RELAY_TENOR_API_BASE", "https://tenor.googleapis.com"),
		TenorAPIKey:    strings.TrimSpace(os.Getenv("MEDIA_RELAY_TENOR_API_KEY")),
		TenorClientKey: stringOrDefault("MEDIA_RELAY_TENOR_CLIENT_KEY", "media-relay"),

		CommandSyncEnabled: boolOrDefault("MEDIA_RELAY_COMMAND_SYNC_ENABLED", true),

		TelegramToken:       os.Getenv("MEDIA_RELAY_TELEGRAM_TOKEN"),
		TelegramAPI:         stringOrDefault("MEDIA_RELAY_TELEGRAM_API_BASE", "https://api.telegram.org"),
		TelegramPoll:        intOrDefault("MEDIA_RELAY_TELEGRAM_POLL_SECONDS", 25),
		TelegramStagingChat: strings.TrimSpace(os.Getenv("MEDIA_RELAY_TELEGRAM_STAGING_CHAT")),
		TelegramConcurrency: intOrDefault("MEDIA_RELAY_TELEGRAM_CONCURRENCY", 8),
		TelegramRatePerSec:  floatOrDefault("MEDIA_RELAY_TELEGRAM_RATE_PER_SECOND", 25),
		TelegramRateBurst:   intOrDefault("MEDIA_RELAY_TELEGRAM_RATE_BURST", 5),

		DiscordToken:              os.Getenv("MEDIA_RELAY_DISCORD_TOKEN"),
		DiscordAPI:                stringOrDefault("MEDIA_RELAY_DISCORD_API_BASE", "https://discord.com/api/v10"),
		DiscordWSURL:              stringOrDefault("MEDIA_RELAY_DISCORD_GATEWAY_URL", "wss://gateway.discord.gg/?v=10&encoding=json"),
		DiscordApplicationID:      strings.TrimSpace(os.Getenv("MEDIA_RELAY_DISCORD_APPLICATION_ID")),
		DiscordCommandGuildIDsCSV: strings.TrimSpace(os.Getenv("MEDIA_RELAY_DISCORD_COMMAND_GUILD_IDS")),
		DiscordStagingChannel:     strings.TrimSpace(os.Getenv("MEDIA_RELAY_DISCORD_STAGING_CHANNEL")),

		HeartbeatEnabled:     boolOrDefault("MEDIA_RELAY_HEARTBEAT_ENABLED", true),
		HeartbeatIntervalSec: intOrDefault("MEDIA_RELAY_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:    intOrDefault("MEDIA_RELAY_HEARTBEAT_STALE_SECONDS", 120),
		AlertConnector:       strings.ToLower(strings.TrimSpace(os.Getenv("MEDIA_RELAY_ALERT_CONNECTOR"))),
		AlertThreadID:        strings.TrimSpace(os.Getenv("MEDIA_RELAY_ALERT_THREAD_ID")),
	}
}

// Seconds converts one of the *Sec fields to a duration.
func Seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

// SplitCSV returns the trimmed, non-empty entries of a comma separated value.
func SplitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func nonNegativeIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func int64OrDefault(name string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
