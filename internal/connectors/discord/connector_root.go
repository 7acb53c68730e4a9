package discord

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/dwizi/media-relay/internal/gateway"
	"github.com/dwizi/media-relay/internal/heartbeat"
	"github.com/dwizi/media-relay/internal/replies"
)

const (
	connectorName      = "discord"
	heartbeatComponent = "connector:discord"
	userAgent          = "media-relay/0.1"

	discordIntentGuilds                 = 1 << 0
	discordIntentGuildMessages          = 1 << 9
	discordIntentGuildMessageReactions  = 1 << 10
	discordIntentDirectMessages         = 1 << 12
	discordIntentDirectMessageReactions = 1 << 13
	discordIntentMessageContents        = 1 << 15

	defaultRatePerSec = 40
	defaultRateBurst  = 5
	deliveredMemoSize = 1024
)

type CommandGateway interface {
	HandleMessage(ctx context.Context, input gateway.MessageInput) (gateway.MessageOutput, error)
	HandleReaction(ctx context.Context, reaction replies.Reaction) bool
}

type Connector struct {
	token            string
	apiBase          string
	gatewayURL       string
	commandSync      bool
	commandGuildIDs  []string
	applicationID    string
	stagingChannelID string
	gateway          CommandGateway
	httpClient       *http.Client
	logger           *slog.Logger
	botUser          atomic.Value
	reporter         heartbeat.Reporter

	limiter   *rate.Limiter
	delivered *lru.Cache[string, string]
	inflight  sync.WaitGroup
}

type Option func(*Connector)

func WithCommandSync(enabled bool) Option {
	return func(connector *Connector) {
		connector.commandSync = enabled
	}
}

func WithCommandGuildIDs(guildIDs []string) Option {
	return func(connector *Connector) {
		clean := make([]string, 0, len(guildIDs))
		seen := map[string]struct{}{}
		for _, guildID := range guildIDs {
			value := strings.TrimSpace(guildID)
			if value == "" {
				continue
			}
			if _, exists := seen[value]; exists {
				continue
			}
			seen[value] = struct{}{}
			clean = append(clean, value)
		}
		connector.commandGuildIDs = clean
	}
}

func WithApplicationID(applicationID string) Option {
	return func(connector *Connector) {
		connector.applicationID = strings.TrimSpace(applicationID)
	}
}

// WithStagingChannel uploads produced media to channelID first and reuses
// the returned attachment URL for later deliveries.
func WithStagingChannel(channelID string) Option {
	return func(connector *Connector) {
		connector.stagingChannelID = strings.TrimSpace(channelID)
	}
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(connector *Connector) {
		if perSecond > 0 && burst > 0 {
			connector.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func New(token, apiBase, gatewayURL string, commandGateway CommandGateway, logger *slog.Logger, opts ...Option) *Connector {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = "https://discord.com/api/v10"
	}
	if strings.TrimSpace(gatewayURL) == "" {
		gatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	}
	if logger == nil {
		logger = slog.Default()
	}
	delivered, _ := lru.New[string, string](deliveredMemoSize)
	connector := &Connector{
		token:       strings.TrimSpace(token),
		apiBase:     strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		gatewayURL:  strings.TrimSpace(gatewayURL),
		commandSync: true,
		gateway:     commandGateway,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		logger:      logger,
		limiter:     rate.NewLimiter(defaultRatePerSec, defaultRateBurst),
		delivered:   delivered,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(connector)
		}
	}
	return connector
}

func (c *Connector) Name() string {
	return connectorName
}

func (c *Connector) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	c.reporter = reporter
}
