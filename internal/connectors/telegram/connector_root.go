package telegram

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dwizi/media-relay/internal/gateway"
	"github.com/dwizi/media-relay/internal/heartbeat"
	"github.com/dwizi/media-relay/internal/replies"
)

const (
	connectorName      = "telegram"
	heartbeatComponent = "connector:telegram"

	defaultConcurrency = 8
	defaultRatePerSec  = 25
	defaultRateBurst   = 5
	seenUpdatesSize    = 2048
	deliveredMemoSize  = 1024
	deliveredMemoTTL   = time.Minute
)

type CommandGateway interface {
	HandleMessage(ctx context.Context, input gateway.MessageInput) (gateway.MessageOutput, error)
	HandleReaction(ctx context.Context, reaction replies.Reaction) bool
}

type Connector struct {
	token         string
	apiBase       string
	pollSeconds   int
	commandSync   bool
	stagingChatID string
	gateway       CommandGateway
	httpClient    *http.Client
	apiClient     *http.Client
	logger        *slog.Logger
	botUsername   string
	offset        int64
	reporter      heartbeat.Reporter

	limiter   *rate.Limiter
	workers   *semaphore.Weighted
	seen      *lru.Cache[int64, struct{}]
	delivered *lru.Cache[string, uploadDelivery]
	now       func() time.Time
	inflight  sync.WaitGroup
}

// uploadDelivery remembers an upload that landed in the requesting chat, so
// the SendMedia that follows it does not post the file a second time.
type uploadDelivery struct {
	messageID  string
	uploadedAt time.Time
}

type Option func(*Connector)

func WithCommandSync(enabled bool) Option {
	return func(connector *Connector) {
		connector.commandSync = enabled
	}
}

// WithStagingChat uploads produced media to chatID first. The file id that
// comes back is reused for every later delivery of the same item.
func WithStagingChat(chatID string) Option {
	return func(connector *Connector) {
		connector.stagingChatID = strings.TrimSpace(chatID)
	}
}

// WithConcurrency bounds how many updates are handled at once.
func WithConcurrency(limit int) Option {
	return func(connector *Connector) {
		if limit > 0 {
			connector.workers = semaphore.NewWeighted(int64(limit))
		}
	}
}

// WithRateLimit paces outbound Bot API calls.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(connector *Connector) {
		if perSecond > 0 && burst > 0 {
			connector.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func New(token, apiBase string, pollSeconds int, commandGateway CommandGateway, logger *slog.Logger, opts ...Option) *Connector {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = "https://api.telegram.org"
	}
	if pollSeconds < 1 {
		pollSeconds = 25
	}
	if logger == nil {
		logger = slog.Default()
	}
	seen, _ := lru.New[int64, struct{}](seenUpdatesSize)
	delivered, _ := lru.New[string, uploadDelivery](deliveredMemoSize)
	connector := &Connector{
		token:       strings.TrimSpace(token),
		apiBase:     strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		pollSeconds: pollSeconds,
		commandSync: true,
		gateway:     commandGateway,
		httpClient: &http.Client{
			Timeout: time.Duration(pollSeconds+10) * time.Second,
		},
		apiClient: &http.Client{},
		logger:    logger,
		offset:    0,
		limiter:   rate.NewLimiter(defaultRatePerSec, defaultRateBurst),
		workers:   semaphore.NewWeighted(defaultConcurrency),
		seen:      seen,
		delivered: delivered,
		now:       time.Now,
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
