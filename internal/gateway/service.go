package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/dwizi/media-relay/internal/acquisition"
	"github.com/dwizi/media-relay/internal/connectors"
	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
	"github.com/dwizi/media-relay/internal/replies"
	"github.com/dwizi/media-relay/internal/selection"
	"github.com/dwizi/media-relay/internal/sources"
	"github.com/dwizi/media-relay/internal/sources/kkphim"
)

const (
	flowVideo    = "video"
	flowMovie    = "movie"
	flowMeme     = "meme"
	flowReaction = "reaction"

	stageTitle   = "title"
	stageEpisode = "episode"
	stageAuthor  = "author"

	defaultListLimit    = 10
	defaultReactionTTL  = 180 * time.Second
	defaultCommandRate  = 1
	defaultCommandBurst = 5
	limiterCacheSize    = 4096
)

var defaultReactionEmojis = []string{"❤", "❤️", "👍", "😍"}

// Resolver turns a picked candidate into a deliverable for one transport.
type Resolver interface {
	Resolve(ctx context.Context, req acquisition.Request) (media.ResolvedMedia, error)
}

type MovieSource interface {
	sources.Searcher
	Episodes(ctx context.Context, slug string) ([]kkphim.Episode, error)
}

// VideoLinkLookup is implemented by video sources that accept shared links.
type VideoLinkLookup interface {
	LookupURL(ctx context.Context, link string) (media.Candidate, error)
}

// FileLocator is implemented by transports that can turn a file id from a
// quoted message into a downloadable URL.
type FileLocator interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

type Dependencies struct {
	Videos sources.Searcher
	Movies MovieSource
	Memes  sources.Searcher
}

type Config struct {
	ListLimit      int
	SelectionTTL   time.Duration
	ReactionTTL    time.Duration
	SettleWait     time.Duration
	SweepInterval  time.Duration
	ReactionEmojis []string
	CommandRate    float64
	CommandBurst   int
}

type MessageInput struct {
	Connector       string
	ExternalID      string
	DisplayName     string
	FromUserID      string
	MessageID       string
	Text            string
	QuotedMessageID string
	Quote           *replies.Attachment
}

type MessageOutput struct {
	Handled bool
	Reply   string
}

type endpoint struct {
	transport connectors.Transport
	resolver  Resolver
}

type Service struct {
	cfg       Config
	deps      Dependencies
	videos    *selection.Store
	movies    *selection.Store
	memes     *selection.Store
	reactions *selection.Store
	chain     *replies.Chain
	limiters  *lru.Cache[string, *rate.Limiter]
	logger    *slog.Logger

	mu        sync.RWMutex
	endpoints map[string]endpoint
}

func New(cfg Config, deps Dependencies, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ListLimit < 1 {
		cfg.ListLimit = defaultListLimit
	}
	if cfg.SelectionTTL <= 0 {
		cfg.SelectionTTL = selection.DefaultTTL
	}
	if cfg.ReactionTTL <= 0 {
		cfg.ReactionTTL = defaultReactionTTL
	}
	if len(cfg.ReactionEmojis) == 0 {
		cfg.ReactionEmojis = defaultReactionEmojis
	}
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = defaultCommandRate
	}
	if cfg.CommandBurst < 1 {
		cfg.CommandBurst = defaultCommandBurst
	}
	limiters, err := lru.New[string, *rate.Limiter](limiterCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create command limiter cache: %w", err)
	}

	newStore := func(name string, ttl time.Duration) *selection.Store {
		return selection.New(selection.Config{
			Name:          name,
			TTL:           ttl,
			SweepInterval: cfg.SweepInterval,
			SettleWait:    cfg.SettleWait,
		}, logger.With("component", "selection", "flow", name))
	}
	s := &Service{
		cfg:       cfg,
		deps:      deps,
		videos:    newStore(flowVideo, cfg.SelectionTTL),
		movies:    newStore(flowMovie, cfg.SelectionTTL),
		memes:     newStore(flowMeme, cfg.SelectionTTL),
		reactions: newStore(flowReaction, cfg.ReactionTTL),
		limiters:  limiters,
		logger:    logger,
		endpoints: map[string]endpoint{},
	}

	chainLogger := logger.With("component", "replies")
	s.chain = replies.NewChain(chainLogger,
		replies.NewSelectionHandler(s.videos, s.onVideoSelected, s.warn, chainLogger),
		replies.NewSelectionHandler(s.movies, s.onMovieSelected, s.warn, chainLogger,
			replies.WithMatcher(matchMovieReply),
			replies.WithInvalidMessage(invalidMovieReply),
		),
		replies.NewSelectionHandler(s.memes, s.onMemeSelected, s.warn, chainLogger),
	)
	s.chain.AddReactionHandler(replies.NewReactionSessionHandler(s.reactions, cfg.ReactionEmojis, s.onReaction, chainLogger))
	return s, nil
}

// RegisterTransport makes a connector reachable by name. Deliverables for
// that connector are produced by resolver.
func (s *Service) RegisterTransport(transport connectors.Transport, resolver Resolver) {
	if transport == nil || resolver == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[transport.Name()] = endpoint{transport: transport, resolver: resolver}
}

func (s *Service) endpoint(connector string) (endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[connector]
	if !ok {
		return endpoint{}, fmt.Errorf("no transport registered for connector %q", connector)
	}
	return ep, nil
}

// Stores returns the selection stores so the runtime can run their sweepers.
func (s *Service) Stores() []*selection.Store {
	return []*selection.Store{s.videos, s.movies, s.memes, s.reactions}
}

func (s *Service) ReplyChain() *replies.Chain {
	return s.chain
}

func (s *Service) HandleMessage(ctx context.Context, input MessageInput) (MessageOutput, error) {
	text := strings.TrimSpace(input.Text)
	command, arg, isCommand := splitCommand(text)
	if !isCommand {
		if strings.TrimSpace(input.QuotedMessageID) == "" || text == "" {
			return MessageOutput{}, nil
		}
		handled := s.chain.Dispatch(ctx, replies.Event{
			Connector:       input.Connector,
			ThreadID:        input.ExternalID,
			MessageID:       input.MessageID,
			QuotedMessageID: input.QuotedMessageID,
			ReplierID:       userKey(input.Connector, input.FromUserID),
			Body:            text,
			Quote:           input.Quote,
		})
		return MessageOutput{Handled: handled}, nil
	}

	switch command {
	case "video", "movie", "meme", "sticker":
		if !s.allow(input) {
			return MessageOutput{Handled: true, Reply: "Slow down a little and try again in a moment."}, nil
		}
	}

	switch command {
	case "video":
		return s.handleVideo(ctx, input, arg)
	case "movie":
		return s.handleMovie(ctx, input, arg)
	case "meme":
		return s.handleMeme(ctx, input, arg)
	case "sticker":
		return s.handleSticker(ctx, input, arg)
	case "leave":
		return s.handleLeave(input)
	case "help", "start":
		return MessageOutput{Handled: true, Reply: formatHelp()}, nil
	default:
		return MessageOutput{}, nil
	}
}

// HandleReaction routes an emoji reaction to the follow-up sessions.
func (s *Service) HandleReaction(ctx context.Context, reaction replies.Reaction) bool {
	reaction.UserID = userKey(reaction.Connector, reaction.UserID)
	return s.chain.DispatchReaction(ctx, reaction)
}

func (s *Service) handleLeave(input MessageInput) (MessageOutput, error) {
	user := userKey(input.Connector, input.FromUserID)
	removed := 0
	for _, store := range s.Stores() {
		removed += store.Leave(user)
	}
	if removed == 0 {
		return MessageOutput{Handled: true, Reply: "You have no pending selections."}, nil
	}
	return MessageOutput{Handled: true, Reply: fmt.Sprintf("Cancelled %d pending selection(s).", removed)}, nil
}

func (s *Service) allow(input MessageInput) bool {
	key := userKey(input.Connector, input.FromUserID)
	limiter, ok := s.limiters.Get(key)
	if !ok {
		// Concurrent first commands from one user must share a limiter.
		limiter = rate.NewLimiter(rate.Limit(s.cfg.CommandRate), s.cfg.CommandBurst)
		if existing, found, _ := s.limiters.PeekOrAdd(key, limiter); found {
			limiter = existing
		}
	}
	return limiter.Allow()
}

func (s *Service) warn(ctx context.Context, event replies.Event, message string) error {
	ep, err := s.endpoint(event.Connector)
	if err != nil {
		return err
	}
	return ep.transport.SendText(ctx, event.ThreadID, message)
}

// report tells the user why their request failed and returns err for logging.
func (s *Service) report(ctx context.Context, transport connectors.Transport, threadID string, err error) error {
	if err == nil {
		return nil
	}
	if sendErr := transport.SendText(ctx, threadID, mediaerr.UserMessage(err)); sendErr != nil {
		return errors.Join(err, fmt.Errorf("send failure notice: %w", sendErr))
	}
	return err
}

// userKey scopes user ids per connector so sessions never cross platforms.
func userKey(connector, userID string) string {
	return strings.TrimSpace(connector) + ":" + strings.TrimSpace(userID)
}
