package replies

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dwizi/media-relay/internal/metrics"
)

// Event is an inbound message that quotes an earlier message.
type Event struct {
	Connector       string
	ThreadID        string
	MessageID       string
	QuotedMessageID string
	ReplierID       string
	Body            string
	Quote           *Attachment
}

// Attachment describes media carried by the quoted message, when the
// transport exposes it.
type Attachment struct {
	FileID       string
	FileUniqueID string
	URL          string
	FileName     string
	MimeType     string
	Width        int
	Height       int
	Duration     int
	SizeBytes    int64
}

// Reaction is an emoji reaction added to an earlier message.
type Reaction struct {
	Connector string
	ThreadID  string
	MessageID string
	UserID    string
	Emoji     string
}

type Handler interface {
	Name() string
	TryHandle(ctx context.Context, event Event) (bool, error)
}

type ReactionHandler interface {
	Name() string
	TryHandleReaction(ctx context.Context, reaction Reaction) (bool, error)
}

// Chain offers each event to its handlers in order until one claims it.
type Chain struct {
	handlers  []Handler
	reactions []ReactionHandler
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, handlers ...Handler) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	chain := &Chain{logger: logger}
	for _, handler := range handlers {
		if handler != nil {
			chain.handlers = append(chain.handlers, handler)
		}
	}
	return chain
}

func (c *Chain) AddReactionHandler(handler ReactionHandler) {
	if handler != nil {
		c.reactions = append(c.reactions, handler)
	}
}

// Dispatch reports whether any handler claimed the event. A handler error is
// logged and ends the walk: the handler owned the event even though it failed.
func (c *Chain) Dispatch(ctx context.Context, event Event) bool {
	if strings.TrimSpace(event.QuotedMessageID) == "" {
		return false
	}
	for _, handler := range c.handlers {
		handled, err := handler.TryHandle(ctx, event)
		if err != nil {
			c.logger.Error("reply handler failed",
				"handler", handler.Name(),
				"error", err,
				"thread_id", event.ThreadID,
				"quoted_message_id", event.QuotedMessageID,
			)
			metrics.ReplyDispatchTotal.WithLabelValues(handler.Name()).Inc()
			return true
		}
		if handled {
			metrics.ReplyDispatchTotal.WithLabelValues(handler.Name()).Inc()
			return true
		}
	}
	metrics.ReplyDispatchTotal.WithLabelValues("none").Inc()
	return false
}

func (c *Chain) DispatchReaction(ctx context.Context, reaction Reaction) bool {
	if strings.TrimSpace(reaction.MessageID) == "" {
		return false
	}
	for _, handler := range c.reactions {
		handled, err := handler.TryHandleReaction(ctx, reaction)
		if err != nil {
			c.logger.Error("reaction handler failed", "handler", handler.Name(), "error", err, "message_id", reaction.MessageID)
			return true
		}
		if handled {
			return true
		}
	}
	return false
}
