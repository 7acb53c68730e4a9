package replies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/selection"
)

type SessionStore interface {
	Name() string
	Consume(key, userID string) (selection.Session, error)
}

// Selection is a validated pick from a consumed session.
type Selection struct {
	Session   selection.Session
	Candidate media.Candidate
	Index     int
	Variant   string
	Event     Event
}

type SelectFunc func(ctx context.Context, picked Selection) error

type WarnFunc func(ctx context.Context, event Event, message string) error

// Matcher maps a reply body to a 1-based index into the session's candidates.
type Matcher func(session selection.Session, body string) (index int, variant string, ok bool)

type SelectionOption func(*SelectionHandler)

// WithMatcher replaces numeric parsing, e.g. for lists answered by label.
func WithMatcher(matcher Matcher) SelectionOption {
	return func(handler *SelectionHandler) {
		if matcher != nil {
			handler.match = matcher
		}
	}
}

func WithInvalidMessage(message func(selection.Session) string) SelectionOption {
	return func(handler *SelectionHandler) {
		if message != nil {
			handler.invalidMessage = message
		}
	}
}

// SelectionHandler correlates a reply with a pending list in one session store.
type SelectionHandler struct {
	store          SessionStore
	onSelect       SelectFunc
	warn           WarnFunc
	match          Matcher
	invalidMessage func(selection.Session) string
	logger         *slog.Logger
}

func NewSelectionHandler(store SessionStore, onSelect SelectFunc, warn WarnFunc, logger *slog.Logger, opts ...SelectionOption) *SelectionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	handler := &SelectionHandler{
		store:          store,
		onSelect:       onSelect,
		warn:           warn,
		match:          matchIndex,
		invalidMessage: invalidIndexMessage,
		logger:         logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

func matchIndex(_ selection.Session, body string) (int, string, bool) {
	index, variant, err := ParseSelection(body)
	if err != nil {
		return 0, "", false
	}
	return index, variant, true
}

func invalidIndexMessage(session selection.Session) string {
	return fmt.Sprintf("Invalid choice. Reply with a number between 1 and %d.", len(session.Candidates))
}

func (h *SelectionHandler) Name() string {
	return h.store.Name()
}

// TryHandle consumes the quoted session before looking at the reply body, so a
// bad index is reported and the list is not offered again.
func (h *SelectionHandler) TryHandle(ctx context.Context, event Event) (bool, error) {
	quoted := strings.TrimSpace(event.QuotedMessageID)
	if quoted == "" {
		return false, nil
	}
	session, err := h.store.Consume(quoted, event.ReplierID)
	if errors.Is(err, selection.ErrNotFound) || errors.Is(err, selection.ErrForbidden) {
		return false, nil
	}
	if err != nil {
		return true, err
	}

	index, variant, matched := h.match(session, event.Body)
	if !matched || index < 1 || index > len(session.Candidates) {
		message := h.invalidMessage(session)
		h.logger.Info("selection rejected",
			"flow", h.store.Name(),
			"session_key", session.Key,
			"body", strings.TrimSpace(event.Body),
		)
		if h.warn != nil {
			if err := h.warn(ctx, event, message); err != nil {
				return true, fmt.Errorf("send selection warning: %w", err)
			}
		}
		return true, nil
	}

	picked := Selection{
		Session:   session,
		Candidate: session.Candidates[index-1],
		Index:     index,
		Variant:   variant,
		Event:     event,
	}
	if h.onSelect == nil {
		return true, nil
	}
	if err := h.onSelect(ctx, picked); err != nil {
		h.logger.Error("selection processing failed",
			"flow", h.store.Name(),
			"session_key", session.Key,
			"content_id", picked.Candidate.ContentID,
			"error", err,
		)
	}
	return true, nil
}

type ReactFunc func(ctx context.Context, session selection.Session, reaction Reaction) error

// ReactionSessionHandler claims reactions on messages that have a pending
// follow-up session, e.g. a heart on a delivered video.
type ReactionSessionHandler struct {
	store   SessionStore
	emojis  map[string]struct{}
	onReact ReactFunc
	logger  *slog.Logger
}

func NewReactionSessionHandler(store SessionStore, emojis []string, onReact ReactFunc, logger *slog.Logger) *ReactionSessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	accepted := map[string]struct{}{}
	for _, emoji := range emojis {
		emoji = strings.TrimSpace(emoji)
		if emoji != "" {
			accepted[emoji] = struct{}{}
		}
	}
	return &ReactionSessionHandler{
		store:   store,
		emojis:  accepted,
		onReact: onReact,
		logger:  logger,
	}
}

func (h *ReactionSessionHandler) Name() string {
	return h.store.Name()
}

func (h *ReactionSessionHandler) TryHandleReaction(ctx context.Context, reaction Reaction) (bool, error) {
	if len(h.emojis) > 0 {
		if _, ok := h.emojis[strings.TrimSpace(reaction.Emoji)]; !ok {
			return false, nil
		}
	}
	session, err := h.store.Consume(reaction.MessageID, reaction.UserID)
	if errors.Is(err, selection.ErrNotFound) || errors.Is(err, selection.ErrForbidden) {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	if h.onReact == nil {
		return true, nil
	}
	if err := h.onReact(ctx, session, reaction); err != nil {
		h.logger.Error("reaction follow-up failed", "flow", h.store.Name(), "message_id", reaction.MessageID, "error", err)
	}
	return true, nil
}
