package replies

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/selection"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(name string) *selection.Store {
	return selection.New(selection.Config{Name: name, TTL: time.Minute, SettleWait: 10 * time.Millisecond}, discardLogger())
}

func threeCandidates() []media.Candidate {
	return []media.Candidate{
		{Platform: media.PlatformTikTok, ContentID: "A"},
		{Platform: media.PlatformTikTok, ContentID: "B"},
		{Platform: media.PlatformTikTok, ContentID: "C"},
	}
}

type recorder struct {
	selections []Selection
	warnings   []string
	selectErr  error
}

func (r *recorder) onSelect(ctx context.Context, picked Selection) error {
	r.selections = append(r.selections, picked)
	return r.selectErr
}

func (r *recorder) warn(ctx context.Context, event Event, message string) error {
	r.warnings = append(r.warnings, message)
	return nil
}

type stubHandler struct {
	name    string
	handled bool
	err     error
	calls   int
}

func (s *stubHandler) Name() string { return s.name }

func (s *stubHandler) TryHandle(ctx context.Context, event Event) (bool, error) {
	s.calls++
	return s.handled, s.err
}

func TestParseSelection(t *testing.T) {
	cases := []struct {
		body    string
		index   int
		variant string
		wantErr bool
	}{
		{body: "3", index: 3},
		{body: " 3 Audio ", index: 3, variant: "audio"},
		{body: "#2 720p", index: 2, variant: "720p"},
		{body: "@bot 1", index: 1},
		{body: "1.", index: 1},
		{body: "abc", wantErr: true},
		{body: "   ", wantErr: true},
	}
	for _, tc := range cases {
		index, variant, err := ParseSelection(tc.body)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.body)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parse %q: %v", tc.body, err)
		}
		if index != tc.index || variant != tc.variant {
			t.Fatalf("parse %q: got (%d, %q)", tc.body, index, variant)
		}
	}
}

func TestSelectionHandlerHandsCandidateToFlow(t *testing.T) {
	store := newStore("video")
	store.Create("list-1", "U1", threeCandidates())
	rec := &recorder{}
	handler := NewSelectionHandler(store, rec.onSelect, rec.warn, discardLogger())

	handled, err := handler.TryHandle(context.Background(), Event{QuotedMessageID: "list-1", ReplierID: "U1", Body: "2 audio"})
	if err != nil || !handled {
		t.Fatalf("expected handled selection, got handled=%v err=%v", handled, err)
	}
	if len(rec.selections) != 1 {
		t.Fatalf("expected one selection, got %d", len(rec.selections))
	}
	picked := rec.selections[0]
	if picked.Candidate.ContentID != "B" || picked.Variant != "audio" || picked.Index != 2 {
		t.Fatalf("unexpected selection: %+v", picked)
	}
	if store.Len() != 0 {
		t.Fatal("expected session to be consumed")
	}
}

func TestSelectionHandlerFallsThroughForOtherUsers(t *testing.T) {
	store := newStore("video")
	store.Create("list-1", "U1", threeCandidates())
	rec := &recorder{}
	handler := NewSelectionHandler(store, rec.onSelect, rec.warn, discardLogger())

	handled, err := handler.TryHandle(context.Background(), Event{QuotedMessageID: "list-1", ReplierID: "U2", Body: "1"})
	if err != nil || handled {
		t.Fatalf("expected fall through, got handled=%v err=%v", handled, err)
	}
	handled, _ = handler.TryHandle(context.Background(), Event{QuotedMessageID: "unknown", ReplierID: "U1", Body: "1"})
	if handled {
		t.Fatal("expected unknown list to fall through")
	}
	if store.Len() != 1 {
		t.Fatal("session must survive replies that do not belong to it")
	}
}

func TestSelectionHandlerOutOfRangeWarnsAndDoesNotResurrect(t *testing.T) {
	store := newStore("meme")
	store.Create("list-1", "U1", threeCandidates())
	rec := &recorder{}
	handler := NewSelectionHandler(store, rec.onSelect, rec.warn, discardLogger())

	handled, err := handler.TryHandle(context.Background(), Event{QuotedMessageID: "list-1", ReplierID: "U1", Body: "9"})
	if err != nil || !handled {
		t.Fatalf("expected out of range reply to be handled, got handled=%v err=%v", handled, err)
	}
	if len(rec.warnings) != 1 || !strings.Contains(rec.warnings[0], "between 1 and 3") {
		t.Fatalf("unexpected warnings: %v", rec.warnings)
	}
	if len(rec.selections) != 0 {
		t.Fatal("flow must not run for an invalid index")
	}
	handled, _ = handler.TryHandle(context.Background(), Event{QuotedMessageID: "list-1", ReplierID: "U1", Body: "1"})
	if handled {
		t.Fatal("session must not come back after an invalid reply")
	}
}

func TestSelectionHandlerSwallowsFlowErrors(t *testing.T) {
	store := newStore("video")
	store.Create("list-1", "U1", threeCandidates())
	rec := &recorder{selectErr: errors.New("upload failed")}
	handler := NewSelectionHandler(store, rec.onSelect, rec.warn, discardLogger())

	handled, err := handler.TryHandle(context.Background(), Event{QuotedMessageID: "list-1", ReplierID: "U1", Body: "1"})
	if err != nil || !handled {
		t.Fatalf("expected handled without error, got handled=%v err=%v", handled, err)
	}
}

func TestChainStopsAtFirstClaim(t *testing.T) {
	first := &stubHandler{name: "first"}
	second := &stubHandler{name: "second", handled: true}
	third := &stubHandler{name: "third", handled: true}
	chain := NewChain(discardLogger(), first, second, third)

	if !chain.Dispatch(context.Background(), Event{QuotedMessageID: "m-1"}) {
		t.Fatal("expected chain to report handled")
	}
	if first.calls != 1 || second.calls != 1 || third.calls != 0 {
		t.Fatalf("unexpected call counts: %d %d %d", first.calls, second.calls, third.calls)
	}
}

func TestChainIgnoresEventsWithoutQuote(t *testing.T) {
	handler := &stubHandler{name: "any", handled: true}
	chain := NewChain(discardLogger(), handler)
	if chain.Dispatch(context.Background(), Event{Body: "1"}) {
		t.Fatal("event without quote must not be handled")
	}
	if handler.calls != 0 {
		t.Fatal("handlers must not see events without a quote")
	}
}

func TestChainTreatsHandlerErrorAsClaimed(t *testing.T) {
	failing := &stubHandler{name: "failing", err: errors.New("send warning failed")}
	later := &stubHandler{name: "later", handled: true}
	chain := NewChain(discardLogger(), failing, later)
	if !chain.Dispatch(context.Background(), Event{QuotedMessageID: "m-1"}) {
		t.Fatal("expected failing handler to claim the event")
	}
	if later.calls != 0 {
		t.Fatal("chain must stop after a handler error")
	}
}

func TestReactionSessionHandlerFiltersEmoji(t *testing.T) {
	store := newStore("related")
	store.Create("video-msg", "U1", threeCandidates())
	var reacted []selection.Session
	handler := NewReactionSessionHandler(store, []string{"❤", "❤️"}, func(ctx context.Context, session selection.Session, reaction Reaction) error {
		reacted = append(reacted, session)
		return nil
	}, discardLogger())
	chain := NewChain(discardLogger())
	chain.AddReactionHandler(handler)

	if chain.DispatchReaction(context.Background(), Reaction{MessageID: "video-msg", UserID: "U1", Emoji: "👍"}) {
		t.Fatal("unexpected emoji must not be handled")
	}
	if store.Len() != 1 {
		t.Fatal("unaccepted emoji must not consume the session")
	}
	if chain.DispatchReaction(context.Background(), Reaction{MessageID: "video-msg", UserID: "U2", Emoji: "❤"}) {
		t.Fatal("reaction from another user must fall through")
	}
	if !chain.DispatchReaction(context.Background(), Reaction{MessageID: "video-msg", UserID: "U1", Emoji: "❤"}) {
		t.Fatal("expected owner reaction to be handled")
	}
	if len(reacted) != 1 || reacted[0].Key != "video-msg" {
		t.Fatalf("unexpected reactions: %+v", reacted)
	}
}

func TestSelectionHandlerCustomMatcher(t *testing.T) {
	store := newStore("movie")
	store.Create("eps", "U1", threeCandidates(), selection.WithStage("episode"))
	rec := &recorder{}
	byContentID := func(session selection.Session, body string) (int, string, bool) {
		for i, candidate := range session.Candidates {
			if strings.EqualFold(candidate.ContentID, strings.TrimSpace(body)) {
				return i + 1, "", true
			}
		}
		return 0, "", false
	}
	handler := NewSelectionHandler(store, rec.onSelect, rec.warn, discardLogger(),
		WithMatcher(byContentID),
		WithInvalidMessage(func(selection.Session) string { return "Unknown episode." }),
	)

	handled, err := handler.TryHandle(context.Background(), Event{QuotedMessageID: "eps", ReplierID: "U1", Body: " b "})
	if err != nil || !handled {
		t.Fatalf("expected handled, got handled=%v err=%v", handled, err)
	}
	if len(rec.selections) != 1 || rec.selections[0].Candidate.ContentID != "B" || rec.selections[0].Index != 2 {
		t.Fatalf("unexpected selections %+v", rec.selections)
	}

	store.Create("eps-2", "U1", threeCandidates())
	if _, err := handler.TryHandle(context.Background(), Event{QuotedMessageID: "eps-2", ReplierID: "U1", Body: "Z"}); err != nil {
		t.Fatalf("try handle: %v", err)
	}
	if len(rec.warnings) != 1 || rec.warnings[0] != "Unknown episode." {
		t.Fatalf("unexpected warnings %v", rec.warnings)
	}
}
