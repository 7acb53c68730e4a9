package selection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/dwizi/media-relay/internal/media"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	cfg := Config{Name: "test", TTL: time.Minute, SettleWait: 500 * time.Millisecond}
	if clock != nil {
		cfg.Now = clock.Now
	}
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testCandidates() []media.Candidate {
	return []media.Candidate{
		{Platform: media.PlatformTikTok, ContentID: "A", Title: "first"},
		{Platform: media.PlatformTikTok, ContentID: "B", Title: "second"},
		{Platform: media.PlatformTikTok, ContentID: "C", Title: "third"},
	}
}

func TestConsumeForbiddenThenOwnerThenNotFound(t *testing.T) {
	store := newTestStore(t, nil)
	store.Create("S1", "U1", testCandidates())

	if _, err := store.Consume("S1", "U2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for other user, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatal("forbidden consume must leave the session intact")
	}

	session, err := store.Consume("S1", "U1")
	if err != nil {
		t.Fatalf("consume by owner: %v", err)
	}
	if diff := cmp.Diff(testCandidates(), session.Candidates); diff != "" {
		t.Fatalf("unexpected candidates (-want +got):\n%s", diff)
	}

	if _, err := store.Consume("S1", "U1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second consume, got %v", err)
	}
}

func TestCreateIgnoresEmptyKey(t *testing.T) {
	store := newTestStore(t, nil)
	store.Create("  ", "U1", testCandidates())
	if store.Len() != 0 {
		t.Fatalf("expected no sessions, got %d", store.Len())
	}
	if _, err := store.Consume("", "U1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for empty key, got %v", err)
	}
}

func TestConsumeAfterTTLReturnsNotFoundWithoutSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	store := newTestStore(t, clock)
	store.Create("S1", "U1", testCandidates())

	clock.Advance(time.Minute + time.Second)
	if _, err := store.Consume("S1", "U1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session to be not found, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("expected expired session to be dropped")
	}
}

func TestSweepRemovesOnlyExpiredSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	store := newTestStore(t, clock)
	store.Create("old", "U1", testCandidates())
	clock.Advance(40 * time.Second)
	store.Create("reaction", "U2", testCandidates(), WithTTL(3*time.Minute))
	store.Create("fresh", "U3", testCandidates())
	clock.Advance(30 * time.Second)

	if removed := store.Sweep(clock.Now()); removed != 1 {
		t.Fatalf("expected one expired session, got %d", removed)
	}
	if removed := store.Sweep(clock.Now()); removed != 0 {
		t.Fatalf("expected sweep to be idempotent, got %d", removed)
	}
	if _, err := store.Consume("fresh", "U3"); err != nil {
		t.Fatalf("fresh session should survive sweep: %v", err)
	}
	if _, err := store.Consume("reaction", "U2"); err != nil {
		t.Fatalf("long ttl session should survive sweep: %v", err)
	}
}

func TestReplaceCreatesIndependentSession(t *testing.T) {
	store := newTestStore(t, nil)
	store.Create("titles", "U1", testCandidates(), WithStage("title"))

	first, err := store.Consume("titles", "U1")
	if err != nil {
		t.Fatalf("consume titles: %v", err)
	}
	episodes := []media.Candidate{{Platform: media.PlatformKKPhim, ContentID: "movie_ep1", Title: "Tập 1"}}
	store.Replace(first.Key, "episodes", "U1", episodes, WithStage("episode"), WithThread("chat-1"))

	if _, err := store.Consume("titles", "U1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old key must stay gone, got %v", err)
	}
	second, err := store.Consume("episodes", "U1")
	if err != nil {
		t.Fatalf("consume episodes: %v", err)
	}
	if second.Stage != "episode" || second.ThreadID != "chat-1" || len(second.Candidates) != 1 {
		t.Fatalf("unexpected replacement session: %+v", second)
	}
}

func TestConcurrentConsumeIsAtMostOnce(t *testing.T) {
	store := newTestStore(t, nil)
	store.Create("S1", "U1", testCandidates())

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume("S1", "U1"); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	if successes.Load() != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", successes.Load())
	}
}

func TestLeaveAndLatest(t *testing.T) {
	store := newTestStore(t, nil)
	store.Create("S1", "U1", testCandidates())
	store.Create("S2", "U1", testCandidates())
	store.Create("S3", "U2", testCandidates())

	latest, ok := store.Latest("U1")
	if !ok || latest.Key != "S2" {
		t.Fatalf("expected latest session S2, got %+v ok=%v", latest, ok)
	}
	if removed := store.Leave("U1"); removed != 2 {
		t.Fatalf("expected two sessions removed, got %d", removed)
	}
	if _, ok := store.Latest("U1"); ok {
		t.Fatal("expected no latest session after leave")
	}
	if store.Len() != 1 {
		t.Fatalf("expected other user's session to remain, got %d", store.Len())
	}
}

func TestConsumeWaitsForInFlightPublish(t *testing.T) {
	store := newTestStore(t, nil)
	release := make(chan struct{})
	published := make(chan error, 1)

	go func() {
		_, err := store.Publish(context.Background(), "U1", testCandidates(), func(ctx context.Context) (string, error) {
			<-release
			return "m-42", nil
		})
		published <- err
	}()

	consumed := make(chan error, 1)
	go func() {
		for {
			store.mu.Lock()
			inflight := store.inflight
			store.mu.Unlock()
			if inflight > 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		_, err := store.Consume("m-42", "U1")
		consumed <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-published; err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := <-consumed; err != nil {
		t.Fatalf("expected consume to observe the published session, got %v", err)
	}
}

func TestPublishPropagatesSendError(t *testing.T) {
	store := newTestStore(t, nil)
	sendErr := errors.New("send failed")
	_, err := store.Publish(context.Background(), "U1", testCandidates(), func(ctx context.Context) (string, error) {
		return "", sendErr
	})
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected send error, got %v", err)
	}
	if _, err := store.Publish(context.Background(), "U1", testCandidates(), func(ctx context.Context) (string, error) {
		return " ", nil
	}); err == nil {
		t.Fatal("expected error for empty message id")
	}
	if store.Len() != 0 {
		t.Fatalf("expected no sessions after failed publishes, got %d", store.Len())
	}
}

func TestStartSweepsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := New(Config{Name: "sweep", TTL: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	store.Create("S1", "U1", testCandidates())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = store.Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for store.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("expected sweeper to remove expired session")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
