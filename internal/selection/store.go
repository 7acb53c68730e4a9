package selection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dwizi/media-relay/internal/heartbeat"
	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/mediaerr"
	"github.com/dwizi/media-relay/internal/metrics"
)

const (
	DefaultTTL           = 60 * time.Second
	DefaultSweepInterval = 5 * time.Second
	defaultSettleWait    = 3 * time.Second
)

var (
	ErrNotFound  = mediaerr.ErrSessionNotFound
	ErrForbidden = mediaerr.ErrSessionForbidden
)

// Session is a pending selection, keyed by the identity of the rendered list message.
type Session struct {
	Key        string
	UserID     string
	ThreadID   string
	Stage      string
	Candidates []media.Candidate
	CreatedAt  time.Time
	TTL        time.Duration
}

func (s Session) Expired(now time.Time) bool {
	return s.TTL > 0 && now.Sub(s.CreatedAt) > s.TTL
}

func (s Session) clone() Session {
	s.Candidates = append([]media.Candidate(nil), s.Candidates...)
	return s
}

type Option func(*Session)

func WithTTL(ttl time.Duration) Option {
	return func(session *Session) {
		if ttl > 0 {
			session.TTL = ttl
		}
	}
}

func WithStage(stage string) Option {
	return func(session *Session) {
		session.Stage = strings.TrimSpace(stage)
	}
}

func WithThread(threadID string) Option {
	return func(session *Session) {
		session.ThreadID = strings.TrimSpace(threadID)
	}
}

type Config struct {
	Name          string
	TTL           time.Duration
	SweepInterval time.Duration
	SettleWait    time.Duration
	Now           func() time.Time
}

// Store is a short-lived in-memory table of selection sessions for one flow.
// Consume is the serialization point: a session is handed out at most once.
type Store struct {
	name          string
	ttl           time.Duration
	sweepInterval time.Duration
	settleWait    time.Duration
	now           func() time.Time
	logger        *slog.Logger
	reporter      heartbeat.Reporter

	mu       sync.Mutex
	sessions map[string]Session
	latest   map[string]string
	inflight int
	settled  chan struct{}
}

func New(cfg Config, logger *slog.Logger) *Store {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "default"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	settleWait := cfg.SettleWait
	if settleWait <= 0 {
		settleWait = defaultSettleWait
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		name:          name,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		settleWait:    settleWait,
		now:           now,
		logger:        logger,
		sessions:      map[string]Session{},
		latest:        map[string]string{},
		settled:       make(chan struct{}),
	}
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

// Create registers a session under key. An empty key is ignored: the caller
// has to send the list message first to learn its identity.
func (s *Store) Create(key, userID string, candidates []media.Candidate, opts ...Option) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createLocked(key, userID, candidates, opts)
}

func (s *Store) createLocked(key, userID string, candidates []media.Candidate, opts []Option) {
	session := Session{
		Key:        key,
		UserID:     strings.TrimSpace(userID),
		Candidates: append([]media.Candidate(nil), candidates...),
		CreatedAt:  s.now(),
		TTL:        s.ttl,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&session)
		}
	}
	s.sessions[key] = session
	if session.UserID != "" {
		s.latest[session.UserID] = key
	}
	metrics.SelectionSessions.WithLabelValues(s.name).Set(float64(len(s.sessions)))
}

// Consume removes and returns the session for key when userID owns it.
// A reply from anyone else yields ErrForbidden and leaves the session in place.
func (s *Store) Consume(key, userID string) (Session, error) {
	key = strings.TrimSpace(key)
	userID = strings.TrimSpace(userID)
	if key == "" {
		return Session{}, ErrNotFound
	}
	deadline := time.Now().Add(s.settleWait)

	s.mu.Lock()
	for {
		session, ok := s.sessions[key]
		if ok {
			if session.Expired(s.now()) {
				s.deleteLocked(key)
				s.mu.Unlock()
				metrics.SelectionConsumeTotal.WithLabelValues(s.name, "expired").Inc()
				return Session{}, ErrNotFound
			}
			if session.UserID != userID {
				s.mu.Unlock()
				metrics.SelectionConsumeTotal.WithLabelValues(s.name, "forbidden").Inc()
				return Session{}, ErrForbidden
			}
			s.deleteLocked(key)
			s.mu.Unlock()
			metrics.SelectionConsumeTotal.WithLabelValues(s.name, "consumed").Inc()
			return session.clone(), nil
		}
		wait := time.Until(deadline)
		if s.inflight == 0 || wait <= 0 {
			s.mu.Unlock()
			metrics.SelectionConsumeTotal.WithLabelValues(s.name, "not_found").Inc()
			return Session{}, ErrNotFound
		}
		settled := s.settled
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-settled:
		case <-timer.C:
		}
		timer.Stop()
		s.mu.Lock()
	}
}

// Replace drops oldKey, if it is still present, and registers a fresh session
// under newKey. Multi-stage flows use it instead of mutating a session.
func (s *Store) Replace(oldKey, newKey, userID string, candidates []media.Candidate, opts ...Option) {
	oldKey = strings.TrimSpace(oldKey)
	newKey = strings.TrimSpace(newKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	if oldKey != "" {
		s.deleteLocked(oldKey)
	}
	if newKey == "" {
		return
	}
	s.createLocked(newKey, userID, candidates, opts)
}

// Publish sends a list with send and registers the returned message identity
// as one step: a Consume for an unknown key waits for in-flight publishes to
// settle before it reports ErrNotFound.
func (s *Store) Publish(ctx context.Context, userID string, candidates []media.Candidate, send func(context.Context) (string, error), opts ...Option) (string, error) {
	return s.publish(ctx, "", userID, candidates, send, opts)
}

// PublishReplacement is Publish for the next stage of a multi-stage flow.
func (s *Store) PublishReplacement(ctx context.Context, oldKey, userID string, candidates []media.Candidate, send func(context.Context) (string, error), opts ...Option) (string, error) {
	return s.publish(ctx, oldKey, userID, candidates, send, opts)
}

func (s *Store) publish(ctx context.Context, oldKey, userID string, candidates []media.Candidate, send func(context.Context) (string, error), opts []Option) (string, error) {
	if send == nil {
		return "", fmt.Errorf("publish selection: send function is required")
	}
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
	defer s.settle()

	key, err := send(ctx)
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("publish selection: send returned an empty message id")
	}
	s.Replace(oldKey, key, userID, candidates, opts...)
	return key, nil
}

func (s *Store) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	close(s.settled)
	s.settled = make(chan struct{})
}

func (s *Store) Delete(key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
}

// Leave removes every pending session that belongs to userID.
func (s *Store) Leave(userID string) int {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, session := range s.sessions {
		if session.UserID == userID {
			s.deleteLocked(key)
			removed++
		}
	}
	return removed
}

// Latest returns the most recent live session created for userID.
func (s *Store) Latest(userID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.latest[strings.TrimSpace(userID)]
	if !ok {
		return Session{}, false
	}
	session, ok := s.sessions[key]
	if !ok || session.Expired(s.now()) {
		return Session{}, false
	}
	return session.clone(), true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep deletes every session whose age exceeds its TTL.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, session := range s.sessions {
		if session.Expired(now) {
			s.deleteLocked(key)
			removed++
		}
	}
	if removed > 0 {
		metrics.SelectionExpiredTotal.WithLabelValues(s.name).Add(float64(removed))
	}
	return removed
}

func (s *Store) deleteLocked(key string) {
	session, ok := s.sessions[key]
	if !ok {
		return
	}
	delete(s.sessions, key)
	if s.latest[session.UserID] == key {
		delete(s.latest, session.UserID)
	}
	metrics.SelectionSessions.WithLabelValues(s.name).Set(float64(len(s.sessions)))
}

// Start runs the expiry sweep until ctx is done.
func (s *Store) Start(ctx context.Context) error {
	component := "selection:" + s.name
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	if s.reporter != nil {
		s.reporter.Starting(component, "started")
		s.reporter.Beat(component, "sweeping sessions")
	}
	s.logger.Info("selection sweeper started", "flow", s.name, "interval", s.sweepInterval.String(), "ttl", s.ttl.String())
	for {
		select {
		case <-ctx.Done():
			if s.reporter != nil {
				s.reporter.Stopped(component, "stopped")
			}
			s.logger.Info("selection sweeper stopped", "flow", s.name)
			return nil
		case <-ticker.C:
			if removed := s.Sweep(s.now()); removed > 0 {
				s.logger.Debug("expired selection sessions removed", "flow", s.name, "removed", removed)
			}
			if s.reporter != nil {
				s.reporter.Beat(component, "sweep completed")
			}
		}
	}
}
