package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/dwizi/media-relay/internal/config"
	"github.com/dwizi/media-relay/internal/connectors"
	"github.com/dwizi/media-relay/internal/heartbeat"
	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/resolution"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReporter) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingReporter) Starting(component, message string) {
	r.record(component + " starting")
}
func (r *recordingReporter) Beat(component, message string) { r.record(component + " beat") }
func (r *recordingReporter) Degrade(component, message string, err error) {
	r.record(component + " degraded")
}
func (r *recordingReporter) Disabled(component, message string) {
	r.record(component + " disabled")
}
func (r *recordingReporter) Stopped(component, message string) { r.record(component + " stopped") }

func (r *recordingReporter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestRunMonitoredReportsFailure(t *testing.T) {
	reporter := &recordingReporter{}
	err := runMonitored(context.Background(), reporter, "connector:telegram", 0, func(context.Context) error {
		return errors.New("unauthorized")
	})
	if err == nil {
		t.Fatal("expected run error")
	}
	want := []string{"connector:telegram starting", "connector:telegram beat", "connector:telegram degraded"}
	if diff := cmp.Diff(want, reporter.snapshot()); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}

func TestRunMonitoredStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reporter := &recordingReporter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runMonitored(ctx, reporter, "api", 10*time.Millisecond, func(runCtx context.Context) error {
			<-runCtx.Done()
			return runCtx.Err()
		})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runMonitored did not return")
	}
	events := reporter.snapshot()
	if events[len(events)-1] != "api stopped" {
		t.Fatalf("expected stopped as last event, got %v", events)
	}
	for _, event := range events {
		if event == "api degraded" {
			t.Fatalf("cancellation must not degrade the component: %v", events)
		}
	}
}

type fakeTransport struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeTransport) Name() string { return "telegram" }
func (f *fakeTransport) SendList(context.Context, string, string) (string, error) {
	return "", nil
}
func (f *fakeTransport) SendMedia(context.Context, string, string, media.Kind, string) (string, error) {
	return "", nil
}
func (f *fakeTransport) UploadAttachment(context.Context, string, string, media.Kind) (string, error) {
	return "", nil
}
func (f *fakeTransport) SendText(_ context.Context, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, threadID+"|"+text)
	return f.err
}
func (f *fakeTransport) DeleteMessage(context.Context, string, string) error { return nil }

func TestHeartbeatNotifierSendsTransitions(t *testing.T) {
	transport := &fakeTransport{}
	notifier := newHeartbeatNotifier(map[string]connectors.Transport{"telegram": transport}, " Telegram ", "-100", testLogger())
	if notifier == nil {
		t.Fatal("expected notifier")
	}
	notifier.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	snapshot := heartbeat.Snapshot{Overall: heartbeat.StateDegraded}

	notifier.HandleTransition(context.Background(), heartbeat.Transition{
		Component: "connector:discord",
		FromState: heartbeat.StateHealthy,
		ToState:   heartbeat.StateDegraded,
		Message:   "component failed",
		Error:     "gateway   requested\nreconnect",
	}, snapshot)
	notifier.HandleTransition(context.Background(), heartbeat.Transition{
		Component: "scheduler",
		FromState: heartbeat.StateStarting,
		ToState:   heartbeat.StateHealthy,
	}, snapshot)
	notifier.HandleTransition(context.Background(), heartbeat.Transition{
		Component: "connector:discord",
		FromState: heartbeat.StateDegraded,
		ToState:   heartbeat.StateHealthy,
	}, heartbeat.Snapshot{Overall: heartbeat.StateHealthy})

	if len(transport.texts) != 2 {
		t.Fatalf("expected degraded and recovered alerts only, got %q", transport.texts)
	}
	wantDegraded := "-100|media-relay degraded\n" +
		"- component: connector:discord\n" +
		"- state: healthy -> degraded\n" +
		"- overall: degraded\n" +
		"- detail: component failed\n" +
		"- error: gateway requested reconnect\n" +
		"- at: 2026-01-02T03:04:05Z"
	if diff := cmp.Diff(wantDegraded, transport.texts[0]); diff != "" {
		t.Fatalf("unexpected degraded alert (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(transport.texts[1], "-100|media-relay recovered") {
		t.Fatalf("unexpected recovered alert %q", transport.texts[1])
	}
}

func TestHeartbeatNotifierRequiresRunningConnector(t *testing.T) {
	transports := map[string]connectors.Transport{"telegram": &fakeTransport{}}
	if newHeartbeatNotifier(transports, "discord", "123", testLogger()) != nil {
		t.Fatal("expected nil notifier for a connector that is not running")
	}
	if newHeartbeatNotifier(transports, "telegram", "", testLogger()) != nil {
		t.Fatal("expected nil notifier without a thread id")
	}
	var notifier *heartbeatNotifier
	notifier.HandleTransition(context.Background(), heartbeat.Transition{}, heartbeat.Snapshot{})
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Environment:        "test",
		HTTPAddr:           "127.0.0.1:0",
		DataDir:            dir,
		DBPath:             dir + "/cache.sqlite",
		WorkDir:            dir + "/work",
		CacheBackend:       resolution.BackendMemory,
		CacheMemoryEntries: 64,
		CacheSingleflight:  true,
		SelectionTTLSec:    60,
		SelectionSweepSec:  1,
		ReactionTTLSec:     180,
		ListLimit:          10,
		CommandRatePerSec:  1,
		CommandBurst:       5,
		OrphanMaxAgeSec:    3600,
		TelegramAPI:        "http://127.0.0.1:1",
		TelegramPoll:       1,
	}
}

func TestNewBuildsOneCachePerConnector(t *testing.T) {
	cfg := testConfig(t)
	cfg.TelegramToken = "token"
	cfg.HeartbeatEnabled = true

	runtime, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	if _, ok := runtime.caches["telegram"]; !ok || len(runtime.caches) != 1 {
		t.Fatalf("expected a telegram cache only, got %v", runtime.caches)
	}
	if len(runtime.connectors) != 1 {
		t.Fatalf("expected one connector, got %d", len(runtime.connectors))
	}
	names := []string{}
	for _, status := range runtime.scheduler.Status() {
		names = append(names, status.Name)
	}
	if diff := cmp.Diff([]string{"cache-stats", "orphan-cleanup"}, names); diff != "" {
		t.Fatalf("unexpected jobs (-want +got):\n%s", diff)
	}
	snapshot := runtime.heartbeat.Snapshot(time.Minute)
	states := map[string]string{}
	for _, item := range snapshot.Components {
		states[item.Name] = item.State
	}
	if states["connector:discord"] != heartbeat.StateDisabled {
		t.Fatalf("expected discord disabled without a token, got %v", states)
	}
}

func TestNewWithSQLiteBackendPersistsAcrossOpen(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheBackend = resolution.BackendSQLite
	ctx := context.Background()
	key := resolution.NewKey(media.PlatformTikTok, "7301", "")

	cache, closeCache, err := OpenCache(ctx, cfg, "telegram", testLogger())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	_, err = cache.GetOrResolve(ctx, key, func(context.Context) (media.ResolvedMedia, error) {
		return media.ResolvedMedia{Platform: key.Platform, ContentID: key.ContentID, DeliverableURL: "file-1", ResolvedAt: time.Now()}, nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := closeCache(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, closeReopened, err := OpenCache(ctx, cfg, "telegram", testLogger())
	if err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	defer closeReopened()
	entry, found, err := reopened.Get(ctx, key)
	if err != nil || !found || entry.DeliverableURL != "file-1" {
		t.Fatalf("expected persisted entry, found=%v err=%v entry=%+v", found, err, entry)
	}

	other, closeOther, err := OpenCache(ctx, cfg, "discord", testLogger())
	if err != nil {
		t.Fatalf("open discord cache: %v", err)
	}
	defer closeOther()
	if _, found, _ := other.Get(ctx, key); found {
		t.Fatal("expected connector namespaces to be isolated")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runtime, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
	if err := runtime.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
