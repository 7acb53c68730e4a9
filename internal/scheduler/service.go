package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dwizi/media-relay/internal/heartbeat"
)

const heartbeatComponent = "scheduler"

var jobParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job is one maintenance task. Run gets a context bounded by Timeout.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type JobStatus struct {
	Name         string `json:"name"`
	Spec         string `json:"spec"`
	Runs         int64  `json:"runs"`
	Failures     int64  `json:"failures"`
	LastError    string `json:"last_error,omitempty"`
	LastRunUnix  int64  `json:"last_run_unix,omitempty"`
	NextRunUnix  int64  `json:"next_run_unix,omitempty"`
	LastDuration string `json:"last_duration,omitempty"`
}

type jobState struct {
	job      Job
	entryID  cron.EntryID
	runs     int64
	failures int64
	lastErr  string
	lastRun  time.Time
	lastTook time.Duration
}

// Service runs maintenance jobs on cron schedules. Overlapping runs of the
// same job are skipped.
type Service struct {
	cron     *cron.Cron
	logger   *slog.Logger
	reporter heartbeat.Reporter

	mu   sync.Mutex
	jobs map[string]*jobState
	ctx  context.Context
}

func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cron: cron.New(
			cron.WithParser(jobParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
			cron.WithLocation(time.UTC),
		),
		logger: logger,
		jobs:   map[string]*jobState{},
		ctx:    context.Background(),
	}
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

// Add registers job. It must be called before Start.
func (s *Service) Add(job Job) error {
	name := strings.TrimSpace(job.Name)
	if name == "" {
		return errors.New("scheduler job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler job %s has no run function", name)
	}
	schedule, err := jobParser.Parse(strings.TrimSpace(job.Spec))
	if err != nil {
		return fmt.Errorf("parse schedule for %s: %w", name, err)
	}
	job.Name = name
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduler job %s already registered", name)
	}
	state := &jobState{job: job}
	state.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.runJob(name) }))
	s.jobs[name] = state
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	count := len(s.jobs)
	s.mu.Unlock()
	if count == 0 {
		if s.reporter != nil {
			s.reporter.Disabled(heartbeatComponent, "no jobs registered")
		}
		<-ctx.Done()
		return nil
	}
	if s.reporter != nil {
		s.reporter.Starting(heartbeatComponent, "started")
		s.reporter.Beat(heartbeatComponent, "waiting for jobs")
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", count)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	if s.reporter != nil {
		s.reporter.Stopped(heartbeatComponent, "stopped")
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// RunNow executes the named job immediately, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	_, ok := s.jobs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown scheduler job: %s", name)
	}
	return s.runJob(strings.TrimSpace(name))
}

func (s *Service) runJob(name string) error {
	s.mu.Lock()
	state := s.jobs[name]
	parent := s.ctx
	s.mu.Unlock()

	ctx := parent
	cancel := func() {}
	if state.job.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, state.job.Timeout)
	}
	defer cancel()

	started := time.Now()
	err := state.job.Run(ctx)
	took := time.Since(started)

	s.mu.Lock()
	state.runs++
	state.lastRun = started.UTC()
	state.lastTook = took
	if err != nil {
		state.failures++
		state.lastErr = err.Error()
	} else {
		state.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		if s.reporter != nil {
			s.reporter.Degrade(heartbeatComponent, "job "+name+" failed", err)
		}
		s.logger.Error("scheduler job failed", "job", name, "duration", took.String(), "error", err)
		return err
	}
	if s.reporter != nil {
		s.reporter.Beat(heartbeatComponent, "job "+name+" completed")
	}
	s.logger.Debug("scheduler job completed", "job", name, "duration", took.String())
	return nil
}

func (s *Service) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, state := range s.jobs {
		status := JobStatus{
			Name:      state.job.Name,
			Spec:      state.job.Spec,
			Runs:      state.runs,
			Failures:  state.failures,
			LastError: state.lastErr,
		}
		if !state.lastRun.IsZero() {
			status.LastRunUnix = state.lastRun.Unix()
			status.LastDuration = state.lastTook.String()
		}
		if next := s.cron.Entry(state.entryID).Next; !next.IsZero() {
			status.NextRunUnix = next.Unix()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(left, right int) bool {
		return statuses[left].Name < statuses[right].Name
	})
	return statuses
}
