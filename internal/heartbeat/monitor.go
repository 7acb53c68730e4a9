package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dwizi/media-relay/internal/metrics"
)

const defaultMonitorInterval = 30 * time.Second

// Transition is one observed state change of a component between two checks.
type Transition struct {
	Component string `json:"component"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type MonitorConfig struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	Logger       *slog.Logger
	OnTransition func(context.Context, Transition, Snapshot)
}

// Monitor polls the registry and reports state changes. A component's first
// observed state is recorded but never reported.
type Monitor struct {
	registry *Registry
	cfg      MonitorConfig

	mu   sync.Mutex
	last map[string]string
}

func NewMonitor(registry *Registry, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultMonitorInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		registry: registry,
		cfg:      cfg,
		last:     map[string]string{},
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	if m.registry == nil {
		<-ctx.Done()
		return nil
	}
	m.cfg.Logger.Info("heartbeat monitor started",
		"interval", m.cfg.Interval.String(),
		"stale_after", m.cfg.StaleAfter.String(),
	)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			m.cfg.Logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Check takes one snapshot and returns the transitions since the previous
// check, after handing each to OnTransition.
func (m *Monitor) Check(ctx context.Context) []Transition {
	if m.registry == nil {
		return nil
	}
	snapshot := m.registry.Snapshot(m.cfg.StaleAfter)

	m.mu.Lock()
	var transitions []Transition
	for _, status := range snapshot.Components {
		before, seen := m.last[status.Name]
		m.last[status.Name] = status.State
		if !seen || before == status.State {
			continue
		}
		transitions = append(transitions, Transition{
			Component: status.Name,
			FromState: before,
			ToState:   status.State,
			Message:   status.Message,
			Error:     status.Error,
		})
	}
	m.mu.Unlock()

	for _, transition := range transitions {
		metrics.ComponentTransitionTotal.WithLabelValues(transition.Component, transition.ToState).Inc()
		m.cfg.Logger.Info("component state changed",
			"component", transition.Component,
			"from", transition.FromState,
			"to", transition.ToState,
			"error", transition.Error,
		)
		if m.cfg.OnTransition != nil {
			m.cfg.OnTransition(ctx, transition, snapshot)
		}
	}
	return transitions
}
