package heartbeat

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dwizi/media-relay/internal/metrics"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
	StateStale    = "stale"

	overallIdle    = "idle"
	overallUnknown = "unknown"
)

// Reporter is what long-running parts of the relay (connectors, session
// sweepers, the scheduler) use to publish their liveness.
type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	BaseState      string `json:"base_state"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	Beats          int64  `json:"beats"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
	Stale          bool   `json:"stale,omitempty"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

type component struct {
	state     string
	message   string
	errText   string
	beats     int64
	lastBeat  time.Time
	updatedAt time.Time
}

type RegistryOption func(*Registry)

// WithClock replaces time.Now, mostly so tests can age components.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry holds the last reported state of every component by name.
// Names are case-insensitive.
type Registry struct {
	now func() time.Time

	mu         sync.RWMutex
	components map[string]*component
}

func NewRegistry(opts ...RegistryOption) *Registry {
	registry := &Registry{
		now:        time.Now,
		components: map[string]*component{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry
}

func (r *Registry) Starting(name, message string) {
	r.update(name, StateStarting, message, nil)
}

// Beat marks the component healthy and clears any previous error.
func (r *Registry) Beat(name, message string) {
	r.update(name, StateHealthy, message, nil)
}

func (r *Registry) Degrade(name, message string, err error) {
	r.update(name, StateDegraded, message, err)
}

func (r *Registry) Disabled(name, message string) {
	r.update(name, StateDisabled, message, nil)
}

func (r *Registry) Stopped(name, message string) {
	r.update(name, StateStopped, message, nil)
}

func (r *Registry) update(name, state, message string, err error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return
	}
	now := r.now().UTC()

	r.mu.Lock()
	entry, ok := r.components[key]
	if !ok {
		entry = &component{lastBeat: now}
		r.components[key] = entry
	}
	entry.state = state
	entry.message = strings.TrimSpace(message)
	entry.errText = ""
	if err != nil {
		entry.errText = strings.TrimSpace(err.Error())
	}
	entry.updatedAt = now
	if state == StateHealthy {
		entry.beats++
		entry.lastBeat = now
	}
	r.mu.Unlock()

	healthy := 0.0
	if state == StateHealthy || state == StateStarting {
		healthy = 1
	}
	metrics.ComponentHealthy.WithLabelValues(key).Set(healthy)
}

// Ready returns an error listing every degraded or stale component. A relay
// with a disabled connector is still ready.
func (r *Registry) Ready(staleAfter time.Duration) error {
	var failing []string
	for _, status := range r.Snapshot(staleAfter).Components {
		if IsDegradedState(status.State) {
			failing = append(failing, status.Name+"="+status.State)
		}
	}
	if len(failing) > 0 {
		return fmt.Errorf("components not ready: %s", strings.Join(failing, ", "))
	}
	return nil
}

// Snapshot reports every component sorted by name. A starting or healthy
// component that has not beaten within staleAfter is reported as stale;
// staleAfter <= 0 disables that check.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now().UTC()

	r.mu.RLock()
	statuses := make([]ComponentStatus, 0, len(r.components))
	for name, entry := range r.components {
		status := ComponentStatus{
			Name:           name,
			State:          entry.state,
			BaseState:      entry.state,
			Message:        entry.message,
			Error:          entry.errText,
			Beats:          entry.beats,
			LastBeatAtUnix: entry.lastBeat.Unix(),
			UpdatedAtUnix:  entry.updatedAt.Unix(),
		}
		live := entry.state == StateHealthy || entry.state == StateStarting
		if live && staleAfter > 0 && now.Sub(entry.lastBeat) > staleAfter {
			status.State = StateStale
			status.Stale = true
		}
		statuses = append(statuses, status)
	}
	r.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         overall(statuses),
		Components:      statuses,
	}
}

func IsDegradedState(state string) bool {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case StateDegraded, StateStale:
		return true
	}
	return false
}

// stateRank orders component states by how much they pull the overall state
// down. Disabled and stopped components do not count at all.
var stateRank = map[string]int{
	StateHealthy:  1,
	StateStarting: 2,
	StateStale:    3,
	StateDegraded: 3,
}

func overall(statuses []ComponentStatus) string {
	if len(statuses) == 0 {
		return overallUnknown
	}
	worst := 0
	for _, status := range statuses {
		if rank := stateRank[status.State]; rank > worst {
			worst = rank
		}
	}
	switch worst {
	case 0:
		return overallIdle
	case 1:
		return StateHealthy
	case 2:
		return StateStarting
	default:
		return StateDegraded
	}
}
