package httpapi

import (
	"errors"
	"net/http"
	"sort"
)

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	var problems []error
	for _, name := range r.cacheNames() {
		if err := r.deps.Caches[name].Ping(req.Context()); err != nil {
			problems = append(problems, err)
		}
	}
	if r.deps.Heartbeat != nil {
		if err := r.deps.Heartbeat.Ready(r.deps.HeartbeatStaleAfter); err != nil {
			problems = append(problems, err)
		}
	}
	if err := errors.Join(problems...); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	snapshot := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter)
	writeJSON(w, http.StatusOK, snapshot)
}

type cacheInfo struct {
	Backend        string `json:"backend"`
	Hits           int64  `json:"hits"`
	Misses         int64  `json:"misses"`
	Puts           int64  `json:"puts"`
	ResolverErrors int64  `json:"resolver_errors"`
	StorageErrors  int64  `json:"storage_errors"`
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	sessions := map[string]int{}
	for _, counter := range r.deps.Sessions {
		sessions[counter.Name()] = counter.Len()
	}
	caches := map[string]cacheInfo{}
	for name, cache := range r.deps.Caches {
		stats := cache.Stats()
		caches[name] = cacheInfo{
			Backend:        cache.Backend(),
			Hits:           stats.Hits,
			Misses:         stats.Misses,
			Puts:           stats.Puts,
			ResolverErrors: stats.ResolverErrors,
			StorageErrors:  stats.StorageErrors,
		}
	}
	payload := map[string]any{
		"name":        "media-relay",
		"environment": r.deps.Config.Environment,
		"sessions":    sessions,
		"caches":      caches,
	}
	if r.deps.ActiveJobs != nil {
		payload["active_jobs"] = r.deps.ActiveJobs()
	}
	if r.deps.Jobs != nil {
		payload["scheduler"] = r.deps.Jobs.Status()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *router) cacheNames() []string {
	names := make([]string, 0, len(r.deps.Caches))
	for name := range r.deps.Caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
