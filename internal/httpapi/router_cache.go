package httpapi

import (
	"net/http"
	"strings"

	"github.com/dwizi/media-relay/internal/resolution"
)

// handleCache reads or drops one resolved entry. The connector query
// parameter picks the transport cache and may be omitted when only one is
// configured.
func (r *router) handleCache(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	key, err := resolution.ParseKey(req.URL.Query().Get("key"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	connector, cache, ok := r.pickCache(req.URL.Query().Get("connector"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":      "unknown connector",
			"connectors": r.cacheNames(),
		})
		return
	}

	if req.Method == http.MethodDelete {
		if err := cache.Invalidate(req.Context(), key); err != nil {
			r.deps.Logger.Error("cache invalidate failed", "connector", connector, "key", key.String(), "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "invalidated",
			"connector": connector,
			"key":       key.String(),
		})
		return
	}

	entry, found, err := cache.Get(req.Context(), key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not cached", "key": key.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connector": connector,
		"key":       key.String(),
		"entry":     entry,
	})
}

func (r *router) pickCache(connector string) (string, CacheAdmin, bool) {
	connector = strings.ToLower(strings.TrimSpace(connector))
	if connector == "" && len(r.deps.Caches) == 1 {
		for name, cache := range r.deps.Caches {
			return name, cache, true
		}
	}
	cache, ok := r.deps.Caches[connector]
	return connector, cache, ok
}
