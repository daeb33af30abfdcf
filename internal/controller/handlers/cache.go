package handlers

import (
	"net/http"

	"scenepipe/pkg/api"
)

// CacheStats handles GET /cache/stats.
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.httpError(w, "Cache disabled", http.StatusNotFound)
		return
	}
	s := h.cache.Stats()
	h.respondJson(w, http.StatusOK, api.CacheStatsResponse{
		Entries:   s.Entries,
		Capacity:  s.Capacity,
		Hits:      s.Hits,
		Misses:    s.Misses,
		Similar:   s.Similar,
		Evictions: s.Evictions,
		SavedCost: s.SavedCost,
	})
}

// InvalidateCache handles DELETE /cache/{key}.
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.httpError(w, "Cache disabled", http.StatusNotFound)
		return
	}
	if !h.cache.Invalidate(r.PathValue("key")) {
		h.httpError(w, "Cache entry not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
