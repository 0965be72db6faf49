package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pulserank/apicache/internal/cache"
	"github.com/pulserank/apicache/internal/usage"
	"github.com/sirupsen/logrus"
)

// AdminHandler serves the cache administration and usage reporting routes.
type AdminHandler struct {
	store *cache.Store
	usage *usage.QueryService
	log   *logrus.Entry
}

func NewAdminHandler(logger *logrus.Logger, store *cache.Store, query *usage.QueryService) *AdminHandler {
	return &AdminHandler{
		store: store,
		usage: query,
		log:   logger.WithField("component", "admin_handler"),
	}
}

func (h *AdminHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var date time.Time
	if v := q.Get("date"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	stats, err := h.store.Stats(r.Context(), q.Get("endpoint"), date)
	if err != nil {
		h.log.WithError(err).Error("Failed to load cache stats")
		writeError(w, http.StatusInternalServerError, "failed to load cache stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type invalidateRequest struct {
	Pattern string `json:"pattern"`
}

func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Pattern == "" {
		req.Pattern = r.URL.Query().Get("pattern")
	}

	deleted, err := h.store.Invalidate(r.Context(), req.Pattern)
	if errors.Is(err, cache.ErrEmptyPattern) {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("pattern", req.Pattern).Error("Cache invalidation failed")
		writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pattern": req.Pattern, "deleted": deleted})
}

func (h *AdminHandler) CleanupCache(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.CleanupExpired(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Cache cleanup failed")
		writeError(w, http.StatusInternalServerError, "cache cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// configRequest carries ttl in seconds.
type configRequest struct {
	cache.ConfigUpdate
	TTL *int64 `json:"ttl"`
}

func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	update := req.ConfigUpdate
	if req.TTL != nil {
		ttl := time.Duration(*req.TTL) * time.Second
		if ttl < time.Second {
			writeError(w, http.StatusBadRequest, "ttl must be at least one second")
			return
		}
		update.TTL = &ttl
	}

	cfg, err := h.store.UpdateConfig(r.Context(), update)
	if err != nil {
		h.log.WithError(err).WithField("endpoint", req.Endpoint).Error("Cache config update failed")
		writeError(w, http.StatusInternalServerError, "cache config update failed")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *AdminHandler) ServiceUsage(w http.ResponseWriter, r *http.Request) {
	tf := usage.ParseTimeframe(r.URL.Query().Get("timeframe"))
	services, err := h.usage.ServiceUsageStats(r.Context(), tf)
	if err != nil {
		h.log.WithError(err).Error("Failed to load service usage")
		writeError(w, http.StatusInternalServerError, "failed to load service usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeframe": tf, "services": services})
}

func (h *AdminHandler) UserUsage(w http.ResponseWriter, r *http.Request) {
	tf := usage.ParseTimeframe(r.URL.Query().Get("timeframe"))
	users, err := h.usage.UserUsageStats(r.Context(), tf)
	if err != nil {
		h.log.WithError(err).Error("Failed to load user usage")
		writeError(w, http.StatusInternalServerError, "failed to load user usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeframe": tf, "users": users})
}

func (h *AdminHandler) UsageSummary(w http.ResponseWriter, r *http.Request) {
	tf := usage.ParseTimeframe(r.URL.Query().Get("timeframe"))
	summary, err := h.usage.UsageSummary(r.Context(), tf)
	if err != nil {
		h.log.WithError(err).Error("Failed to load usage summary")
		writeError(w, http.StatusInternalServerError, "failed to load usage summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeframe": tf, "summary": summary})
}

func (h *AdminHandler) UserLogs(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	q := r.URL.Query()
	limit, err := intParam(q, "limit", usage.DefaultLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tf := usage.ParseTimeframe(q.Get("timeframe"))
	logs, err := h.usage.UserAPILogs(r.Context(), userID, tf, limit)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("Failed to load usage logs")
		writeError(w, http.StatusInternalServerError, "failed to load usage logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeframe": tf, "userId": userID, "logs": logs})
}
