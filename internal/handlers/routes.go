package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(r *mux.Router, admin *AdminHandler, seo *SEOHandler, gatherer prometheus.Gatherer) {
	r.HandleFunc("/healthz", HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	a := r.PathPrefix("/admin").Subrouter()
	a.HandleFunc("/cache/stats", admin.CacheStats).Methods(http.MethodGet)
	a.HandleFunc("/cache/invalidate", admin.InvalidateCache).Methods(http.MethodPost)
	a.HandleFunc("/cache/cleanup", admin.CleanupCache).Methods(http.MethodPost)
	a.HandleFunc("/cache/config", admin.UpdateConfig).Methods(http.MethodPost)
	a.HandleFunc("/usage/services", admin.ServiceUsage).Methods(http.MethodGet)
	a.HandleFunc("/usage/users", admin.UserUsage).Methods(http.MethodGet)
	a.HandleFunc("/usage/summary", admin.UsageSummary).Methods(http.MethodGet)
	a.HandleFunc("/usage/users/{userId}/logs", admin.UserLogs).Methods(http.MethodGet)

	seo.register(r.PathPrefix("/api/seo").Subrouter())
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
