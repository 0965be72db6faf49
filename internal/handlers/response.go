package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pulserank/apicache/internal/provider"
	"github.com/sirupsen/logrus"
)

type errorBody struct {
	Error    string `json:"error"`
	Service  string `json:"service,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeProviderError maps a failed SEO data call onto a status code.
// Missing credentials are 503; any other provider failure is 502.
func writeProviderError(w http.ResponseWriter, log *logrus.Entry, err error) {
	var br badRequest
	if errors.As(err, &br) {
		writeError(w, http.StatusBadRequest, br.msg)
		return
	}

	body := errorBody{Error: err.Error()}
	var apiErr *provider.ExternalAPIError
	if errors.As(err, &apiErr) {
		body.Service = apiErr.Service
		body.Endpoint = apiErr.Endpoint
	}

	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, body)
	case apiErr != nil:
		log.WithError(err).Warn("Provider call failed")
		writeJSON(w, http.StatusBadGateway, body)
	default:
		log.WithError(err).Error("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
