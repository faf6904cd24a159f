package handler

import (
	"errors"
	"net/http"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/auth"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service"
)

// AnalyticsHandler serves the admin dashboard endpoints. The admin-role
// check itself lives in the external auth service that issues the tokens;
// here the token only has to be valid.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
}

func NewAnalyticsHandler(analytics *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

func (h *AnalyticsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.VerifyToken(r); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summary, err := h.analytics.Summary(r.Context(), r.URL.Query().Get("range"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRange) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *AnalyticsHandler) GetTrends(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.VerifyToken(r); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	trends, err := h.analytics.Trends(r.Context(), r.URL.Query().Get("range"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRange) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}
