package handler

import (
	"net/http"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/auth"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service"
)

type QuotaHandler struct {
	quota *service.QuotaService
}

func NewQuotaHandler(quota *service.QuotaService) *QuotaHandler {
	return &QuotaHandler{quota: quota}
}

// GetQuotaInfo returns the caller's derived quota state.
func (h *QuotaHandler) GetQuotaInfo(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	state, err := h.quota.GetQuotaState(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
