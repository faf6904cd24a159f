package handler

import (
	"encoding/json"
	"net/http"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeQuotaExceeded answers 413 with the admission decision so clients can
// show what to free up.
func writeQuotaExceeded(w http.ResponseWriter, qe *service.QuotaExceededError) {
	writeJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{
		"error":       "quota_exceeded",
		"stage":       qe.Stage,
		"limit_bytes": qe.Check.LimitBytes,
		"would_total": qe.Check.WouldTotal,
		"deficit":     qe.Check.Deficit,
		"hint":        "Please delete documents or conversations, or enable auto-archive.",
	})
}
