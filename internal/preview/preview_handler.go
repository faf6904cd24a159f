package preview

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/auth"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service"
)

type Handler struct {
	service *Service
	docs    *service.DocumentService
}

func NewHandler(service *Service, docs *service.DocumentService) *Handler {
	return &Handler{service: service, docs: docs}
}

func (h *Handler) GetPreview(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	docID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid document ID", http.StatusBadRequest)
		return
	}

	doc, obj, err := h.docs.Download(r.Context(), docID, userID)
	if err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			http.Error(w, "Document not found", http.StatusNotFound)
			return
		}
		log.Printf("[Preview] failed to fetch document %s: %v", docID, err)
		http.Error(w, "Failed to get document", http.StatusInternalServerError)
		return
	}
	defer obj.Close()

	previewData, err := h.service.GetOrGenerate(r.Context(), doc, obj)
	if err != nil {
		if errors.Is(err, ErrUnsupportedPreview) {
			http.Error(w, "Preview not available for this file type", http.StatusUnsupportedMediaType)
			return
		}
		log.Printf("[Preview] failed to generate preview for %s: %v", docID, err)
		http.Error(w, "Failed to generate preview", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(previewData)
}
