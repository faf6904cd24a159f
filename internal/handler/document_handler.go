package handler

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/auth"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service"
)

const maxUploadMemory = 32 << 20

type DocumentHandler struct {
	docs *service.DocumentService
}

func NewDocumentHandler(docs *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	var conversationID *uuid.UUID
	if raw := r.FormValue("conversation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
			return
		}
		conversationID = &id
	}

	result, err := h.docs.Upload(r.Context(), userID, header.Filename, header.Header.Get("Content-Type"), file, conversationID)
	if err != nil {
		h.writeDocError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	list, err := h.docs.List(r.Context(), userID, r.URL.Query().Get("q"), page, pageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DocumentHandler) Usage(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	usage, err := h.docs.Usage(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, docID, ok := h.authAndID(w, r)
	if !ok {
		return
	}

	doc, obj, err := h.docs.Download(r.Context(), docID, userID)
	if err != nil {
		h.writeDocError(w, err)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", doc.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	if obj.ContentLength() > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength(), 10))
	}

	if _, err := io.Copy(w, obj); err != nil {
		log.Printf("[DocumentHandler] download stream for %s interrupted: %v", docID, err)
	}
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, docID, ok := h.authAndID(w, r)
	if !ok {
		return
	}

	if err := h.docs.SoftDelete(r.Context(), docID, userID); err != nil {
		h.writeDocError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) authAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}

	docID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid document ID", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, docID, true
}

func (h *DocumentHandler) writeDocError(w http.ResponseWriter, err error) {
	var qe *service.QuotaExceededError
	switch {
	case errors.Is(err, service.ErrDocumentNotFound):
		http.Error(w, "Document not found", http.StatusNotFound)
	case errors.Is(err, service.ErrConversationNotFound):
		http.Error(w, "Conversation not found", http.StatusNotFound)
	case errors.As(err, &qe):
		writeQuotaExceeded(w, qe)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
