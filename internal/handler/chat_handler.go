package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/auth"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service"
)

// ChatProvider is the chat surface the handler needs.
type ChatProvider interface {
	CreateConversation(ctx context.Context, userID uuid.UUID, in service.ConversationCreate, client service.ClientMeta) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	RenameConversation(ctx context.Context, id, userID uuid.UUID, title string) (*domain.Conversation, error)
	DeleteConversation(ctx context.Context, id, userID uuid.UUID) error
	ListMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error)
	SendMessage(ctx context.Context, userID, conversationID uuid.UUID, in service.MessageCreate) ([]domain.Message, error)
	StreamMessage(ctx context.Context, userID, conversationID uuid.UUID, in service.MessageCreate, emit func(service.StreamEvent) error) error
}

type ChatHandler struct {
	chat ChatProvider
}

func NewChatHandler(chat ChatProvider) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var in service.ConversationCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.chat.CreateConversation(r.Context(), userID, in, service.ClientMeta{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	convs, err := h.chat.ListConversations(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ChatHandler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.authAndID(w, r)
	if !ok {
		return
	}

	var in struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Title == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.chat.RenameConversation(r.Context(), convID, userID, in.Title)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.authAndID(w, r)
	if !ok {
		return
	}

	if err := h.chat.DeleteConversation(r.Context(), convID, userID); err != nil {
		h.writeChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.authAndID(w, r)
	if !ok {
		return
	}

	msgs, err := h.chat.ListMessages(r.Context(), convID, userID)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.authAndID(w, r)
	if !ok {
		return
	}

	in, ok := decodeMessage(w, r)
	if !ok {
		return
	}

	msgs, err := h.chat.SendMessage(r.Context(), userID, convID, in)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msgs)
}

// StreamMessage relays the assistant reply as SSE. Headers are written
// before the first event; any failure before that point still gets a proper
// status code.
func (h *ChatHandler) StreamMessage(w http.ResponseWriter, r *http.Request) {
	userID, convID, ok := h.authAndID(w, r)
	if !ok {
		return
	}

	in, ok := decodeMessage(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	started := false
	emit := func(ev service.StreamEvent) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.chat.StreamMessage(r.Context(), userID, convID, in, emit); err != nil {
		if started {
			log.Printf("[ChatHandler] stream failed after start: %v", err)
			return
		}
		h.writeChatError(w, err)
	}
}

func decodeMessage(w http.ResponseWriter, r *http.Request) (service.MessageCreate, bool) {
	var in service.MessageCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Content == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return in, false
	}
	return in, true
}

func (h *ChatHandler) authAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, convID, true
}

func (h *ChatHandler) writeChatError(w http.ResponseWriter, err error) {
	var qe *service.QuotaExceededError
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		http.Error(w, "Conversation not found", http.StatusNotFound)
	case errors.Is(err, service.ErrDocumentNotFound):
		http.Error(w, "Document not found", http.StatusNotFound)
	case errors.As(err, &qe):
		writeQuotaExceeded(w, qe)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
