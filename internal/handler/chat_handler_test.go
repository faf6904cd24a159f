package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/auth"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service"
)

// fakeChat implements ChatProvider with scripted results.
type fakeChat struct {
	conv         *domain.Conversation
	messages     []domain.Message
	err          error
	streamEvents []service.StreamEvent
	streamErr    error
}

func (f *fakeChat) CreateConversation(ctx context.Context, userID uuid.UUID, in service.ConversationCreate, client service.ClientMeta) (*domain.Conversation, error) {
	return f.conv, f.err
}

func (f *fakeChat) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	if f.conv == nil {
		return nil, f.err
	}
	return []domain.Conversation{*f.conv}, f.err
}

func (f *fakeChat) RenameConversation(ctx context.Context, id, userID uuid.UUID, title string) (*domain.Conversation, error) {
	return f.conv, f.err
}

func (f *fakeChat) DeleteConversation(ctx context.Context, id, userID uuid.UUID) error {
	return f.err
}

func (f *fakeChat) ListMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error) {
	return f.messages, f.err
}

func (f *fakeChat) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, in service.MessageCreate) ([]domain.Message, error) {
	return f.messages, f.err
}

func (f *fakeChat) StreamMessage(ctx context.Context, userID, conversationID uuid.UUID, in service.MessageCreate, emit func(service.StreamEvent) error) error {
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, ev := range f.streamEvents {
		if err := emit(ev); err != nil {
			return nil
		}
	}
	return nil
}

func bearerToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	auth.Init("handler-test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("handler-test-secret"))
	require.NoError(t, err)
	return "Bearer " + signed
}

func newChatRouter(chat ChatProvider) *chi.Mux {
	h := NewChatHandler(chat)
	r := chi.NewRouter()
	r.Route("/v1/chat", func(r chi.Router) {
		r.Get("/conversations", h.ListConversations)
		r.Post("/conversations", h.CreateConversation)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Patch("/", h.RenameConversation)
			r.Delete("/", h.DeleteConversation)
			r.Get("/messages", h.ListMessages)
			r.Post("/messages", h.SendMessage)
			r.Post("/messages/stream", h.StreamMessage)
		})
	})
	return r
}

func TestStreamMessage_SSEFraming(t *testing.T) {
	latency := 5.0
	chat := &fakeChat{streamEvents: []service.StreamEvent{
		{Type: "delta", Delta: "Hel"},
		{Type: "delta", Delta: "lo"},
		{Type: "complete", LatencyMS: &latency},
		{Type: "saved", MessageID: uuid.NewString()},
	}}
	router := newChatRouter(chat)

	req := httptest.NewRequest("POST", "/v1/chat/conversations/"+uuid.NewString()+"/messages/stream",
		strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Authorization", bearerToken(t, uuid.New()))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	// Each event is a single data: line followed by a blank line.
	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 4)
	for _, frame := range frames {
		assert.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
	}

	var first service.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first))
	assert.Equal(t, "delta", first.Type)
	assert.Equal(t, "Hel", first.Delta)

	var last service.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[3], "data: ")), &last))
	assert.Equal(t, "saved", last.Type)
	assert.NotEmpty(t, last.MessageID)
}

func TestStreamMessage_QuotaRejectedBeforeStart(t *testing.T) {
	chat := &fakeChat{streamErr: &service.QuotaExceededError{
		Stage: "user_message",
		Check: domain.UploadCheck{LimitBytes: 100, WouldTotal: 110, Deficit: 10},
	}}
	router := newChatRouter(chat)

	req := httptest.NewRequest("POST", "/v1/chat/conversations/"+uuid.NewString()+"/messages/stream",
		strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Authorization", bearerToken(t, uuid.New()))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "quota_exceeded", body["error"])
	assert.Equal(t, "user_message", body["stage"])
	assert.Equal(t, float64(100), body["limit_bytes"])
	assert.Equal(t, float64(10), body["deficit"])
}

func TestStreamMessage_UnknownConversation(t *testing.T) {
	chat := &fakeChat{streamErr: service.ErrConversationNotFound}
	router := newChatRouter(chat)

	req := httptest.NewRequest("POST", "/v1/chat/conversations/"+uuid.NewString()+"/messages/stream",
		strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Authorization", bearerToken(t, uuid.New()))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamMessage_Unauthorized(t *testing.T) {
	router := newChatRouter(&fakeChat{})

	req := httptest.NewRequest("POST", "/v1/chat/conversations/"+uuid.NewString()+"/messages/stream",
		strings.NewReader(`{"content":"hi"}`))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendMessage_EmptyContentRejected(t *testing.T) {
	router := newChatRouter(&fakeChat{})

	req := httptest.NewRequest("POST", "/v1/chat/conversations/"+uuid.NewString()+"/messages",
		strings.NewReader(`{"content":""}`))
	req.Header.Set("Authorization", bearerToken(t, uuid.New()))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_QuotaBody(t *testing.T) {
	chat := &fakeChat{err: &service.QuotaExceededError{
		Stage: "assistant_message",
		Check: domain.UploadCheck{LimitBytes: 50, WouldTotal: 70, Deficit: 20},
	}}
	router := newChatRouter(chat)

	req := httptest.NewRequest("POST", "/v1/chat/conversations/"+uuid.NewString()+"/messages",
		strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Authorization", bearerToken(t, uuid.New()))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "assistant_message", body["stage"])
}

func TestListConversations_EmptyIsJSONArray(t *testing.T) {
	router := newChatRouter(&fakeChat{})

	req := httptest.NewRequest("GET", "/v1/chat/conversations", nil)
	req.Header.Set("Authorization", bearerToken(t, uuid.New()))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestDeleteConversation_NoContent(t *testing.T) {
	router := newChatRouter(&fakeChat{})

	req := httptest.NewRequest("DELETE", "/v1/chat/conversations/"+uuid.NewString()+"/", nil)
	req.Header.Set("Authorization", bearerToken(t, uuid.New()))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
