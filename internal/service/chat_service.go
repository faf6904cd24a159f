package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/repository"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service/llm"
)

const defaultOrgName = "default_org"

// ClientMeta describes the client that opened a session.
type ClientMeta struct {
	IP        string
	UserAgent string
}

type ConversationCreate struct {
	Title string `json:"title"`
}

type MessageCreate struct {
	Content     string      `json:"content"`
	DocumentIDs []uuid.UUID `json:"document_ids,omitempty"`
}

// ChatService owns conversations and the quota-gated message flow. Every
// persisted message passes an admission check first; assistant output is
// checked again after generation because its size is unknown up front.
type ChatService struct {
	convs     repository.ConversationRepository
	docs      repository.DocumentRepository
	users     repository.UserRepository
	quota     *QuotaService
	assistant llm.Assistant
}

func NewChatService(
	convs repository.ConversationRepository,
	docs repository.DocumentRepository,
	users repository.UserRepository,
	quota *QuotaService,
	assistant llm.Assistant,
) *ChatService {
	return &ChatService{
		convs:     convs,
		docs:      docs,
		users:     users,
		quota:     quota,
		assistant: assistant,
	}
}

func (s *ChatService) CreateConversation(ctx context.Context, userID uuid.UUID, in ConversationCreate, client ClientMeta) (*domain.Conversation, error) {
	sess := &domain.Session{UserID: userID}
	if client.IP != "" {
		sess.IPAddress = &client.IP
	}
	if client.UserAgent != "" {
		sess.UserAgent = &client.UserAgent
	}
	if err := s.convs.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	title := in.Title
	if title == "" {
		title = "New chat"
	}
	conv := &domain.Conversation{
		UserID:    userID,
		SessionID: sess.ID,
		Title:     title,
	}
	if err := s.convs.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *ChatService) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	return s.convs.ListByUser(ctx, userID)
}

func (s *ChatService) GetConversation(ctx context.Context, id, userID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.convs.GetActive(ctx, id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	return conv, err
}

func (s *ChatService) RenameConversation(ctx context.Context, id, userID uuid.UUID, title string) (*domain.Conversation, error) {
	if err := s.convs.Rename(ctx, id, userID, title); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return s.GetConversation(ctx, id, userID)
}

func (s *ChatService) DeleteConversation(ctx context.Context, id, userID uuid.UUID) error {
	err := s.convs.SoftDelete(ctx, id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

func (s *ChatService) ListMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.convs.ListMessages(ctx, conversationID)
}

// SendMessage is the non-streaming flow: admit and persist the user
// message, call the model service, admit and persist the assistant reply.
// Both messages are returned in order.
func (s *ChatService) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, in MessageCreate) ([]domain.Message, error) {
	conv, err := s.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.admitUserMessage(ctx, conv, userID, in)
	if err != nil {
		return nil, err
	}

	result, err := s.assistant.Assist(ctx, llm.AssistRequest{
		Question: in.Content,
		UserName: s.displayName(ctx, userID),
		OrgName:  defaultOrgName,
	})
	if err != nil {
		return nil, fmt.Errorf("model service call failed: %w", err)
	}

	assistantMsg, err := s.commitAssistantMessage(ctx, conv, userID, result.Answer, result.Usage, result.LatencyMS)
	if err != nil {
		return nil, err
	}

	return []domain.Message{*userMsg, *assistantMsg}, nil
}

// admitUserMessage runs the input-side admission check, validates any
// document context and persists the user message.
func (s *ChatService) admitUserMessage(ctx context.Context, conv *domain.Conversation, userID uuid.UUID, in MessageCreate) (*domain.Message, error) {
	userBytes := int64(domain.TextByteSize(in.Content))
	check, err := s.quota.EnsureQuotaFor(ctx, userID, userBytes)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return nil, &QuotaExceededError{Stage: "user_message", Check: *check}
	}

	docIDs, err := s.prepareDocumentContext(ctx, userID, conv.ID, in.DocumentIDs)
	if err != nil {
		return nil, err
	}

	meta := domain.Meta{}
	if len(docIDs) > 0 {
		meta["document_ids"] = docIDs
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		SessionID:      conv.SessionID,
		Role:           domain.RoleUser,
		Content:        in.Content,
		SizeBytes:      userBytes,
		Meta:           meta,
	}
	if err := s.convs.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	return msg, nil
}

// commitAssistantMessage runs the output-side admission check and persists
// the assistant reply with usage and latency in meta.
func (s *ChatService) commitAssistantMessage(ctx context.Context, conv *domain.Conversation, userID uuid.UUID, answer string, usage *llm.Usage, latencyMS float64) (*domain.Message, error) {
	assistantBytes := int64(domain.TextByteSize(answer))
	check, err := s.quota.EnsureQuotaFor(ctx, userID, assistantBytes)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return nil, &QuotaExceededError{Stage: "assistant_message", Check: *check}
	}

	meta := domain.Meta{"latency_ms": latencyMS}
	if usage != nil {
		meta["usage"] = usage
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		SessionID:      conv.SessionID,
		Role:           domain.RoleAssistant,
		Content:        answer,
		SizeBytes:      assistantBytes,
		Meta:           meta,
	}
	if err := s.convs.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}
	return msg, nil
}

// prepareDocumentContext validates that the user can access every referenced
// document and links them to the conversation. Order is preserved,
// duplicates are dropped.
func (s *ChatService) prepareDocumentContext(ctx context.Context, userID, conversationID uuid.UUID, ids []uuid.UUID) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	seen := make(map[uuid.UUID]bool, len(ids))
	ordered := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		ordered = append(ordered, id)
	}
	if len(ordered) == 0 {
		return nil, nil
	}

	accessible, err := s.docs.AccessibleIDs(ctx, userID, ordered)
	if err != nil {
		return nil, fmt.Errorf("failed to check document access: %w", err)
	}

	out := make([]string, 0, len(ordered))
	for _, id := range ordered {
		if !accessible[id] {
			return nil, ErrDocumentNotFound
		}
		if err := s.docs.LinkToConversation(ctx, conversationID, id, "context"); err != nil {
			return nil, fmt.Errorf("failed to link document to conversation: %w", err)
		}
		out = append(out, id.String())
	}
	return out, nil
}

func (s *ChatService) displayName(ctx context.Context, userID uuid.UUID) string {
	profile, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		log.Printf("[ChatService] failed to load profile for %s: %v", userID, err)
		return "anonymous"
	}
	return profile.Name()
}
