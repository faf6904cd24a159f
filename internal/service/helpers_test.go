package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/repository"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service/llm"
)

// fakeQuotaRepo serves usage numbers from memory. Release behavior is
// scripted per test via onRelease.
type fakeQuotaRepo struct {
	mu        sync.Mutex
	limit     int64
	convBytes int64
	docBytes  int64
	usageErr  error
	onRelease func(ratio float64) ([]domain.ReleaseAction, error)

	releaseCalls int
}

func (f *fakeQuotaRepo) GetUsage(ctx context.Context, userID uuid.UUID) (*repository.UsageAggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	return &repository.UsageAggregate{
		LimitBytes: f.limit,
		ConvBytes:  f.convBytes,
		DocBytes:   f.docBytes,
	}, nil
}

func (f *fakeQuotaRepo) AutoRelease(ctx context.Context, userID uuid.UUID, ratio float64) ([]domain.ReleaseAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	if f.onRelease == nil {
		return nil, nil
	}
	return f.onRelease(ratio)
}

// fakeConvRepo keeps conversations and messages in memory.
type fakeConvRepo struct {
	mu       sync.Mutex
	convs    map[uuid.UUID]*domain.Conversation
	messages []domain.Message

	appendErr error
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{convs: map[uuid.UUID]*domain.Conversation{}}
}

func (f *fakeConvRepo) addConversation(userID uuid.UUID) *domain.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv := &domain.Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		SessionID: uuid.New(),
		Title:     "New chat",
		Status:    domain.ConversationStatusActive,
		CreatedAt: time.Now(),
	}
	f.convs[conv.ID] = conv
	return conv
}

func (f *fakeConvRepo) CreateSession(ctx context.Context, s *domain.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	return nil
}

func (f *fakeConvRepo) Create(ctx context.Context, c *domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = domain.ConversationStatusActive
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	f.convs[c.ID] = c
	return nil
}

func (f *fakeConvRepo) GetActive(ctx context.Context, id, userID uuid.UUID) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok || conv.UserID != userID || conv.Status == domain.ConversationStatusDeleted {
		return nil, repository.ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (f *fakeConvRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Conversation
	for _, c := range f.convs {
		if c.UserID == userID && c.Status != domain.ConversationStatusDeleted {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConvRepo) Rename(ctx context.Context, id, userID uuid.UUID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok || conv.UserID != userID || conv.Status == domain.ConversationStatusDeleted {
		return repository.ErrNotFound
	}
	conv.Title = title
	return nil
}

func (f *fakeConvRepo) SoftDelete(ctx context.Context, id, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok || conv.UserID != userID || conv.Status == domain.ConversationStatusDeleted {
		return repository.ErrNotFound
	}
	conv.Status = domain.ConversationStatusDeleted
	return nil
}

func (f *fakeConvRepo) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeConvRepo) AppendMessage(ctx context.Context, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now()
	f.messages = append(f.messages, *m)
	if conv, ok := f.convs[m.ConversationID]; ok {
		conv.StorageSize += m.SizeBytes
	}
	return nil
}

func (f *fakeConvRepo) messagesByRole(role string) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// fakeDocRepo keeps document rows and links in memory.
type fakeDocRepo struct {
	mu     sync.Mutex
	docs   map[uuid.UUID]*domain.Document
	owners map[uuid.UUID]uuid.UUID
	links  map[uuid.UUID][]uuid.UUID
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{
		docs:   map[uuid.UUID]*domain.Document{},
		owners: map[uuid.UUID]uuid.UUID{},
		links:  map[uuid.UUID][]uuid.UUID{},
	}
}

func (f *fakeDocRepo) Create(ctx context.Context, d *domain.Document, ownerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	f.docs[d.ID] = d
	f.owners[d.ID] = ownerID
	return nil
}

func (f *fakeDocRepo) GetForUser(ctx context.Context, id, userID uuid.UUID) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || f.owners[id] != userID {
		return nil, repository.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeDocRepo) List(ctx context.Context, userID uuid.UUID, filter string, page, pageSize int) ([]domain.Document, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for id, d := range f.docs {
		if f.owners[id] != userID {
			continue
		}
		if d.Status == domain.DocumentStatusDeleted || d.Status == domain.DocumentStatusArchivedQuota {
			continue
		}
		out = append(out, *d)
	}
	return out, int64(len(out)), nil
}

func (f *fakeDocRepo) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	doc.Status = status
	return nil
}

func (f *fakeDocRepo) AccessibleIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[uuid.UUID]bool{}
	for _, id := range ids {
		if _, ok := f.docs[id]; ok && f.owners[id] == userID {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeDocRepo) LinkToConversation(ctx context.Context, conversationID, documentID uuid.UUID, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.links[conversationID] {
		if id == documentID {
			return nil
		}
	}
	f.links[conversationID] = append(f.links[conversationID], documentID)
	return nil
}

// fakeUserRepo returns a static profile for any user.
type fakeUserRepo struct {
	profile *domain.UserProfile
	err     error
}

func (f *fakeUserRepo) GetProfile(ctx context.Context, id uuid.UUID) (*domain.UserProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.profile != nil {
		return f.profile, nil
	}
	return &domain.UserProfile{ID: id, Email: "user@example.com"}, nil
}

// fakeAssistant replays scripted events for streaming calls and a fixed
// answer for non-streaming ones.
type fakeAssistant struct {
	answer    string
	usage     *llm.Usage
	latencyMS float64
	assistErr error

	events    []llm.Event
	streamErr error

	mu     sync.Mutex
	closed bool
}

func (f *fakeAssistant) Assist(ctx context.Context, req llm.AssistRequest) (llm.AssistResult, error) {
	if f.assistErr != nil {
		return llm.AssistResult{}, f.assistErr
	}
	return llm.AssistResult{Answer: f.answer, Usage: f.usage, LatencyMS: f.latencyMS}, nil
}

func (f *fakeAssistant) AssistStream(ctx context.Context, req llm.AssistRequest) (llm.EventStream, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &fakeStream{parent: f, events: f.events, ctx: ctx}, nil
}

func (f *fakeAssistant) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeStream struct {
	parent *fakeAssistant
	events []llm.Event
	ctx    context.Context
	pos    int
}

func (s *fakeStream) Recv() (llm.Event, error) {
	if err := s.ctx.Err(); err != nil {
		return llm.Event{}, err
	}
	if s.pos >= len(s.events) {
		return llm.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *fakeStream) Close() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	s.parent.closed = true
	return nil
}

// collectEvents returns an emit callback that appends into the given slice.
func collectEvents(dst *[]StreamEvent) func(StreamEvent) error {
	return func(ev StreamEvent) error {
		*dst = append(*dst, ev)
		return nil
	}
}
