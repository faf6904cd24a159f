package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
)

type ConversationRepository interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	Create(ctx context.Context, c *domain.Conversation) error
	GetActive(ctx context.Context, id, userID uuid.UUID) (*domain.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	Rename(ctx context.Context, id, userID uuid.UUID, title string) error
	SoftDelete(ctx context.Context, id, userID uuid.UUID) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
	AppendMessage(ctx context.Context, m *domain.Message) error
}

type conversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	query := `
        INSERT INTO session (id, user_id, ip_address, user_agent)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query, s.ID, s.UserID, s.IPAddress, s.UserAgent).
		Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *conversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	query := `
        INSERT INTO conversation (id, user_id, session_id, title)
        VALUES ($1, $2, $3, $4)
        RETURNING status, storage_size_bytes, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, c.ID, c.UserID, c.SessionID, c.Title).
		Scan(&c.Status, &c.StorageSize, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *conversationRepository) GetActive(ctx context.Context, id, userID uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	query := `
        SELECT * FROM conversation
        WHERE id = $1 AND user_id = $2 AND status != 'deleted'`

	err := r.db.GetContext(ctx, &conv, query, id, userID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	query := `
        SELECT * FROM conversation
        WHERE user_id = $1 AND status != 'deleted'
        ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &convs, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (r *conversationRepository) Rename(ctx context.Context, id, userID uuid.UUID, title string) error {
	query := `
        UPDATE conversation
        SET title = $1, updated_at = now()
        WHERE id = $2 AND user_id = $3 AND status != 'deleted'`

	result, err := r.db.ExecContext(ctx, query, title, id, userID)
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepository) SoftDelete(ctx context.Context, id, userID uuid.UUID) error {
	query := `
        UPDATE conversation
        SET status = 'deleted', updated_at = now()
        WHERE id = $1 AND user_id = $2 AND status != 'deleted'`

	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *conversationRepository) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	var msgs []domain.Message
	query := `
        SELECT * FROM message
        WHERE conversation_id = $1
        ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &msgs, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// AppendMessage inserts the message and bumps the owning conversation's
// storage size in the same transaction. Conversation sizes are append-only;
// they are never decremented except via soft delete.
func (r *conversationRepository) AppendMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO message (id, conversation_id, session_id, role, content_md, size_bytes, meta)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at`

	err = tx.QueryRowContext(ctx, query,
		m.ID,
		m.ConversationID,
		m.SessionID,
		m.Role,
		m.Content,
		m.SizeBytes,
		m.Meta,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE conversation
        SET storage_size_bytes = storage_size_bytes + $1, updated_at = now()
        WHERE id = $2`, m.SizeBytes, m.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation size: %w", err)
	}

	return tx.Commit()
}
