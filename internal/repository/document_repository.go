package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
)

type DocumentRepository interface {
	Create(ctx context.Context, d *domain.Document, ownerID uuid.UUID) error
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*domain.Document, error)
	List(ctx context.Context, userID uuid.UUID, filter string, page, pageSize int) ([]domain.Document, int64, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	AccessibleIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	LinkToConversation(ctx context.Context, conversationID, documentID uuid.UUID, scope string) error
}

type documentRepository struct {
	db *sqlx.DB
}

func NewDocumentRepository(db *sqlx.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create inserts the document and the owner link in one transaction.
func (r *documentRepository) Create(ctx context.Context, d *domain.Document, ownerID uuid.UUID) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO document (id, filename, mime_type, size_bytes, storage_key, processed_text, processed_text_bytes, sha256, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING created_at`

	err = tx.QueryRowContext(ctx, query,
		d.ID,
		d.Filename,
		d.MIMEType,
		d.SizeBytes,
		d.StorageKey,
		d.ProcessedText,
		d.ProcessedTextBytes,
		d.SHA256,
		d.Status,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	owner := domain.UserDocument{UserID: ownerID, DocumentID: d.ID, Permission: "owner"}
	_, err = tx.NamedExecContext(ctx, `
        INSERT INTO user_document (user_id, document_id, permission)
        VALUES (:user_id, :document_id, :permission)`, owner)
	if err != nil {
		return fmt.Errorf("failed to link document owner: %w", err)
	}

	return tx.Commit()
}

func (r *documentRepository) GetForUser(ctx context.Context, id, userID uuid.UUID) (*domain.Document, error) {
	var doc domain.Document
	query := `
        SELECT d.* FROM document d
        JOIN user_document ud ON ud.document_id = d.id
        WHERE d.id = $1 AND ud.user_id = $2`

	err := r.db.GetContext(ctx, &doc, query, id, userID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (r *documentRepository) List(ctx context.Context, userID uuid.UUID, filter string, page, pageSize int) ([]domain.Document, int64, error) {
	where := `
        FROM document d
        JOIN user_document ud ON ud.document_id = d.id
        WHERE ud.user_id = $1
          AND NOT (d.status = ANY($2))
          AND ($3 = '' OR d.filename ILIKE '%' || $3 || '%')`
	excluded := pq.Array(domain.QuotaExcludedDocumentStatuses)

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) `+where, userID, excluded, filter); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	var docs []domain.Document
	query := `SELECT d.* ` + where + `
        ORDER BY d.created_at DESC
        LIMIT $4 OFFSET $5`

	err := r.db.SelectContext(ctx, &docs, query, userID, excluded, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, total, nil
}

func (r *documentRepository) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	result, err := r.db.ExecContext(ctx, `
        UPDATE document SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
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

// AccessibleIDs reports which of the given documents are linked to the user.
func (r *documentRepository) AccessibleIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]bool{}, nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	var found []uuid.UUID
	query := `
        SELECT d.id FROM document d
        JOIN user_document ud ON ud.document_id = d.id
        WHERE ud.user_id = $1 AND d.id = ANY($2)`

	if err := r.db.SelectContext(ctx, &found, query, userID, pq.Array(raw)); err != nil {
		return nil, fmt.Errorf("failed to check document access: %w", err)
	}

	accessible := make(map[uuid.UUID]bool, len(found))
	for _, id := range found {
		accessible[id] = true
	}
	return accessible, nil
}

func (r *documentRepository) LinkToConversation(ctx context.Context, conversationID, documentID uuid.UUID, scope string) error {
	link := domain.ConversationDocument{ConversationID: conversationID, DocumentID: documentID, Scope: scope}
	_, err := r.db.NamedExecContext(ctx, `
        INSERT INTO conversation_document (conversation_id, document_id, scope)
        VALUES (:conversation_id, :document_id, :scope)
        ON CONFLICT (conversation_id, document_id) DO NOTHING`, link)
	if err != nil {
		return fmt.Errorf("failed to link document to conversation: %w", err)
	}
	return nil
}
