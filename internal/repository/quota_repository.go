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

// UsageAggregate is a raw usage snapshot read from committed rows.
type UsageAggregate struct {
	LimitBytes int64
	ConvBytes  int64
	DocBytes   int64
}

// QuotaRepository derives quota usage from row-level aggregates. There is no
// persisted running counter; every call recomputes from source rows.
type QuotaRepository interface {
	GetUsage(ctx context.Context, userID uuid.UUID) (*UsageAggregate, error)
	AutoRelease(ctx context.Context, userID uuid.UUID, releaseRatio float64) ([]domain.ReleaseAction, error)
}

type quotaRepository struct {
	db           *sqlx.DB
	defaultLimit int64
}

func NewQuotaRepository(db *sqlx.DB, defaultLimitBytes int64) QuotaRepository {
	return &quotaRepository{db: db, defaultLimit: defaultLimitBytes}
}

const (
	limitQuery = `
        SELECT COALESCE(quota_limit_bytes, $2)
        FROM user_profile
        WHERE id = $1`

	convBytesQuery = `
        SELECT COALESCE(SUM(storage_size_bytes), 0)
        FROM conversation
        WHERE user_id = $1 AND status = 'active'`

	docBytesQuery = `
        SELECT COALESCE(SUM(d.size_bytes + COALESCE(d.processed_text_bytes, 0)), 0)
        FROM document d
        JOIN user_document ud ON ud.document_id = d.id
        WHERE ud.user_id = $1
          AND NOT (d.status = ANY($2))`
)

func (r *quotaRepository) GetUsage(ctx context.Context, userID uuid.UUID) (*UsageAggregate, error) {
	agg, err := readUsage(ctx, r.db, userID, r.defaultLimit)
	if err != nil {
		return nil, err
	}
	return agg, nil
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func readUsage(ctx context.Context, q queryer, userID uuid.UUID, defaultLimit int64) (*UsageAggregate, error) {
	var agg UsageAggregate

	err := q.GetContext(ctx, &agg.LimitBytes, limitQuery, userID, defaultLimit)
	if err == sql.ErrNoRows {
		agg.LimitBytes = defaultLimit
	} else if err != nil {
		return nil, fmt.Errorf("failed to read quota limit: %w", err)
	}

	if err := q.GetContext(ctx, &agg.ConvBytes, convBytesQuery, userID); err != nil {
		return nil, fmt.Errorf("failed to sum conversation bytes: %w", err)
	}

	if err := q.GetContext(ctx, &agg.DocBytes, docBytesQuery, userID, pq.Array(domain.QuotaExcludedDocumentStatuses)); err != nil {
		return nil, fmt.Errorf("failed to sum document bytes: %w", err)
	}

	return &agg, nil
}

// releaseItem is one auto-release candidate in chronological order.
type releaseItem struct {
	Kind  string    `db:"kind"`
	ID    uuid.UUID `db:"id"`
	Bytes int64     `db:"bytes"`
}

// selectReleaseCandidates accumulates items (already ordered oldest first)
// until the released bytes reach target. Zero-byte items are skipped so the
// action list only names items that actually free capacity.
func selectReleaseCandidates(items []releaseItem, target int64) []releaseItem {
	var selected []releaseItem
	var released int64
	for _, it := range items {
		if released >= target {
			break
		}
		if it.Bytes <= 0 {
			continue
		}
		selected = append(selected, it)
		released += it.Bytes
	}
	return selected
}

// AutoRelease archives the user's oldest content until roughly
// releaseRatio×limit bytes are freed. It is a no-op when the user is not
// currently over the limit, which makes back-to-back calls idempotent. All
// status updates happen in a single transaction.
func (r *quotaRepository) AutoRelease(ctx context.Context, userID uuid.UUID, releaseRatio float64) ([]domain.ReleaseAction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	agg, err := readUsage(ctx, tx, userID, r.defaultLimit)
	if err != nil {
		return nil, err
	}

	used := agg.ConvBytes + agg.DocBytes
	if agg.LimitBytes <= 0 || used <= agg.LimitBytes {
		return nil, nil
	}

	target := int64(float64(agg.LimitBytes) * releaseRatio)
	if target <= 0 {
		return nil, nil
	}

	// Strict chronological merge across both kinds; equal timestamps order
	// conversations before documents, then by id.
	var items []releaseItem
	err = tx.SelectContext(ctx, &items, `
        SELECT kind, id, bytes FROM (
            SELECT 'conversation' AS kind, id, storage_size_bytes AS bytes, created_at
            FROM conversation
            WHERE user_id = $1 AND status = 'active'
            UNION ALL
            SELECT 'document' AS kind, d.id, d.size_bytes + COALESCE(d.processed_text_bytes, 0) AS bytes, d.created_at
            FROM document d
            JOIN user_document ud ON ud.document_id = d.id
            WHERE ud.user_id = $1
              AND NOT (d.status = ANY($2))
        ) items
        ORDER BY created_at ASC, kind ASC, id ASC`, userID, pq.Array(domain.QuotaExcludedDocumentStatuses))
	if err != nil {
		return nil, fmt.Errorf("failed to list release candidates: %w", err)
	}

	selected := selectReleaseCandidates(items, target)
	if len(selected) == 0 {
		return nil, nil
	}

	actions := make([]domain.ReleaseAction, 0, len(selected))
	for _, it := range selected {
		switch it.Kind {
		case domain.ReleaseKindConversation:
			_, err = tx.ExecContext(ctx, `
                UPDATE conversation
                SET status = 'deleted', updated_at = now()
                WHERE id = $1`, it.ID)
		case domain.ReleaseKindDocument:
			_, err = tx.ExecContext(ctx, `
                UPDATE document
                SET status = 'archived_quota'
                WHERE id = $1`, it.ID)
		default:
			err = fmt.Errorf("unknown release kind %q", it.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to archive %s %s: %w", it.Kind, it.ID, err)
		}
		actions = append(actions, domain.ReleaseAction{Kind: it.Kind, ID: it.ID, Bytes: it.Bytes})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit auto-release: %w", err)
	}

	return actions, nil
}
