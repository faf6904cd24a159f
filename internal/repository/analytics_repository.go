package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
)

type AnalyticsRepository interface {
	Summary(ctx context.Context, start, end time.Time) (*domain.AnalyticsSummary, error)
	AssistantTokens(ctx context.Context, start, end time.Time) ([]domain.TokenSample, error)
}

type analyticsRepository struct {
	db *sqlx.DB
}

func NewAnalyticsRepository(db *sqlx.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

// Summary aggregates message counts, token totals and average latency over
// the window. Token and latency figures come from assistant message meta.
func (r *analyticsRepository) Summary(ctx context.Context, start, end time.Time) (*domain.AnalyticsSummary, error) {
	var row struct {
		TotalMessages int64           `db:"total_messages"`
		TotalTokens   int64           `db:"total_tokens"`
		AvgLatencyMS  sql.NullFloat64 `db:"avg_latency_ms"`
	}

	query := `
        SELECT
            COUNT(*) AS total_messages,
            COALESCE(SUM(
                CASE WHEN role = 'assistant'
                     THEN COALESCE((meta -> 'usage' ->> 'total_tokens')::bigint, 0)
                     ELSE 0
                END), 0) AS total_tokens,
            AVG(CASE WHEN role = 'assistant'
                     THEN (meta ->> 'latency_ms')::double precision
                END) AS avg_latency_ms
        FROM message
        WHERE created_at >= $1 AND created_at < $2
          AND role IN ('user', 'assistant')`

	if err := r.db.GetContext(ctx, &row, query, start, end); err != nil {
		return nil, fmt.Errorf("failed to aggregate analytics summary: %w", err)
	}

	summary := &domain.AnalyticsSummary{
		TotalMessages: row.TotalMessages,
		TotalTokens:   row.TotalTokens,
	}
	if row.AvgLatencyMS.Valid {
		summary.AvgLatencyMS = &row.AvgLatencyMS.Float64
	}
	return summary, nil
}

// AssistantTokens returns one sample per assistant message in the window.
// The token count falls back to summing the per-kind counters when the meta
// carries no total.
func (r *analyticsRepository) AssistantTokens(ctx context.Context, start, end time.Time) ([]domain.TokenSample, error) {
	query := `
        SELECT created_at,
               COALESCE((meta -> 'usage' ->> 'total_tokens')::bigint,
                        COALESCE((meta -> 'usage' ->> 'input_tokens')::bigint, 0)
                      + COALESCE((meta -> 'usage' ->> 'output_tokens')::bigint, 0)
                      + COALESCE((meta -> 'usage' ->> 'reasoning_tokens')::bigint, 0)
               ) AS tokens
        FROM message
        WHERE created_at >= $1 AND created_at < $2
          AND role = 'assistant'
        ORDER BY created_at`

	var samples []domain.TokenSample
	if err := r.db.SelectContext(ctx, &samples, query, start, end); err != nil {
		return nil, fmt.Errorf("failed to load assistant token samples: %w", err)
	}
	return samples, nil
}
