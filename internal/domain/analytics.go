package domain

import "time"

// AnalyticsSummary aggregates message activity over a time window.
type AnalyticsSummary struct {
	TotalMessages int64    `json:"total_messages"`
	TotalTokens   int64    `json:"total_tokens"`
	AvgLatencyMS  *float64 `json:"avg_latency_ms"`
	SuccessRate   *float64 `json:"success_rate"`
}

// TokenSample is one assistant message's token count with its timestamp,
// used for trend bucketing.
type TokenSample struct {
	CreatedAt time.Time `db:"created_at"`
	Tokens    int64     `db:"tokens"`
}
