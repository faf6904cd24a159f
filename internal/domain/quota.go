package domain

import "github.com/google/uuid"

// QuotaState is derived on demand from committed rows; it is never cached
// across requests.
type QuotaState struct {
	UserID         uuid.UUID `json:"user_id"`
	LimitBytes     int64     `json:"limit_bytes"`
	UsedConvBytes  int64     `json:"used_conversation_bytes"`
	UsedDocBytes   int64     `json:"used_document_bytes"`
	UsedTotalBytes int64     `json:"used_total_bytes"`
	UsedRatio      float64   `json:"used_ratio"`
}

// UploadCheck is the admission decision for a prospective incoming size.
// It is recomputed per request and never persisted.
type UploadCheck struct {
	Allowed    bool  `json:"allowed"`
	LimitBytes int64 `json:"limit_bytes"`
	WouldTotal int64 `json:"would_total_bytes"`
	Deficit    int64 `json:"deficit_bytes"`
}

const (
	ReleaseKindConversation = "conversation"
	ReleaseKindDocument     = "document"
)

// ReleaseAction records one item archived by auto-release.
type ReleaseAction struct {
	Kind  string    `json:"kind"`
	ID    uuid.UUID `json:"id"`
	Bytes int64     `json:"bytes_released"`
}

// TextByteSize returns the UTF-8 encoded byte length of s. Go strings are
// UTF-8, so this is the plain byte length.
func TextByteSize(s string) int {
	return len(s)
}
