package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	DocumentStatusUploaded      = "uploaded"
	DocumentStatusArchivedQuota = "archived_quota"
	DocumentStatusDeleted       = "deleted"
)

// QuotaExcludedDocumentStatuses lists the statuses that do not count
// towards a user's quota.
var QuotaExcludedDocumentStatuses = []string{
	DocumentStatusDeleted,
	DocumentStatusArchivedQuota,
}

type Document struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	Filename           string    `json:"filename" db:"filename"`
	MIMEType           string    `json:"mime_type" db:"mime_type"`
	SizeBytes          int64     `json:"size_bytes" db:"size_bytes"`
	StorageKey         string    `json:"-" db:"storage_key"`
	ProcessedText      *string   `json:"-" db:"processed_text"`
	ProcessedTextBytes *int64    `json:"processed_text_bytes,omitempty" db:"processed_text_bytes"`
	SHA256             *string   `json:"sha256,omitempty" db:"sha256"`
	Status             string    `json:"status" db:"status"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

type UserDocument struct {
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	Permission string    `json:"permission" db:"permission"`
	LinkedAt   time.Time `json:"linked_at" db:"linked_at"`
}

type ConversationDocument struct {
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	DocumentID     uuid.UUID `json:"document_id" db:"document_id"`
	Scope          string    `json:"scope" db:"scope"`
	LinkedAt       time.Time `json:"linked_at" db:"linked_at"`
}
