package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ConversationStatusActive  = "active"
	ConversationStatusDeleted = "deleted"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

type Conversation struct {
	ID          uuid.UUID `json:"id" db:"id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	SessionID   uuid.UUID `json:"session_id" db:"session_id"`
	Title       string    `json:"title" db:"title"`
	Status      string    `json:"status" db:"status"`
	StorageSize int64     `json:"storage_size_bytes" db:"storage_size_bytes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Message is immutable once committed; size_bytes is fixed at creation.
type Message struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	SessionID      uuid.UUID `json:"session_id" db:"session_id"`
	Role           string    `json:"role" db:"role"`
	Content        string    `json:"content" db:"content_md"`
	SizeBytes      int64     `json:"size_bytes" db:"size_bytes"`
	Meta           Meta      `json:"meta" db:"meta"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Meta is a JSONB column (usage counters, latency, linked document ids).
type Meta map[string]interface{}

func (m Meta) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Meta) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Meta{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported meta type %T", src)
	}
}

type Session struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	IPAddress *string   `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string   `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
