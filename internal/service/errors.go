package service

import (
	"errors"
	"fmt"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrDocumentNotFound     = errors.New("document not found")
)

// QuotaExceededError carries the admission decision that rejected a write.
// Stage names which write was refused: "user_message", "assistant_message"
// or "upload".
type QuotaExceededError struct {
	Stage string
	Check domain.UploadCheck
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded on %s: would use %d of %d bytes",
		e.Stage, e.Check.WouldTotal, e.Check.LimitBytes)
}
