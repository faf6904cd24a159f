package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/repository"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service/s3"
)

// QuotaInfo is the quota block attached to upload and list responses.
type QuotaInfo struct {
	LimitBytes            int64   `json:"limit_bytes"`
	WouldTotal            int64   `json:"would_total_bytes"`
	Warning               bool    `json:"warning"`
	WarningThresholdRatio float64 `json:"warning_threshold_ratio"`
}

type UploadResult struct {
	Document *domain.Document `json:"document"`
	Quota    QuotaInfo        `json:"quota"`
}

type DocumentList struct {
	Items      []domain.Document `json:"items"`
	TotalCount int64             `json:"total_count"`
	UsedBytes  int64             `json:"used_bytes"`
	LimitBytes int64             `json:"limit_bytes"`
	UsedRatio  float64           `json:"used_ratio"`
	Warn       bool              `json:"warn"`
}

type UsageInfo struct {
	UsedBytes  int64   `json:"used_bytes"`
	LimitBytes int64   `json:"limit_bytes"`
	UsedRatio  float64 `json:"used_ratio"`
	Warn       bool    `json:"warn"`
}

// DocumentService stores document artifacts in object storage and their
// metadata rows in Postgres. The artifact is written first so its real size
// is known before the admission check; a rejected upload deletes the
// artifact again.
type DocumentService struct {
	docs    repository.DocumentRepository
	convs   repository.ConversationRepository
	quota   *QuotaService
	storage s3.Storage
}

func NewDocumentService(
	docs repository.DocumentRepository,
	convs repository.ConversationRepository,
	quota *QuotaService,
	storage s3.Storage,
) *DocumentService {
	return &DocumentService{docs: docs, convs: convs, quota: quota, storage: storage}
}

func (s *DocumentService) Upload(ctx context.Context, userID uuid.UUID, filename, mimeType string, r io.Reader, conversationID *uuid.UUID) (*UploadResult, error) {
	// Resolve the target conversation before anything is stored or charged,
	// so a bad id leaves no artifact and no row behind.
	if conversationID != nil {
		if _, err := s.convs.GetActive(ctx, *conversationID, userID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrConversationNotFound
			}
			return nil, err
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	sum := sha256.Sum256(data)
	shaHex := hex.EncodeToString(sum[:])
	key := storageKey(userID, shaHex, filename)

	if err := s.storage.UploadBytes(key, data); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	size := int64(len(data))
	check, err := s.quota.EnsureQuotaFor(ctx, userID, size)
	if err != nil {
		s.cleanupArtifact(key)
		return nil, err
	}
	if !check.Allowed {
		s.cleanupArtifact(key)
		return nil, &QuotaExceededError{Stage: "upload", Check: *check}
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	doc := &domain.Document{
		Filename:   filename,
		MIMEType:   mimeType,
		SizeBytes:  size,
		StorageKey: key,
		SHA256:     &shaHex,
		Status:     domain.DocumentStatusUploaded,
	}
	if err := s.docs.Create(ctx, doc, userID); err != nil {
		s.cleanupArtifact(key)
		return nil, fmt.Errorf("failed to persist document: %w", err)
	}

	if conversationID != nil {
		if err := s.docs.LinkToConversation(ctx, *conversationID, doc.ID, "context"); err != nil {
			return nil, fmt.Errorf("failed to link document to conversation: %w", err)
		}
	}

	return &UploadResult{
		Document: doc,
		Quota: QuotaInfo{
			LimitBytes:            check.LimitBytes,
			WouldTotal:            check.WouldTotal,
			Warning:               s.quota.WarnAt(check.LimitBytes, check.WouldTotal),
			WarningThresholdRatio: s.quota.conf.WarnRatio,
		},
	}, nil
}

func (s *DocumentService) List(ctx context.Context, userID uuid.UUID, filter string, page, pageSize int) (*DocumentList, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	docs, total, err := s.docs.List(ctx, userID, filter, page, pageSize)
	if err != nil {
		return nil, err
	}

	st, err := s.quota.GetQuotaState(ctx, userID)
	if err != nil {
		return nil, err
	}

	if docs == nil {
		docs = []domain.Document{}
	}
	return &DocumentList{
		Items:      docs,
		TotalCount: total,
		UsedBytes:  st.UsedTotalBytes,
		LimitBytes: st.LimitBytes,
		UsedRatio:  st.UsedRatio,
		Warn:       s.quota.WarnNeeded(st),
	}, nil
}

func (s *DocumentService) Usage(ctx context.Context, userID uuid.UUID) (*UsageInfo, error) {
	st, err := s.quota.GetQuotaState(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UsageInfo{
		UsedBytes:  st.UsedTotalBytes,
		LimitBytes: st.LimitBytes,
		UsedRatio:  st.UsedRatio,
		Warn:       s.quota.WarnNeeded(st),
	}, nil
}

// Download streams the stored artifact. Soft-deleted documents are treated
// as missing.
func (s *DocumentService) Download(ctx context.Context, id, userID uuid.UUID) (*domain.Document, s3.S3Object, error) {
	doc, err := s.getVisible(ctx, id, userID)
	if err != nil {
		return nil, nil, err
	}

	obj, err := s.storage.GetObject(ctx, doc.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch document artifact: %w", err)
	}
	return doc, obj, nil
}

// SoftDelete marks the document deleted. The artifact stays in storage; the
// row simply stops counting towards quota.
func (s *DocumentService) SoftDelete(ctx context.Context, id, userID uuid.UUID) error {
	doc, err := s.getVisible(ctx, id, userID)
	if err != nil {
		return err
	}
	if doc.Status == domain.DocumentStatusDeleted {
		return nil
	}
	return s.docs.SetStatus(ctx, id, domain.DocumentStatusDeleted)
}

func (s *DocumentService) getVisible(ctx context.Context, id, userID uuid.UUID) (*domain.Document, error) {
	doc, err := s.docs.GetForUser(ctx, id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.Status == domain.DocumentStatusDeleted {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *DocumentService) cleanupArtifact(key string) {
	if err := s.storage.DeleteObject(key); err != nil {
		log.Printf("[DocumentService] failed to remove rejected artifact %s: %v", key, err)
	}
}

// storageKey builds a per-user object key with a short content-hash prefix
// so re-uploads of the same name do not collide.
func storageKey(userID uuid.UUID, shaHex, filename string) string {
	name := filepath.Base(filename)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." {
		name = "upload"
	}
	return fmt.Sprintf("documents/%s/%s_%s", userID, shaHex[:8], name)
}
