package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/config"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/repository"
)

// QuotaService derives quota state from committed rows and decides whether
// prospective writes fit. Decisions are advisory: concurrent writers may
// briefly push usage past the limit, and the next derivation sees it.
type QuotaService struct {
	repo repository.QuotaRepository
	conf config.QuotaConfig
}

func NewQuotaService(repo repository.QuotaRepository, conf config.QuotaConfig) *QuotaService {
	return &QuotaService{repo: repo, conf: conf}
}

func (s *QuotaService) GetQuotaState(ctx context.Context, userID uuid.UUID) (*domain.QuotaState, error) {
	agg, err := s.repo.GetUsage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive quota state: %w", err)
	}
	return stateFromAggregate(userID, agg), nil
}

func stateFromAggregate(userID uuid.UUID, agg *repository.UsageAggregate) *domain.QuotaState {
	st := &domain.QuotaState{
		UserID:         userID,
		LimitBytes:     agg.LimitBytes,
		UsedConvBytes:  agg.ConvBytes,
		UsedDocBytes:   agg.DocBytes,
		UsedTotalBytes: agg.ConvBytes + agg.DocBytes,
	}
	if st.LimitBytes > 0 {
		st.UsedRatio = float64(st.UsedTotalBytes) / float64(st.LimitBytes)
	}
	return st
}

// CanAcceptSize performs the admission check for incomingBytes. A
// non-positive limit means unlimited. Negative incoming sizes are treated
// as zero.
func (s *QuotaService) CanAcceptSize(ctx context.Context, userID uuid.UUID, incomingBytes int64) (*domain.UploadCheck, error) {
	st, err := s.GetQuotaState(ctx, userID)
	if err != nil {
		return nil, err
	}
	return checkAgainst(st, incomingBytes), nil
}

func checkAgainst(st *domain.QuotaState, incomingBytes int64) *domain.UploadCheck {
	if incomingBytes < 0 {
		incomingBytes = 0
	}
	check := &domain.UploadCheck{
		LimitBytes: st.LimitBytes,
		WouldTotal: st.UsedTotalBytes + incomingBytes,
	}
	check.Allowed = st.LimitBytes <= 0 || check.WouldTotal <= st.LimitBytes
	if !check.Allowed {
		check.Deficit = check.WouldTotal - st.LimitBytes
	}
	return check
}

// WarnNeeded reports whether usage has crossed the warn threshold.
func (s *QuotaService) WarnNeeded(st *domain.QuotaState) bool {
	return st.LimitBytes > 0 && st.UsedRatio >= s.conf.WarnRatio
}

// WarnAt reports whether usedBytes against limitBytes crosses the warn
// threshold.
func (s *QuotaService) WarnAt(limitBytes, usedBytes int64) bool {
	return limitBytes > 0 && float64(usedBytes)/float64(limitBytes) >= s.conf.WarnRatio
}

// MaybeAutoRelease archives the oldest items when usage exceeds the limit.
// It is a no-op when auto-archive is disabled or usage is within the limit.
func (s *QuotaService) MaybeAutoRelease(ctx context.Context, userID uuid.UUID) ([]domain.ReleaseAction, error) {
	if !s.conf.AutoArchiveOnLimit {
		return nil, nil
	}
	actions, err := s.repo.AutoRelease(ctx, userID, s.conf.ReleaseRatio)
	if err != nil {
		return nil, fmt.Errorf("auto-release failed: %w", err)
	}
	return actions, nil
}

// EnsureQuotaFor checks whether incomingBytes fits, attempting one
// auto-release pass and re-checking when it does not. Release failures are
// logged and the original rejection stands.
func (s *QuotaService) EnsureQuotaFor(ctx context.Context, userID uuid.UUID, incomingBytes int64) (*domain.UploadCheck, error) {
	check, err := s.CanAcceptSize(ctx, userID, incomingBytes)
	if err != nil {
		return nil, err
	}
	if check.Allowed || !s.conf.AutoArchiveOnLimit {
		return check, nil
	}

	actions, err := s.MaybeAutoRelease(ctx, userID)
	if err != nil {
		log.Printf("[QuotaService] auto-release for user %s failed: %v", userID, err)
		return check, nil
	}
	if len(actions) == 0 {
		return check, nil
	}
	log.Printf("[QuotaService] auto-released %d items for user %s", len(actions), userID)

	return s.CanAcceptSize(ctx, userID, incomingBytes)
}
