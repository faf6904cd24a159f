package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/config"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/domain"
)

func testQuotaConfig() config.QuotaConfig {
	return config.QuotaConfig{
		DefaultLimitBytes:  100,
		WarnRatio:          0.8,
		AutoArchiveOnLimit: false,
		ReleaseRatio:       0.2,
	}
}

func TestGetQuotaState_DerivesTotalsAndRatio(t *testing.T) {
	repo := &fakeQuotaRepo{limit: 100, convBytes: 30, docBytes: 20}
	svc := NewQuotaService(repo, testQuotaConfig())

	st, err := svc.GetQuotaState(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, int64(100), st.LimitBytes)
	assert.Equal(t, int64(30), st.UsedConvBytes)
	assert.Equal(t, int64(20), st.UsedDocBytes)
	assert.Equal(t, int64(50), st.UsedTotalBytes)
	assert.InDelta(t, 0.5, st.UsedRatio, 1e-9)
}

func TestCanAcceptSize_DeficitReported(t *testing.T) {
	repo := &fakeQuotaRepo{limit: 100, convBytes: 90}
	svc := NewQuotaService(repo, testQuotaConfig())

	check, err := svc.CanAcceptSize(context.Background(), uuid.New(), 20)
	require.NoError(t, err)

	assert.False(t, check.Allowed)
	assert.Equal(t, int64(100), check.LimitBytes)
	assert.Equal(t, int64(110), check.WouldTotal)
	assert.Equal(t, int64(10), check.Deficit)
}

func TestCanAcceptSize_ExactFitAllowed(t *testing.T) {
	repo := &fakeQuotaRepo{limit: 100, convBytes: 90}
	svc := NewQuotaService(repo, testQuotaConfig())

	check, err := svc.CanAcceptSize(context.Background(), uuid.New(), 10)
	require.NoError(t, err)

	assert.True(t, check.Allowed)
	assert.Equal(t, int64(0), check.Deficit)
}

func TestCanAcceptSize_UnlimitedWhenNoLimit(t *testing.T) {
	repo := &fakeQuotaRepo{limit: 0, convBytes: 1 << 40}
	svc := NewQuotaService(repo, testQuotaConfig())

	check, err := svc.CanAcceptSize(context.Background(), uuid.New(), 1<<40)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
}

func TestCanAcceptSize_NegativeIncomingTreatedAsZero(t *testing.T) {
	repo := &fakeQuotaRepo{limit: 100, convBytes: 50}
	svc := NewQuotaService(repo, testQuotaConfig())

	check, err := svc.CanAcceptSize(context.Background(), uuid.New(), -10)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, int64(50), check.WouldTotal)
}

func TestWarnNeeded(t *testing.T) {
	svc := NewQuotaService(&fakeQuotaRepo{}, testQuotaConfig())

	assert.False(t, svc.WarnNeeded(&domain.QuotaState{LimitBytes: 100, UsedRatio: 0.79}))
	assert.True(t, svc.WarnNeeded(&domain.QuotaState{LimitBytes: 100, UsedRatio: 0.8}))
	// No limit means no warning regardless of usage.
	assert.False(t, svc.WarnNeeded(&domain.QuotaState{LimitBytes: 0, UsedRatio: 5}))
}

func TestMaybeAutoRelease_DisabledIsNoop(t *testing.T) {
	repo := &fakeQuotaRepo{limit: 100, convBytes: 150}
	svc := NewQuotaService(repo, testQuotaConfig())

	actions, err := svc.MaybeAutoRelease(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, actions)
	assert.Equal(t, 0, repo.releaseCalls)
}

func TestEnsureQuotaFor_ReleaseThenRecheck(t *testing.T) {
	repo := &fakeQuotaRepo{limit: 100, convBytes: 110}
	repo.onRelease = func(ratio float64) ([]domain.ReleaseAction, error) {
		// Archiving drops 40 conversation bytes.
		repo.convBytes -= 40
		return []domain.ReleaseAction{{Kind: domain.ReleaseKindConversation, ID: uuid.New(), Bytes: 40}}, nil
	}

	cfg := testQuotaConfig()
	cfg.AutoArchiveOnLimit = true
	svc := NewQuotaService(repo, cfg)

	check, err := svc.EnsureQuotaFor(context.Background(), uuid.New(), 10)
	require.NoError(t, err)

	assert.True(t, check.Allowed)
	assert.Equal(t, 1, repo.releaseCalls)
}

func TestEnsureQuotaFor_NothingReleasedKeepsRejection(t *testing.T) {
	repo := &fakeQuotaRepo{limit: 100, convBytes: 90}

	cfg := testQuotaConfig()
	cfg.AutoArchiveOnLimit = true
	svc := NewQuotaService(repo, cfg)

	check, err := svc.EnsureQuotaFor(context.Background(), uuid.New(), 50)
	require.NoError(t, err)

	assert.False(t, check.Allowed)
	assert.Equal(t, int64(40), check.Deficit)
}

func TestEnsureQuotaFor_ReleaseErrorKeepsRejection(t *testing.T) {
	repo := &fakeQuotaRepo{limit: 100, convBytes: 110}
	repo.onRelease = func(ratio float64) ([]domain.ReleaseAction, error) {
		return nil, assert.AnError
	}

	cfg := testQuotaConfig()
	cfg.AutoArchiveOnLimit = true
	svc := NewQuotaService(repo, cfg)

	check, err := svc.EnsureQuotaFor(context.Background(), uuid.New(), 10)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
}

func TestWarnAt(t *testing.T) {
	svc := NewQuotaService(&fakeQuotaRepo{}, testQuotaConfig())

	assert.True(t, svc.WarnAt(100, 80))
	assert.False(t, svc.WarnAt(100, 79))
	assert.False(t, svc.WarnAt(0, 1000))
}
