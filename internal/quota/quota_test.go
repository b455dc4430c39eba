package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	sub           *Subscription
	subErr        error
	allowed       bool
	newCount      int
	remaining     int
	incrementErr  error
	incrementCall int
}

func (f *fakeRepo) CheckAndIncrementQuota(ctx context.Context, userID uuid.UUID, monthKey string, maxQuota int) (bool, int, int, error) {
	f.incrementCall++
	return f.allowed, f.newCount, f.remaining, f.incrementErr
}

func (f *fakeRepo) GetSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return f.sub, f.subErr
}

func TestService_AdminEnvAllowlistBypassesQuota(t *testing.T) {
	userID := uuid.New()
	repo := &fakeRepo{}
	svc := NewService(repo, []string{userID.String()}, nil)

	info := svc.CheckQuota(context.Background(), userID)

	assert.True(t, info.Allowed)
	assert.Equal(t, PlanMaster, info.PlanID)
	assert.Equal(t, -1, info.QuotaRemaining)
	assert.Equal(t, 0, repo.incrementCall)
}

func TestService_SubscriptionMarkedAdminBypassesQuota(t *testing.T) {
	userID := uuid.New()
	repo := &fakeRepo{sub: &Subscription{UserID: userID, IsAdmin: true, PlanID: PlanFree}}
	svc := NewService(repo, nil, nil)

	info := svc.CheckQuota(context.Background(), userID)

	assert.True(t, info.Allowed)
	assert.Equal(t, PlanMaster, info.PlanID)
}

func TestService_MissingSubscriptionDefaultsToFreePlan(t *testing.T) {
	userID := uuid.New()
	repo := &fakeRepo{sub: nil, allowed: true, newCount: 1, remaining: 9}
	svc := NewService(repo, nil, nil)

	info := svc.CheckQuota(context.Background(), userID)

	assert.True(t, info.Allowed)
	assert.Equal(t, PlanFree, info.PlanID)
	assert.Equal(t, 1, repo.incrementCall)
}

func TestService_ExpiredTrialBlocksWithoutIncrementing(t *testing.T) {
	userID := uuid.New()
	expired := time.Now().Add(-time.Hour)
	repo := &fakeRepo{sub: &Subscription{UserID: userID, PlanID: PlanFree, TrialExpiresAt: &expired}}
	svc := NewService(repo, nil, nil)

	info := svc.CheckQuota(context.Background(), userID)

	assert.False(t, info.Allowed)
	assert.Equal(t, "Trial expirado", info.ErrorMessage)
	assert.Equal(t, 0, repo.incrementCall)
}

func TestService_PersistenceErrorOnSubscriptionLookupFailsOpen(t *testing.T) {
	userID := uuid.New()
	repo := &fakeRepo{subErr: errors.New("db unreachable")}
	svc := NewService(repo, nil, nil)

	info := svc.CheckQuota(context.Background(), userID)

	assert.True(t, info.Allowed)
	assert.Equal(t, PlanFree, info.PlanID)
	assert.NotEmpty(t, info.ErrorMessage)
}

func TestService_PersistenceErrorOnIncrementFailsOpen(t *testing.T) {
	userID := uuid.New()
	repo := &fakeRepo{sub: &Subscription{UserID: userID, PlanID: PlanFree}, incrementErr: errors.New("db unreachable")}
	svc := NewService(repo, nil, nil)

	info := svc.CheckQuota(context.Background(), userID)

	assert.True(t, info.Allowed)
	assert.NotEmpty(t, info.ErrorMessage)
}

func TestService_QuotaExceededBlocksWithoutAdminBypass(t *testing.T) {
	userID := uuid.New()
	repo := &fakeRepo{sub: &Subscription{UserID: userID, PlanID: PlanFree}, allowed: false, newCount: 10, remaining: 0}
	svc := NewService(repo, nil, nil)

	info := svc.CheckQuota(context.Background(), userID)

	assert.False(t, info.Allowed)
	assert.Equal(t, "Cota mensal excedida", info.ErrorMessage)
}

func TestConnectionCap_AcquireRespectsMax(t *testing.T) {
	connCap := NewConnectionCap(2)

	require.True(t, connCap.Acquire("user-1"))
	require.True(t, connCap.Acquire("user-1"))
	assert.False(t, connCap.Acquire("user-1"))

	connCap.Release("user-1")
	assert.True(t, connCap.Acquire("user-1"))
}

func TestConnectionCap_UsersAreIndependent(t *testing.T) {
	connCap := NewConnectionCap(1)

	assert.True(t, connCap.Acquire("user-1"))
	assert.True(t, connCap.Acquire("user-2"))
	assert.False(t, connCap.Acquire("user-1"))
}

func TestConnectionCap_ReleaseWithoutAcquireIsSafe(t *testing.T) {
	connCap := NewConnectionCap(1)
	connCap.Release("never-acquired")
	assert.True(t, connCap.Acquire("never-acquired"))
}
