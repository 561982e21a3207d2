package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelops/orchestrator/internal/domain"
	"modelops/orchestrator/internal/store"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()

	plan := &domain.DeploymentPlan{PlanID: "p1", UserID: "u1", Env: domain.EnvDev, Status: domain.StatusCreated}
	require.NoError(t, s.Put(ctx, plan))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := store.NewInMemory()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListFiltersByStatusAndEnv(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &domain.DeploymentPlan{PlanID: "a", Env: domain.EnvDev, Status: domain.StatusDeployed}))
	require.NoError(t, s.Put(ctx, &domain.DeploymentPlan{PlanID: "b", Env: domain.EnvProd, Status: domain.StatusDeployed}))
	require.NoError(t, s.Put(ctx, &domain.DeploymentPlan{PlanID: "c", Env: domain.EnvDev, Status: domain.StatusFailed}))

	got, err := s.List(ctx, store.Filter{Env: domain.EnvDev, Status: domain.StatusDeployed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].PlanID)
}

func TestDeleteIsSoft(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &domain.DeploymentPlan{PlanID: "p1", Status: domain.StatusDeployed}))
	require.NoError(t, s.Delete(ctx, "p1"))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, got.Status)
	assert.True(t, got.Deleted)
}

func TestGetReturnsACloneNotTheStoredPointer(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &domain.DeploymentPlan{PlanID: "p1", Status: domain.StatusCreated}))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	got.Status = domain.StatusFailed

	again, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, again.Status)
}

func TestAuditLogAccumulatesInOrder(t *testing.T) {
	s := store.NewInMemory()
	ctx := context.Background()
	require.NoError(t, s.WriteAuditRecord(ctx, domain.AuditRecord{PlanID: "p1", EventType: domain.EventIntentSubmitted}))
	require.NoError(t, s.WriteAuditRecord(ctx, domain.AuditRecord{PlanID: "p1", EventType: domain.EventApproved}))

	log, err := s.AuditLog(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, domain.EventIntentSubmitted, log[0].EventType)
	assert.Equal(t, domain.EventApproved, log[1].EventType)
}
