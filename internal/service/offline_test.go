package service

import (
	"context"
	"testing"

	"edupulse-sync-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageOfflineDataAppliesOnNextSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.syncRound(t, phone, "", change(domain.EntityGoal, "g1", domain.OpCreate, phone, 1, 0, at(1), goal(5)))

	staged, err := env.sync.StageOfflineData(ctx, testUser, &domain.OfflineDataRequest{
		DeviceID: phone,
		Changes: []domain.ChangeRecord{
			change(domain.EntityGoal, "g2", domain.OpCreate, "", 2, 0, at(2), goal(6)),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, staged.Staged)
	require.Len(t, staged.Outcomes, 1)
	assert.Equal(t, domain.OutcomeDeferred, staged.Outcomes[0].Status)
	assert.Nil(t, env.current(t, domain.EntityGoal, "g2"), "staging does not write the entity")

	status, err := env.sync.Status(ctx, testUser, phone)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingDeferredCount)
	assert.False(t, status.IsSynced)

	next := env.syncRound(t, phone, first.NewSyncToken)
	require.Len(t, next.Outcomes, 1)
	assert.Equal(t, domain.OutcomeApplied, next.Outcomes[0].Status)
	assert.EqualValues(t, 2, next.Outcomes[0].LocalSequenceNo)
	assert.Equal(t, 1, next.AppliedCount)
	require.NotNil(t, env.current(t, domain.EntityGoal, "g2"))

	pending, err := env.sync.Deferred(ctx, testUser, phone)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStageOfflineDataResubmittedInBatchAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := change(domain.EntityGoal, "g1", domain.OpCreate, phone, 1, 0, at(1), goal(5))

	_, err := env.sync.StageOfflineData(ctx, testUser, &domain.OfflineDataRequest{DeviceID: phone, Changes: []domain.ChangeRecord{c}})
	require.NoError(t, err)

	resp := env.syncRound(t, phone, "", c)
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, domain.OutcomeApplied, resp.Outcomes[0].Status)
	assert.EqualValues(t, 1, env.current(t, domain.EntityGoal, "g1").ServerVersion)

	again, err := env.sync.StageOfflineData(ctx, testUser, &domain.OfflineDataRequest{DeviceID: phone, Changes: []domain.ChangeRecord{c}})
	require.NoError(t, err)
	assert.Zero(t, again.Staged)
	assert.Equal(t, resp.Outcomes[0], again.Outcomes[0], "a recorded change reports its ledger outcome")

	pending, err := env.sync.Deferred(ctx, testUser, phone)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStageOfflineDataRejectsInvalidRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.sync.StageOfflineData(ctx, testUser, &domain.OfflineDataRequest{
		DeviceID: phone,
		Changes: []domain.ChangeRecord{
			change(domain.EntityGoal, "g1", domain.OpCreate, laptop, 1, 0, at(1), goal(5)),
			change(domain.EntityMood, "m1", domain.OpCreate, phone, 2, 0, at(1), `{"mood_level":9}`),
			change(domain.EntityGoal, "g3", domain.OpCreate, phone, 3, 0, at(1), goal(7)),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Staged)
	assert.Equal(t, domain.OutcomeRejected, resp.Outcomes[0].Status)
	assert.Contains(t, resp.Outcomes[0].Error, "belongs to device")
	assert.Equal(t, domain.OutcomeRejected, resp.Outcomes[1].Status)
	assert.Equal(t, domain.OutcomeDeferred, resp.Outcomes[2].Status)

	pending, err := env.sync.Deferred(ctx, testUser, phone)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.EqualValues(t, 3, pending[0].Change.LocalSequenceNo)
	assert.Zero(t, pending[0].Attempts)
}

func TestStageOfflineDataUnknownDevice(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.sync.StageOfflineData(context.Background(), testUser, &domain.OfflineDataRequest{DeviceID: "tablet"})
	require.Error(t, err)
}

func TestSyncRetriesDeferredChangeWithoutResubmission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := change(domain.EntityGoal, "g1", domain.OpCreate, phone, 1, 0, at(1), goal(5))

	unlock, err := env.tracker.Lock(c.Key(testUser))
	require.NoError(t, err)
	resp := env.syncRound(t, phone, "", c)
	unlock()
	require.Equal(t, domain.OutcomeDeferred, resp.Outcomes[0].Status)

	next := env.syncRound(t, phone, resp.NewSyncToken, change(domain.EntityGoal, "g2", domain.OpCreate, phone, 2, 0, at(2), goal(6)))
	require.Len(t, next.Outcomes, 2)
	assert.EqualValues(t, 1, next.Outcomes[0].LocalSequenceNo)
	assert.Equal(t, domain.OutcomeApplied, next.Outcomes[0].Status)
	assert.Equal(t, domain.OutcomeApplied, next.Outcomes[1].Status)

	pending, err := env.sync.Deferred(ctx, testUser, phone)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
