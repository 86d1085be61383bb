package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"edupulse-sync-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goalRecord(version int64, device string, at time.Time) *domain.EntityRecord {
	return &domain.EntityRecord{
		EntityVersion: domain.EntityVersion{
			UserID:               "user-1",
			EntityType:           domain.EntityGoal,
			EntityID:             "goal-1",
			ServerVersion:        version,
			LastWriterDeviceID:   device,
			LastAppliedTimestamp: at,
		},
		Payload:    json.RawMessage(`{"date":"2024-05-01","quizzes_target":3}`),
		AppliedSeq: map[string]int64{device: version},
	}
}

func TestMemoryEntities_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	require.NoError(t, store.Entities.CompareAndSwap(ctx, 0, goalRecord(1, "phone", now)))
	assert.ErrorIs(t, store.Entities.CompareAndSwap(ctx, 0, goalRecord(1, "tablet", now)), ErrVersionMismatch)
	assert.ErrorIs(t, store.Entities.CompareAndSwap(ctx, 5, goalRecord(6, "tablet", now)), ErrVersionMismatch)
	require.NoError(t, store.Entities.CompareAndSwap(ctx, 1, goalRecord(2, "tablet", now)))

	got, err := store.Entities.Get(ctx, goalRecord(0, "", now).Key())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ServerVersion)
	assert.Equal(t, "tablet", got.LastWriterDeviceID)

	// mutations on the returned copy must not leak into the store
	got.AppliedSeq["tablet"] = 99
	again, err := store.Entities.Get(ctx, got.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.AppliedSeq["tablet"])
}

func TestMemoryEntities_ListChangedSince(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first := goalRecord(1, "phone", base)
	second := goalRecord(1, "phone", base.Add(time.Minute))
	second.EntityID = "goal-2"
	other := goalRecord(1, "phone", base.Add(time.Hour))
	other.UserID = "user-2"

	for _, r := range []*domain.EntityRecord{first, second, other} {
		require.NoError(t, store.Entities.CompareAndSwap(ctx, 0, r))
	}

	changed, err := store.Entities.ListChangedSince(ctx, "user-1", base)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "goal-2", changed[0].EntityID)

	all, err := store.Entities.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryLedger_AppendIsPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entry := &domain.LedgerEntry{UserID: "user-1", DeviceID: "phone", LocalSequenceNo: 7, PayloadDigest: "abc"}
	require.NoError(t, store.Ledger.Append(ctx, entry))
	assert.ErrorIs(t, store.Ledger.Append(ctx, entry), ErrAlreadyExists)

	got, err := store.Ledger.Get(ctx, "phone", 7)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.PayloadDigest)

	_, err = store.Ledger.Get(ctx, "phone", 8)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySyncStates_SaveChecksCurrentToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	state := &domain.SyncState{UserID: "user-1", DeviceID: "phone", CurrentTokenID: "t1"}
	assert.ErrorIs(t, store.SyncStates.Save(ctx, state, "t0"), ErrVersionMismatch)
	require.NoError(t, store.SyncStates.Save(ctx, state, ""))

	next := &domain.SyncState{UserID: "user-1", DeviceID: "phone", CurrentTokenID: "t2", PreviousTokenID: "t1"}
	assert.ErrorIs(t, store.SyncStates.Save(ctx, next, "stale"), ErrVersionMismatch)
	require.NoError(t, store.SyncStates.Save(ctx, next, "t1"))

	got, err := store.SyncStates.Get(ctx, "user-1", "phone")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.CurrentTokenID)
	assert.Equal(t, "t1", got.PreviousTokenID)
}

func TestMemoryHistory_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.History.Append(ctx, &domain.SyncHistoryEntry{
			ID:        string(rune('a' + i)),
			UserID:    "user-1",
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := store.History.ListByUser(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e", entries[0].ID)
	assert.Equal(t, "d", entries[1].ID)
}
