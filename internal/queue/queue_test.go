package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_AcquireRetriesLockTimeouts(t *testing.T) {
	q := New(repository.NewMemoryStore().Deferred, 3, time.Millisecond)

	calls := 0
	unlock, attempts, err := q.Acquire(context.Background(), func() (func(), error) {
		calls++
		if calls < 3 {
			return nil, domain.ErrLockTimeout
		}
		return func() {}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, unlock)
	assert.Equal(t, 3, attempts)
}

func TestQueue_AcquireGivesUpAfterAttempts(t *testing.T) {
	q := New(repository.NewMemoryStore().Deferred, 3, time.Millisecond)

	_, attempts, err := q.Acquire(context.Background(), func() (func(), error) {
		return nil, domain.ErrLockTimeout
	})
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
	assert.Equal(t, 3, attempts)
}

func TestQueue_AcquireDoesNotRetryOtherErrors(t *testing.T) {
	q := New(repository.NewMemoryStore().Deferred, 3, time.Millisecond)
	boom := errors.New("boom")

	_, attempts, err := q.Acquire(context.Background(), func() (func(), error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestQueue_AcquireStopsOnCancelledContext(t *testing.T) {
	q := New(repository.NewMemoryStore().Deferred, 5, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := q.Acquire(ctx, func() (func(), error) {
		return nil, domain.ErrLockTimeout
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_DeferAndClear(t *testing.T) {
	ctx := context.Background()
	q := New(repository.NewMemoryStore().Deferred, 3, time.Millisecond)

	c := domain.ChangeRecord{EntityType: domain.EntityGoal, EntityID: "g", DeviceID: "phone", LocalSequenceNo: 9}
	rec, err := q.Defer(ctx, "user-1", c, 3, domain.ErrLockTimeout)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Attempts)
	assert.NotEmpty(t, rec.LastError)

	pending, err := q.Pending(ctx, "user-1", "phone")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(9), pending[0].Change.LocalSequenceNo)

	require.NoError(t, q.Clear(ctx, &c))
	pending, err = q.Pending(ctx, "user-1", "phone")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// clearing twice is harmless
	require.NoError(t, q.Clear(ctx, &c))
}
