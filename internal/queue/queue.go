// Package queue holds changes the server could not apply within a session.
// A change whose entity lock stays busy is retried a bounded number of times
// and then parked as deferred; the device's next sync retries it. Offline
// uploads wait here too until that sync.
package queue

import (
	"context"
	"errors"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/repository"

	"github.com/cenkalti/backoff"
)

type Queue struct {
	repo            repository.DeferredRepository
	attempts        int
	initialInterval time.Duration
	now             func() time.Time
}

func New(repo repository.DeferredRepository, attempts int, initialInterval time.Duration) *Queue {
	if attempts < 1 {
		attempts = 1
	}
	return &Queue{
		repo:            repo,
		attempts:        attempts,
		initialInterval: initialInterval,
		now:             time.Now,
	}
}

func (q *Queue) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.initialInterval
	b.MaxInterval = 10 * q.initialInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(q.attempts-1)), ctx)
}

// Acquire calls lock until it succeeds, retrying only lock timeouts. It
// returns the number of attempts made; on exhaustion the error is
// ErrLockTimeout.
func (q *Queue) Acquire(ctx context.Context, lock func() (func(), error)) (unlock func(), attempts int, err error) {
	op := func() error {
		attempts++
		u, err := lock()
		if err == nil {
			unlock = u
			return nil
		}
		if errors.Is(err, domain.ErrLockTimeout) {
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, q.policy(ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempts, ctxErr
		}
		return nil, attempts, err
	}
	return unlock, attempts, nil
}

// Defer parks c for its device. Re-deferring the same key overwrites the
// previous entry.
func (q *Queue) Defer(ctx context.Context, userID string, c domain.ChangeRecord, attempts int, cause error) (*domain.DeferredRecord, error) {
	rec := &domain.DeferredRecord{
		UserID:     userID,
		DeviceID:   c.DeviceID,
		Change:     c,
		Attempts:   attempts,
		DeferredAt: q.now().UTC(),
	}
	if cause != nil {
		rec.LastError = cause.Error()
	}
	if err := q.repo.Put(ctx, rec); err != nil {
		return nil, domain.StorageError("failed to store deferred change", err)
	}
	return rec, nil
}

// Clear drops the deferred entry of a change that has since reached a
// terminal outcome.
func (q *Queue) Clear(ctx context.Context, c *domain.ChangeRecord) error {
	if err := q.repo.Delete(ctx, c.DeviceID, c.LocalSequenceNo); err != nil {
		return domain.StorageError("failed to clear deferred change", err)
	}
	return nil
}

func (q *Queue) Pending(ctx context.Context, userID, deviceID string) ([]*domain.DeferredRecord, error) {
	records, err := q.repo.ListByDevice(ctx, userID, deviceID)
	if err != nil {
		return nil, domain.StorageError("failed to list deferred changes", err)
	}
	return records, nil
}
