// Package version owns the server_version of every tracked entity. A version
// only moves forward through Advance, under the entity's lock and a
// compare-and-swap on the store.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/repository"

	"github.com/EagleChen/mapmutex"
)

const (
	lockBaseDelay = float64(time.Millisecond)
	lockFactor    = 1.5
	lockJitter    = 0.2
)

// Mutation is the state an entity advances to.
type Mutation struct {
	Key             domain.EntityKey
	WriterDeviceID  string
	WriterSeq       int64
	ClientTimestamp time.Time
	Payload         json.RawMessage
	Deleted         bool
}

type Tracker struct {
	entities repository.EntityRepository
	locks    *mapmutex.Mutex
	now      func() time.Time
}

// NewTracker returns a tracker whose TryLock gives up after roughly
// lockWait of backoff.
func NewTracker(entities repository.EntityRepository, lockWait time.Duration) *Tracker {
	maxDelay := float64(lockWait) / 4
	if maxDelay < lockBaseDelay {
		maxDelay = lockBaseDelay
	}
	return &Tracker{
		entities: entities,
		locks:    mapmutex.NewCustomizedMapMutex(retriesFor(lockWait, maxDelay), maxDelay, lockBaseDelay, lockFactor, lockJitter),
		now:      time.Now,
	}
}

// retriesFor counts the backoff steps whose delays add up to wait.
func retriesFor(wait time.Duration, maxDelay float64) int {
	var total float64
	delay := lockBaseDelay
	n := 0
	for total < float64(wait) {
		total += delay
		delay *= lockFactor
		if delay > maxDelay {
			delay = maxDelay
		}
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// Lock takes the entity's mutation lock. It fails with ErrLockTimeout when
// another session holds the lock for longer than the configured wait.
func (t *Tracker) Lock(key domain.EntityKey) (unlock func(), err error) {
	k := key.String()
	if !t.locks.TryLock(k) {
		return nil, domain.ErrLockTimeout
	}
	return func() { t.locks.Unlock(k) }, nil
}

// Current returns the committed record, or nil when the entity was never
// written.
func (t *Tracker) Current(ctx context.Context, key domain.EntityKey) (*domain.EntityRecord, error) {
	rec, err := t.entities.Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError("failed to read entity version", err)
	}
	return rec, nil
}

// Prepare builds the record m produces on top of prev without writing it.
func (t *Tracker) Prepare(prev *domain.EntityRecord, m Mutation) *domain.EntityRecord {
	next := &domain.EntityRecord{
		EntityVersion: domain.EntityVersion{
			UserID:              m.Key.UserID,
			EntityType:          m.Key.Type,
			EntityID:            m.Key.ID,
			LastWriterDeviceID:  m.WriterDeviceID,
			LastClientTimestamp: m.ClientTimestamp,
			Deleted:             m.Deleted,
		},
		AppliedSeq: make(map[string]int64),
	}
	if !m.Deleted {
		next.Payload = m.Payload
	}

	var expected int64
	applied := t.now().UTC()
	if prev != nil {
		expected = prev.ServerVersion
		for device, seq := range prev.AppliedSeq {
			next.AppliedSeq[device] = seq
		}
		// last_applied_timestamp never moves backwards for an entity
		if !applied.After(prev.LastAppliedTimestamp) {
			applied = prev.LastAppliedTimestamp.Add(time.Nanosecond)
		}
	}
	next.ServerVersion = expected + 1
	next.LastAppliedTimestamp = applied
	next.AppliedSeq[m.WriterDeviceID] = m.WriterSeq
	return next
}

// Commit stores next if the entity is still at next.ServerVersion-1. A
// stale expectation fails with ErrVersionConflict.
func (t *Tracker) Commit(ctx context.Context, next *domain.EntityRecord) error {
	if err := t.entities.CompareAndSwap(ctx, next.ServerVersion-1, next); err != nil {
		if errors.Is(err, repository.ErrVersionMismatch) {
			return domain.NewSyncError(domain.CodeVersionConflict, "entity advanced concurrently", err)
		}
		return domain.StorageError("failed to advance entity version", err)
	}
	return nil
}

// Advance writes m as version prev+1. The caller must hold the entity lock;
// the store-level compare-and-swap still rejects a stale prev with
// ErrVersionConflict.
func (t *Tracker) Advance(ctx context.Context, prev *domain.EntityRecord, m Mutation) (*domain.EntityRecord, error) {
	next := t.Prepare(prev, m)
	if err := t.Commit(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}
