// Package ledger enforces that a (device_id, local_sequence_no) pair takes
// effect at most once, and remembers what that effect was.
package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/repository"
	"edupulse-sync-server/pkg/hash"
)

type Ledger struct {
	repo repository.LedgerRepository
	now  func() time.Time
}

func New(repo repository.LedgerRepository) *Ledger {
	return &Ledger{
		repo: repo,
		now:  time.Now,
	}
}

// Digest fingerprints everything a client could change about a record while
// keeping its idempotency key.
func Digest(c *domain.ChangeRecord) (string, error) {
	payload, err := hash.CanonicalJSON(c.Payload)
	if err != nil {
		return "", domain.ValidationError("payload is not valid JSON")
	}
	return hash.Digest(
		[]byte(c.EntityType),
		[]byte(c.EntityID),
		[]byte(c.Op),
		[]byte(strconv.FormatInt(c.BaseVersion, 10)),
		[]byte(c.ClientTimestamp.UTC().Format(time.RFC3339Nano)),
		payload,
	), nil
}

// TryApply reports whether the change has never been recorded. For a
// recorded change it returns the prior entry; a recorded key that now
// carries a different record is a validation error.
func (l *Ledger) TryApply(ctx context.Context, c *domain.ChangeRecord) (firstTime bool, prior *domain.LedgerEntry, err error) {
	entry, err := l.repo.Get(ctx, c.DeviceID, c.LocalSequenceNo)
	if errors.Is(err, repository.ErrNotFound) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, domain.StorageError("failed to read ledger", err)
	}

	digest, err := Digest(c)
	if err != nil {
		return false, nil, err
	}
	if entry.PayloadDigest != digest {
		return false, nil, domain.ValidationError(
			"local_sequence_no %d of device %s was already used for a different change", c.LocalSequenceNo, c.DeviceID)
	}
	return false, entry, nil
}

// Record appends the terminal outcome of c. When another writer recorded the
// key first, the stored entry wins and is returned.
func (l *Ledger) Record(ctx context.Context, userID string, c *domain.ChangeRecord, summary domain.ResultSummary) (*domain.LedgerEntry, error) {
	digest, err := Digest(c)
	if err != nil {
		return nil, err
	}

	entry := &domain.LedgerEntry{
		UserID:          userID,
		DeviceID:        c.DeviceID,
		LocalSequenceNo: c.LocalSequenceNo,
		PayloadDigest:   digest,
		AppliedAt:       l.now().UTC(),
		Result:          summary,
	}

	err = l.repo.Append(ctx, entry)
	if errors.Is(err, repository.ErrAlreadyExists) {
		existing, getErr := l.repo.Get(ctx, c.DeviceID, c.LocalSequenceNo)
		if getErr != nil {
			return nil, domain.StorageError("failed to read ledger", getErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, domain.StorageError("failed to append ledger entry", err)
	}
	return entry, nil
}

// Outcome rebuilds the per-record outcome a client saw the first time.
func Outcome(e *domain.LedgerEntry) domain.RecordOutcome {
	return domain.RecordOutcome{
		DeviceID:        e.DeviceID,
		LocalSequenceNo: e.LocalSequenceNo,
		EntityType:      e.Result.EntityType,
		EntityID:        e.Result.EntityID,
		Status:          e.Result.Status,
		ServerVersion:   e.Result.ServerVersion,
		ResolvedPayload: e.Result.ResolvedPayload,
		ConflictID:      e.Result.ConflictID,
	}
}
