package service

import (
	"context"
	"errors"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/repository"
)

// Status summarizes where a device stands. A device is synced when nothing
// it sent is waiting, no conflict awaits its decision and no other device
// wrote since its last session.
func (s *SyncService) Status(ctx context.Context, userID, deviceID string) (*domain.SyncStatus, error) {
	if err := s.authorizeDevice(ctx, userID, deviceID); err != nil {
		return nil, err
	}

	pending, err := s.queue.Pending(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	open, err := s.openConflicts(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}

	status := &domain.SyncStatus{
		DeviceID:             deviceID,
		PendingDeferredCount: len(pending),
		OpenConflicts:        open,
	}

	state, err := s.store.SyncStates.Get(ctx, userID, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, domain.StorageError("failed to read sync state", err)
	}
	last := state.LastSuccessfulSyncAt
	status.LastSuccessfulSyncAt = &last

	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings.AutoSync {
		next := last.Add(settings.Cadence())
		status.NextSyncTime = &next
	}

	changed, err := s.store.Entities.ListChangedSince(ctx, userID, state.HighWatermark)
	if err != nil {
		return nil, domain.StorageError("failed to read entity changes", err)
	}
	behind := false
	for _, r := range changed {
		if r.LastWriterDeviceID != deviceID {
			behind = true
			break
		}
	}
	status.IsSynced = len(pending) == 0 && open == 0 && !behind
	return status, nil
}

func (s *SyncService) openConflicts(ctx context.Context, userID, deviceID string) (int, error) {
	conflicts, err := s.store.Conflicts.ListByUser(ctx, userID)
	if err != nil {
		return 0, domain.StorageError("failed to list conflicts", err)
	}
	n := 0
	for _, c := range conflicts {
		if c.SettledAt == nil && c.DeviceID == deviceID {
			n++
		}
	}
	return n, nil
}

// OfflineSnapshot returns every live entity of the user, grouped by type,
// for seeding a device's local store.
func (s *SyncService) OfflineSnapshot(ctx context.Context, userID string) (*domain.OfflineSnapshot, error) {
	records, err := s.store.Entities.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.StorageError("failed to list entities", err)
	}

	snapshot := &domain.OfflineSnapshot{
		UserID:      userID,
		GeneratedAt: s.now().UTC(),
		Entities:    make(map[domain.EntityType][]domain.DeltaItem),
	}
	for _, t := range domain.EntityTypes() {
		snapshot.Entities[t] = []domain.DeltaItem{}
	}
	for _, r := range records {
		if r.Deleted {
			continue
		}
		snapshot.Entities[r.EntityType] = append(snapshot.Entities[r.EntityType], domain.NewDeltaItem(r))
	}
	return snapshot, nil
}

func (s *SyncService) History(ctx context.Context, userID string, limit int) ([]*domain.SyncHistoryEntry, error) {
	if limit <= 0 || limit > s.opts.HistoryLimit {
		limit = s.opts.HistoryLimit
	}
	entries, err := s.store.History.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, domain.StorageError("failed to list sync history", err)
	}
	return entries, nil
}

// Deferred lists the changes of deviceID that wait for resubmission.
func (s *SyncService) Deferred(ctx context.Context, userID, deviceID string) ([]*domain.DeferredRecord, error) {
	if err := s.authorizeDevice(ctx, userID, deviceID); err != nil {
		return nil, err
	}
	return s.queue.Pending(ctx, userID, deviceID)
}
