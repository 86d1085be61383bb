package service

import (
	"context"
	"errors"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/ledger"
	"edupulse-sync-server/internal/repository"

	"go.uber.org/zap"
)

type ConflictService struct {
	conflicts repository.ConflictRepository
	sync      *SyncService
	log       *zap.SugaredLogger
}

func NewConflictService(conflicts repository.ConflictRepository, sync *SyncService, log *zap.SugaredLogger) *ConflictService {
	return &ConflictService{
		conflicts: conflicts,
		sync:      sync,
		log:       log,
	}
}

// List returns the user's conflicts, newest first. With openOnly set, only
// the ones still waiting for a decision are returned.
func (s *ConflictService) List(ctx context.Context, userID string, openOnly bool) ([]*domain.ConflictRecord, error) {
	conflicts, err := s.conflicts.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.StorageError("failed to list conflicts", err)
	}
	if !openOnly {
		return conflicts, nil
	}

	open := make([]*domain.ConflictRecord, 0, len(conflicts))
	for _, c := range conflicts {
		if c.SettledAt == nil {
			open = append(open, c)
		}
	}
	return open, nil
}

func (s *ConflictService) get(ctx context.Context, userID, conflictID string) (*domain.ConflictRecord, error) {
	conflict, err := s.conflicts.Get(ctx, conflictID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NewSyncError(domain.CodeNotFound, "conflict not found", nil)
	}
	if err != nil {
		return nil, domain.StorageError("failed to read conflict", err)
	}
	if conflict.UserID != userID {
		return nil, domain.NewSyncError(domain.CodeNotFound, "conflict not found", nil)
	}
	return conflict, nil
}

// Resolve applies the user's decision for a conflict. Keeping the server
// version only settles the record; the other choices are re-applied as a
// new change based on the conflict's server snapshot.
func (s *ConflictService) Resolve(ctx context.Context, userID string, req *domain.ConflictResolutionRequest) (*domain.ConflictResolutionResponse, error) {
	if err := s.sync.validator.Struct(req); err != nil {
		return nil, err
	}
	if err := s.sync.authorizeDevice(ctx, userID, req.DeviceID); err != nil {
		return nil, err
	}

	conflict, err := s.get(ctx, userID, req.ConflictID)
	if err != nil {
		return nil, err
	}
	resp := &domain.ConflictResolutionResponse{ConflictID: conflict.ID}
	key := domain.EntityKey{UserID: userID, Type: conflict.EntityType, ID: conflict.EntityID}

	if req.Resolution != domain.ChoiceServer {
		change := resolutionChange(conflict, req)

		first, prior, err := s.sync.ledger.TryApply(ctx, &change)
		if err != nil {
			return nil, err
		}
		if first && conflict.SettledAt != nil {
			return nil, domain.ValidationError("conflict %s is already settled", conflict.ID)
		}
		if !first {
			outcome := ledger.Outcome(prior)
			resp.Outcome = &outcome
		} else {
			outcome, _, err := s.sync.applyResolution(ctx, userID, change)
			if err != nil {
				return nil, err
			}
			resp.Outcome = outcome
			if outcome.Status != domain.OutcomeApplied {
				// the entity moved again; a new conflict or deferral says why
				return s.withCurrent(ctx, key, resp)
			}
		}
	}

	if conflict.SettledAt == nil {
		if err := s.conflicts.MarkSettled(ctx, conflict.ID, s.sync.now().UTC()); err != nil {
			return nil, domain.StorageError("failed to settle conflict", err)
		}
		s.log.Infow("conflict settled", "user_id", userID, "conflict_id", conflict.ID, "resolution", req.Resolution)
	}
	return s.withCurrent(ctx, key, resp)
}

func (s *ConflictService) withCurrent(ctx context.Context, key domain.EntityKey, resp *domain.ConflictResolutionResponse) (*domain.ConflictResolutionResponse, error) {
	current, err := s.sync.tracker.Current(ctx, key)
	if err != nil {
		return nil, err
	}
	resp.Current = current
	return resp, nil
}

// resolutionChange builds the change that carries a client or merge
// decision. Its timestamp is the conflict's, so a retried request produces
// the same ledger digest.
func resolutionChange(conflict *domain.ConflictRecord, req *domain.ConflictResolutionRequest) domain.ChangeRecord {
	c := domain.ChangeRecord{
		EntityType:      conflict.EntityType,
		EntityID:        conflict.EntityID,
		Op:              domain.OpUpdate,
		ClientTimestamp: conflict.CreatedAt,
		DeviceID:        req.DeviceID,
		LocalSequenceNo: req.LocalSequenceNo,
		BaseVersion:     conflict.SnapshotVersion(),
	}

	switch req.Resolution {
	case domain.ChoiceMerge:
		c.Payload = req.MergedPayload
	case domain.ChoiceClient:
		if client := conflict.ClientVersionSnapshot; client != nil {
			if client.Op == domain.OpDelete {
				c.Op = domain.OpDelete
			} else {
				c.Payload = client.Payload
			}
		}
	}
	return c
}
