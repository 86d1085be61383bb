package service

import (
	"context"
	"errors"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/ledger"
)

var errStaged = errors.New("staged offline, applied by the next sync")

// StageOfflineData parks the device's offline changes in the deferred
// queue. A change the ledger already holds reports its recorded outcome; an
// invalid one is rejected now instead of on the next sync.
func (s *SyncService) StageOfflineData(ctx context.Context, userID string, req *domain.OfflineDataRequest) (*domain.OfflineDataResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	if err := s.authorizeDevice(ctx, userID, req.DeviceID); err != nil {
		return nil, err
	}

	now := s.now()
	resp := &domain.OfflineDataResponse{Outcomes: make([]domain.RecordOutcome, len(req.Changes))}
	for i := range req.Changes {
		c := req.Changes[i]
		if c.DeviceID == "" {
			c.DeviceID = req.DeviceID
		}
		out := domain.RecordOutcome{
			DeviceID:        c.DeviceID,
			LocalSequenceNo: c.LocalSequenceNo,
			EntityType:      c.EntityType,
			EntityID:        c.EntityID,
		}
		reject := func(err error) {
			out.Status = domain.OutcomeRejected
			out.Error = errorMessage(err)
			resp.Outcomes[i] = out
		}

		if c.DeviceID != req.DeviceID {
			reject(domain.ValidationError("change belongs to device %s, not %s", c.DeviceID, req.DeviceID))
			continue
		}
		if err := s.validator.Change(&c, now); err != nil {
			reject(err)
			continue
		}

		first, prior, err := s.ledger.TryApply(ctx, &c)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				reject(err)
				continue
			}
			return nil, err
		}
		if !first {
			resp.Outcomes[i] = ledger.Outcome(prior)
			continue
		}

		if _, err := s.queue.Defer(ctx, userID, c, 0, errStaged); err != nil {
			return nil, err
		}
		out.Status = domain.OutcomeDeferred
		out.Error = errStaged.Error()
		resp.Outcomes[i] = out
		resp.Staged++
	}

	s.log.Infow("offline data staged", "user_id", userID, "device_id", req.DeviceID,
		"received", len(req.Changes), "staged", resp.Staged)
	return resp, nil
}

// withParked puts the device's parked changes that the batch does not carry
// in front of it, so staged uploads and earlier deferrals are retried.
func (s *SyncService) withParked(ctx context.Context, userID, deviceID string, changes []domain.ChangeRecord) ([]domain.ChangeRecord, error) {
	pending, err := s.queue.Pending(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return changes, nil
	}

	carried := make(map[int64]bool, len(changes))
	for _, c := range changes {
		if c.DeviceID == "" || c.DeviceID == deviceID {
			carried[c.LocalSequenceNo] = true
		}
	}
	merged := make([]domain.ChangeRecord, 0, len(pending)+len(changes))
	for _, d := range pending {
		if !carried[d.Change.LocalSequenceNo] {
			merged = append(merged, d.Change)
		}
	}
	return append(merged, changes...), nil
}
