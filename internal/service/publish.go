package service

import (
	"context"
	"encoding/json"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/metrics"
	"edupulse-sync-server/internal/websocket"
)

const gamificationTimeout = 5 * time.Second

// publish forwards committed point-bearing changes to the gamification
// ledger and notifies the user's other devices. The commits are already
// authoritative, so failures here are only logged.
func (s *SyncService) publish(ctx context.Context, userID, deviceID string, result *batchResult) {
	s.publishConflicts(userID, deviceID, result.conflicts)
	if len(result.written) == 0 {
		return
	}

	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gamificationTimeout)
	defer cancel()
	for _, w := range result.written {
		delta, ok := pointsDelta(userID, w)
		if !ok {
			continue
		}
		if err := s.collab.Gamification.RecordDelta(gctx, delta); err != nil {
			metrics.CollaboratorErrors.WithLabelValues("gamification").Inc()
			s.log.Warnw("failed to forward points delta", "user_id", userID, "reference", delta.Reference, "error", err)
		}
	}

	if s.broadcaster == nil {
		return
	}
	payload := websocket.EntitiesChangedPayload{DeviceID: deviceID}
	for _, w := range result.written {
		payload.Entities = append(payload.Entities, websocket.ChangedEntity{
			EntityType:    w.record.EntityType,
			EntityID:      w.record.EntityID,
			ServerVersion: w.record.ServerVersion,
			Deleted:       w.record.Deleted,
		})
	}
	msg, err := websocket.NewMessage(websocket.TypeEntitiesChanged, payload)
	if err != nil {
		s.log.Warnw("failed to build entities_changed message", "error", err)
		return
	}
	if err := s.broadcaster.BroadcastToUser(userID, msg, deviceID); err != nil {
		s.log.Warnw("failed to broadcast entities_changed", "user_id", userID, "error", err)
	}
}

// publishConflicts tells the device whose stored value a session overwrote
// that its write lost. A change that lost to the server value is reported in
// the session response instead.
func (s *SyncService) publishConflicts(userID, deviceID string, conflicts []domain.ConflictRecord) {
	if s.broadcaster == nil {
		return
	}
	for _, c := range conflicts {
		if c.Resolution == domain.ResolutionServerWins || c.ServerVersionSnapshot == nil {
			continue
		}
		loser := c.ServerVersionSnapshot.LastWriterDeviceID
		if loser == "" || loser == deviceID {
			continue
		}
		msg, err := websocket.NewMessage(websocket.TypeConflict, websocket.ConflictPayload{
			ConflictID:     c.ID,
			EntityType:     c.EntityType,
			EntityID:       c.EntityID,
			Resolution:     c.Resolution,
			LosingDeviceID: loser,
		})
		if err != nil {
			s.log.Warnw("failed to build conflict message", "error", err)
			continue
		}
		if err := s.broadcaster.BroadcastToUser(userID, msg, deviceID); err != nil {
			s.log.Warnw("failed to broadcast conflict", "user_id", userID, "conflict_id", c.ID, "error", err)
		}
	}
}

// pointsDelta extracts what a committed change is worth to the gamification
// ledger: the delta of a points entry, or the reward of a new achievement.
func pointsDelta(userID string, w committedWrite) (domain.PointsDelta, bool) {
	c := w.change
	delta := domain.PointsDelta{
		UserID:     userID,
		DeviceID:   c.DeviceID,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Reference:  c.IdempotencyKey(),
	}

	switch {
	case c.EntityType == domain.EntityPoints && c.Op != domain.OpDelete:
		var p domain.PointsPayload
		if err := json.Unmarshal(c.Payload, &p); err != nil || p.Delta == 0 {
			return delta, false
		}
		delta.PointsType = p.PointsType
		delta.Delta = p.Delta
	case c.EntityType == domain.EntityAchievement && c.Op == domain.OpCreate:
		var p domain.AchievementPayload
		if err := json.Unmarshal(c.Payload, &p); err != nil || p.PointsReward == 0 {
			return delta, false
		}
		delta.PointsType = "achievement"
		delta.Delta = p.PointsReward
	default:
		return delta, false
	}
	return delta, true
}
