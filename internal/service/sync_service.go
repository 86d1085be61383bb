package service

import (
	"context"
	"errors"
	"time"

	"edupulse-sync-server/internal/collaborator"
	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/ledger"
	"edupulse-sync-server/internal/metrics"
	"edupulse-sync-server/internal/queue"
	"edupulse-sync-server/internal/repository"
	"edupulse-sync-server/internal/validation"
	"edupulse-sync-server/internal/version"
	"edupulse-sync-server/internal/websocket"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// deltaOverlap is subtracted from each new watermark so a commit stamped
// just before the delta query is picked up by the next session.
const deltaOverlap = 2 * time.Second

type SyncOptions struct {
	TokenTTL     time.Duration
	TokenSecret  string
	Workers      int
	HistoryLimit int
}

// Collaborators are the services outside the sync server a session calls.
type Collaborators struct {
	Identity     collaborator.IdentityLookup
	Quizzes      collaborator.QuizCatalog
	Gamification collaborator.GamificationLedger
}

// Broadcaster pushes messages to a user's open websocket connections.
type Broadcaster interface {
	BroadcastToUser(userID string, message *websocket.Message, excludeDeviceID string) error
}

type SyncService struct {
	store       *repository.Store
	tracker     *version.Tracker
	ledger      *ledger.Ledger
	queue       *queue.Queue
	validator   *validation.Validator
	collab      Collaborators
	settings    *SettingsService
	broadcaster Broadcaster
	opts        SyncOptions
	log         *zap.SugaredLogger
	now         func() time.Time
}

func NewSyncService(
	store *repository.Store,
	tracker *version.Tracker,
	ledger *ledger.Ledger,
	queue *queue.Queue,
	validator *validation.Validator,
	collab Collaborators,
	settings *SettingsService,
	broadcaster Broadcaster,
	opts SyncOptions,
	log *zap.SugaredLogger,
) *SyncService {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.HistoryLimit < 1 {
		opts.HistoryLimit = 50
	}
	return &SyncService{
		store:       store,
		tracker:     tracker,
		ledger:      ledger,
		queue:       queue,
		validator:   validator,
		collab:      collab,
		settings:    settings,
		broadcaster: broadcaster,
		opts:        opts,
		log:         log,
		now:         time.Now,
	}
}

// Sync runs one sync round for the device named in req. A token the server
// no longer accepts is not an error: the response asks for a full resync
// and nothing in the batch is applied. Changes parked for the device run
// ahead of the batch and report their outcomes first.
func (s *SyncService) Sync(ctx context.Context, userID string, req *domain.SyncRequest) (*domain.SyncResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	if req.UserID != "" && req.UserID != userID {
		return nil, domain.NewSyncError(domain.CodeDeviceNotBound, "user_id does not match the authenticated user", nil)
	}
	if err := s.authorizeDevice(ctx, userID, req.DeviceID); err != nil {
		return nil, err
	}

	started := s.now()
	sess := newSession(s.log.With("user_id", userID, "device_id", req.DeviceID))
	log := s.log.With("user_id", userID, "device_id", req.DeviceID, "changes", len(req.Changes))

	grant, err := s.validateToken(ctx, userID, req.DeviceID, req.SyncToken)
	if errors.Is(err, domain.ErrInvalidSyncToken) {
		_ = sess.advance(ctx, eventRejectToken)
		log.Infow("sync token rejected, full resync required", "reason", err)
		s.finish(ctx, userID, req.DeviceID, started, false, domain.SessionFullResync, nil, err)
		return &domain.SyncResponse{
			Outcomes:           []domain.RecordOutcome{},
			Conflicts:          []domain.ConflictRecord{},
			ServerDelta:        []domain.DeltaItem{},
			FullResyncRequired: true,
			SyncTimestamp:      s.now().UTC(),
		}, nil
	}
	if err != nil {
		return nil, s.abort(ctx, sess, userID, req.DeviceID, started, false, err)
	}
	if err := sess.advance(ctx, eventValidateToken); err != nil {
		return nil, s.abort(ctx, sess, userID, req.DeviceID, started, false, err)
	}

	changes, err := s.withParked(ctx, userID, req.DeviceID, req.Changes)
	if err != nil {
		return nil, s.abort(ctx, sess, userID, req.DeviceID, started, false, err)
	}
	result, err := s.applyBatch(ctx, sess, userID, req.DeviceID, changes, batchOptions{})
	if err != nil {
		return nil, s.abort(ctx, sess, userID, req.DeviceID, started, false, err)
	}

	window := deltaWindow{full: grant.bootstrap && req.LastSyncTimestamp == nil, since: grant.watermark}
	if req.LastSyncTimestamp != nil && (grant.bootstrap || req.LastSyncTimestamp.Before(window.since)) {
		window.since = *req.LastSyncTimestamp
	}
	resp, err := s.complete(ctx, sess, userID, req.DeviceID, result, window, false)
	if err != nil {
		return nil, s.abort(ctx, sess, userID, req.DeviceID, started, false, err)
	}

	log.Infow("sync session completed",
		"applied", resp.AppliedCount,
		"conflicts", len(resp.Conflicts),
		"delta", len(resp.ServerDelta),
		"resumed", grant.resumed,
	)
	s.finish(ctx, userID, req.DeviceID, started, false, domain.SessionSucceeded, result, nil)
	return resp, nil
}

// ForceSync skips token validation. Changes to the entities the device
// declares it holds are rebased on the current server version, and the
// response carries the user's full state under a fresh token chain.
func (s *SyncService) ForceSync(ctx context.Context, userID string, req *domain.ForceSyncRequest) (*domain.SyncResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	if err := s.authorizeDevice(ctx, userID, req.DeviceID); err != nil {
		return nil, err
	}

	started := s.now()
	sess := newSession(s.log.With("user_id", userID, "device_id", req.DeviceID))
	if err := sess.advance(ctx, eventValidateToken); err != nil {
		return nil, err
	}

	rebase := make(map[domain.EntityKey]bool, len(req.HeldEntities))
	for _, key := range req.HeldEntities {
		key.UserID = userID
		rebase[key] = true
	}

	result, err := s.applyBatch(ctx, sess, userID, req.DeviceID, req.Changes, batchOptions{rebase: rebase})
	if err != nil {
		return nil, s.abort(ctx, sess, userID, req.DeviceID, started, true, err)
	}

	resp, err := s.complete(ctx, sess, userID, req.DeviceID, result, deltaWindow{full: true}, true)
	if err != nil {
		return nil, s.abort(ctx, sess, userID, req.DeviceID, started, true, err)
	}

	s.log.Infow("force sync completed", "user_id", userID, "device_id", req.DeviceID,
		"applied", resp.AppliedCount, "delta", len(resp.ServerDelta))
	s.finish(ctx, userID, req.DeviceID, started, true, domain.SessionSucceeded, result, nil)
	return resp, nil
}

// applyResolution commits one change outside a sync round, with the
// client's version winning any exclusive conflict it meets.
func (s *SyncService) applyResolution(ctx context.Context, userID string, c domain.ChangeRecord) (*domain.RecordOutcome, []domain.ConflictRecord, error) {
	sess := newSession(s.log.With("user_id", userID, "device_id", c.DeviceID))
	if err := sess.advance(ctx, eventValidateToken); err != nil {
		return nil, nil, err
	}
	result, err := s.applyBatch(ctx, sess, userID, c.DeviceID, []domain.ChangeRecord{c}, batchOptions{override: domain.StrategyClientWins})
	if err != nil {
		sess.fail(ctx)
		return nil, nil, err
	}
	s.publish(ctx, userID, c.DeviceID, result)
	return &result.outcomes[0], result.conflicts, nil
}

type deltaWindow struct {
	full  bool
	since time.Time
}

// complete computes the delta, rotates the token and tells the user's
// other devices what moved.
func (s *SyncService) complete(ctx context.Context, sess *session, userID, deviceID string, result *batchResult, window deltaWindow, reset bool) (*domain.SyncResponse, error) {
	if err := sess.advance(ctx, eventComputeDelta); err != nil {
		return nil, err
	}
	deltaStart := s.now().UTC()
	delta, err := s.delta(ctx, userID, deviceID, window)
	if err != nil {
		return nil, err
	}

	token, err := s.rotateToken(ctx, userID, deviceID, deltaStart.Add(-deltaOverlap), reset)
	if err != nil {
		return nil, err
	}
	if err := sess.advance(ctx, eventRotateToken); err != nil {
		return nil, err
	}

	s.publish(ctx, userID, deviceID, result)

	return &domain.SyncResponse{
		AppliedCount:  result.applied(),
		Outcomes:      result.outcomes,
		Conflicts:     result.conflicts,
		ServerDelta:   delta,
		NewSyncToken:  token,
		SyncTimestamp: deltaStart,
	}, nil
}

func (s *SyncService) delta(ctx context.Context, userID, deviceID string, window deltaWindow) ([]domain.DeltaItem, error) {
	var (
		records []*domain.EntityRecord
		err     error
	)
	if window.full {
		records, err = s.store.Entities.ListByUser(ctx, userID)
	} else {
		records, err = s.store.Entities.ListChangedSince(ctx, userID, window.since)
	}
	if err != nil {
		return nil, domain.StorageError("failed to compute server delta", err)
	}

	delta := make([]domain.DeltaItem, 0, len(records))
	for _, r := range records {
		if !window.full && r.LastWriterDeviceID == deviceID {
			continue
		}
		delta = append(delta, domain.NewDeltaItem(r))
	}
	return delta, nil
}

// authorizeDevice checks the device is registered to userID and not revoked.
func (s *SyncService) authorizeDevice(ctx context.Context, userID, deviceID string) error {
	ok, err := s.collab.Identity.DeviceBelongsTo(ctx, userID, deviceID)
	if err != nil {
		return domain.StorageError("failed to look up device binding", err)
	}
	if !ok {
		return domain.NewSyncError(domain.CodeDeviceNotBound, "device "+deviceID+" is not registered to this user", nil)
	}
	return nil
}

func (s *SyncService) abort(ctx context.Context, sess *session, userID, deviceID string, started time.Time, forced bool, err error) error {
	sess.fail(ctx)
	s.log.Errorw("sync session failed", "user_id", userID, "device_id", deviceID, "state", sess.state(), "error", err)
	s.finish(ctx, userID, deviceID, started, forced, domain.SessionFailed, nil, err)
	return err
}

// finish records the session in the user's history. The request context may
// already be cancelled, so the write gets its own.
func (s *SyncService) finish(ctx context.Context, userID, deviceID string, started time.Time, forced bool, status domain.SessionStatus, result *batchResult, cause error) {
	metrics.ObserveSession(string(status), forced, started)

	entry := &domain.SyncHistoryEntry{
		ID:         uuid.New().String(),
		UserID:     userID,
		DeviceID:   deviceID,
		Status:     status,
		Forced:     forced,
		StartedAt:  started.UTC(),
		FinishedAt: s.now().UTC(),
	}
	if result != nil {
		entry.Applied, entry.Conflicts, entry.Deferred, entry.Rejected = result.counts()
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.History.Append(writeCtx, entry); err != nil {
		s.log.Warnw("failed to record sync history", "user_id", userID, "device_id", deviceID, "error", err)
	}
}
