package service

import (
	"context"
	"errors"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/repository"
	"edupulse-sync-server/pkg/jwt"

	"github.com/google/uuid"
)

const rotateAttempts = 3

// tokenGrant is what a presented sync token entitles the session to.
type tokenGrant struct {
	bootstrap bool
	resumed   bool
	watermark time.Time
}

// validateToken checks the presented token against the device's sync state.
// An empty token starts a bootstrap session, but only for a device that was
// never issued one; afterwards the device has to present its token or force
// a sync. The current token and the one before it are accepted; the previous
// one covers a client that never saw the response carrying its successor.
func (s *SyncService) validateToken(ctx context.Context, userID, deviceID, token string) (*tokenGrant, error) {
	if token == "" {
		_, err := s.store.SyncStates.Get(ctx, userID, deviceID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return &tokenGrant{bootstrap: true}, nil
		case err != nil:
			return nil, domain.StorageError("failed to read sync state", err)
		}
		return nil, domain.NewSyncError(domain.CodeInvalidSyncToken, "device already holds a sync token", nil)
	}

	claims, err := jwt.ParseSyncToken(token, s.opts.TokenSecret)
	if err != nil {
		return nil, domain.NewSyncError(domain.CodeInvalidSyncToken, "sync token rejected", err)
	}
	if claims.UserID != userID || claims.DeviceID != deviceID {
		return nil, domain.NewSyncError(domain.CodeInvalidSyncToken, "sync token belongs to another device", nil)
	}

	state, err := s.store.SyncStates.Get(ctx, userID, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NewSyncError(domain.CodeInvalidSyncToken, "no sync state for device", nil)
	}
	if err != nil {
		return nil, domain.StorageError("failed to read sync state", err)
	}

	switch claims.ID {
	case state.CurrentTokenID:
		return &tokenGrant{watermark: claims.Watermark()}, nil
	case state.PreviousTokenID:
		return &tokenGrant{resumed: true, watermark: claims.Watermark()}, nil
	}
	return nil, domain.NewSyncError(domain.CodeInvalidSyncToken, "sync token superseded", nil)
}

// rotateToken issues a new token and records it as current. Unless reset
// is set, the token it replaces stays acceptable as the previous one.
func (s *SyncService) rotateToken(ctx context.Context, userID, deviceID string, watermark time.Time, reset bool) (string, error) {
	tokenID := uuid.New().String()
	signed, err := jwt.GenerateSyncToken(userID, deviceID, tokenID, watermark, s.opts.TokenTTL, s.opts.TokenSecret)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < rotateAttempts; attempt++ {
		var expected string
		state, err := s.store.SyncStates.Get(ctx, userID, deviceID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return "", domain.StorageError("failed to read sync state", err)
		default:
			expected = state.CurrentTokenID
		}

		now := s.now().UTC()
		next := &domain.SyncState{
			UserID:               userID,
			DeviceID:             deviceID,
			CurrentTokenID:       tokenID,
			HighWatermark:        watermark,
			LastSuccessfulSyncAt: now,
			UpdatedAt:            now,
		}
		if !reset {
			next.PreviousTokenID = expected
		}

		err = s.store.SyncStates.Save(ctx, next, expected)
		if errors.Is(err, repository.ErrVersionMismatch) {
			// another session of this device rotated first
			continue
		}
		if err != nil {
			return "", domain.StorageError("failed to save sync state", err)
		}
		return signed, nil
	}
	return "", domain.StorageError("sync state kept changing during rotation", repository.ErrVersionMismatch)
}
