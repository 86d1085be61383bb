package repository

import (
	"context"
	"fmt"

	"edupulse-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type SyncStateRepository interface {
	Get(ctx context.Context, userID, deviceID string) (*domain.SyncState, error)
	// Save replaces the state only if the stored current token id still
	// equals expectedTokenID. An empty expectedTokenID matches an absent state.
	Save(ctx context.Context, state *domain.SyncState, expectedTokenID string) error
}

type syncStateDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.SyncState
}

type syncStateRepository struct {
	client *kivik.Client
	dbName string
}

func NewSyncStateRepository(client *kivik.Client, dbName string) SyncStateRepository {
	return &syncStateRepository{
		client: client,
		dbName: dbName,
	}
}

func syncStateDocID(userID, deviceID string) string {
	return fmt.Sprintf("sync:%s:%s", userID, deviceID)
}

func (r *syncStateRepository) load(ctx context.Context, userID, deviceID string) (*syncStateDoc, error) {
	db := r.client.DB(r.dbName)

	var doc syncStateDoc
	if err := db.Get(ctx, syncStateDocID(userID, deviceID)).ScanDoc(&doc); err != nil {
		if err := translate(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &doc, nil
}

func (r *syncStateRepository) Get(ctx context.Context, userID, deviceID string) (*domain.SyncState, error) {
	doc, err := r.load(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	return &doc.SyncState, nil
}

func (r *syncStateRepository) Save(ctx context.Context, state *domain.SyncState, expectedTokenID string) error {
	doc := &syncStateDoc{
		ID:        syncStateDocID(state.UserID, state.DeviceID),
		DocType:   "sync_state",
		SyncState: *state,
	}

	current, err := r.load(ctx, state.UserID, state.DeviceID)
	switch {
	case err == ErrNotFound:
		if expectedTokenID != "" {
			return ErrVersionMismatch
		}
	case err != nil:
		return err
	default:
		if current.CurrentTokenID != expectedTokenID {
			return ErrVersionMismatch
		}
		doc.Rev = current.Rev
	}

	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		if err := translate(err); err == ErrVersionMismatch {
			return err
		}
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}
