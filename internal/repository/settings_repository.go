package repository

import (
	"context"
	"fmt"

	"edupulse-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type SettingsRepository interface {
	Get(ctx context.Context, userID string) (*domain.SyncSettings, error)
	Upsert(ctx context.Context, settings *domain.SyncSettings) error
}

type settingsDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.SyncSettings
}

type settingsRepository struct {
	client *kivik.Client
	dbName string
}

func NewSettingsRepository(client *kivik.Client, dbName string) SettingsRepository {
	return &settingsRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *settingsRepository) load(ctx context.Context, userID string) (*settingsDoc, error) {
	db := r.client.DB(r.dbName)

	var doc settingsDoc
	if err := db.Get(ctx, fmt.Sprintf("settings:%s", userID)).ScanDoc(&doc); err != nil {
		if err := translate(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get sync settings: %w", err)
	}
	return &doc, nil
}

func (r *settingsRepository) Get(ctx context.Context, userID string) (*domain.SyncSettings, error) {
	doc, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &doc.SyncSettings, nil
}

func (r *settingsRepository) Upsert(ctx context.Context, settings *domain.SyncSettings) error {
	doc := &settingsDoc{
		ID:           fmt.Sprintf("settings:%s", settings.UserID),
		DocType:      "settings",
		SyncSettings: *settings,
	}

	existing, err := r.load(ctx, settings.UserID)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil {
		doc.Rev = existing.Rev
	}

	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to save sync settings: %w", err)
	}
	return nil
}
