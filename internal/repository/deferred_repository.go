package repository

import (
	"context"
	"fmt"

	"edupulse-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type DeferredRepository interface {
	Put(ctx context.Context, rec *domain.DeferredRecord) error
	// Delete is a no-op when nothing is deferred under the key.
	Delete(ctx context.Context, deviceID string, seq int64) error
	ListByDevice(ctx context.Context, userID, deviceID string) ([]*domain.DeferredRecord, error)
}

type deferredDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.DeferredRecord
}

type deferredRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeferredRepository(client *kivik.Client, dbName string) DeferredRepository {
	return &deferredRepository{
		client: client,
		dbName: dbName,
	}
}

func deferredDocID(deviceID string, seq int64) string {
	return fmt.Sprintf("deferred:%s:%d", deviceID, seq)
}

func (r *deferredRepository) rev(ctx context.Context, docID string) (string, error) {
	db := r.client.DB(r.dbName)

	var existing struct {
		Rev string `json:"_rev"`
	}
	if err := db.Get(ctx, docID).ScanDoc(&existing); err != nil {
		return "", translate(err)
	}
	return existing.Rev, nil
}

func (r *deferredRepository) Put(ctx context.Context, rec *domain.DeferredRecord) error {
	docID := deferredDocID(rec.Change.DeviceID, rec.Change.LocalSequenceNo)
	doc := &deferredDoc{
		ID:             docID,
		DocType:        "deferred",
		DeferredRecord: *rec,
	}

	rev, err := r.rev(ctx, docID)
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("failed to read deferred record: %w", err)
	}
	doc.Rev = rev

	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to store deferred record: %w", err)
	}
	return nil
}

func (r *deferredRepository) Delete(ctx context.Context, deviceID string, seq int64) error {
	docID := deferredDocID(deviceID, seq)

	rev, err := r.rev(ctx, docID)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read deferred record: %w", err)
	}

	db := r.client.DB(r.dbName)
	if _, err := db.Delete(ctx, docID, rev); err != nil {
		if translate(err) == ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete deferred record: %w", err)
	}
	return nil
}

func (r *deferredRepository) ListByDevice(ctx context.Context, userID, deviceID string) ([]*domain.DeferredRecord, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":  "deferred",
			"user_id":   userID,
			"device_id": deviceID,
		},
	}

	var records []*domain.DeferredRecord
	err := findAll(ctx, db, query, func(rows *kivik.ResultSet) error {
		var doc deferredDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return fmt.Errorf("failed to decode deferred record: %w", err)
		}
		rec := doc.DeferredRecord
		records = append(records, &rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list deferred records: %w", err)
	}
	sortDeferred(records)
	return records, nil
}
