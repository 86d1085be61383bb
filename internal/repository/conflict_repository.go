package repository

import (
	"context"
	"fmt"
	"time"

	"edupulse-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type ConflictRepository interface {
	Create(ctx context.Context, conflict *domain.ConflictRecord) error
	Get(ctx context.Context, conflictID string) (*domain.ConflictRecord, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.ConflictRecord, error)
	MarkSettled(ctx context.Context, conflictID string, at time.Time) error
}

type conflictDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.ConflictRecord
}

type conflictRepository struct {
	client *kivik.Client
	dbName string
}

func NewConflictRepository(client *kivik.Client, dbName string) ConflictRepository {
	return &conflictRepository{
		client: client,
		dbName: dbName,
	}
}

func conflictDocID(id string) string {
	return fmt.Sprintf("conflict:%s", id)
}

func (r *conflictRepository) Create(ctx context.Context, conflict *domain.ConflictRecord) error {
	db := r.client.DB(r.dbName)

	doc := &conflictDoc{
		ID:             conflictDocID(conflict.ID),
		DocType:        "conflict",
		ConflictRecord: *conflict,
	}
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to create conflict: %w", err)
	}
	return nil
}

func (r *conflictRepository) load(ctx context.Context, conflictID string) (*conflictDoc, error) {
	db := r.client.DB(r.dbName)

	var doc conflictDoc
	if err := db.Get(ctx, conflictDocID(conflictID)).ScanDoc(&doc); err != nil {
		if err := translate(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return &doc, nil
}

func (r *conflictRepository) Get(ctx context.Context, conflictID string) (*domain.ConflictRecord, error) {
	doc, err := r.load(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	return &doc.ConflictRecord, nil
}

func (r *conflictRepository) ListByUser(ctx context.Context, userID string) ([]*domain.ConflictRecord, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": "conflict",
			"user_id":  userID,
		},
	}

	var conflicts []*domain.ConflictRecord
	err := findAll(ctx, db, query, func(rows *kivik.ResultSet) error {
		var doc conflictDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil // Skip malformed docs
		}
		c := doc.ConflictRecord
		conflicts = append(conflicts, &c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	sortConflicts(conflicts)
	return conflicts, nil
}

func (r *conflictRepository) MarkSettled(ctx context.Context, conflictID string, at time.Time) error {
	doc, err := r.load(ctx, conflictID)
	if err != nil {
		return err
	}
	doc.SettledAt = &at

	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to settle conflict: %w", translate(err))
	}
	return nil
}
