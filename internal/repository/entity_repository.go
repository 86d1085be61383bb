package repository

import (
	"context"
	"fmt"
	"time"

	"edupulse-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type EntityRepository interface {
	Get(ctx context.Context, key domain.EntityKey) (*domain.EntityRecord, error)
	// CompareAndSwap stores next only if the persisted server_version still
	// equals expected (0 meaning the entity must not exist yet).
	CompareAndSwap(ctx context.Context, expected int64, next *domain.EntityRecord) error
	ListChangedSince(ctx context.Context, userID string, since time.Time) ([]*domain.EntityRecord, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.EntityRecord, error)
}

type entityDoc struct {
	ID             string `json:"_id"`
	Rev            string `json:"_rev,omitempty"`
	DocType        string `json:"doc_type"`
	AppliedAtNanos int64  `json:"applied_at_nanos"`
	domain.EntityRecord
}

const entityDocType = "entity"

type entityRepository struct {
	client *kivik.Client
	dbName string
}

func NewEntityRepository(client *kivik.Client, dbName string) EntityRepository {
	return &entityRepository{
		client: client,
		dbName: dbName,
	}
}

func entityDocID(key domain.EntityKey) string {
	return fmt.Sprintf("entity:%s", key.String())
}

func (r *entityRepository) load(ctx context.Context, key domain.EntityKey) (*entityDoc, error) {
	db := r.client.DB(r.dbName)

	var doc entityDoc
	if err := db.Get(ctx, entityDocID(key)).ScanDoc(&doc); err != nil {
		return nil, translate(err)
	}
	return &doc, nil
}

func (r *entityRepository) Get(ctx context.Context, key domain.EntityKey) (*domain.EntityRecord, error) {
	doc, err := r.load(ctx, key)
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return &doc.EntityRecord, nil
}

func (r *entityRepository) CompareAndSwap(ctx context.Context, expected int64, next *domain.EntityRecord) error {
	key := next.Key()
	doc := &entityDoc{
		ID:             entityDocID(key),
		DocType:        entityDocType,
		AppliedAtNanos: next.LastAppliedTimestamp.UnixNano(),
		EntityRecord:   *next,
	}

	current, err := r.load(ctx, key)
	switch {
	case err == ErrNotFound:
		if expected != 0 {
			return ErrVersionMismatch
		}
	case err != nil:
		return fmt.Errorf("failed to read entity for update: %w", err)
	default:
		if current.ServerVersion != expected {
			return ErrVersionMismatch
		}
		doc.Rev = current.Rev
	}

	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		if err := translate(err); err == ErrVersionMismatch {
			return err
		}
		return fmt.Errorf("failed to write entity: %w", err)
	}
	return nil
}

func (r *entityRepository) ListChangedSince(ctx context.Context, userID string, since time.Time) ([]*domain.EntityRecord, error) {
	return r.find(ctx, map[string]interface{}{
		"doc_type":         entityDocType,
		"user_id":          userID,
		"applied_at_nanos": map[string]interface{}{"$gt": since.UnixNano()},
	})
}

func (r *entityRepository) ListByUser(ctx context.Context, userID string) ([]*domain.EntityRecord, error) {
	return r.find(ctx, map[string]interface{}{
		"doc_type": entityDocType,
		"user_id":  userID,
	})
}

func (r *entityRepository) find(ctx context.Context, selector map[string]interface{}) ([]*domain.EntityRecord, error) {
	db := r.client.DB(r.dbName)

	var records []*domain.EntityRecord
	err := findAll(ctx, db, map[string]interface{}{"selector": selector}, func(rows *kivik.ResultSet) error {
		var doc entityDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return fmt.Errorf("failed to decode entity: %w", err)
		}
		rec := doc.EntityRecord
		records = append(records, &rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	sortRecords(records)
	return records, nil
}
