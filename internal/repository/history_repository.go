package repository

import (
	"context"
	"errors"
	"fmt"

	"edupulse-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type HistoryRepository interface {
	Append(ctx context.Context, entry *domain.SyncHistoryEntry) error
	// ListByUser returns the newest entries first, at most limit of them.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.SyncHistoryEntry, error)
}

type historyDoc struct {
	ID             string `json:"_id"`
	DocType        string `json:"doc_type"`
	StartedAtNanos int64  `json:"started_at_nanos"`
	domain.SyncHistoryEntry
}

type historyRepository struct {
	client *kivik.Client
	dbName string
}

func NewHistoryRepository(client *kivik.Client, dbName string) HistoryRepository {
	return &historyRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *historyRepository) Append(ctx context.Context, entry *domain.SyncHistoryEntry) error {
	db := r.client.DB(r.dbName)

	doc := &historyDoc{
		ID:               fmt.Sprintf("history:%s", entry.ID),
		DocType:          "history",
		StartedAtNanos:   entry.StartedAt.UnixNano(),
		SyncHistoryEntry: *entry,
	}
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to append sync history: %w", err)
	}
	return nil
}

// historyQuery asks CouchDB for the newest entries of userID. The sort
// matches the history-by-user-started index field for field.
func historyQuery(userID string) map[string]interface{} {
	return map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":         "history",
			"user_id":          userID,
			"started_at_nanos": map[string]interface{}{"$gt": 0},
		},
		"sort": []map[string]string{
			{"doc_type": "desc"},
			{"user_id": "desc"},
			{"started_at_nanos": "desc"},
		},
		"use_index": []string{couchIndexDesign, "history-by-user-started"},
	}
}

func (r *historyRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.SyncHistoryEntry, error) {
	db := r.client.DB(r.dbName)

	var entries []*domain.SyncHistoryEntry
	scan := func(rows *kivik.ResultSet) error {
		var doc historyDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil
		}
		e := doc.SyncHistoryEntry
		entries = append(entries, &e)
		return nil
	}

	var err error
	if limit > 0 {
		// one page of exactly limit rows, already newest first
		err = findPages(ctx, db, historyQuery(userID), limit, func(rows *kivik.ResultSet) error {
			if err := scan(rows); err != nil {
				return err
			}
			if len(entries) >= limit {
				return errPageFull
			}
			return nil
		})
		if errors.Is(err, errPageFull) {
			err = nil
		}
	} else {
		err = findAll(ctx, db, historyQuery(userID), scan)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sync history: %w", err)
	}
	return newestHistory(entries, limit), nil
}
