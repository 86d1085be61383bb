package repository

import (
	"context"
	"fmt"

	"edupulse-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type LedgerRepository interface {
	Get(ctx context.Context, deviceID string, seq int64) (*domain.LedgerEntry, error)
	// Append fails with ErrAlreadyExists when the (device, seq) pair is taken.
	Append(ctx context.Context, entry *domain.LedgerEntry) error
}

type ledgerDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.LedgerEntry
}

type ledgerRepository struct {
	client *kivik.Client
	dbName string
}

func NewLedgerRepository(client *kivik.Client, dbName string) LedgerRepository {
	return &ledgerRepository{
		client: client,
		dbName: dbName,
	}
}

func ledgerDocID(deviceID string, seq int64) string {
	return fmt.Sprintf("ledger:%s:%d", deviceID, seq)
}

func (r *ledgerRepository) Get(ctx context.Context, deviceID string, seq int64) (*domain.LedgerEntry, error) {
	db := r.client.DB(r.dbName)

	var doc ledgerDoc
	if err := db.Get(ctx, ledgerDocID(deviceID, seq)).ScanDoc(&doc); err != nil {
		if err := translate(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &doc.LedgerEntry, nil
}

func (r *ledgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	db := r.client.DB(r.dbName)

	doc := &ledgerDoc{
		ID:          ledgerDocID(entry.DeviceID, entry.LocalSequenceNo),
		DocType:     "ledger",
		LedgerEntry: *entry,
	}
	// A put without _rev on an existing id is rejected with 409.
	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		if translate(err) == ErrVersionMismatch {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}
