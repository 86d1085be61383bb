package repository

import (
	"context"
	"fmt"

	"github.com/go-kivik/kivik/v4"
)

// Store groups the repositories the sync server persists through.
type Store struct {
	Entities   EntityRepository
	Ledger     LedgerRepository
	Conflicts  ConflictRepository
	SyncStates SyncStateRepository
	Deferred   DeferredRepository
	Settings   SettingsRepository
	History    HistoryRepository
	Devices    DeviceRepository
}

// NewCouchStore wires every repository onto one CouchDB database. Documents
// are discriminated by their doc_type field and an id prefix.
func NewCouchStore(client *kivik.Client, dbName string) *Store {
	return &Store{
		Entities:   NewEntityRepository(client, dbName),
		Ledger:     NewLedgerRepository(client, dbName),
		Conflicts:  NewConflictRepository(client, dbName),
		SyncStates: NewSyncStateRepository(client, dbName),
		Deferred:   NewDeferredRepository(client, dbName),
		Settings:   NewSettingsRepository(client, dbName),
		History:    NewHistoryRepository(client, dbName),
		Devices:    NewDeviceRepository(client, dbName),
	}
}

const couchIndexDesign = "sync-indexes"

var couchIndexes = map[string][]string{
	"entities-by-user-applied": {"doc_type", "user_id", "applied_at_nanos"},
	"history-by-user-started":  {"doc_type", "user_id", "started_at_nanos"},
	"by-user":                  {"doc_type", "user_id"},
	"deferred-by-device":       {"doc_type", "user_id", "device_id"},
}

// EnsureDatabase creates the database and the Mango indexes the
// repositories query with.
func EnsureDatabase(ctx context.Context, client *kivik.Client, dbName string) error {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	db := client.DB(dbName)
	for name, fields := range couchIndexes {
		index := map[string]interface{}{"fields": fields}
		if err := db.CreateIndex(ctx, couchIndexDesign, name, index); err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}
	return nil
}
