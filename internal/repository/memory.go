package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"edupulse-sync-server/internal/domain"
)

// NewMemoryStore returns a Store backed by process memory. It honours the
// same compare-and-swap and put-if-absent contracts as the CouchDB store and
// is used by tests and by DB_DRIVER=memory.
func NewMemoryStore() *Store {
	return &Store{
		Entities:   &memoryEntities{records: make(map[string]*domain.EntityRecord)},
		Ledger:     &memoryLedger{entries: make(map[string]*domain.LedgerEntry)},
		Conflicts:  &memoryConflicts{conflicts: make(map[string]*domain.ConflictRecord)},
		SyncStates: &memorySyncStates{states: make(map[string]*domain.SyncState)},
		Deferred:   &memoryDeferred{records: make(map[string]*domain.DeferredRecord)},
		Settings:   &memorySettings{settings: make(map[string]*domain.SyncSettings)},
		History:    &memoryHistory{},
		Devices:    &memoryDevices{devices: make(map[string]*domain.Device)},
	}
}

// copyJSON deep-copies v through its JSON form so callers never share
// mutable state with the store.
func copyJSON[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

type memoryEntities struct {
	mu      sync.RWMutex
	records map[string]*domain.EntityRecord
}

func (m *memoryEntities) Get(ctx context.Context, key domain.EntityKey) (*domain.EntityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memoryEntities) CompareAndSwap(ctx context.Context, expected int64, next *domain.EntityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := next.Key().String()
	current, ok := m.records[k]
	switch {
	case !ok && expected != 0:
		return ErrVersionMismatch
	case ok && current.ServerVersion != expected:
		return ErrVersionMismatch
	}
	m.records[k] = next.Clone()
	return nil
}

func (m *memoryEntities) ListChangedSince(ctx context.Context, userID string, since time.Time) ([]*domain.EntityRecord, error) {
	return m.list(ctx, func(r *domain.EntityRecord) bool {
		return r.UserID == userID && r.LastAppliedTimestamp.After(since)
	})
}

func (m *memoryEntities) ListByUser(ctx context.Context, userID string) ([]*domain.EntityRecord, error) {
	return m.list(ctx, func(r *domain.EntityRecord) bool {
		return r.UserID == userID
	})
}

func (m *memoryEntities) list(ctx context.Context, match func(*domain.EntityRecord) bool) ([]*domain.EntityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.EntityRecord
	for _, r := range m.records {
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

type memoryLedger struct {
	mu      sync.RWMutex
	entries map[string]*domain.LedgerEntry
}

func (m *memoryLedger) Get(ctx context.Context, deviceID string, seq int64) (*domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[ledgerDocID(deviceID, seq)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJSON(e), nil
}

func (m *memoryLedger) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ledgerDocID(entry.DeviceID, entry.LocalSequenceNo)
	if _, ok := m.entries[id]; ok {
		return ErrAlreadyExists
	}
	m.entries[id] = copyJSON(entry)
	return nil
}

type memoryConflicts struct {
	mu        sync.RWMutex
	conflicts map[string]*domain.ConflictRecord
}

func (m *memoryConflicts) Create(ctx context.Context, conflict *domain.ConflictRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conflicts[conflict.ID]; ok {
		return ErrAlreadyExists
	}
	m.conflicts[conflict.ID] = copyJSON(conflict)
	return nil
}

func (m *memoryConflicts) Get(ctx context.Context, conflictID string) (*domain.ConflictRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conflicts[conflictID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJSON(c), nil
}

func (m *memoryConflicts) ListByUser(ctx context.Context, userID string) ([]*domain.ConflictRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.ConflictRecord
	for _, c := range m.conflicts {
		if c.UserID == userID {
			out = append(out, copyJSON(c))
		}
	}
	sortConflicts(out)
	return out, nil
}

func (m *memoryConflicts) MarkSettled(ctx context.Context, conflictID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[conflictID]
	if !ok {
		return ErrNotFound
	}
	c.SettledAt = &at
	return nil
}

type memorySyncStates struct {
	mu     sync.Mutex
	states map[string]*domain.SyncState
}

func (m *memorySyncStates) Get(ctx context.Context, userID, deviceID string) (*domain.SyncState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[syncStateDocID(userID, deviceID)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *memorySyncStates) Save(ctx context.Context, state *domain.SyncState, expectedTokenID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := syncStateDocID(state.UserID, state.DeviceID)
	current, ok := m.states[id]
	switch {
	case !ok && expectedTokenID != "":
		return ErrVersionMismatch
	case ok && current.CurrentTokenID != expectedTokenID:
		return ErrVersionMismatch
	}
	c := *state
	m.states[id] = &c
	return nil
}

type memoryDeferred struct {
	mu      sync.Mutex
	records map[string]*domain.DeferredRecord
}

func (m *memoryDeferred) Put(ctx context.Context, rec *domain.DeferredRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[deferredDocID(rec.Change.DeviceID, rec.Change.LocalSequenceNo)] = copyJSON(rec)
	return nil
}

func (m *memoryDeferred) Delete(ctx context.Context, deviceID string, seq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, deferredDocID(deviceID, seq))
	return nil
}

func (m *memoryDeferred) ListByDevice(ctx context.Context, userID, deviceID string) ([]*domain.DeferredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.DeferredRecord
	for _, r := range m.records {
		if r.UserID == userID && r.DeviceID == deviceID {
			out = append(out, copyJSON(r))
		}
	}
	sortDeferred(out)
	return out, nil
}

type memorySettings struct {
	mu       sync.Mutex
	settings map[string]*domain.SyncSettings
}

func (m *memorySettings) Get(ctx context.Context, userID string) (*domain.SyncSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJSON(s), nil
}

func (m *memorySettings) Upsert(ctx context.Context, settings *domain.SyncSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[settings.UserID] = copyJSON(settings)
	return nil
}

type memoryHistory struct {
	mu      sync.Mutex
	entries []*domain.SyncHistoryEntry
}

func (m *memoryHistory) Append(ctx context.Context, entry *domain.SyncHistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *entry
	m.entries = append(m.entries, &c)
	return nil
}

func (m *memoryHistory) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.SyncHistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.SyncHistoryEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			c := *e
			out = append(out, &c)
		}
	}
	return newestHistory(out, limit), nil
}

type memoryDevices struct {
	mu      sync.Mutex
	devices map[string]*domain.Device
}

func (m *memoryDevices) Create(ctx context.Context, device *domain.Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[device.ID]; ok {
		return ErrAlreadyExists
	}
	c := *device
	m.devices[device.ID] = &c
	return nil
}

func (m *memoryDevices) List(ctx context.Context, userID string) ([]*domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Device
	for _, d := range m.devices {
		if d.UserID == userID {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memoryDevices) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *d
	return &c, nil
}

func (m *memoryDevices) Revoke(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	d.IsRevoked = true
	return nil
}

func (m *memoryDevices) UpdateLastActive(ctx context.Context, deviceID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	d.LastActive = at
	return nil
}
