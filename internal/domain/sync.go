package domain

import (
	"encoding/json"
	"time"
)

// SyncRequest is one sync round. Changes are validated one by one so a bad
// record does not sink the batch.
type SyncRequest struct {
	UserID            string         `json:"user_id"`
	LastSyncTimestamp *time.Time     `json:"last_sync_timestamp,omitempty"`
	DeviceID          string         `json:"device_id" validate:"required"`
	SyncToken         string         `json:"sync_token"`
	Changes           []ChangeRecord `json:"changes"`
}

// ForceSyncRequest bypasses token validation. HeldEntities lists the
// entities the device currently holds; pending changes touching them are
// rebased on the server's current version before resolution.
type ForceSyncRequest struct {
	DeviceID     string         `json:"device_id" validate:"required"`
	Changes      []ChangeRecord `json:"changes"`
	HeldEntities []EntityKey    `json:"held_entities"`
}

type OutcomeStatus string

const (
	OutcomeApplied  OutcomeStatus = "applied"
	OutcomeConflict OutcomeStatus = "conflict"
	OutcomeDeferred OutcomeStatus = "deferred"
	OutcomeRejected OutcomeStatus = "rejected"
)

type RecordOutcome struct {
	DeviceID        string          `json:"device_id"`
	LocalSequenceNo int64           `json:"local_sequence_no"`
	EntityType      EntityType      `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	Status          OutcomeStatus   `json:"status"`
	ServerVersion   int64           `json:"server_version"`
	ResolvedPayload json.RawMessage `json:"resolved_payload,omitempty"`
	ConflictID      string          `json:"conflict_id,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// DeltaItem is one entity state the client is missing.
type DeltaItem struct {
	EntityType         EntityType      `json:"entity_type"`
	EntityID           string          `json:"entity_id"`
	ServerVersion      int64           `json:"server_version"`
	Deleted            bool            `json:"deleted"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	LastWriterDeviceID string          `json:"last_writer_device_id"`
	LastAppliedAt      time.Time       `json:"last_applied_timestamp"`
}

func NewDeltaItem(r *EntityRecord) DeltaItem {
	return DeltaItem{
		EntityType:         r.EntityType,
		EntityID:           r.EntityID,
		ServerVersion:      r.ServerVersion,
		Deleted:            r.Deleted,
		Payload:            r.Payload,
		LastWriterDeviceID: r.LastWriterDeviceID,
		LastAppliedAt:      r.LastAppliedTimestamp,
	}
}

type SyncResponse struct {
	AppliedCount       int              `json:"applied_count"`
	Outcomes           []RecordOutcome  `json:"outcomes"`
	Conflicts          []ConflictRecord `json:"conflicts"`
	ServerDelta        []DeltaItem      `json:"server_delta"`
	NewSyncToken       string           `json:"new_sync_token,omitempty"`
	FullResyncRequired bool             `json:"full_resync_required"`
	SyncTimestamp      time.Time        `json:"sync_timestamp"`
}

type SyncStatus struct {
	DeviceID             string     `json:"device_id"`
	IsSynced             bool       `json:"is_synced"`
	PendingDeferredCount int        `json:"pending_deferred_count"`
	OpenConflicts        int        `json:"open_conflicts"`
	LastSuccessfulSyncAt *time.Time `json:"last_successful_sync_at"`
	NextSyncTime         *time.Time `json:"next_sync_time"`
}

// OfflineSnapshot is the full live state of a user, grouped by entity type.
type OfflineSnapshot struct {
	UserID      string                     `json:"user_id"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Entities    map[EntityType][]DeltaItem `json:"entities"`
}

// OfflineDataRequest uploads changes captured offline without running a
// sync round. They are staged and applied by the device's next sync.
type OfflineDataRequest struct {
	DeviceID string         `json:"device_id" validate:"required"`
	Changes  []ChangeRecord `json:"changes"`
}

type OfflineDataResponse struct {
	Staged   int             `json:"staged"`
	Outcomes []RecordOutcome `json:"outcomes"`
}
