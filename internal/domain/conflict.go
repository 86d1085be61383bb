package domain

import (
	"encoding/json"
	"time"
)

type Resolution string

const (
	ResolutionServerWins Resolution = "server_wins"
	ResolutionClientWins Resolution = "client_wins"
	ResolutionMerged     Resolution = "merged"
)

// ConflictRecord is the audit entry written whenever a change lost (or had to
// be merged with) a concurrent server-side change. It is never mutated.
type ConflictRecord struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	DeviceID              string          `json:"device_id"`
	EntityType            EntityType      `json:"entity_type"`
	EntityID              string          `json:"entity_id"`
	ServerVersionSnapshot *EntityRecord   `json:"server_version_snapshot"`
	ClientVersionSnapshot *ChangeRecord   `json:"client_version_snapshot"`
	Resolution            Resolution      `json:"resolution"`
	ResolvedPayload       json.RawMessage `json:"resolved_payload,omitempty"`
	Reason                string          `json:"reason,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	// SettledAt is set once the owning client posted its own resolution.
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// SnapshotVersion is the server version the conflict was detected against.
func (c *ConflictRecord) SnapshotVersion() int64 {
	if c.ServerVersionSnapshot == nil {
		return 0
	}
	return c.ServerVersionSnapshot.ServerVersion
}

type ResolutionChoice string

const (
	ChoiceServer ResolutionChoice = "server"
	ChoiceClient ResolutionChoice = "client"
	ChoiceMerge  ResolutionChoice = "merge"
)

// ConflictResolutionRequest carries a client's decision for a previously
// reported conflict. The re-applied change uses DeviceID/LocalSequenceNo as
// its idempotency key.
type ConflictResolutionRequest struct {
	ConflictID      string           `json:"conflict_id" validate:"required"`
	Resolution      ResolutionChoice `json:"resolution" validate:"required,oneof=server client merge"`
	MergedPayload   json.RawMessage  `json:"merged_payload,omitempty" validate:"required_if=Resolution merge"`
	DeviceID        string           `json:"device_id" validate:"required"`
	LocalSequenceNo int64            `json:"local_sequence_no" validate:"gte=0"`
}

type ConflictResolutionResponse struct {
	ConflictID string         `json:"conflict_id"`
	Outcome    *RecordOutcome `json:"outcome,omitempty"`
	Current    *EntityRecord  `json:"current,omitempty"`
}
