package domain

import (
	"encoding/json"
	"time"
)

// LedgerEntry records the terminal outcome of one (device, sequence) pair.
// Entries are append-only.
type LedgerEntry struct {
	UserID          string        `json:"user_id"`
	DeviceID        string        `json:"device_id"`
	LocalSequenceNo int64         `json:"local_sequence_no"`
	PayloadDigest   string        `json:"payload_digest"`
	AppliedAt       time.Time     `json:"applied_at"`
	Result          ResultSummary `json:"result_summary"`
}

type ResultSummary struct {
	Status          OutcomeStatus   `json:"status"`
	EntityType      EntityType      `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	ServerVersion   int64           `json:"server_version"`
	ConflictID      string          `json:"conflict_id,omitempty"`
	ResolvedPayload json.RawMessage `json:"resolved_payload,omitempty"`
}
