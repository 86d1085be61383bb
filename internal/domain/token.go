package domain

import "time"

// SyncToken is the server-side view of the opaque cursor handed to a device.
type SyncToken struct {
	TokenID       string    `json:"token_id"`
	UserID        string    `json:"user_id"`
	DeviceID      string    `json:"device_id"`
	IssuedAt      time.Time `json:"issued_at"`
	HighWatermark time.Time `json:"high_watermark"`
}

// SyncState is persisted per (user, device) and records which token the
// device is expected to present next.
type SyncState struct {
	UserID               string    `json:"user_id"`
	DeviceID             string    `json:"device_id"`
	CurrentTokenID       string    `json:"current_token_id"`
	PreviousTokenID      string    `json:"previous_token_id,omitempty"`
	HighWatermark        time.Time `json:"high_watermark"`
	LastSuccessfulSyncAt time.Time `json:"last_successful_sync_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
