package domain

import "time"

// DeferredRecord is a change that could not take its entity lock within the
// session and must be resubmitted by the client.
type DeferredRecord struct {
	UserID     string       `json:"user_id"`
	DeviceID   string       `json:"device_id"`
	Change     ChangeRecord `json:"change"`
	Attempts   int          `json:"attempts"`
	LastError  string       `json:"last_error"`
	DeferredAt time.Time    `json:"deferred_at"`
}
