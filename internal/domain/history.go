package domain

import "time"

type SessionStatus string

const (
	SessionSucceeded  SessionStatus = "succeeded"
	SessionFullResync SessionStatus = "full_resync_required"
	SessionFailed     SessionStatus = "failed"
)

type SyncHistoryEntry struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	DeviceID   string        `json:"device_id"`
	Status     SessionStatus `json:"status"`
	Forced     bool          `json:"forced"`
	Applied    int           `json:"applied"`
	Conflicts  int           `json:"conflicts"`
	Deferred   int           `json:"deferred"`
	Rejected   int           `json:"rejected"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}
