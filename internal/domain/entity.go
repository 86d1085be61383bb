package domain

import (
	"encoding/json"
	"time"
)

// EntityVersion is the server's version bookkeeping for one entity.
type EntityVersion struct {
	UserID               string     `json:"user_id"`
	EntityType           EntityType `json:"entity_type"`
	EntityID             string     `json:"entity_id"`
	ServerVersion        int64      `json:"server_version"`
	LastWriterDeviceID   string     `json:"last_writer_device_id"`
	LastAppliedTimestamp time.Time  `json:"last_applied_timestamp"`
	LastClientTimestamp  time.Time  `json:"last_client_timestamp"`
	Deleted              bool       `json:"deleted"`
}

func (v *EntityVersion) Key() EntityKey {
	return EntityKey{UserID: v.UserID, Type: v.EntityType, ID: v.EntityID}
}

// EntityRecord is the committed state of an entity: its version together with
// the payload the domain store holds for it. Both are written in one document
// so a reader never observes a version without its payload.
type EntityRecord struct {
	EntityVersion
	Payload json.RawMessage `json:"payload,omitempty"`
	// AppliedSeq holds, per device, the local_sequence_no of the most recent
	// change from that device committed to this entity. It lets a retry detect
	// a commit whose ledger entry was never written.
	AppliedSeq map[string]int64 `json:"applied_seq,omitempty"`
}

func (r *EntityRecord) Clone() *EntityRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	c.AppliedSeq = make(map[string]int64, len(r.AppliedSeq))
	for k, v := range r.AppliedSeq {
		c.AppliedSeq[k] = v
	}
	return &c
}

func (r *EntityRecord) HasApplied(deviceID string, seq int64) bool {
	if r == nil || r.AppliedSeq == nil {
		return false
	}
	applied, ok := r.AppliedSeq[deviceID]
	return ok && applied == seq
}
