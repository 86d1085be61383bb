package websocket

import (
	"encoding/json"
	"time"

	"edupulse-sync-server/internal/domain"
)

type MessageType string

const (
	TypeSyncRequest     MessageType = "sync_request"
	TypeSyncResponse    MessageType = "sync_response"
	TypeEntitiesChanged MessageType = "entities_changed"
	TypeConflict        MessageType = "conflict"
	TypeError           MessageType = "error"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EntitiesChangedPayload tells a user's other devices that a sync session
// moved some of their entities; they pull the delta with their next sync.
type EntitiesChangedPayload struct {
	DeviceID string          `json:"device_id"`
	Entities []ChangedEntity `json:"entities"`
}

type ChangedEntity struct {
	EntityType    domain.EntityType `json:"entity_type"`
	EntityID      string            `json:"entity_id"`
	ServerVersion int64             `json:"server_version"`
	Deleted       bool              `json:"deleted,omitempty"`
}

// ConflictPayload is pushed when a session overwrote the value another
// device wrote; only LosingDeviceID needs to act on it.
type ConflictPayload struct {
	ConflictID     string            `json:"conflict_id"`
	EntityType     domain.EntityType `json:"entity_type"`
	EntityID       string            `json:"entity_id"`
	Resolution     domain.Resolution `json:"resolution"`
	LosingDeviceID string            `json:"losing_device_id"`
}

type ErrorPayload struct {
	Code    domain.ErrorCode `json:"code,omitempty"`
	Message string           `json:"message"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
