package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EntityType string

const (
	EntityMood        EntityType = "mood"
	EntityQuizAnswer  EntityType = "quiz_answer"
	EntitySession     EntityType = "session"
	EntityGoal        EntityType = "goal"
	EntityPoints      EntityType = "points"
	EntityProgress    EntityType = "progress"
	EntityAchievement EntityType = "achievement"
)

// EntityTypes lists every entity type the server accepts.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityMood,
		EntityQuizAnswer,
		EntitySession,
		EntityGoal,
		EntityPoints,
		EntityProgress,
		EntityAchievement,
	}
}

func (t EntityType) Valid() bool {
	for _, known := range EntityTypes() {
		if t == known {
			return true
		}
	}
	return false
}

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeRecord is one client-side mutation captured while offline.
// It is identified by (DeviceID, LocalSequenceNo) for deduplication.
type ChangeRecord struct {
	EntityType      EntityType      `json:"entity_type" validate:"required"`
	EntityID        string          `json:"entity_id" validate:"required,max=128"`
	Op              Operation       `json:"op" validate:"required,oneof=create update delete"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientTimestamp time.Time       `json:"client_timestamp" validate:"required"`
	DeviceID        string          `json:"device_id" validate:"required"`
	LocalSequenceNo int64           `json:"local_sequence_no" validate:"gte=0"`
	BaseVersion     int64           `json:"base_version" validate:"gte=0"`
}

func (c *ChangeRecord) Key(userID string) EntityKey {
	return EntityKey{UserID: userID, Type: c.EntityType, ID: c.EntityID}
}

func (c *ChangeRecord) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", c.DeviceID, c.LocalSequenceNo)
}

// EntityKey addresses one tracked entity. Entities are scoped per user so
// that client-generated ids cannot collide across accounts.
type EntityKey struct {
	UserID string     `json:"user_id"`
	Type   EntityType `json:"entity_type"`
	ID     string     `json:"entity_id"`
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.UserID, k.Type, k.ID)
}
