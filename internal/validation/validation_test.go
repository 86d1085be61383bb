package validation

import (
	"encoding/json"
	"testing"
	"time"

	"edupulse-sync-server/internal/domain"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rec(typ domain.EntityType, op domain.Operation, payload string) *domain.ChangeRecord {
	c := &domain.ChangeRecord{
		EntityType:      typ,
		EntityID:        "e-1",
		Op:              op,
		ClientTimestamp: now.Add(-time.Hour),
		DeviceID:        "phone",
		LocalSequenceNo: 1,
	}
	if payload != "" {
		c.Payload = json.RawMessage(payload)
	}
	return c
}

func TestValidator_Change(t *testing.T) {
	v := New(24 * time.Hour)

	future := rec(domain.EntityMood, domain.OpCreate, `{"mood_level":3}`)
	future.ClientTimestamp = now.Add(25 * time.Hour)

	withinSkew := rec(domain.EntityMood, domain.OpCreate, `{"mood_level":3}`)
	withinSkew.ClientTimestamp = now.Add(23 * time.Hour)

	noDevice := rec(domain.EntityMood, domain.OpCreate, `{"mood_level":3}`)
	noDevice.DeviceID = ""

	tests := []struct {
		name    string
		change  *domain.ChangeRecord
		wantErr bool
	}{
		{name: "valid mood", change: rec(domain.EntityMood, domain.OpCreate, `{"mood_level":3,"notes":"ok"}`)},
		{name: "mood level out of range", change: rec(domain.EntityMood, domain.OpCreate, `{"mood_level":6}`), wantErr: true},
		{name: "mood update rejected", change: rec(domain.EntityMood, domain.OpUpdate, `{"mood_level":3}`), wantErr: true},
		{name: "mood delete rejected", change: rec(domain.EntityMood, domain.OpDelete, ""), wantErr: true},
		{name: "unknown entity type", change: rec("badge", domain.OpCreate, `{}`), wantErr: true},
		{name: "unknown op", change: rec(domain.EntityGoal, "upsert", `{"date":"2024-05-01"}`), wantErr: true},
		{name: "timestamp beyond skew", change: future, wantErr: true},
		{name: "timestamp within skew", change: withinSkew},
		{name: "missing device", change: noDevice, wantErr: true},
		{name: "missing payload", change: rec(domain.EntityGoal, domain.OpUpdate, ""), wantErr: true},
		{name: "null payload", change: rec(domain.EntityGoal, domain.OpUpdate, "null"), wantErr: true},
		{name: "delete needs no payload", change: rec(domain.EntityGoal, domain.OpDelete, "")},
		{name: "valid goal", change: rec(domain.EntityGoal, domain.OpUpdate, `{"date":"2024-05-01","quizzes_target":3}`)},
		{name: "goal bad date", change: rec(domain.EntityGoal, domain.OpUpdate, `{"date":"May 1st"}`), wantErr: true},
		{name: "goal negative target", change: rec(domain.EntityGoal, domain.OpUpdate, `{"date":"2024-05-01","quizzes_target":-1}`), wantErr: true},
		{name: "valid points", change: rec(domain.EntityPoints, domain.OpUpdate, `{"points_type":"streak_bonus","delta":-5}`)},
		{name: "points zero delta", change: rec(domain.EntityPoints, domain.OpUpdate, `{"points_type":"streak_bonus","delta":0}`), wantErr: true},
		{name: "points unknown type", change: rec(domain.EntityPoints, domain.OpUpdate, `{"points_type":"bribe","delta":5}`), wantErr: true},
		{name: "progress all zero", change: rec(domain.EntityProgress, domain.OpUpdate, `{"quizzes_taken":0}`), wantErr: true},
		{name: "valid progress", change: rec(domain.EntityProgress, domain.OpUpdate, `{"time_spent":12}`)},
		{name: "session ends before start", change: rec(domain.EntitySession, domain.OpCreate, `{"started_at":"2024-05-01T10:00:00Z","ended_at":"2024-05-01T09:00:00Z"}`), wantErr: true},
		{name: "valid session", change: rec(domain.EntitySession, domain.OpCreate, `{"started_at":"2024-05-01T10:00:00Z","ended_at":"2024-05-01T10:30:00Z","duration_minutes":30}`)},
		{name: "quiz answer needs an answer", change: rec(domain.EntityQuizAnswer, domain.OpCreate, `{"quiz_id":"q","question_id":"a"}`), wantErr: true},
		{name: "valid quiz answer", change: rec(domain.EntityQuizAnswer, domain.OpCreate, `{"quiz_id":"q","question_id":"a","selected_choices":["c1"]}`)},
		{name: "achievement unknown type", change: rec(domain.EntityAchievement, domain.OpCreate, `{"achievement_type":"couch_potato","title":"x"}`), wantErr: true},
		{name: "valid achievement", change: rec(domain.EntityAchievement, domain.OpCreate, `{"achievement_type":"night_owl","title":"Night Owl","points_reward":20}`)},
		{name: "payload of wrong shape", change: rec(domain.EntityGoal, domain.OpUpdate, `[1,2]`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Change(tt.change, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestQuizRef(t *testing.T) {
	quiz, question, ok := QuizRef(rec(domain.EntityQuizAnswer, domain.OpCreate, `{"quiz_id":"q","question_id":"a","text_answer":"x"}`))
	assert.True(t, ok)
	assert.Equal(t, "q", quiz)
	assert.Equal(t, "a", question)

	_, _, ok = QuizRef(rec(domain.EntityQuizAnswer, domain.OpDelete, ""))
	assert.False(t, ok)

	_, _, ok = QuizRef(rec(domain.EntityGoal, domain.OpUpdate, `{}`))
	assert.False(t, ok)
}
