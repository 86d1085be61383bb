// Package validation checks a ChangeRecord against the schema of its entity
// type before anything else looks at it. It has no side effects.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"edupulse-sync-server/internal/domain"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate  *validator.Validate
	clockSkew time.Duration
}

func New(clockSkew time.Duration) *Validator {
	return &Validator{
		validate:  validator.New(),
		clockSkew: clockSkew,
	}
}

// Struct exposes the underlying validator for request bodies.
func (v *Validator) Struct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return domain.ValidationError("%s", describe(err))
	}
	return nil
}

// Change validates c as received at now.
func (v *Validator) Change(c *domain.ChangeRecord, now time.Time) error {
	if !c.EntityType.Valid() {
		return domain.ValidationError("unknown entity_type %q", c.EntityType)
	}
	if err := v.validate.Struct(c); err != nil {
		return domain.ValidationError("%s", describe(err))
	}
	if c.ClientTimestamp.After(now.Add(v.clockSkew)) {
		return domain.ValidationError("client_timestamp %s is more than %s ahead of server time",
			c.ClientTimestamp.UTC().Format(time.RFC3339), v.clockSkew)
	}

	if c.EntityType == domain.EntityMood && c.Op != domain.OpCreate {
		return domain.ValidationError("mood entries are append-only; %s is not allowed", c.Op)
	}
	if c.Op == domain.OpDelete {
		return nil
	}
	return v.payload(c)
}

func (v *Validator) payload(c *domain.ChangeRecord) error {
	if len(bytes.TrimSpace(c.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(c.Payload), []byte("null")) {
		return domain.ValidationError("payload is required for %s", c.Op)
	}

	var target interface{}
	switch c.EntityType {
	case domain.EntityMood:
		target = &domain.MoodPayload{}
	case domain.EntityQuizAnswer:
		target = &domain.QuizAnswerPayload{}
	case domain.EntitySession:
		target = &domain.SessionPayload{}
	case domain.EntityGoal:
		target = &domain.GoalPayload{}
	case domain.EntityPoints:
		target = &domain.PointsPayload{}
	case domain.EntityProgress:
		target = &domain.ProgressPayload{}
	case domain.EntityAchievement:
		target = &domain.AchievementPayload{}
	default:
		return domain.ValidationError("unknown entity_type %q", c.EntityType)
	}

	if err := json.Unmarshal(c.Payload, target); err != nil {
		return domain.ValidationError("payload does not match %s schema: %v", c.EntityType, err)
	}
	if err := v.validate.Struct(target); err != nil {
		return domain.ValidationError("invalid %s payload: %s", c.EntityType, describe(err))
	}

	switch p := target.(type) {
	case *domain.SessionPayload:
		if p.EndedAt != nil && p.EndedAt.Before(p.StartedAt) {
			return domain.ValidationError("invalid session payload: ended_at precedes started_at")
		}
	case *domain.ProgressPayload:
		if p.IsZero() {
			return domain.ValidationError("invalid progress payload: at least one counter must be non-zero")
		}
	}
	return nil
}

// QuizRef returns the quiz and question a quiz_answer change refers to.
func QuizRef(c *domain.ChangeRecord) (quizID, questionID string, ok bool) {
	if c.EntityType != domain.EntityQuizAnswer || c.Op == domain.OpDelete {
		return "", "", false
	}
	var p domain.QuizAnswerPayload
	if err := json.Unmarshal(c.Payload, &p); err != nil {
		return "", "", false
	}
	return p.QuizID, p.QuestionID, true
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
