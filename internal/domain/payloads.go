package domain

import "time"

type MoodPayload struct {
	MoodLevel int    `json:"mood_level" validate:"required,min=1,max=5"`
	Notes     string `json:"notes" validate:"max=1000"`
}

type QuizAnswerPayload struct {
	QuizID          string   `json:"quiz_id" validate:"required"`
	QuestionID      string   `json:"question_id" validate:"required"`
	SelectedChoices []string `json:"selected_choices" validate:"required_without=TextAnswer"`
	TextAnswer      string   `json:"text_answer" validate:"required_without=SelectedChoices,max=5000"`
	IsCorrect       *bool    `json:"is_correct,omitempty"`
	TimeTaken       int      `json:"time_taken" validate:"gte=0"`
}

type SessionPayload struct {
	StartedAt       time.Time  `json:"started_at" validate:"required"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes" validate:"gte=0"`
	QuizzesTaken    int        `json:"quizzes_taken" validate:"gte=0"`
	PointsEarned    int        `json:"points_earned" validate:"gte=0"`
}

type GoalPayload struct {
	Date             string `json:"date" validate:"required,datetime=2006-01-02"`
	QuizzesTarget    int    `json:"quizzes_target" validate:"gte=0"`
	TimeTarget       int    `json:"time_target" validate:"gte=0"`
	QuizzesCompleted int    `json:"quizzes_completed" validate:"gte=0"`
	TimeSpent        int    `json:"time_spent" validate:"gte=0"`
}

type PointsPayload struct {
	PointsType  string `json:"points_type" validate:"required,oneof=quiz_completion streak_bonus perfect_score daily_login achievement"`
	Delta       int64  `json:"delta" validate:"required,ne=0"`
	Description string `json:"description" validate:"max=200"`
}

type ProgressPayload struct {
	QuizzesTaken  int64 `json:"quizzes_taken"`
	QuizzesPassed int64 `json:"quizzes_passed"`
	TimeSpent     int64 `json:"time_spent"`
}

func (p ProgressPayload) IsZero() bool {
	return p.QuizzesTaken == 0 && p.QuizzesPassed == 0 && p.TimeSpent == 0
}

type AchievementPayload struct {
	AchievementType string `json:"achievement_type" validate:"required,oneof=quiz_master streak_king speed_demon perfect_score early_bird night_owl"`
	Title           string `json:"title" validate:"required,max=100"`
	Description     string `json:"description" validate:"max=1000"`
	PointsReward    int64  `json:"points_reward" validate:"gte=0"`
}

// PointsState is the folded server-side value of a points entity.
type PointsState struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"by_type"`
}

// PointsDelta is forwarded to the gamification ledger after commit.
type PointsDelta struct {
	UserID     string     `json:"user_id"`
	DeviceID   string     `json:"device_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	PointsType string     `json:"points_type,omitempty"`
	Delta      int64      `json:"delta"`
	Reference  string     `json:"reference"`
}
