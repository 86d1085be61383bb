package resolver

import (
	"encoding/json"
	"fmt"

	"edupulse-sync-server/internal/domain"
)

type Kind int

const (
	// AppendOnly entities are created once per entry and never edited.
	AppendOnly Kind = iota
	// Exclusive entities hold mutually exclusive field values; concurrent
	// edits are settled by last-writer-wins.
	Exclusive
	// Additive entities fold client deltas into a running state.
	Additive
)

func (k Kind) String() string {
	switch k {
	case AppendOnly:
		return "append_only"
	case Exclusive:
		return "exclusive"
	case Additive:
		return "additive"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Combinator folds a client delta into the current state. A nil state is
// the zero state.
type Combinator func(state, delta json.RawMessage) (json.RawMessage, error)

type Policy struct {
	Kind    Kind
	Combine Combinator
}

// PolicyFor returns the default policy of an entity type. Unknown types are
// rejected at validation, so reaching the error here is a programming error.
func PolicyFor(t domain.EntityType) (Policy, error) {
	switch t {
	case domain.EntityMood:
		return Policy{Kind: AppendOnly}, nil
	case domain.EntityQuizAnswer,
		domain.EntitySession,
		domain.EntityGoal,
		domain.EntityAchievement:
		return Policy{Kind: Exclusive}, nil
	case domain.EntityPoints:
		return Policy{Kind: Additive, Combine: combinePoints}, nil
	case domain.EntityProgress:
		return Policy{Kind: Additive, Combine: combineProgress}, nil
	}
	return Policy{}, fmt.Errorf("no policy for entity type %q", t)
}

func combinePoints(state, delta json.RawMessage) (json.RawMessage, error) {
	var s domain.PointsState
	if len(state) > 0 {
		if err := json.Unmarshal(state, &s); err != nil {
			return nil, fmt.Errorf("failed to decode points state: %w", err)
		}
	}
	var d domain.PointsPayload
	if err := json.Unmarshal(delta, &d); err != nil {
		return nil, fmt.Errorf("failed to decode points delta: %w", err)
	}
	if s.ByType == nil {
		s.ByType = make(map[string]int64)
	}
	s.Total += d.Delta
	s.ByType[d.PointsType] += d.Delta
	return json.Marshal(s)
}

func combineProgress(state, delta json.RawMessage) (json.RawMessage, error) {
	var s domain.ProgressPayload
	if len(state) > 0 {
		if err := json.Unmarshal(state, &s); err != nil {
			return nil, fmt.Errorf("failed to decode progress state: %w", err)
		}
	}
	var d domain.ProgressPayload
	if err := json.Unmarshal(delta, &d); err != nil {
		return nil, fmt.Errorf("failed to decode progress delta: %w", err)
	}
	s.QuizzesTaken += d.QuizzesTaken
	s.QuizzesPassed += d.QuizzesPassed
	s.TimeSpent += d.TimeSpent
	return json.Marshal(s)
}
