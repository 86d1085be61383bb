package resolver

import (
	"encoding/json"
	"testing"
	"time"

	"edupulse-sync-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func change(typ domain.EntityType, op domain.Operation, base int64, device string, ts time.Time, payload string) *domain.ChangeRecord {
	c := &domain.ChangeRecord{
		EntityType:      typ,
		EntityID:        "e-1",
		Op:              op,
		ClientTimestamp: ts,
		DeviceID:        device,
		BaseVersion:     base,
	}
	if payload != "" {
		c.Payload = json.RawMessage(payload)
	}
	return c
}

func current(typ domain.EntityType, version int64, device string, ts time.Time, payload string) *domain.EntityRecord {
	r := &domain.EntityRecord{
		EntityVersion: domain.EntityVersion{
			EntityType:          typ,
			EntityID:            "e-1",
			ServerVersion:       version,
			LastWriterDeviceID:  device,
			LastClientTimestamp: ts,
		},
	}
	if payload != "" {
		r.Payload = json.RawMessage(payload)
	}
	return r
}

func tombstone(typ domain.EntityType, version int64) *domain.EntityRecord {
	r := current(typ, version, "other", at(0), "")
	r.Deleted = true
	return r
}

func TestResolve(t *testing.T) {
	goal := `{"date":"2024-05-01","quizzes_target":50}`

	tests := []struct {
		name       string
		in         Input
		resolution domain.Resolution
		write      bool
		deleted    bool
		conflict   bool
		reason     string
	}{
		{
			name:       "new entity",
			in:         Input{Change: change(domain.EntityGoal, domain.OpCreate, 0, "A", at(1), goal)},
			resolution: domain.ResolutionClientWins,
			write:      true,
			reason:     ReasonNewEntity,
		},
		{
			name: "base equals current",
			in: Input{
				Change:  change(domain.EntityGoal, domain.OpUpdate, 3, "A", at(1), goal),
				Current: current(domain.EntityGoal, 3, "B", at(5), goal),
			},
			resolution: domain.ResolutionClientWins,
			write:      true,
			reason:     ReasonFastForward,
		},
		{
			name: "create on both sides",
			in: Input{
				Change:  change(domain.EntityGoal, domain.OpCreate, 0, "A", at(9), goal),
				Current: current(domain.EntityGoal, 1, "B", at(1), goal),
			},
			resolution: domain.ResolutionServerWins,
			conflict:   true,
			reason:     ReasonCreateExists,
		},
		{
			name: "exclusive update later client timestamp wins",
			in: Input{
				Change:  change(domain.EntityGoal, domain.OpUpdate, 3, "B", at(12), goal),
				Current: current(domain.EntityGoal, 4, "A", at(10), goal),
			},
			resolution: domain.ResolutionClientWins,
			write:      true,
			conflict:   true,
			reason:     ReasonLWWClient,
		},
		{
			name: "exclusive update earlier client timestamp loses",
			in: Input{
				Change:  change(domain.EntityGoal, domain.OpUpdate, 3, "A", at(10), goal),
				Current: current(domain.EntityGoal, 4, "B", at(12), goal),
			},
			resolution: domain.ResolutionServerWins,
			conflict:   true,
			reason:     ReasonLWWServer,
		},
		{
			name: "timestamp tie goes to greater device id",
			in: Input{
				Change:  change(domain.EntityGoal, domain.OpUpdate, 3, "device-b", at(10), goal),
				Current: current(domain.EntityGoal, 4, "device-a", at(10), goal),
			},
			resolution: domain.ResolutionClientWins,
			write:      true,
			conflict:   true,
			reason:     ReasonLWWClient,
		},
		{
			name: "timestamp tie lost by smaller device id",
			in: Input{
				Change:  change(domain.EntityGoal, domain.OpUpdate, 3, "device-a", at(10), goal),
				Current: current(domain.EntityGoal, 4, "device-b", at(10), goal),
			},
			resolution: domain.ResolutionServerWins,
			conflict:   true,
			reason:     ReasonLWWServer,
		},
		{
			name: "delete based on current wins",
			in: Input{
				Change:  change(domain.EntityGoal, domain.OpDelete, 4, "A", at(1), ""),
				Current: current(domain.EntityGoal, 4, "B", at(5), goal),
			},
			resolution: domain.ResolutionClientWins,
			write:      true,
			deleted:    true,
			reason:     ReasonDeleteWins,
		},
		{
			name: "delete older than concurrent update is dropped",
			in: Input{
				Change:  change(domain.EntityGoal, domain.OpDelete, 3, "A", at(20), ""),
				Current: current(domain.EntityGoal, 4, "B", at(5), goal),
			},
			resolution: domain.ResolutionServerWins,
			conflict:   true,
			reason:     ReasonDeleteLoses,
		},
		{
			name:       "delete of unknown entity",
			in:         Input{Change: change(domain.EntityGoal, domain.OpDelete, 0, "A", at(1), "")},
			resolution: domain.ResolutionClientWins,
			reason:     ReasonAlreadyDeleted,
		},
		{
			name: "delete of deleted entity",
			in: Input{
				Change:  change(domain.EntitySession, domain.OpDelete, 2, "A", at(1), ""),
				Current: tombstone(domain.EntitySession, 5),
			},
			resolution: domain.ResolutionClientWins,
			reason:     ReasonAlreadyDeleted,
		},
		{
			name: "update concurrent with delete resurrects",
			in: Input{
				Change:  change(domain.EntityGoal, domain.OpUpdate, 3, "A", at(1), goal),
				Current: tombstone(domain.EntityGoal, 4),
			},
			resolution: domain.ResolutionClientWins,
			write:      true,
			conflict:   true,
			reason:     ReasonResurrect,
		},
		{
			name: "update older than delete loses",
			in: Input{
				Change:  change(domain.EntityGoal, domain.OpUpdate, 2, "A", at(1), goal),
				Current: tombstone(domain.EntityGoal, 4),
			},
			resolution: domain.ResolutionServerWins,
			conflict:   true,
			reason:     ReasonDeleteWins,
		},
		{
			name: "override client wins",
			in: Input{
				Change:   change(domain.EntityGoal, domain.OpUpdate, 3, "A", at(1), goal),
				Current:  current(domain.EntityGoal, 4, "B", at(12), goal),
				Override: domain.StrategyClientWins,
			},
			resolution: domain.ResolutionClientWins,
			write:      true,
			conflict:   true,
			reason:     ReasonOverrideClient,
		},
		{
			name: "override server wins",
			in: Input{
				Change:   change(domain.EntityGoal, domain.OpUpdate, 3, "B", at(20), goal),
				Current:  current(domain.EntityGoal, 4, "A", at(12), goal),
				Override: domain.StrategyServerWins,
			},
			resolution: domain.ResolutionServerWins,
			conflict:   true,
			reason:     ReasonOverrideServer,
		},
		{
			name: "override lww applies to creates",
			in: Input{
				Change:   change(domain.EntityAchievement, domain.OpCreate, 0, "B", at(20), `{"achievement_type":"early_bird","title":"x"}`),
				Current:  current(domain.EntityAchievement, 1, "A", at(12), `{"achievement_type":"early_bird","title":"y"}`),
				Override: domain.StrategyLWW,
			},
			resolution: domain.ResolutionClientWins,
			write:      true,
			conflict:   true,
			reason:     ReasonLWWClient,
		},
		{
			name: "second mood create with same id",
			in: Input{
				Change:  change(domain.EntityMood, domain.OpCreate, 0, "A", at(1), `{"mood_level":3}`),
				Current: current(domain.EntityMood, 1, "B", at(1), `{"mood_level":4}`),
			},
			resolution: domain.ResolutionServerWins,
			conflict:   true,
			reason:     ReasonCreateExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Resolve(tt.in)
			require.NoError(t, err)

			assert.Equal(t, tt.resolution, d.Resolution)
			assert.Equal(t, tt.write, d.Write)
			assert.Equal(t, tt.deleted, d.Deleted)
			assert.Equal(t, tt.conflict, d.Conflict)
			assert.Equal(t, tt.reason, d.Reason)
			if d.Write && !d.Deleted {
				assert.JSONEq(t, string(tt.in.Change.Payload), string(d.Payload))
			}
		})
	}
}

func TestResolveAdditive(t *testing.T) {
	delta := func(n int) string {
		return `{"points_type":"quiz_completion","delta":` + string(rune('0'+n)) + `}`
	}

	t.Run("fast forward folds into state", func(t *testing.T) {
		d, err := Resolve(Input{
			Change:  change(domain.EntityPoints, domain.OpUpdate, 2, "A", at(1), delta(5)),
			Current: current(domain.EntityPoints, 2, "A", at(0), `{"total":10,"by_type":{"quiz_completion":10}}`),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ResolutionClientWins, d.Resolution)
		assert.False(t, d.Conflict)
		assert.JSONEq(t, `{"total":15,"by_type":{"quiz_completion":15}}`, string(d.Payload))
	})

	t.Run("concurrent deltas merge", func(t *testing.T) {
		d, err := Resolve(Input{
			Change:   change(domain.EntityPoints, domain.OpUpdate, 1, "A", at(1), `{"points_type":"streak_bonus","delta":3}`),
			Current:  current(domain.EntityPoints, 2, "B", at(5), `{"total":10,"by_type":{"quiz_completion":10}}`),
			Override: domain.StrategyServerWins,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ResolutionMerged, d.Resolution)
		assert.True(t, d.Write)
		assert.True(t, d.Conflict)
		assert.JSONEq(t, `{"total":13,"by_type":{"quiz_completion":10,"streak_bonus":3}}`, string(d.Payload))
	})

	t.Run("create on both sides merges", func(t *testing.T) {
		d, err := Resolve(Input{
			Change:  change(domain.EntityProgress, domain.OpCreate, 0, "A", at(1), `{"quizzes_taken":1,"time_spent":30}`),
			Current: current(domain.EntityProgress, 1, "B", at(1), `{"quizzes_taken":2,"quizzes_passed":1,"time_spent":10}`),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ResolutionMerged, d.Resolution)
		assert.JSONEq(t, `{"quizzes_taken":3,"quizzes_passed":1,"time_spent":40}`, string(d.Payload))
	})

	t.Run("new entity starts from zero", func(t *testing.T) {
		d, err := Resolve(Input{
			Change: change(domain.EntityPoints, domain.OpCreate, 0, "A", at(1), delta(7)),
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"total":7,"by_type":{"quiz_completion":7}}`, string(d.Payload))
	})
}

func TestResolveRejectsBaseAheadOfServer(t *testing.T) {
	_, err := Resolve(Input{
		Change:  change(domain.EntityGoal, domain.OpUpdate, 9, "A", at(1), `{}`),
		Current: current(domain.EntityGoal, 4, "B", at(1), `{}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	cur := current(domain.EntityPoints, 2, "B", at(5), `{"total":10,"by_type":{"quiz_completion":10}}`)
	before := cur.Clone()

	_, err := Resolve(Input{
		Change:  change(domain.EntityPoints, domain.OpUpdate, 1, "A", at(1), `{"points_type":"quiz_completion","delta":4}`),
		Current: cur,
	})
	require.NoError(t, err)
	assert.Equal(t, before.Payload, cur.Payload)
	assert.Equal(t, before.ServerVersion, cur.ServerVersion)
}

func TestPolicyForCoversEveryEntityType(t *testing.T) {
	for _, typ := range domain.EntityTypes() {
		p, err := PolicyFor(typ)
		require.NoError(t, err, typ)
		if p.Kind == Additive {
			assert.NotNil(t, p.Combine, typ)
		}
	}
	_, err := PolicyFor("badge")
	assert.Error(t, err)
}
