package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func moodChange(payload string) *domain.ChangeRecord {
	return &domain.ChangeRecord{
		EntityType:      domain.EntityMood,
		EntityID:        "mood-1",
		Op:              domain.OpCreate,
		Payload:         json.RawMessage(payload),
		ClientTimestamp: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		DeviceID:        "phone",
		LocalSequenceNo: 42,
	}
}

func TestLedger_FirstTimeThenReplay(t *testing.T) {
	ctx := context.Background()
	l := New(repository.NewMemoryStore().Ledger)
	c := moodChange(`{"mood_level":4}`)

	first, prior, err := l.TryApply(ctx, c)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Nil(t, prior)

	summary := domain.ResultSummary{Status: domain.OutcomeApplied, EntityType: c.EntityType, EntityID: c.EntityID, ServerVersion: 1}
	_, err = l.Record(ctx, "user-1", c, summary)
	require.NoError(t, err)

	// same record with reordered keys is still a replay
	replay := moodChange(`{ "mood_level": 4 }`)
	first, prior, err = l.TryApply(ctx, replay)
	require.NoError(t, err)
	assert.False(t, first)
	require.NotNil(t, prior)
	assert.Equal(t, summary, prior.Result)

	out := Outcome(prior)
	assert.Equal(t, domain.OutcomeApplied, out.Status)
	assert.Equal(t, int64(42), out.LocalSequenceNo)
}

func TestLedger_ReusedKeyWithDifferentPayload(t *testing.T) {
	ctx := context.Background()
	l := New(repository.NewMemoryStore().Ledger)

	_, err := l.Record(ctx, "user-1", moodChange(`{"mood_level":4}`), domain.ResultSummary{Status: domain.OutcomeApplied})
	require.NoError(t, err)

	_, _, err = l.TryApply(ctx, moodChange(`{"mood_level":2}`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedger_RecordKeepsFirstEntry(t *testing.T) {
	ctx := context.Background()
	l := New(repository.NewMemoryStore().Ledger)
	c := moodChange(`{"mood_level":4}`)

	first, err := l.Record(ctx, "user-1", c, domain.ResultSummary{Status: domain.OutcomeApplied, ServerVersion: 1})
	require.NoError(t, err)
	second, err := l.Record(ctx, "user-1", c, domain.ResultSummary{Status: domain.OutcomeConflict, ServerVersion: 7})
	require.NoError(t, err)

	assert.Equal(t, first.Result, second.Result)
}

func TestDigestIgnoresTimezone(t *testing.T) {
	a := moodChange(`{"mood_level":4}`)
	b := moodChange(`{"mood_level":4}`)
	b.ClientTimestamp = a.ClientTimestamp.In(time.FixedZone("UTC+2", 2*3600))

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)

	b.BaseVersion = 1
	db, err = Digest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}
