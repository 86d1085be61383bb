package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSessionHappyPath(t *testing.T) {
	ctx := context.Background()
	s := newSession(zap.NewNop().Sugar())

	for _, ev := range []string{eventValidateToken, eventDeduplicate, eventResolve, eventCommit, eventComputeDelta, eventRotateToken} {
		require.NoError(t, s.advance(ctx, ev), ev)
	}
	assert.Equal(t, StateTokenRotated, s.state())

	s.fail(ctx)
	assert.Equal(t, StateTokenRotated, s.state(), "a finished session cannot fail")
}

func TestSessionCannotSkipPhases(t *testing.T) {
	ctx := context.Background()
	s := newSession(zap.NewNop().Sugar())

	require.NoError(t, s.advance(ctx, eventValidateToken))
	assert.Error(t, s.advance(ctx, eventRotateToken))
	assert.Equal(t, StateTokenValidated, s.state())

	s.fail(ctx)
	assert.Equal(t, StateFailed, s.state())
}

func TestSessionRejectedToken(t *testing.T) {
	ctx := context.Background()
	s := newSession(zap.NewNop().Sugar())

	require.NoError(t, s.advance(ctx, eventRejectToken))
	assert.Equal(t, StateFullResyncRequired, s.state())
	assert.Error(t, s.advance(ctx, eventDeduplicate))
}
