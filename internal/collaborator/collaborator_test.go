package collaborator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIdentity(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.Devices.Create(ctx, &domain.Device{ID: "phone", UserID: "user-1"}))

	id := NewDeviceIdentity(store.Devices, time.Minute)

	ok, err := id.DeviceBelongsTo(ctx, "user-1", "phone")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = id.DeviceBelongsTo(ctx, "user-2", "phone")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = id.DeviceBelongsTo(ctx, "user-1", "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Devices.Revoke(ctx, "phone"))
	ok, _ = id.DeviceBelongsTo(ctx, "user-1", "phone")
	assert.True(t, ok, "cached until forgotten")

	id.Forget("phone")
	ok, err = id.DeviceBelongsTo(ctx, "user-1", "phone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPQuizCatalog(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch r.URL.Path {
		case "/quizzes/q1/questions/a":
			w.WriteHeader(http.StatusOK)
		case "/quizzes/q1/questions/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	catalog := NewHTTPQuizCatalog(srv.URL+"/", time.Second, time.Minute)
	ctx := context.Background()

	ok, err := catalog.QuestionExists(ctx, "q1", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = catalog.QuestionExists(ctx, "q1", "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second lookup served from cache")

	ok, err = catalog.QuestionExists(ctx, "q1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = catalog.QuestionExists(ctx, "q1", "broken")
	assert.Error(t, err)
}

func TestHTTPGamificationLedger(t *testing.T) {
	var got domain.PointsDelta
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/deltas", r.URL.Path)
		key = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ledger := NewHTTPGamificationLedger(srv.URL, time.Second)
	delta := domain.PointsDelta{UserID: "user-1", PointsType: "daily_login", Delta: 5, Reference: "phone:3"}

	require.NoError(t, ledger.RecordDelta(context.Background(), delta))
	assert.Equal(t, delta, got)
	assert.Equal(t, "phone:3", key)
}

func TestHTTPGamificationLedgerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ledger := NewHTTPGamificationLedger(srv.URL, time.Second)
	assert.Error(t, ledger.RecordDelta(context.Background(), domain.PointsDelta{Reference: "x"}))
}
