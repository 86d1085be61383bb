package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"edupulse-sync-server/internal/collaborator"
	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/ledger"
	"edupulse-sync-server/internal/queue"
	"edupulse-sync-server/internal/repository"
	"edupulse-sync-server/internal/validation"
	"edupulse-sync-server/internal/version"
	"edupulse-sync-server/internal/websocket"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testUser    = "user-1"
	phone       = "phone"
	laptop      = "laptop"
	tokenSecret = "test-sync-secret"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

type recordingGamification struct {
	mu     sync.Mutex
	deltas []domain.PointsDelta
}

func (g *recordingGamification) RecordDelta(_ context.Context, d domain.PointsDelta) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deltas = append(g.deltas, d)
	return nil
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []*websocket.Message
	excluded []string
}

func (b *recordingBroadcaster) BroadcastToUser(_ string, msg *websocket.Message, exclude string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	b.excluded = append(b.excluded, exclude)
	return nil
}

// conflictPushes decodes the conflict messages broadcast so far.
func (b *recordingBroadcaster) conflictPushes(t *testing.T) (payloads []websocket.ConflictPayload, excluded []string) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, msg := range b.messages {
		if msg.Type != websocket.TypeConflict {
			continue
		}
		var p websocket.ConflictPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		payloads = append(payloads, p)
		excluded = append(excluded, b.excluded[i])
	}
	return payloads, excluded
}

type testEnv struct {
	store        *repository.Store
	tracker      *version.Tracker
	sync         *SyncService
	conflicts    *ConflictService
	settings     *SettingsService
	devices      *DeviceService
	gamification *recordingGamification
	broadcaster  *recordingBroadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := repository.NewMemoryStore()
	validator := validation.New(24 * time.Hour)
	identity := collaborator.NewDeviceIdentity(store.Devices, time.Minute)

	env := &testEnv{
		store:        store,
		tracker:      version.NewTracker(store.Entities, 20*time.Millisecond),
		gamification: &recordingGamification{},
		broadcaster:  &recordingBroadcaster{},
	}
	env.settings = NewSettingsService(store.Settings, validator, 15*time.Minute)
	env.devices = NewDeviceService(store.Devices, identity, validator)
	env.sync = NewSyncService(
		store,
		env.tracker,
		ledger.New(store.Ledger),
		queue.New(store.Deferred, 2, time.Millisecond),
		validator,
		Collaborators{
			Identity:     identity,
			Quizzes:      collaborator.PermissiveQuizCatalog{},
			Gamification: env.gamification,
		},
		env.settings,
		env.broadcaster,
		SyncOptions{TokenTTL: time.Hour, TokenSecret: tokenSecret, Workers: 4},
		log,
	)
	env.conflicts = NewConflictService(store.Conflicts, env.sync, log)

	for _, id := range []string{phone, laptop} {
		_, err := env.devices.Register(context.Background(), testUser, &domain.RegisterDeviceRequest{
			ID: id, Name: id, Platform: "android", AppVersion: "1.0.0",
		})
		require.NoError(t, err)
	}
	return env
}

// sync runs one round and fails the test on a session error.
func (e *testEnv) syncRound(t *testing.T, device, token string, changes ...domain.ChangeRecord) *domain.SyncResponse {
	t.Helper()
	resp, err := e.sync.Sync(context.Background(), testUser, &domain.SyncRequest{
		DeviceID:  device,
		SyncToken: token,
		Changes:   changes,
	})
	require.NoError(t, err)
	return resp
}

func (e *testEnv) current(t *testing.T, typ domain.EntityType, id string) *domain.EntityRecord {
	t.Helper()
	rec, err := e.tracker.Current(context.Background(), domain.EntityKey{UserID: testUser, Type: typ, ID: id})
	require.NoError(t, err)
	return rec
}

func change(typ domain.EntityType, id string, op domain.Operation, device string, seq, base int64, ts time.Time, payload string) domain.ChangeRecord {
	c := domain.ChangeRecord{
		EntityType:      typ,
		EntityID:        id,
		Op:              op,
		ClientTimestamp: ts,
		DeviceID:        device,
		LocalSequenceNo: seq,
		BaseVersion:     base,
	}
	if payload != "" {
		c.Payload = json.RawMessage(payload)
	}
	return c
}

func goal(target int) string {
	b, _ := json.Marshal(domain.GoalPayload{Date: "2024-05-01", QuizzesTarget: target})
	return string(b)
}

func goalTarget(t *testing.T, rec *domain.EntityRecord) int {
	t.Helper()
	require.NotNil(t, rec)
	var p domain.GoalPayload
	require.NoError(t, json.Unmarshal(rec.Payload, &p))
	return p.QuizzesTarget
}
