package service

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Session phases. A session only ever moves forward; any phase may fail.
const (
	StateReceived           = "RECEIVED"
	StateTokenValidated     = "TOKEN_VALIDATED"
	StateFullResyncRequired = "FULL_RESYNC_REQUIRED"
	StateDeduplicating      = "DEDUPLICATING"
	StateResolving          = "RESOLVING"
	StateCommitting         = "COMMITTING"
	StateDeltaComputed      = "DELTA_COMPUTED"
	StateTokenRotated       = "TOKEN_ROTATED"
	StateFailed             = "FAILED"
)

const (
	eventValidateToken = "validate_token"
	eventRejectToken   = "reject_token"
	eventDeduplicate   = "deduplicate"
	eventResolve       = "resolve"
	eventCommit        = "commit"
	eventComputeDelta  = "compute_delta"
	eventRotateToken   = "rotate_token"
	eventFail          = "fail"
)

type session struct {
	fsm *fsm.FSM
}

func newSession(log *zap.SugaredLogger) *session {
	f := fsm.NewFSM(
		StateReceived,
		fsm.Events{
			{Name: eventValidateToken, Src: []string{StateReceived}, Dst: StateTokenValidated},
			{Name: eventRejectToken, Src: []string{StateReceived}, Dst: StateFullResyncRequired},
			{Name: eventDeduplicate, Src: []string{StateTokenValidated}, Dst: StateDeduplicating},
			{Name: eventResolve, Src: []string{StateDeduplicating}, Dst: StateResolving},
			{Name: eventCommit, Src: []string{StateResolving}, Dst: StateCommitting},
			{Name: eventComputeDelta, Src: []string{StateCommitting}, Dst: StateDeltaComputed},
			{Name: eventRotateToken, Src: []string{StateDeltaComputed}, Dst: StateTokenRotated},
			{Name: eventFail, Src: []string{
				StateReceived,
				StateTokenValidated,
				StateDeduplicating,
				StateResolving,
				StateCommitting,
				StateDeltaComputed,
			}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugw("sync session transition", "from", e.Src, "to", e.Dst)
			},
		},
	)
	return &session{fsm: f}
}

func (s *session) advance(ctx context.Context, event string) error {
	return s.fsm.Event(ctx, event)
}

// fail moves the session to FAILED unless it already reached a final state.
func (s *session) fail(ctx context.Context) {
	if s.fsm.Can(eventFail) {
		_ = s.fsm.Event(ctx, eventFail)
	}
}

func (s *session) state() string {
	return s.fsm.Current()
}
