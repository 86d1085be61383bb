package service

import (
	"context"
	"errors"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/ledger"
	"edupulse-sync-server/internal/metrics"
	"edupulse-sync-server/internal/repository"
	"edupulse-sync-server/internal/resolver"
	"edupulse-sync-server/internal/validation"
	"edupulse-sync-server/internal/version"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type batchOptions struct {
	// rebase lists entities whose changes resolve against the current
	// server version instead of their own base_version.
	rebase map[domain.EntityKey]bool
	// override replaces the user's policy for every record when set.
	override domain.Strategy
}

type batchItem struct {
	index   int
	change  domain.ChangeRecord
	pending bool
}

// plan is the resolved, not yet committed effect of one record.
type plan struct {
	item     *batchItem
	prev     *domain.EntityRecord
	next     *domain.EntityRecord
	replayed *domain.EntityRecord
	decision resolver.Decision
	conflict *domain.ConflictRecord
	err      error
}

type entityGroup struct {
	key      domain.EntityKey
	items    []*batchItem
	unlock   func()
	attempts int
	busy     error
	plans    []*plan

	conflicts []domain.ConflictRecord
	written   []committedWrite
}

type committedWrite struct {
	change domain.ChangeRecord
	record *domain.EntityRecord
}

type batchResult struct {
	outcomes  []domain.RecordOutcome
	conflicts []domain.ConflictRecord
	written   []committedWrite
	// repeats maps a record to the earlier record of the batch carrying
	// the same idempotency key; it gets that record's outcome.
	repeats map[int]int
}

func (r *batchResult) applied() int {
	n := 0
	for _, o := range r.outcomes {
		if o.Status == domain.OutcomeApplied {
			n++
		}
	}
	return n
}

func (r *batchResult) counts() (applied, conflicts, deferred, rejected int) {
	for _, o := range r.outcomes {
		switch o.Status {
		case domain.OutcomeApplied:
			applied++
		case domain.OutcomeConflict:
			conflicts++
		case domain.OutcomeDeferred:
			deferred++
		case domain.OutcomeRejected:
			rejected++
		}
	}
	return applied, conflicts, deferred, rejected
}

func (r *batchResult) reject(i int, err error) {
	r.outcomes[i].Status = domain.OutcomeRejected
	r.outcomes[i].Error = errorMessage(err)
}

func errorMessage(err error) string {
	var se *domain.SyncError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return err.Error()
}

// applyBatch takes every change of the batch to a terminal outcome. Only
// storage failures and cancellation abort it; everything the ledger or the
// tracker recorded before that stays consistent for a retry.
func (s *SyncService) applyBatch(ctx context.Context, sess *session, userID, deviceID string, changes []domain.ChangeRecord, opts batchOptions) (*batchResult, error) {
	if err := sess.advance(ctx, eventDeduplicate); err != nil {
		return nil, err
	}

	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &batchResult{
		outcomes:  make([]domain.RecordOutcome, len(changes)),
		conflicts: []domain.ConflictRecord{},
		repeats:   make(map[int]int),
	}
	groups, err := s.deduplicate(ctx, userID, deviceID, changes, res)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, g := range groups {
			if g.unlock != nil {
				g.unlock()
			}
		}
	}()

	if err := sess.advance(ctx, eventResolve); err != nil {
		return nil, err
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.Workers)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			return s.resolveGroup(egCtx, g, settings, opts)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if err := sess.advance(ctx, eventCommit); err != nil {
		return nil, err
	}
	eg, egCtx = errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.Workers)
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			return s.commitGroup(egCtx, userID, g, res)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, g := range groups {
		res.conflicts = append(res.conflicts, g.conflicts...)
		res.written = append(res.written, g.written...)
	}
	for i, first := range res.repeats {
		res.outcomes[i] = res.outcomes[first]
	}
	for _, o := range res.outcomes {
		metrics.RecordOutcomes.WithLabelValues(string(o.EntityType), string(o.Status)).Inc()
	}
	return res, nil
}

// deduplicate rejects invalid records, answers replays from the ledger and
// groups the rest by entity, keeping batch order within each group. A key
// repeated inside the batch takes effect once: an identical copy shares the
// first record's outcome and a different record under it is rejected.
func (s *SyncService) deduplicate(ctx context.Context, userID, deviceID string, changes []domain.ChangeRecord, res *batchResult) ([]*entityGroup, error) {
	pending, err := s.queue.Pending(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	deferred := make(map[int64]bool, len(pending))
	for _, d := range pending {
		deferred[d.Change.LocalSequenceNo] = true
	}

	type firstSeen struct {
		index  int
		digest string
	}
	seen := make(map[string]firstSeen)

	// A parked change that can never apply leaves the queue with its rejection.
	drop := func(i int, c *domain.ChangeRecord, cause error) error {
		res.reject(i, cause)
		if deferred[c.LocalSequenceNo] {
			return s.queue.Clear(ctx, c)
		}
		return nil
	}

	now := s.now()
	var groups []*entityGroup
	byKey := make(map[domain.EntityKey]*entityGroup)

	for i := range changes {
		c := changes[i]
		if c.DeviceID == "" {
			c.DeviceID = deviceID
		}
		res.outcomes[i] = domain.RecordOutcome{
			DeviceID:        c.DeviceID,
			LocalSequenceNo: c.LocalSequenceNo,
			EntityType:      c.EntityType,
			EntityID:        c.EntityID,
		}

		if c.DeviceID != deviceID {
			res.reject(i, domain.ValidationError("change belongs to device %s, not %s", c.DeviceID, deviceID))
			continue
		}
		if err := s.validator.Change(&c, now); err != nil {
			if err := drop(i, &c, err); err != nil {
				return nil, err
			}
			continue
		}
		if err := s.checkQuiz(ctx, &c); err != nil {
			if err := drop(i, &c, err); err != nil {
				return nil, err
			}
			continue
		}

		digest, err := ledger.Digest(&c)
		if err != nil {
			if err := drop(i, &c, err); err != nil {
				return nil, err
			}
			continue
		}
		if earlier, ok := seen[c.IdempotencyKey()]; ok {
			if earlier.digest != digest {
				res.reject(i, domain.ValidationError(
					"local_sequence_no %d of device %s is used twice in this batch", c.LocalSequenceNo, c.DeviceID))
				continue
			}
			res.repeats[i] = earlier.index
			continue
		}
		seen[c.IdempotencyKey()] = firstSeen{index: i, digest: digest}

		first, prior, err := s.ledger.TryApply(ctx, &c)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				if err := drop(i, &c, err); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		if !first {
			metrics.LedgerReplays.Inc()
			res.outcomes[i] = ledger.Outcome(prior)
			if deferred[c.LocalSequenceNo] {
				if err := s.queue.Clear(ctx, &c); err != nil {
					return nil, err
				}
			}
			continue
		}

		key := c.Key(userID)
		g, ok := byKey[key]
		if !ok {
			g = &entityGroup{key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, &batchItem{index: i, change: c, pending: deferred[c.LocalSequenceNo]})
	}
	return groups, nil
}

// checkQuiz rejects answers to questions the catalog does not know. An
// unreachable catalog does not block answers recorded offline.
func (s *SyncService) checkQuiz(ctx context.Context, c *domain.ChangeRecord) error {
	quizID, questionID, ok := validation.QuizRef(c)
	if !ok {
		return nil
	}
	exists, err := s.collab.Quizzes.QuestionExists(ctx, quizID, questionID)
	if err != nil {
		metrics.CollaboratorErrors.WithLabelValues("quiz_catalog").Inc()
		s.log.Warnw("quiz catalog unavailable, accepting answer", "quiz_id", quizID, "question_id", questionID, "error", err)
		return nil
	}
	if !exists {
		return domain.ValidationError("question %s of quiz %s does not exist", questionID, quizID)
	}
	return nil
}

// resolveGroup locks the entity and plans every record of the group against
// the state the previous record leaves behind. The lock is held until the
// batch ends.
func (s *SyncService) resolveGroup(ctx context.Context, g *entityGroup, settings *domain.SyncSettings, opts batchOptions) error {
	unlock, attempts, err := s.queue.Acquire(ctx, func() (func(), error) {
		return s.tracker.Lock(g.key)
	})
	g.attempts = attempts
	if errors.Is(err, domain.ErrLockTimeout) {
		metrics.LockContention.Inc()
		g.busy = err
		return nil
	}
	if err != nil {
		return err
	}
	g.unlock = unlock

	prev, err := s.tracker.Current(ctx, g.key)
	if err != nil {
		return err
	}

	override := opts.override
	if override == "" {
		override = settings.Override(g.key.Type)
	}

	for _, it := range g.items {
		p := &plan{item: it, prev: prev}
		g.plans = append(g.plans, p)

		// committed earlier but never ledgered
		if prev.HasApplied(it.change.DeviceID, it.change.LocalSequenceNo) {
			p.replayed = prev
			continue
		}

		c := it.change
		if opts.rebase[g.key] && prev != nil {
			c.BaseVersion = prev.ServerVersion
		}
		d, err := resolver.Resolve(resolver.Input{Change: &c, Current: prev, Override: override})
		if err != nil {
			p.err = err
			continue
		}
		p.decision = d
		if d.Conflict {
			p.conflict = s.newConflict(g.key.UserID, &it.change, prev, d)
		}
		if d.Write {
			p.next = s.tracker.Prepare(prev, version.Mutation{
				Key:             g.key,
				WriterDeviceID:  c.DeviceID,
				WriterSeq:       c.LocalSequenceNo,
				ClientTimestamp: c.ClientTimestamp,
				Payload:         d.Payload,
				Deleted:         d.Deleted,
			})
			prev = p.next
		}
	}
	return nil
}

// conflictID derives the id from the change's idempotency key so a retried
// session writes the same record again instead of a second one.
func conflictID(c *domain.ChangeRecord) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("edupulse-sync:conflict:"+c.IdempotencyKey())).String()
}

func (s *SyncService) newConflict(userID string, c *domain.ChangeRecord, cur *domain.EntityRecord, d resolver.Decision) *domain.ConflictRecord {
	now := s.now().UTC()
	client := *c
	rec := &domain.ConflictRecord{
		ID:                    conflictID(c),
		UserID:                userID,
		DeviceID:              c.DeviceID,
		EntityType:            c.EntityType,
		EntityID:              c.EntityID,
		ServerVersionSnapshot: cur.Clone(),
		ClientVersionSnapshot: &client,
		Resolution:            d.Resolution,
		Reason:                d.Reason,
		CreatedAt:             now,
	}
	if d.Write {
		rec.ResolvedPayload = d.Payload
	} else if cur != nil {
		rec.ResolvedPayload = cur.Payload
	}
	// only a lost client change is left for the user to settle
	if d.Resolution != domain.ResolutionServerWins {
		rec.SettledAt = &now
	}
	return rec
}

func (p *plan) summary() domain.ResultSummary {
	c := p.item.change
	sum := domain.ResultSummary{
		Status:     domain.OutcomeApplied,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
	}
	switch {
	case p.replayed != nil:
		sum.ServerVersion = p.replayed.ServerVersion
		sum.ResolvedPayload = p.replayed.Payload
	case p.next != nil:
		sum.ServerVersion = p.next.ServerVersion
		sum.ResolvedPayload = p.next.Payload
	case p.prev != nil:
		sum.ServerVersion = p.prev.ServerVersion
		sum.ResolvedPayload = p.prev.Payload
	}
	if p.decision.Resolution == domain.ResolutionServerWins {
		sum.Status = domain.OutcomeConflict
	}
	if p.conflict != nil {
		sum.ConflictID = p.conflict.ID
	}
	return sum
}

// commitGroup writes the group's plans in order. Each record is committed
// and ledgered before the next one is touched.
func (s *SyncService) commitGroup(ctx context.Context, userID string, g *entityGroup, res *batchResult) error {
	if g.busy != nil {
		return s.deferItems(ctx, userID, g.items, g.attempts, g.busy, res)
	}

	for i, p := range g.plans {
		it := p.item
		if p.err != nil {
			res.reject(it.index, p.err)
			if it.pending {
				if err := s.queue.Clear(ctx, &it.change); err != nil {
					return err
				}
			}
			continue
		}

		if p.conflict != nil {
			err := s.store.Conflicts.Create(ctx, p.conflict)
			if err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
				return domain.StorageError("failed to store conflict record", err)
			}
		}
		if p.next != nil {
			if err := s.tracker.Commit(ctx, p.next); err != nil {
				if !errors.Is(err, domain.ErrVersionConflict) {
					return err
				}
				// another server instance advanced the entity under us
				rest := make([]*batchItem, 0, len(g.plans)-i)
				for _, q := range g.plans[i:] {
					rest = append(rest, q.item)
				}
				return s.deferItems(ctx, userID, rest, g.attempts, err, res)
			}
		}

		entry, err := s.ledger.Record(ctx, userID, &it.change, p.summary())
		if err != nil {
			return err
		}
		res.outcomes[it.index] = ledger.Outcome(entry)

		if p.conflict != nil {
			g.conflicts = append(g.conflicts, *p.conflict)
			metrics.ConflictsTotal.WithLabelValues(string(p.conflict.EntityType), string(p.conflict.Resolution)).Inc()
		}
		if p.next != nil {
			g.written = append(g.written, committedWrite{change: it.change, record: p.next})
		}
		if it.pending {
			if err := s.queue.Clear(ctx, &it.change); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SyncService) deferItems(ctx context.Context, userID string, items []*batchItem, attempts int, cause error, res *batchResult) error {
	for _, it := range items {
		if _, err := s.queue.Defer(ctx, userID, it.change, attempts, cause); err != nil {
			return err
		}
		res.outcomes[it.index].Status = domain.OutcomeDeferred
		res.outcomes[it.index].Error = errorMessage(cause)
	}
	s.log.Infow("changes deferred", "user_id", userID, "count", len(items), "cause", cause)
	return nil
}
