// Package resolver decides how an incoming change relates to the committed
// state of its entity. It is pure: it reads its input and returns a
// Decision, and the caller performs any write.
package resolver

import (
	"encoding/json"

	"edupulse-sync-server/internal/domain"
)

type Input struct {
	Change *domain.ChangeRecord
	// Current is the committed record, nil when the entity was never written.
	Current *domain.EntityRecord
	// Override is the user's strategy for the change's entity type.
	Override domain.Strategy
}

type Decision struct {
	Resolution domain.Resolution
	// Write reports whether the entity advances to a new version.
	Write bool
	// Payload and Deleted describe the state written when Write is set.
	Payload json.RawMessage
	Deleted bool
	// Conflict reports that a ConflictRecord must be persisted: the losing
	// side of the decision was a real concurrent value.
	Conflict bool
	Reason   string
}

const (
	ReasonFastForward    = "base version is current"
	ReasonNewEntity      = "entity not yet tracked"
	ReasonAlreadyDeleted = "entity already deleted"
	ReasonCreateExists   = "entity created concurrently on server"
	ReasonMerged         = "concurrent deltas merged"
	ReasonLWWClient      = "client change is the last writer"
	ReasonLWWServer      = "server change is the last writer"
	ReasonDeleteWins     = "delete is not older than the concurrent update"
	ReasonDeleteLoses    = "delete dropped in favour of a concurrent update"
	ReasonResurrect      = "update supersedes a concurrent delete"
	ReasonOverrideClient = "user policy: client wins"
	ReasonOverrideServer = "user policy: server wins"
)

// Resolve applies the policy table to in. The returned error is a
// validation error when the change cannot be reconciled at all.
func Resolve(in Input) (Decision, error) {
	c := in.Change
	cur := in.Current

	policy, err := PolicyFor(c.EntityType)
	if err != nil {
		return Decision{}, domain.ValidationError("%v", err)
	}

	if cur != nil && c.BaseVersion > cur.ServerVersion {
		return Decision{}, domain.ValidationError(
			"base_version %d is ahead of server version %d", c.BaseVersion, cur.ServerVersion)
	}

	if c.Op == domain.OpDelete {
		return resolveDelete(c, cur), nil
	}

	if cur == nil {
		return write(policy, c, nil, domain.ResolutionClientWins, false, ReasonNewEntity)
	}

	if c.BaseVersion == cur.ServerVersion {
		state := cur.Payload
		if cur.Deleted {
			state = nil
		}
		return write(policy, c, state, domain.ResolutionClientWins, false, ReasonFastForward)
	}

	// base_version < server_version from here on.
	if cur.Deleted {
		return resolveAgainstTombstone(policy, c, cur)
	}

	switch policy.Kind {
	case Additive:
		return write(policy, c, cur.Payload, domain.ResolutionMerged, true, ReasonMerged)
	case AppendOnly:
		return serverWins(ReasonCreateExists), nil
	}

	switch in.Override {
	case domain.StrategyClientWins:
		return write(policy, c, nil, domain.ResolutionClientWins, true, ReasonOverrideClient)
	case domain.StrategyServerWins:
		return serverWins(ReasonOverrideServer), nil
	case domain.StrategyLWW:
		return lastWriterWins(policy, c, cur)
	}

	if c.Op == domain.OpCreate {
		return serverWins(ReasonCreateExists), nil
	}
	return lastWriterWins(policy, c, cur)
}

func resolveDelete(c *domain.ChangeRecord, cur *domain.EntityRecord) Decision {
	if cur == nil || cur.Deleted {
		return Decision{Resolution: domain.ResolutionClientWins, Reason: ReasonAlreadyDeleted}
	}
	// The concurrent update's resulting version is the current version.
	if c.BaseVersion >= cur.ServerVersion {
		return Decision{
			Resolution: domain.ResolutionClientWins,
			Write:      true,
			Deleted:    true,
			Reason:     ReasonDeleteWins,
		}
	}
	return serverWins(ReasonDeleteLoses)
}

// resolveAgainstTombstone settles an update racing a committed delete. The
// delete was based on the version just before the tombstone; the update
// would have produced base_version+1.
func resolveAgainstTombstone(policy Policy, c *domain.ChangeRecord, cur *domain.EntityRecord) (Decision, error) {
	deleteBase := cur.ServerVersion - 1
	if deleteBase >= c.BaseVersion+1 {
		return serverWins(ReasonDeleteWins), nil
	}
	return write(policy, c, nil, domain.ResolutionClientWins, true, ReasonResurrect)
}

func lastWriterWins(policy Policy, c *domain.ChangeRecord, cur *domain.EntityRecord) (Decision, error) {
	if ClientIsLastWriter(c, cur) {
		return write(policy, c, nil, domain.ResolutionClientWins, true, ReasonLWWClient)
	}
	return serverWins(ReasonLWWServer), nil
}

// ClientIsLastWriter orders writes by client timestamp; equal timestamps are
// ordered by device id so every replica picks the same winner.
func ClientIsLastWriter(c *domain.ChangeRecord, cur *domain.EntityRecord) bool {
	if !c.ClientTimestamp.Equal(cur.LastClientTimestamp) {
		return c.ClientTimestamp.After(cur.LastClientTimestamp)
	}
	return c.DeviceID > cur.LastWriterDeviceID
}

func serverWins(reason string) Decision {
	return Decision{
		Resolution: domain.ResolutionServerWins,
		Conflict:   true,
		Reason:     reason,
	}
}

func write(policy Policy, c *domain.ChangeRecord, state json.RawMessage, res domain.Resolution, conflict bool, reason string) (Decision, error) {
	payload := c.Payload
	if policy.Kind == Additive {
		merged, err := policy.Combine(state, c.Payload)
		if err != nil {
			return Decision{}, domain.ValidationError("%v", err)
		}
		payload = merged
	}
	return Decision{
		Resolution: res,
		Write:      true,
		Payload:    payload,
		Conflict:   conflict,
		Reason:     reason,
	}, nil
}
