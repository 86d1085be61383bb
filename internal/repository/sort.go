package repository

import (
	"sort"

	"edupulse-sync-server/internal/domain"
)

// sortRecords orders records the way a delta is replayed: by apply time,
// then by key so equal timestamps stay deterministic.
func sortRecords(records []*domain.EntityRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.LastAppliedTimestamp.Equal(b.LastAppliedTimestamp) {
			return a.LastAppliedTimestamp.Before(b.LastAppliedTimestamp)
		}
		return a.Key().String() < b.Key().String()
	})
}

func sortConflicts(conflicts []*domain.ConflictRecord) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].CreatedAt.After(conflicts[j].CreatedAt)
	})
}

func sortDeferred(records []*domain.DeferredRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Change.LocalSequenceNo < records[j].Change.LocalSequenceNo
	})
}

func newestHistory(entries []*domain.SyncHistoryEntry, limit int) []*domain.SyncHistoryEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
