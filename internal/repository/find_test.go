package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedSource serves total documents in pages, like _find with bookmarks.
type pagedSource struct {
	total     int
	served    int
	bookmarks []string
}

func (p *pagedSource) fetch(pageSize int) fetchPage {
	return func(bookmark string) (int, string, error) {
		p.bookmarks = append(p.bookmarks, bookmark)
		n := pageSize
		if rest := p.total - p.served; rest < n {
			n = rest
		}
		p.served += n
		return n, fmt.Sprintf("bm-%d", p.served), nil
	}
}

func TestPaginateReadsEveryPage(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		wantCalls int
	}{
		{name: "more than the default couch limit", total: 26, wantCalls: 1},
		{name: "several pages", total: 450, wantCalls: 3},
		{name: "exact multiple ends on an empty page", total: 400, wantCalls: 3},
		{name: "empty", total: 0, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &pagedSource{total: tt.total}
			require.NoError(t, paginate(findPageSize, src.fetch(findPageSize)))

			assert.Equal(t, tt.total, src.served)
			assert.Len(t, src.bookmarks, tt.wantCalls)
			assert.Equal(t, "", src.bookmarks[0])
			for i := 1; i < len(src.bookmarks); i++ {
				assert.Equal(t, fmt.Sprintf("bm-%d", i*findPageSize), src.bookmarks[i])
			}
		})
	}
}

func TestPaginateStopsOnStuckBookmark(t *testing.T) {
	calls := 0
	err := paginate(2, func(string) (int, string, error) {
		calls++
		return 2, "same", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPaginateReturnsFetchError(t *testing.T) {
	boom := errors.New("connection reset")
	err := paginate(2, func(string) (int, string, error) {
		return 0, "", boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPagedQuery(t *testing.T) {
	base := map[string]interface{}{"selector": map[string]interface{}{"doc_type": "entity"}}

	first := pagedQuery(base, 50, "")
	assert.Equal(t, 50, first["limit"])
	assert.NotContains(t, first, "bookmark")

	next := pagedQuery(base, 50, "g1AAAA")
	assert.Equal(t, "g1AAAA", next["bookmark"])

	assert.NotContains(t, base, "limit", "the caller's query is not modified")
}

func TestHistoryQueryUsesItsIndex(t *testing.T) {
	q := historyQuery("user-1")

	fields := couchIndexes["history-by-user-started"]
	sort, ok := q["sort"].([]map[string]string)
	require.True(t, ok)
	require.Len(t, sort, len(fields))
	for i, field := range fields {
		assert.Equal(t, "desc", sort[i][field])
	}

	selector := q["selector"].(map[string]interface{})
	for _, field := range fields {
		assert.Contains(t, selector, field)
	}
	assert.Equal(t, []string{couchIndexDesign, "history-by-user-started"}, q["use_index"])
}
