package repository

import (
	"context"
	"errors"

	"github.com/go-kivik/kivik/v4"
)

// findPageSize is the limit sent with every _find request. CouchDB answers
// an unlimited query with 25 documents, so listings page with bookmarks.
const findPageSize = 200

// errPageFull stops a scan once the caller has every row it wants.
var errPageFull = errors.New("page full")

// pagedQuery returns a copy of query asking for one page after bookmark.
func pagedQuery(query map[string]interface{}, limit int, bookmark string) map[string]interface{} {
	q := make(map[string]interface{}, len(query)+2)
	for k, v := range query {
		q[k] = v
	}
	q["limit"] = limit
	if bookmark != "" {
		q["bookmark"] = bookmark
	}
	return q
}

// fetchPage reads one page and reports how many documents it held and the
// bookmark to continue from.
type fetchPage func(bookmark string) (n int, next string, err error)

// paginate calls fetch until a page comes back short or the bookmark stops
// moving.
func paginate(pageSize int, fetch fetchPage) error {
	bookmark := ""
	for {
		n, next, err := fetch(bookmark)
		if err != nil {
			return err
		}
		if n < pageSize || next == "" || next == bookmark {
			return nil
		}
		bookmark = next
	}
}

// findAll runs a Mango query to exhaustion, handing every row to scan.
func findAll(ctx context.Context, db *kivik.DB, query map[string]interface{}, scan func(*kivik.ResultSet) error) error {
	return findPages(ctx, db, query, findPageSize, scan)
}

func findPages(ctx context.Context, db *kivik.DB, query map[string]interface{}, pageSize int, scan func(*kivik.ResultSet) error) error {
	return paginate(pageSize, func(bookmark string) (int, string, error) {
		rows := db.Find(ctx, pagedQuery(query, pageSize, bookmark))
		defer rows.Close()

		n := 0
		for rows.Next() {
			n++
			if err := scan(rows); err != nil {
				return 0, "", err
			}
		}
		if err := rows.Err(); err != nil {
			return 0, "", err
		}
		meta, err := rows.Metadata()
		if err != nil {
			return 0, "", err
		}
		return n, meta.Bookmark, nil
	})
}
