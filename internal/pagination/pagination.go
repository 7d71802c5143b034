// Package pagination implements the keyset scheme every list endpoint shares.
// Pages are ordered (created_at DESC, id DESC) and addressed by an opaque
// cursor, so they stay stable while new rows are being inserted.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultLimit = 20
	MaxLimit     = 5000
)

// Cursor pins the position after the last row of the previous page.
type Cursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type Params struct {
	Limit  int
	Cursor *Cursor
}

// Result is the pagination envelope returned next to the page data.
type Result struct {
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
	TotalCount int64   `json:"total_count"`
}

// Parse reads limit and cursor from query parameters. The limit clamps to
// [1, MaxLimit]; an unparseable cursor falls back to the first page rather
// than erroring (the dashboard relies on this).
func Parse(q url.Values) Params {
	limit := DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	p := Params{Limit: limit}
	if raw := q.Get("cursor"); raw != "" {
		if c, ok := decodeCursor(raw); ok {
			p.Cursor = c
		}
	}
	return p
}

func decodeCursor(raw string) (*Cursor, bool) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, false
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return nil, false
	}
	return &c, true
}

// EncodeCursor produces the opaque token for the row after which the next
// page starts: base64 of {"id": ..., "created_at": ...}.
func EncodeCursor(id string, createdAt time.Time) string {
	data, _ := json.Marshal(Cursor{ID: id, CreatedAt: createdAt})
	return base64.StdEncoding.EncodeToString(data)
}

// Keyed is anything a page can be cut from.
type Keyed interface {
	PageKey() (id string, ts time.Time)
}

// Page runs the keyset query: an independent total count under the same
// filters, then a limit+1 fetch past the cursor. tsCol and idCol are the
// (possibly qualified) ordering columns; tables without created_at pass
// e.g. "measured_at".
//
// The count races with concurrent inserts relative to the page contents.
// Accepted trade-off; both sides are consistent with the filter.
func Page[T Keyed](query *gorm.DB, p Params, tsCol, idCol string) ([]T, Result, error) {
	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, Result{}, err
	}

	q := query.Session(&gorm.Session{})
	if p.Cursor != nil {
		q = q.Where(
			fmt.Sprintf("%s < ? OR (%s = ? AND %s < ?)", tsCol, tsCol, idCol),
			p.Cursor.CreatedAt, p.Cursor.CreatedAt, p.Cursor.ID,
		)
	}

	var rows []T
	err := q.Order(fmt.Sprintf("%s DESC, %s DESC", tsCol, idCol)).
		Limit(p.Limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, Result{}, err
	}

	res := Result{TotalCount: total}
	if len(rows) > p.Limit {
		res.HasMore = true
		rows = rows[:p.Limit]
		id, ts := rows[len(rows)-1].PageKey()
		cursor := EncodeCursor(id, ts)
		res.NextCursor = &cursor
	}

	return rows, res, nil
}
