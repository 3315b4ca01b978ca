// Package pagination implements keyset pagination over (created_at, id).
//
// Cursors are opaque to clients: base64url of "<unix nanos>|<id>". Stores
// return rows strictly after the cursor ordered by created_at then id, and
// handlers fetch limit+1 rows so Paginate can tell whether more remain.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Errors returned when parsing client input.
var (
	ErrInvalidCursor = errors.New("pagination: invalid cursor")
	ErrInvalidLimit  = errors.New("pagination: limit must be a positive integer")
)

// Cursor is the last (created_at, id) key a client has seen.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// After reports whether the key (createdAt, id) sorts strictly after c.
// A nil cursor matches everything.
func (c *Cursor) After(createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.After(c.CreatedAt)
	}
	return id > c.ID
}

// Encode returns the opaque cursor for a row key.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor produced by Encode. Empty input yields nil.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanosPart, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ParseLimit reads a page size query value. Empty input yields def; larger
// values are clamped to max.
func ParseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, ErrInvalidLimit
	}
	if n > max {
		n = max
	}
	return n, nil
}

// Page is one slice of a keyset-paginated listing.
type Page[T any] struct {
	Items      []T    `json:"data"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// Paginate trims items fetched with limit+1 down to limit and sets the
// next cursor from the last kept item. Items is never nil.
func Paginate[T any](items []T, limit int, key func(T) (time.Time, string)) Page[T] {
	if items == nil {
		items = []T{}
	}
	if len(items) <= limit {
		return Page[T]{Items: items}
	}
	items = items[:limit]
	createdAt, id := key(items[len(items)-1])
	return Page[T]{Items: items, NextCursor: Encode(createdAt, id), HasMore: true}
}
