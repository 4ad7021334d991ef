// Package item defines the row served by the read path and the cache key
// derived from its identifier.
package item

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// KeyPrefix is prepended to every lookup key so keys from other tables sharing
// the same cache namespace cannot collide.
const KeyPrefix = "row:"

// ErrInvalidID is returned when an identifier is not a valid UUID.
var ErrInvalidID = errors.New("invalid id")

// Key is the exact-match cache key for a single row.
type Key string

// KeyFor returns the key for id. The canonical lowercase UUID form is used so
// every spelling of the same id maps to the same bytes.
func KeyFor(id uuid.UUID) Key {
	return Key(KeyPrefix + id.String())
}

// ParseKey parses a raw id (any form accepted by uuid.Parse) into a Key.
func ParseKey(raw string) (Key, uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", uuid.Nil, errors.Mark(errors.New("id is required"), ErrInvalidID)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", uuid.Nil, errors.Mark(errors.Wrapf(err, "parse id %q", raw), ErrInvalidID)
	}
	if id == uuid.Nil {
		return "", uuid.Nil, errors.Mark(errors.New("id must not be the nil uuid"), ErrInvalidID)
	}
	return KeyFor(id), id, nil
}

// ID returns the identifier encoded in the key.
func (k Key) ID() (uuid.UUID, error) {
	if !strings.HasPrefix(string(k), KeyPrefix) {
		return uuid.Nil, errors.Mark(errors.Newf("key %q has no %q prefix", k, KeyPrefix), ErrInvalidID)
	}
	id, err := uuid.Parse(strings.TrimPrefix(string(k), KeyPrefix))
	if err != nil {
		return uuid.Nil, errors.Mark(errors.Wrapf(err, "key %q", k), ErrInvalidID)
	}
	return id, nil
}

func (k Key) String() string { return string(k) }

// Item is a row of CacheableTable.
type Item struct {
	ID        uuid.UUID `json:"id" msgpack:"id" cbor:"id"`
	FirstName string    `json:"first_name" msgpack:"first_name" cbor:"first_name"`
	LastName  string    `json:"last_name" msgpack:"last_name" cbor:"last_name"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at" cbor:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at" cbor:"updated_at"`
}

// Columns lists the column names in table order.
var Columns = []string{"id", "first_name", "last_name", "created_at", "updated_at"}

// IsColumn reports whether name is a column of the table.
func IsColumn(name string) bool {
	for _, c := range Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Values returns the row as a column name to value map.
func (i Item) Values() map[string]any {
	return map[string]any{
		"id":         i.ID,
		"first_name": i.FirstName,
		"last_name":  i.LastName,
		"created_at": i.CreatedAt,
		"updated_at": i.UpdatedAt,
	}
}

// Project returns only the named columns. Unknown names are ignored; callers
// validate them with IsColumn first.
func (i Item) Project(fields []string) map[string]any {
	all := i.Values()
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Normalize returns a copy with timestamps in UTC at microsecond precision,
// the resolution PostgreSQL stores. Rows read from the store and rows decoded
// from the cache therefore render identically.
func (i Item) Normalize() Item {
	i.CreatedAt = i.CreatedAt.UTC().Truncate(time.Microsecond)
	i.UpdatedAt = i.UpdatedAt.UTC().Truncate(time.Microsecond)
	return i
}
