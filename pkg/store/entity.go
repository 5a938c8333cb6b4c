package store

import (
	"reflect"
	"strconv"
	"strings"
)

// Entity is the minimal contract for records managed by a Manager. Entities
// are opaque to this layer: only the primary key and caller-named fields are
// ever interpreted.
type Entity interface {
	// TableName returns the database table name for this entity
	TableName() string

	// PrimaryKey returns the value of the numeric primary key
	PrimaryKey() int64
}

// entityTypeName returns the lower-cased struct name of T, used for logging
// and for deriving cache keys. Stable for the lifetime of the process.
func entityTypeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return strings.ToLower(t.Name())
}

// NormalizeID validates an identifier of flexible shape. Positive integers
// and digit-strings are accepted; negatives, booleans, non-digit strings,
// empty strings and nil are rejected without touching storage.
func NormalizeID(id any) (int64, bool) {
	switch v := id.(type) {
	case int:
		return int64(v), v > 0
	case int8:
		return int64(v), v > 0
	case int16:
		return int64(v), v > 0
	case int32:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	case uint:
		return int64(v), v > 0 && uint64(v) <= 1<<62
	case uint8:
		return int64(v), v > 0
	case uint16:
		return int64(v), v > 0
	case uint32:
		return int64(v), v > 0
	case uint64:
		return int64(v), v > 0 && v <= 1<<62
	case string:
		if v == "" {
			return 0, false
		}
		for _, r := range v {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, n > 0
	default:
		// bool, nil, floats and everything else fail the shape check
		return 0, false
	}
}
