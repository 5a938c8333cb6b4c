package repository

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/kyconboard/datakit/pkg/store"
)

// Cache key constants for consistent key generation
const (
	keySeparator        = ":"
	collectionSuffix    = "_all"
	versionSuffix       = "_cache_version"
	filterKeyHashLength = 12 // Balance between uniqueness and key length
)

// entityKey is the id-scoped cache key: "<type>:<id>".
// Unique and stable for a given (entity type, id) pair.
func (r *Repository[T]) entityKey(id int64) string {
	return r.name + keySeparator + strconv.FormatInt(id, 10)
}

// collectionKey is the whole-collection cache key: "<type>_all".
func (r *Repository[T]) collectionKey() string {
	return r.name + collectionSuffix
}

// versionKey names the advisory version counter bumped on every mutation.
func (r *Repository[T]) versionKey() string {
	return r.name + versionSuffix
}

// filterKey derives a cache key for a filtered read from the current cache
// version and an xxhash of the predicate's canonical encoding. Salting with
// the version makes entries from before any mutation unreachable without
// pattern scans; they age out by TTL.
func (r *Repository[T]) filterKey(version int64, predicate store.Predicate) string {
	hash := fmt.Sprintf("%016x", xxhash.Sum64String(predicate.Canonical()))
	return fmt.Sprintf("%s%sq%sv%d%s%s", r.name, keySeparator, keySeparator, version, keySeparator, hash[:filterKeyHashLength])
}
