// Package datakit provides a generic cached repository layer for entities
// backed by a relational store: cache-aside reads, invalidate-on-write, and
// batch operations with partial-failure isolation.
package datakit

import (
	"github.com/kyconboard/datakit/pkg/cache"
	"github.com/kyconboard/datakit/pkg/db"
	"github.com/kyconboard/datakit/pkg/repository"
	"github.com/kyconboard/datakit/pkg/store"
)

// DBConfig represents database configuration
type DBConfig = db.Config

// CacheConfig represents cache configuration
type CacheConfig = cache.Config

// Entity is the contract all repository entities must implement
type Entity = store.Entity

// Predicate is an equality filter over entity fields
type Predicate = store.Predicate

// NewDBManager creates a new database manager
func NewDBManager(config *DBConfig) (*db.Manager, error) {
	return db.NewManager(config)
}

// NewCacheManager creates a new cache manager
func NewCacheManager(config *CacheConfig) (*cache.Manager, error) {
	return cache.NewManager(config)
}

// NewStoreManager binds a durable-storage manager to the entity type T.
func NewStoreManager[T Entity](manager *db.Manager, opts ...store.Option) (*store.Manager[T], error) {
	if manager == nil {
		return nil, store.ErrNotConfigured
	}
	return store.NewManager[T](manager.DB(), opts...)
}

// NewRepository creates a cache-aside repository for the entity type T.
// If cacheManager is nil, the repository operates as a pure passthrough to
// durable storage.
func NewRepository[T Entity](dbManager *db.Manager, cacheManager *cache.Manager, opts ...repository.Option) (*repository.Repository[T], error) {
	storeManager, err := NewStoreManager[T](dbManager)
	if err != nil {
		return nil, err
	}
	return repository.New(storeManager, cacheManager, opts...)
}
