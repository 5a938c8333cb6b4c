package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/kyconboard/datakit/pkg/cache"
	"github.com/kyconboard/datakit/pkg/store"
)

// Default TTLs. Single entities live longer than the collection listing,
// which is both larger and cheaper to recompute.
const (
	DefaultEntityTTL     = 15 * time.Minute
	DefaultCollectionTTL = 10 * time.Minute
)

// Repository composes a store.Manager and a cache.Manager into a cache-aside
// data-access layer for one entity type. The durable store is always
// authoritative; the cache is an optimization and is never required for
// correctness. Invalidation is best-effort and never fails a write.
//
// A Repository is built once per entity type at startup and holds only
// configuration across calls, so it is safe for concurrent use. The cache
// manager may be shared with other repositories.
type Repository[T store.Entity] struct {
	store *store.Manager[T]
	cache *cache.Manager

	name          string
	cacheEnabled  bool
	entityTTL     time.Duration
	collectionTTL time.Duration
	logger        *slog.Logger
}

// Option configures a Repository.
type Option func(*config)

type config struct {
	cacheEnabled  *bool
	entityTTL     time.Duration
	collectionTTL time.Duration
	logger        *slog.Logger
}

// WithCaching explicitly enables or disables the cache path. By default
// caching is on whenever a usable cache manager is supplied.
func WithCaching(enabled bool) Option {
	return func(c *config) { c.cacheEnabled = &enabled }
}

// WithEntityTTL overrides the TTL for id-keyed entries.
func WithEntityTTL(ttl time.Duration) Option {
	return func(c *config) { c.entityTTL = ttl }
}

// WithCollectionTTL overrides the TTL for the collection listing entry.
func WithCollectionTTL(ttl time.Duration) Option {
	return func(c *config) { c.collectionTTL = ttl }
}

// WithLogger sets the structured logger used for degradation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// New creates a Repository over a bound store manager and an optional cache
// manager. Passing a nil cache manager yields a pure passthrough repository.
func New[T store.Entity](storeManager *store.Manager[T], cacheManager *cache.Manager, opts ...Option) (*Repository[T], error) {
	if storeManager == nil {
		return nil, store.ErrNotConfigured
	}

	cfg := config{
		entityTTL:     DefaultEntityTTL,
		collectionTTL: DefaultCollectionTTL,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	enabled := cacheManager != nil && cacheManager.Config().Enabled
	if cfg.cacheEnabled != nil {
		enabled = *cfg.cacheEnabled && cacheManager != nil
	}

	return &Repository[T]{
		store:         storeManager,
		cache:         cacheManager,
		name:          storeManager.EntityName(),
		cacheEnabled:  enabled,
		entityTTL:     cfg.entityTTL,
		collectionTTL: cfg.collectionTTL,
		logger:        cfg.logger,
	}, nil
}

// CacheEnabled reports whether this repository consults the cache at all.
func (r *Repository[T]) CacheEnabled() bool {
	return r.cacheEnabled
}

// GetEntityByID fetches one entity, serving a cache hit without touching
// storage. A hit is trusted as-is for its TTL window; staleness up to the
// TTL is accepted. Cache read failures degrade to a durable fetch; storage
// failures surface as store.ErrLookupFailed.
func (r *Repository[T]) GetEntityByID(ctx context.Context, id any) (*T, error) {
	idVal, ok := store.NormalizeID(id)
	if !ok {
		return nil, nil
	}

	if !r.cacheEnabled {
		entity, err := r.store.GetByID(ctx, idVal)
		if err != nil {
			r.logger.Error("entity lookup failed", "entity", r.name, "id", idVal, "error", err)
		}
		return entity, err
	}

	key := r.entityKey(idVal)
	var cached T
	err := r.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !cache.IsKeyNotFound(err) {
		r.logger.Warn("cache read failed, falling back to store", "entity", r.name, "key", key, "error", err)
	}

	entity, err := r.store.GetByID(ctx, idVal)
	if err != nil {
		r.logger.Error("entity lookup failed", "entity", r.name, "id", idVal, "error", err)
		return nil, err
	}

	if entity != nil {
		if err := r.cache.SetWithTTL(ctx, key, entity, r.entityTTL); err != nil {
			r.logger.Warn("cache populate failed", "entity", r.name, "key", key, "error", err)
		}
	}
	return entity, nil
}

// GetAllEntities lists every entity, serving the collection from cache when
// possible. A cache backend failure is logged and the call falls back to an
// uncached fetch; a storage failure is logged and returned, since listings
// are expected to be reliable.
func (r *Repository[T]) GetAllEntities(ctx context.Context) ([]T, error) {
	if !r.cacheEnabled {
		return r.store.GetAll(ctx)
	}

	entities, err := cache.GetOrSet(ctx, r.cache, r.collectionKey(), r.collectionTTL, r.store.GetAll)
	if err == nil {
		return entities, nil
	}
	if cache.IsBackendFailure(err) {
		r.logger.Warn("collection cache unavailable, fetching uncached", "entity", r.name, "error", err)
		return r.store.GetAll(ctx)
	}
	return nil, err
}

// FilterEntitiesBy returns entities matching the equality predicate, cached
// under a key salted with the current cache version so that any mutation
// makes prior filter entries unreachable.
func (r *Repository[T]) FilterEntitiesBy(ctx context.Context, predicate store.Predicate) ([]T, error) {
	if !r.cacheEnabled || len(predicate) == 0 {
		return r.store.FilterBy(ctx, predicate)
	}

	version, err := r.cache.CounterValue(ctx, r.versionKey())
	if err != nil {
		r.logger.Warn("cache version unavailable, fetching uncached", "entity", r.name, "error", err)
		return r.store.FilterBy(ctx, predicate)
	}

	key := r.filterKey(version, predicate)
	entities, err := cache.GetOrSet(ctx, r.cache, key, r.collectionTTL, func(ctx context.Context) ([]T, error) {
		return r.store.FilterBy(ctx, predicate)
	})
	if err == nil {
		return entities, nil
	}
	if cache.IsBackendFailure(err) {
		r.logger.Warn("filter cache unavailable, fetching uncached", "entity", r.name, "error", err)
		return r.store.FilterBy(ctx, predicate)
	}
	return nil, err
}

// EntityExists reports whether any entity matches the predicate. Always a
// durable check.
func (r *Repository[T]) EntityExists(ctx context.Context, predicate store.Predicate) (bool, error) {
	return r.store.Exists(ctx, predicate)
}

// CreateEntity persists a new entity and invalidates both its id-keyed entry
// and the collection entry, so a freshly created entity is never served
// stale. A persistence failure yields a nil entity, already logged by the
// store layer; validation and configuration failures surface as errors.
func (r *Repository[T]) CreateEntity(ctx context.Context, fields map[string]any) (*T, error) {
	entity, err := r.store.CreateInstance(ctx, fields)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}

	if r.cacheEnabled {
		r.invalidateEntity(ctx, (*entity).PrimaryKey())
		r.invalidateCollection(ctx)
		r.bumpVersion(ctx)
	}
	return entity, nil
}

// UpdateEntity applies a partial update to the entity with the given id.
// A missing entity is a nil result, not an error. The durable mutation is
// the source of truth: cache invalidation failures are logged and never
// reverse a successful update.
func (r *Repository[T]) UpdateEntity(ctx context.Context, id any, fields map[string]any) (*T, error) {
	entity, err := r.store.GetByID(ctx, id)
	if err != nil {
		r.logger.Error("fetch before update failed", "entity", r.name, "id", id, "error", err)
		return nil, err
	}
	if entity == nil {
		r.logger.Debug("nothing to update", "entity", r.name, "id", id)
		return nil, nil
	}

	updated, err := r.store.UpdateInstance(ctx, entity, fields)
	if err != nil {
		return nil, err
	}

	if r.cacheEnabled {
		r.invalidateEntity(ctx, (*updated).PrimaryKey())
		r.invalidateCollection(ctx)
		r.bumpVersion(ctx)
	}
	return updated, nil
}

// DeleteEntity removes the entity with the given id and returns it. Deleting
// an id that no longer resolves is a nil result, not an error, so repeated
// deletes are idempotent. Cache invalidation is best-effort.
func (r *Repository[T]) DeleteEntity(ctx context.Context, id any) (*T, error) {
	entity, err := r.store.GetByID(ctx, id)
	if err != nil {
		r.logger.Error("fetch before delete failed", "entity", r.name, "id", id, "error", err)
		return nil, err
	}
	if entity == nil {
		r.logger.Debug("nothing to delete", "entity", r.name, "id", id)
		return nil, nil
	}

	if err := r.store.DeleteInstance(ctx, entity); err != nil {
		return nil, err
	}

	if r.cacheEnabled {
		r.invalidateEntity(ctx, (*entity).PrimaryKey())
		r.invalidateCollection(ctx)
		r.bumpVersion(ctx)
	}
	return entity, nil
}

// BulkCreateEntities persists entities in batches and invalidates the cache
// entry of every created entity. Empty input is a no-op.
func (r *Repository[T]) BulkCreateEntities(ctx context.Context, entities []*T) ([]*T, error) {
	if len(entities) == 0 {
		r.logger.Debug("bulk create with no entities", "entity", r.name)
		return []*T{}, nil
	}

	created, err := r.store.BulkCreateInstances(ctx, entities, 0)
	if err != nil {
		r.logger.Error("bulk create failed", "entity", r.name, "count", len(entities), "error", err)
		return nil, err
	}

	if r.cacheEnabled && len(created) > 0 {
		ids := make([]int64, len(created))
		for i, e := range created {
			ids[i] = (*e).PrimaryKey()
		}
		r.invalidateMany(ctx, ids)
	}
	return created, nil
}

// BulkUpdateEntities persists the named fields of each entity in batches and
// invalidates the cache entry of every affected entity.
func (r *Repository[T]) BulkUpdateEntities(ctx context.Context, entities []*T, fields []string) ([]*T, error) {
	if len(entities) == 0 {
		r.logger.Debug("bulk update with no entities", "entity", r.name)
		return []*T{}, nil
	}

	updated, err := r.store.BulkUpdateInstances(ctx, entities, fields, 0)
	if err != nil {
		r.logger.Error("bulk update failed", "entity", r.name, "count", len(entities), "error", err)
		return nil, err
	}

	if r.cacheEnabled && len(updated) > 0 {
		ids := make([]int64, len(updated))
		for i, e := range updated {
			ids[i] = (*e).PrimaryKey()
		}
		r.invalidateMany(ctx, ids)
	}
	return updated, nil
}

// BulkDeleteEntities removes every entity matching the predicate, returning
// the exact set removed. An empty predicate is a guarded no-op.
func (r *Repository[T]) BulkDeleteEntities(ctx context.Context, predicate store.Predicate) ([]T, error) {
	if len(predicate) == 0 {
		r.logger.Debug("bulk delete with empty predicate", "entity", r.name)
		return []T{}, nil
	}

	deleted, err := r.store.BulkDeleteInstances(ctx, predicate)
	if err != nil {
		r.logger.Error("bulk delete failed", "entity", r.name, "error", err)
		return nil, err
	}

	if r.cacheEnabled && len(deleted) > 0 {
		ids := make([]int64, len(deleted))
		for i := range deleted {
			ids[i] = deleted[i].PrimaryKey()
		}
		r.invalidateMany(ctx, ids)
	}
	return deleted, nil
}

// invalidateEntity removes the id-keyed cache entry, best effort.
func (r *Repository[T]) invalidateEntity(ctx context.Context, id int64) {
	if err := r.cache.Delete(ctx, r.entityKey(id)); err != nil {
		r.logger.Warn("cache invalidation failed", "entity", r.name, "id", id, "error", err)
	}
}

// invalidateCollection removes the collection listing entry, best effort.
func (r *Repository[T]) invalidateCollection(ctx context.Context) {
	if err := r.cache.Delete(ctx, r.collectionKey()); err != nil {
		r.logger.Warn("collection cache invalidation failed", "entity", r.name, "error", err)
	}
}

// bumpVersion advances the advisory cache version counter, best effort.
func (r *Repository[T]) bumpVersion(ctx context.Context) {
	if _, err := r.cache.Increment(ctx, r.versionKey(), 1); err != nil {
		r.logger.Warn("cache version bump failed", "entity", r.name, "error", err)
	}
}

// invalidateMany removes the id-keyed entries for a batch of ids, then the
// collection entry. One failing deletion never aborts the rest; failures
// are collected and logged once as an aggregate warning.
func (r *Repository[T]) invalidateMany(ctx context.Context, ids []int64) {
	var failed []int64
	for _, id := range ids {
		if err := r.cache.Delete(ctx, r.entityKey(id)); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		r.logger.Warn("cache invalidation failed for some entities", "entity", r.name, "ids", failed)
	}
	r.invalidateCollection(ctx)
	r.bumpVersion(ctx)
}
