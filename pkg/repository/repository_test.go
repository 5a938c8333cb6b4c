package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kyconboard/datakit/pkg/cache"
	"github.com/kyconboard/datakit/pkg/store"
	"github.com/kyconboard/datakit/pkg/testsupport"
)

var _ EntityRepository[customer] = (*Repository[customer])(nil)

// customer is the entity used across the repository tests.
type customer struct {
	ID     int64  `gorm:"primaryKey"`
	Email  string `gorm:"uniqueIndex"`
	Status string
}

func (customer) TableName() string   { return "customers" }
func (c customer) PrimaryKey() int64 { return c.ID }

func newTestRepo(t *testing.T, cacheManager *cache.Manager, opts ...Option) (*Repository[customer], *testsupport.QueryRecorder) {
	t.Helper()
	recorder := &testsupport.QueryRecorder{}
	db := testsupport.NewInMemoryDB(t, recorder, &customer{})
	storeManager, err := store.NewManager[customer](db)
	require.NoError(t, err)
	repo, err := New(storeManager, cacheManager, opts...)
	require.NoError(t, err)
	return repo, recorder
}

func newCachedRepo(t *testing.T) (*Repository[customer], *testsupport.QueryRecorder, *cache.Manager) {
	t.Helper()
	cacheManager, err := cache.NewManager(cache.DefaultConfig())
	require.NoError(t, err)
	repo, recorder := newTestRepo(t, cacheManager)
	return repo, recorder, cacheManager
}

func createCustomer(t *testing.T, repo *Repository[customer], email string) *customer {
	t.Helper()
	created, err := repo.CreateEntity(context.Background(), map[string]any{
		"Email":  email,
		"Status": "pending",
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	return created
}

func TestNew_NilStoreIsNotConfigured(t *testing.T) {
	repo, err := New[customer](nil, nil)
	require.Nil(t, repo)
	require.True(t, store.IsNotConfigured(err))
}

func TestCacheEnabled(t *testing.T) {
	repo, _ := newTestRepo(t, nil)
	require.False(t, repo.CacheEnabled())

	repo, _, _ = newCachedRepo(t)
	require.True(t, repo.CacheEnabled())

	cacheManager, err := cache.NewManager(cache.DefaultConfig())
	require.NoError(t, err)
	repo, _ = newTestRepo(t, cacheManager, WithCaching(false))
	require.False(t, repo.CacheEnabled())
}

func TestGetEntityByID_MalformedIDIsNil(t *testing.T) {
	repo, recorder, _ := newCachedRepo(t)

	for _, id := range []any{-1, "abc", true, nil} {
		got, err := repo.GetEntityByID(context.Background(), id)
		require.NoError(t, err)
		require.Nil(t, got)
	}
	require.Zero(t, recorder.Count())
}

func TestGetEntityByID_SecondReadServedFromCache(t *testing.T) {
	repo, recorder, _ := newCachedRepo(t)
	created := createCustomer(t, repo, "c@example.com")

	first, err := repo.GetEntityByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	recorder.Reset()
	second, err := repo.GetEntityByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, first.Email, second.Email)
	require.Zero(t, recorder.Count())
}

func TestGetEntityByID_MissingIsNilWithoutCaching(t *testing.T) {
	repo, _, cacheManager := newCachedRepo(t)

	got, err := repo.GetEntityByID(context.Background(), 12345)
	require.NoError(t, err)
	require.Nil(t, got)

	// absence is never cached
	var cached customer
	require.True(t, cache.IsKeyNotFound(cacheManager.Get(context.Background(), repo.entityKey(12345), &cached)))
}

func TestGetEntityByID_CacheNeverTouchedWhenDisabled(t *testing.T) {
	backend := &countingBackend{Backend: cache.NewMemoryBackend()}
	cacheManager, err := cache.NewManagerWithBackend(cache.DefaultConfig(), backend)
	require.NoError(t, err)
	repo, _ := newTestRepo(t, cacheManager, WithCaching(false))
	created := createCustomer(t, repo, "d@example.com")

	got, err := repo.GetEntityByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	_, err = repo.GetAllEntities(context.Background())
	require.NoError(t, err)

	require.Zero(t, backend.gets.Load())
	require.Zero(t, backend.sets.Load())
	require.Zero(t, backend.deletes.Load())
}

func TestGetAllEntities_CachesCollection(t *testing.T) {
	repo, recorder, _ := newCachedRepo(t)
	createCustomer(t, repo, "a@example.com")
	createCustomer(t, repo, "b@example.com")

	all, err := repo.GetAllEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)

	recorder.Reset()
	all, err = repo.GetAllEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Zero(t, recorder.Count())
}

func TestGetAllEntities_InvalidatedByCreate(t *testing.T) {
	repo, _, _ := newCachedRepo(t)
	createCustomer(t, repo, "a@example.com")

	all, err := repo.GetAllEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)

	createCustomer(t, repo, "b@example.com")

	all, err = repo.GetAllEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestFilterEntitiesBy_CachesAndResaltsOnMutation(t *testing.T) {
	repo, recorder, _ := newCachedRepo(t)
	createCustomer(t, repo, "a@example.com")

	pending, err := repo.FilterEntitiesBy(context.Background(), store.Predicate{"Status": "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	recorder.Reset()
	pending, err = repo.FilterEntitiesBy(context.Background(), store.Predicate{"Status": "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Zero(t, recorder.Count())

	// a mutation bumps the version, so the next filtered read goes durable
	createCustomer(t, repo, "b@example.com")
	recorder.Reset()
	pending, err = repo.FilterEntitiesBy(context.Background(), store.Predicate{"Status": "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.NotZero(t, recorder.Count())
}

func TestFilterEntitiesBy_UnknownFieldIsValidationError(t *testing.T) {
	repo, _, _ := newCachedRepo(t)

	_, err := repo.FilterEntitiesBy(context.Background(), store.Predicate{"Nope": 1})
	require.True(t, store.IsValidation(err))
}

func TestEntityExists(t *testing.T) {
	repo, _, _ := newCachedRepo(t)
	createCustomer(t, repo, "a@example.com")

	ok, err := repo.EntityExists(context.Background(), store.Predicate{"Email": "a@example.com"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.EntityExists(context.Background(), store.Predicate{"Email": "nobody@example.com"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateEntity_InvalidatesEntityAndCollection(t *testing.T) {
	repo, _, cacheManager := newCachedRepo(t)
	created := createCustomer(t, repo, "a@example.com")

	var cached customer
	require.True(t, cache.IsKeyNotFound(cacheManager.Get(context.Background(), repo.entityKey(created.ID), &cached)))

	var collection []customer
	require.True(t, cache.IsKeyNotFound(cacheManager.Get(context.Background(), repo.collectionKey(), &collection)))

	version, err := cacheManager.CounterValue(context.Background(), repo.versionKey())
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}

func TestCreateEntity_EmptyFieldsIsNil(t *testing.T) {
	repo, _, _ := newCachedRepo(t)

	created, err := repo.CreateEntity(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, created)
}

func TestCreateEntity_DuplicateIsNil(t *testing.T) {
	repo, _, _ := newCachedRepo(t)
	createCustomer(t, repo, "a@example.com")

	dup, err := repo.CreateEntity(context.Background(), map[string]any{
		"Email":  "a@example.com",
		"Status": "pending",
	})
	require.NoError(t, err)
	require.Nil(t, dup)
}

func TestUpdateEntity_EvictsStaleCacheEntry(t *testing.T) {
	repo, _, _ := newCachedRepo(t)
	created := createCustomer(t, repo, "a@example.com")

	// warm the cache, then mutate
	_, err := repo.GetEntityByID(context.Background(), created.ID)
	require.NoError(t, err)

	updated, err := repo.UpdateEntity(context.Background(), created.ID, map[string]any{"Status": "approved"})
	require.NoError(t, err)
	require.Equal(t, "approved", updated.Status)

	fresh, err := repo.GetEntityByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "approved", fresh.Status)
}

func TestUpdateEntity_MissingIsNil(t *testing.T) {
	repo, _, _ := newCachedRepo(t)

	updated, err := repo.UpdateEntity(context.Background(), 999, map[string]any{"Status": "approved"})
	require.NoError(t, err)
	require.Nil(t, updated)
}

func TestUpdateEntity_CacheFailureDoesNotFailWrite(t *testing.T) {
	backend := &deleteFailingBackend{Backend: cache.NewMemoryBackend()}
	cacheManager, err := cache.NewManagerWithBackend(cache.DefaultConfig(), backend)
	require.NoError(t, err)
	repo, _ := newTestRepo(t, cacheManager)
	created := createCustomer(t, repo, "a@example.com")

	updated, err := repo.UpdateEntity(context.Background(), created.ID, map[string]any{"Status": "approved"})
	require.NoError(t, err)
	require.NotNil(t, updated)
	require.Equal(t, "approved", updated.Status)
}

func TestDeleteEntity_ReturnsDeletedAndIsIdempotent(t *testing.T) {
	repo, _, _ := newCachedRepo(t)
	created := createCustomer(t, repo, "a@example.com")

	deleted, err := repo.DeleteEntity(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	require.Equal(t, created.Email, deleted.Email)

	again, err := repo.DeleteEntity(context.Background(), created.ID)
	require.NoError(t, err)
	require.Nil(t, again)

	gone, err := repo.GetEntityByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestDeleteEntity_CacheFailureDoesNotFailDelete(t *testing.T) {
	backend := &deleteFailingBackend{Backend: cache.NewMemoryBackend()}
	cacheManager, err := cache.NewManagerWithBackend(cache.DefaultConfig(), backend)
	require.NoError(t, err)
	repo, _ := newTestRepo(t, cacheManager)
	created := createCustomer(t, repo, "a@example.com")

	deleted, err := repo.DeleteEntity(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted)
}

func TestBulkCreateEntities(t *testing.T) {
	repo, _, _ := newCachedRepo(t)

	entities := []*customer{
		{Email: "a@example.com", Status: "pending"},
		{Email: "b@example.com", Status: "pending"},
		{Email: "c@example.com", Status: "pending"},
	}
	created, err := repo.BulkCreateEntities(context.Background(), entities)
	require.NoError(t, err)
	require.Len(t, created, 3)

	all, err := repo.GetAllEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestBulkCreateEntities_EmptyIsNoOp(t *testing.T) {
	repo, recorder, _ := newCachedRepo(t)

	created, err := repo.BulkCreateEntities(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, created)
	require.Zero(t, recorder.Count())
}

func TestBulkUpdateEntities_EvictsAffectedEntries(t *testing.T) {
	repo, _, cacheManager := newCachedRepo(t)
	first := createCustomer(t, repo, "a@example.com")
	second := createCustomer(t, repo, "b@example.com")

	// warm both entity entries
	_, err := repo.GetEntityByID(context.Background(), first.ID)
	require.NoError(t, err)
	_, err = repo.GetEntityByID(context.Background(), second.ID)
	require.NoError(t, err)

	first.Status = "approved"
	second.Status = "approved"
	updated, err := repo.BulkUpdateEntities(context.Background(), []*customer{first, second}, []string{"Status"})
	require.NoError(t, err)
	require.Len(t, updated, 2)

	var cached customer
	require.True(t, cache.IsKeyNotFound(cacheManager.Get(context.Background(), repo.entityKey(first.ID), &cached)))
	require.True(t, cache.IsKeyNotFound(cacheManager.Get(context.Background(), repo.entityKey(second.ID), &cached)))

	fresh, err := repo.GetEntityByID(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, "approved", fresh.Status)
}

func TestBulkUpdateEntities_OneFailedInvalidationDoesNotAbortTheRest(t *testing.T) {
	backend := &selectiveDeleteBackend{Backend: cache.NewMemoryBackend()}
	cacheManager, err := cache.NewManagerWithBackend(cache.DefaultConfig(), backend)
	require.NoError(t, err)
	repo, _ := newTestRepo(t, cacheManager)
	first := createCustomer(t, repo, "a@example.com")
	second := createCustomer(t, repo, "b@example.com")
	third := createCustomer(t, repo, "c@example.com")

	// warm every entity entry, then make the first one's eviction fail
	for _, c := range []*customer{first, second, third} {
		_, err := repo.GetEntityByID(context.Background(), c.ID)
		require.NoError(t, err)
	}
	backend.failKey = repo.entityKey(first.ID)

	first.Status = "approved"
	second.Status = "approved"
	third.Status = "approved"
	updated, err := repo.BulkUpdateEntities(context.Background(), []*customer{first, second, third}, []string{"Status"})
	require.NoError(t, err)
	require.Len(t, updated, 3)

	// the failing key survives, every entry after it was still evicted
	var cached customer
	require.NoError(t, cacheManager.Get(context.Background(), repo.entityKey(first.ID), &cached))
	require.True(t, cache.IsKeyNotFound(cacheManager.Get(context.Background(), repo.entityKey(second.ID), &cached)))
	require.True(t, cache.IsKeyNotFound(cacheManager.Get(context.Background(), repo.entityKey(third.ID), &cached)))
}

func TestBulkDeleteEntities_FailedInvalidationDoesNotFailDelete(t *testing.T) {
	backend := &deleteFailingBackend{Backend: cache.NewMemoryBackend()}
	cacheManager, err := cache.NewManagerWithBackend(cache.DefaultConfig(), backend)
	require.NoError(t, err)
	repo, _ := newTestRepo(t, cacheManager)
	createCustomer(t, repo, "a@example.com")
	createCustomer(t, repo, "b@example.com")

	deleted, err := repo.BulkDeleteEntities(context.Background(), store.Predicate{"Status": "pending"})
	require.NoError(t, err)
	require.Len(t, deleted, 2)
}

func TestGetEntityByID_StorageFailurePropagates(t *testing.T) {
	recorder := &testsupport.QueryRecorder{}
	db := testsupport.NewInMemoryDB(t, recorder, &customer{})
	storeManager, err := store.NewManager[customer](db)
	require.NoError(t, err)
	cacheManager, err := cache.NewManager(cache.DefaultConfig())
	require.NoError(t, err)
	repo, err := New(storeManager, cacheManager)
	require.NoError(t, err)

	require.NoError(t, db.Migrator().DropTable(&customer{}))

	got, err := repo.GetEntityByID(context.Background(), 1)
	require.Nil(t, got)
	require.True(t, store.IsLookupFailure(err))
}

func TestBulkDeleteEntities(t *testing.T) {
	repo, _, _ := newCachedRepo(t)
	createCustomer(t, repo, "a@example.com")
	createCustomer(t, repo, "b@example.com")

	deleted, err := repo.BulkDeleteEntities(context.Background(), store.Predicate{"Status": "pending"})
	require.NoError(t, err)
	require.Len(t, deleted, 2)

	all, err := repo.GetAllEntities(context.Background())
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestBulkDeleteEntities_EmptyPredicateIsNoOp(t *testing.T) {
	repo, recorder, _ := newCachedRepo(t)
	createCustomer(t, repo, "a@example.com")

	recorder.Reset()
	deleted, err := repo.BulkDeleteEntities(context.Background(), store.Predicate{})
	require.NoError(t, err)
	require.Empty(t, deleted)
	require.Zero(t, recorder.Count())
}

func TestReads_DegradeWhenBackendIsDown(t *testing.T) {
	cacheManager, err := cache.NewManagerWithBackend(cache.DefaultConfig(), downBackend{})
	require.NoError(t, err)
	repo, _ := newTestRepo(t, cacheManager)
	created := createCustomer(t, repo, "a@example.com")

	got, err := repo.GetEntityByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	all, err := repo.GetAllEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)

	pending, err := repo.FilterEntitiesBy(context.Background(), store.Predicate{"Status": "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

// countingBackend tallies calls so tests can assert the cache was consulted
// or bypassed.
type countingBackend struct {
	cache.Backend
	gets    atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

func (b *countingBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.gets.Add(1)
	return b.Backend.Get(ctx, key)
}

func (b *countingBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.sets.Add(1)
	return b.Backend.Set(ctx, key, value, ttl)
}

func (b *countingBackend) Delete(ctx context.Context, key string) error {
	b.deletes.Add(1)
	return b.Backend.Delete(ctx, key)
}

// selectiveDeleteBackend fails invalidation of exactly one key and serves
// everything else normally.
type selectiveDeleteBackend struct {
	cache.Backend
	failKey string
}

func (b *selectiveDeleteBackend) Delete(ctx context.Context, key string) error {
	if key == b.failKey {
		return errors.Join(cache.ErrBackendFailure, errors.New("delete refused"))
	}
	return b.Backend.Delete(ctx, key)
}

// deleteFailingBackend serves reads and writes but fails every invalidation.
type deleteFailingBackend struct {
	cache.Backend
}

func (b *deleteFailingBackend) Delete(context.Context, string) error {
	return errors.Join(cache.ErrBackendFailure, errors.New("delete refused"))
}

// downBackend fails every operation, as an unreachable server would.
type downBackend struct{}

var errUnreachable = errors.New("backend unreachable")

func (downBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.Join(cache.ErrBackendFailure, errUnreachable)
}

func (downBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.Join(cache.ErrBackendFailure, errUnreachable)
}

func (downBackend) Delete(context.Context, string) error {
	return errors.Join(cache.ErrBackendFailure, errUnreachable)
}

func (downBackend) IncrBy(context.Context, string, int64) (int64, error) {
	return 0, errors.Join(cache.ErrBackendFailure, errUnreachable)
}

func (downBackend) Clear(context.Context) error {
	return errors.Join(cache.ErrBackendFailure, errUnreachable)
}

func (downBackend) Ping(context.Context) error {
	return errors.Join(cache.ErrConnectionFailed, errUnreachable)
}

func (downBackend) Close() error { return nil }
