package repository

import (
	"context"

	"github.com/kyconboard/datakit/pkg/store"
)

// EntityRepository defines the cache-aside data-access contract for one
// entity type. Reads populate the cache lazily after a miss; writes
// invalidate rather than update it.
type EntityRepository[T store.Entity] interface {
	// Reads (cache-aside)
	GetEntityByID(ctx context.Context, id any) (*T, error)
	GetAllEntities(ctx context.Context) ([]T, error)
	FilterEntitiesBy(ctx context.Context, predicate store.Predicate) ([]T, error)
	EntityExists(ctx context.Context, predicate store.Predicate) (bool, error)

	// Writes (invalidate-on-write)
	CreateEntity(ctx context.Context, fields map[string]any) (*T, error)
	UpdateEntity(ctx context.Context, id any, fields map[string]any) (*T, error)
	DeleteEntity(ctx context.Context, id any) (*T, error)

	// Batch operations
	BulkCreateEntities(ctx context.Context, entities []*T) ([]*T, error)
	BulkUpdateEntities(ctx context.Context, entities []*T, fields []string) ([]*T, error)
	BulkDeleteEntities(ctx context.Context, predicate store.Predicate) ([]T, error)
}
