package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DefaultBatchSize is the chunk size for bulk operations when none is given.
const DefaultBatchSize = 100

// Manager provides entity-agnostic access to durable storage for exactly one
// entity type. It holds no mutable state beyond its construction-time
// binding, so a single Manager is safe to share across concurrent callers.
type Manager[T Entity] struct {
	db        *gorm.DB
	logger    *slog.Logger
	name      string
	batchSize int
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	batchSize int
}

// WithLogger sets the structured logger used for failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBatchSize overrides the default chunk size for bulk operations.
func WithBatchSize(size int) Option {
	return func(o *options) { o.batchSize = size }
}

// NewManager binds a Manager to the entity type T. A nil database or an
// entity without a table binding is an ErrNotConfigured.
func NewManager[T Entity](db *gorm.DB, opts ...Option) (*Manager[T], error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database handle is nil", ErrNotConfigured)
	}

	var model T
	if model.TableName() == "" {
		return nil, fmt.Errorf("%w: %s has no table binding", ErrNotConfigured, entityTypeName[T]())
	}

	o := options{logger: slog.Default(), batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}

	return &Manager[T]{
		db:        db,
		logger:    o.logger,
		name:      entityTypeName[T](),
		batchSize: o.batchSize,
	}, nil
}

// EntityName returns the lower-cased name of the bound entity type.
func (m *Manager[T]) EntityName() string {
	return m.name
}

// GetByID fetches a single entity by id. Malformed ids (negative, non-digit
// string, boolean, nil) are rejected without querying storage and yield a
// nil result. Storage failures surface as ErrLookupFailed.
func (m *Manager[T]) GetByID(ctx context.Context, id any) (*T, error) {
	idVal, ok := NormalizeID(id)
	if !ok {
		return nil, nil
	}

	var entity T
	err := m.db.WithContext(ctx).First(&entity, idVal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s %d: %v", ErrLookupFailed, m.name, idVal, err)
	}
	return &entity, nil
}

// GetAll returns every entity of the bound type, in storage order.
func (m *Manager[T]) GetAll(ctx context.Context) ([]T, error) {
	var entities []T
	if err := m.db.WithContext(ctx).Find(&entities).Error; err != nil {
		m.logger.Error("listing entities failed", "entity", m.name, "error", err)
		return nil, fmt.Errorf("%w: listing %s: %v", ErrUnexpected, m.name, err)
	}
	return entities, nil
}

// FilterBy returns entities matching the equality predicate. An empty
// predicate returns everything.
func (m *Manager[T]) FilterBy(ctx context.Context, predicate Predicate) ([]T, error) {
	if len(predicate) == 0 {
		return m.GetAll(ctx)
	}

	clause, args, err := compilePredicate[T](predicate)
	if err != nil {
		return nil, err
	}

	var entities []T
	if err := m.db.WithContext(ctx).Where(clause, args...).Find(&entities).Error; err != nil {
		m.logger.Error("filtering entities failed", "entity", m.name, "error", err)
		return nil, fmt.Errorf("%w: filtering %s: %v", ErrUnexpected, m.name, err)
	}
	return entities, nil
}

// Exists reports whether any entity matches the predicate.
func (m *Manager[T]) Exists(ctx context.Context, predicate Predicate) (bool, error) {
	query := m.db.WithContext(ctx).Model(new(T))
	if len(predicate) > 0 {
		clause, args, err := compilePredicate[T](predicate)
		if err != nil {
			return false, err
		}
		query = query.Where(clause, args...)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		m.logger.Error("existence check failed", "entity", m.name, "error", err)
		return false, fmt.Errorf("%w: existence check on %s: %v", ErrUnexpected, m.name, err)
	}
	return count > 0, nil
}

// CreateInstance persists a new entity built from the field map. An empty
// map is a no-op returning nil. Persistence failures are logged and reported
// only through the nil result: callers must treat nil as "no entity was
// created". Unknown field names are an ErrValidation.
func (m *Manager[T]) CreateInstance(ctx context.Context, fields map[string]any) (*T, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	var entity T
	if err := applyFields(&entity, fields); err != nil {
		return nil, err
	}

	if err := m.db.WithContext(ctx).Create(&entity).Error; err != nil {
		if isIntegrityError(err) {
			m.logger.Error("integrity violation creating entity", "entity", m.name, "error", err)
		} else {
			m.logger.Error("unexpected error creating entity", "entity", m.name, "error", err)
		}
		return nil, nil
	}
	return &entity, nil
}

// UpdateInstance applies a partial update (field assignment + persist) to an
// already-fetched entity. Unknown field names are an ErrValidation; storage
// failures are logged and surfaced.
func (m *Manager[T]) UpdateInstance(ctx context.Context, entity *T, fields map[string]any) (*T, error) {
	if entity == nil {
		return nil, nil
	}
	if len(fields) == 0 {
		return entity, nil
	}

	if err := applyFields(entity, fields); err != nil {
		return nil, err
	}

	if err := m.db.WithContext(ctx).Save(entity).Error; err != nil {
		if isIntegrityError(err) {
			m.logger.Error("integrity violation updating entity", "entity", m.name, "id", (*entity).PrimaryKey(), "error", err)
			return nil, fmt.Errorf("%w: updating %s: %v", ErrIntegrity, m.name, err)
		}
		m.logger.Error("unexpected error updating entity", "entity", m.name, "id", (*entity).PrimaryKey(), "error", err)
		return nil, fmt.Errorf("%w: updating %s: %v", ErrUnexpected, m.name, err)
	}
	return entity, nil
}

// DeleteInstance removes an already-fetched entity by its primary key.
func (m *Manager[T]) DeleteInstance(ctx context.Context, entity *T) error {
	if entity == nil {
		return nil
	}

	if err := m.db.WithContext(ctx).Delete(entity).Error; err != nil {
		m.logger.Error("unexpected error deleting entity", "entity", m.name, "id", (*entity).PrimaryKey(), "error", err)
		return fmt.Errorf("%w: deleting %s: %v", ErrUnexpected, m.name, err)
	}
	return nil
}

// BulkCreateInstances persists entities in chunks of batchSize (0 means the
// manager default). On an integrity violation the result is an empty slice
// with the failure logged: the backend may have partially committed, so
// callers needing certainty must re-verify state. Any other failure is
// logged and returned, since bulk callers are assumed to wrap retries.
func (m *Manager[T]) BulkCreateInstances(ctx context.Context, entities []*T, batchSize int) ([]*T, error) {
	if len(entities) == 0 {
		return []*T{}, nil
	}
	if batchSize <= 0 {
		batchSize = m.batchSize
	}

	if err := m.db.WithContext(ctx).CreateInBatches(entities, batchSize).Error; err != nil {
		if isIntegrityError(err) {
			m.logger.Error("integrity violation in bulk create", "entity", m.name, "count", len(entities), "error", err)
			return []*T{}, nil
		}
		m.logger.Error("unexpected error in bulk create", "entity", m.name, "count", len(entities), "error", err)
		return nil, fmt.Errorf("%w: bulk creating %s: %v", ErrUnexpected, m.name, err)
	}
	return entities, nil
}

// BulkUpdateInstances persists the named fields of each entity, chunked into
// batches of batchSize processed strictly in input order. Each batch runs in
// its own transaction: a failure partway leaves earlier batches committed.
// Empty entities or fields are a no-op. Failure handling mirrors bulk create.
func (m *Manager[T]) BulkUpdateInstances(ctx context.Context, entities []*T, fields []string, batchSize int) ([]*T, error) {
	if len(entities) == 0 || len(fields) == 0 {
		return []*T{}, nil
	}
	if err := validateFieldNames[T](fields); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = m.batchSize
	}

	for _, batch := range chunkEntities(entities, batchSize) {
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, entity := range batch {
				if err := tx.Model(entity).Select(fields).Updates(*entity).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if isIntegrityError(err) {
				m.logger.Error("integrity violation in bulk update", "entity", m.name, "count", len(entities), "error", err)
				return []*T{}, nil
			}
			m.logger.Error("unexpected error in bulk update", "entity", m.name, "count", len(entities), "error", err)
			return nil, fmt.Errorf("%w: bulk updating %s: %v", ErrUnexpected, m.name, err)
		}
	}
	return entities, nil
}

// BulkDeleteInstances removes every entity matching the predicate and
// returns the exact set that was removed. An empty predicate returns an
// empty result without querying storage, as a guard against an accidental
// delete-everything. The fetch-then-delete-by-id sequence guarantees the
// returned set is the deleted set even if the predicate would match
// differently between the two steps.
func (m *Manager[T]) BulkDeleteInstances(ctx context.Context, predicate Predicate) ([]T, error) {
	if len(predicate) == 0 {
		m.logger.Debug("bulk delete with empty predicate, skipping", "entity", m.name)
		return []T{}, nil
	}

	matched, err := m.FilterBy(ctx, predicate)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return []T{}, nil
	}

	ids := make([]int64, len(matched))
	for i := range matched {
		ids[i] = matched[i].PrimaryKey()
	}

	if err := m.db.WithContext(ctx).Where("id IN ?", ids).Delete(new(T)).Error; err != nil {
		if isIntegrityError(err) {
			m.logger.Error("integrity violation in bulk delete", "entity", m.name, "count", len(ids), "error", err)
			return []T{}, nil
		}
		m.logger.Error("unexpected error in bulk delete", "entity", m.name, "count", len(ids), "error", err)
		return nil, fmt.Errorf("%w: bulk deleting %s: %v", ErrUnexpected, m.name, err)
	}
	return matched, nil
}

// chunkEntities splits entities into consecutive chunks of at most size,
// preserving input order.
func chunkEntities[T any](entities []*T, size int) [][]*T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	chunks := make([][]*T, 0, (len(entities)+size-1)/size)
	for start := 0; start < len(entities); start += size {
		end := start + size
		if end > len(entities) {
			end = len(entities)
		}
		chunks = append(chunks, entities[start:end])
	}
	return chunks
}

// isIntegrityError classifies a durable-layer error as a constraint
// violation. Covers GORM's translated errors, raw MySQL error numbers and
// the textual form SQLite reports.
func isIntegrityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}

	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1048, 1062, 1451, 1452, 3819:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "constraint") || strings.Contains(msg, "UNIQUE")
}
