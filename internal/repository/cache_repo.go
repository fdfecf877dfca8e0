package repository

import (
	"context"
	"errors"
	"time"

	"bookfactory/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheRepository handles the generic key/value memo table.
type CacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a new CacheRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *CacheRepository: repository instance bound to db.
func NewCacheRepository(db *gorm.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Set upserts a cache entry; last write wins on key collision.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: cache key.
//   - value: serialized value.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *CacheRepository) Set(ctx context.Context, key, value string) error {
	entry := &domain.CacheEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(entry).Error
}

// Get retrieves a cache entry by key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: cache key.
// Returns:
//   - *domain.CacheEntry: entry, or nil when the key is absent.
//   - error: non-nil if the lookup fails.
func (r *CacheRepository) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	var entry domain.CacheEntry
	if err := r.db.WithContext(ctx).First(&entry, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}
