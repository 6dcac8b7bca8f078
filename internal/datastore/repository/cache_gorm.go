package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diitku/diitku-offline/internal/datastore/entities"
	"github.com/diitku/diitku-offline/internal/errors"
)

// cacheRepository implements CacheRepository on top of GORM.
type cacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a CacheRepository backed by db. The schema
// must already be migrated (see datastore.Open).
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{db: db}
}

// EnsureBucket returns the named bucket, creating it when missing.
func (r *cacheRepository) EnsureBucket(ctx context.Context, name string) (*entities.CacheBucket, error) {
	bucket := entities.CacheBucket{Name: name}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&bucket).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create cache bucket %q: %w", name, err)
	}
	return r.findBucket(ctx, r.db, name)
}

func (r *cacheRepository) findBucket(ctx context.Context, db *gorm.DB, name string) (*entities.CacheBucket, error) {
	var bucket entities.CacheBucket
	if err := db.WithContext(ctx).Where("name = ?", name).First(&bucket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBucketNotFound
		}
		return nil, fmt.Errorf("failed to get cache bucket %q: %w", name, err)
	}
	return &bucket, nil
}

// HasBucket reports whether the named bucket exists.
func (r *cacheRepository) HasBucket(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.CacheBucket{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up cache bucket %q: %w", name, err)
	}
	return count > 0, nil
}

// ListBuckets returns every bucket ordered by creation.
func (r *cacheRepository) ListBuckets(ctx context.Context) ([]entities.CacheBucket, error) {
	var buckets []entities.CacheBucket
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&buckets).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache buckets: %w", err)
	}
	return buckets, nil
}

// DeleteBucket removes the bucket and all of its entries.
func (r *cacheRepository) DeleteBucket(ctx context.Context, name string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bucket, err := r.findBucket(ctx, tx, name)
		if errors.Is(err, ErrBucketNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("bucket_id = ?", bucket.ID).Delete(&entities.CacheEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries of bucket %q: %w", name, err)
		}
		if err := tx.Delete(bucket).Error; err != nil {
			return fmt.Errorf("failed to delete cache bucket %q: %w", name, err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// PutResponses upserts all responses inside one transaction.
func (r *cacheRepository) PutResponses(ctx context.Context, bucket string, responses []entities.StoredResponse) error {
	if len(responses) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := r.findBucket(ctx, tx, bucket)
		if err != nil {
			return err
		}
		rows := make([]entities.CacheEntry, 0, len(responses))
		for i := range responses {
			row, err := toEntry(b.ID, &responses[i])
			if err != nil {
				return fmt.Errorf("failed to encode response for %s: %w", responses[i].URL, err)
			}
			rows = append(rows, row)
		}
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "bucket_id"}, {Name: "method"}, {Name: "url_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"url", "status", "status_text", "headers", "body", "encoding", "size", "updated_at",
			}),
		}).Create(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to store %d responses in bucket %q: %w", len(rows), bucket, err)
		}
		return nil
	})
}

// MatchResponse looks up a stored response, in one bucket or across all.
func (r *cacheRepository) MatchResponse(ctx context.Context, bucket, method, url string) (*entities.StoredResponse, error) {
	var entry entities.CacheEntry
	query := r.db.WithContext(ctx).
		Select("cache_entries.*").
		Joins("JOIN cache_buckets ON cache_buckets.id = cache_entries.bucket_id").
		Where("cache_entries.method = ? AND cache_entries.url_hash = ?", method, entities.HashURL(url))
	if bucket != "" {
		query = query.Where("cache_buckets.name = ?", bucket)
	}
	if err := query.Order("cache_buckets.id ASC").Take(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to match %s %s: %w", method, url, err)
	}

	name := bucket
	if name == "" {
		var b entities.CacheBucket
		if err := r.db.WithContext(ctx).First(&b, entry.BucketID).Error; err != nil {
			return nil, fmt.Errorf("failed to resolve bucket %d: %w", entry.BucketID, err)
		}
		name = b.Name
	}
	return fromEntry(name, &entry)
}

// DeleteResponse removes one entry from a bucket.
func (r *cacheRepository) DeleteResponse(ctx context.Context, bucket, method, url string) (bool, error) {
	b, err := r.findBucket(ctx, r.db, bucket)
	if err != nil {
		return false, err
	}
	result := r.db.WithContext(ctx).
		Where("bucket_id = ? AND method = ? AND url_hash = ?", b.ID, method, entities.HashURL(url)).
		Delete(&entities.CacheEntry{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete %s %s from %q: %w", method, url, bucket, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListKeys returns the request keys stored in a bucket, oldest first.
func (r *cacheRepository) ListKeys(ctx context.Context, bucket string) ([]RequestKey, error) {
	b, err := r.findBucket(ctx, r.db, bucket)
	if err != nil {
		return nil, err
	}
	var keys []RequestKey
	err = r.db.WithContext(ctx).Model(&entities.CacheEntry{}).
		Select("method, url").
		Where("bucket_id = ?", b.ID).
		Order("id ASC").
		Scan(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of bucket %q: %w", bucket, err)
	}
	return keys, nil
}

// Stats returns entry counts and stored byte totals per bucket.
func (r *cacheRepository) Stats(ctx context.Context) ([]entities.BucketStats, error) {
	buckets, err := r.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}

	type aggregate struct {
		BucketID uint
		Entries  int64
		Bytes    int64
	}
	var aggs []aggregate
	err = r.db.WithContext(ctx).Model(&entities.CacheEntry{}).
		Select("bucket_id, COUNT(*) AS entries, COALESCE(SUM(size), 0) AS bytes").
		Group("bucket_id").
		Scan(&aggs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cache entries: %w", err)
	}
	byID := make(map[uint]aggregate, len(aggs))
	for _, a := range aggs {
		byID[a.BucketID] = a
	}

	stats := make([]entities.BucketStats, 0, len(buckets))
	for i := range buckets {
		a := byID[buckets[i].ID]
		stats = append(stats, entities.BucketStats{
			Name:      buckets[i].Name,
			Entries:   a.Entries,
			Bytes:     a.Bytes,
			CreatedAt: buckets[i].CreatedAt,
		})
	}
	return stats, nil
}
