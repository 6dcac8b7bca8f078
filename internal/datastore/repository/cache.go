// Package repository provides persistence for cache buckets and their
// stored responses.
package repository

import (
	"context"

	"github.com/diitku/diitku-offline/internal/datastore/entities"
	"github.com/diitku/diitku-offline/internal/errors"
)

var (
	// ErrBucketNotFound is returned when a named bucket does not exist.
	ErrBucketNotFound = errors.NewStd("cache bucket not found")
	// ErrEntryNotFound is returned when no stored response matches a request.
	ErrEntryNotFound = errors.NewStd("cache entry not found")
)

// RequestKey identifies a stored response inside a bucket.
type RequestKey struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// CacheRepository stores named buckets of responses. Implementations are
// safe for concurrent use.
type CacheRepository interface {
	// EnsureBucket returns the named bucket, creating it if absent.
	EnsureBucket(ctx context.Context, name string) (*entities.CacheBucket, error)
	HasBucket(ctx context.Context, name string) (bool, error)
	// ListBuckets returns all buckets in creation order.
	ListBuckets(ctx context.Context) ([]entities.CacheBucket, error)
	// DeleteBucket removes a bucket and its entries. It reports whether
	// the bucket existed.
	DeleteBucket(ctx context.Context, name string) (bool, error)

	// PutResponses stores all responses into the bucket in one
	// transaction, replacing entries with the same key. Either every
	// response is stored or none is.
	PutResponses(ctx context.Context, bucket string, responses []entities.StoredResponse) error
	// MatchResponse finds a stored response. An empty bucket searches all
	// buckets in creation order and returns the first match.
	MatchResponse(ctx context.Context, bucket, method, url string) (*entities.StoredResponse, error)
	DeleteResponse(ctx context.Context, bucket, method, url string) (bool, error)
	ListKeys(ctx context.Context, bucket string) ([]RequestKey, error)

	Stats(ctx context.Context) ([]entities.BucketStats, error)
}
