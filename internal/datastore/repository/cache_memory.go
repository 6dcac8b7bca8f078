package repository

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/diitku/diitku-offline/internal/datastore/entities"
)

const memoryBucketPrefix = "bucket:"

// memoryBucket holds one bucket's entries in insertion order.
type memoryBucket struct {
	meta    entities.CacheBucket
	order   []string
	entries map[string]entities.StoredResponse
}

func memoryKey(method, url string) string {
	return method + " " + url
}

// memoryCacheRepository keeps buckets in a go-cache instance without
// expiry. Contents are lost on restart.
type memoryCacheRepository struct {
	mu     sync.RWMutex
	store  *gocache.Cache
	nextID uint
}

// NewMemoryCacheRepository creates a CacheRepository that lives in memory.
func NewMemoryCacheRepository() CacheRepository {
	return &memoryCacheRepository{
		store: gocache.New(gocache.NoExpiration, 0),
	}
}

func (r *memoryCacheRepository) bucket(name string) (*memoryBucket, bool) {
	v, ok := r.store.Get(memoryBucketPrefix + name)
	if !ok {
		return nil, false
	}
	return v.(*memoryBucket), true
}

func (r *memoryCacheRepository) sortedBuckets() []*memoryBucket {
	items := r.store.Items()
	buckets := make([]*memoryBucket, 0, len(items))
	for key, item := range items {
		if b, ok := item.Object.(*memoryBucket); ok && strings.HasPrefix(key, memoryBucketPrefix) {
			buckets = append(buckets, b)
		}
	}
	slices.SortFunc(buckets, func(a, b *memoryBucket) int {
		return int(a.meta.ID) - int(b.meta.ID)
	})
	return buckets
}

func (r *memoryCacheRepository) EnsureBucket(_ context.Context, name string) (*entities.CacheBucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bucket(name); ok {
		meta := b.meta
		return &meta, nil
	}
	r.nextID++
	b := &memoryBucket{
		meta:    entities.CacheBucket{ID: r.nextID, Name: name, CreatedAt: time.Now()},
		entries: make(map[string]entities.StoredResponse),
	}
	r.store.Set(memoryBucketPrefix+name, b, gocache.NoExpiration)
	meta := b.meta
	return &meta, nil
}

func (r *memoryCacheRepository) HasBucket(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bucket(name)
	return ok, nil
}

func (r *memoryCacheRepository) ListBuckets(_ context.Context) ([]entities.CacheBucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sorted := r.sortedBuckets()
	out := make([]entities.CacheBucket, 0, len(sorted))
	for _, b := range sorted {
		out = append(out, b.meta)
	}
	return out, nil
}

func (r *memoryCacheRepository) DeleteBucket(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bucket(name); !ok {
		return false, nil
	}
	r.store.Delete(memoryBucketPrefix + name)
	return true, nil
}

func (r *memoryCacheRepository) PutResponses(_ context.Context, bucket string, responses []entities.StoredResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bucket(bucket)
	if !ok {
		return ErrBucketNotFound
	}
	now := time.Now()
	for i := range responses {
		resp := cloneResponse(&responses[i])
		resp.Bucket = bucket
		resp.StoredAt = now
		key := memoryKey(resp.Method, resp.URL)
		if _, exists := b.entries[key]; !exists {
			b.order = append(b.order, key)
		}
		b.entries[key] = resp
	}
	return nil
}

func (r *memoryCacheRepository) MatchResponse(_ context.Context, bucket, method, url string) (*entities.StoredResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*memoryBucket
	if bucket != "" {
		b, ok := r.bucket(bucket)
		if !ok {
			return nil, ErrEntryNotFound
		}
		candidates = []*memoryBucket{b}
	} else {
		candidates = r.sortedBuckets()
	}

	key := memoryKey(method, url)
	for _, b := range candidates {
		if resp, ok := b.entries[key]; ok {
			out := cloneResponse(&resp)
			return &out, nil
		}
	}
	return nil, ErrEntryNotFound
}

func (r *memoryCacheRepository) DeleteResponse(_ context.Context, bucket, method, url string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bucket(bucket)
	if !ok {
		return false, ErrBucketNotFound
	}
	key := memoryKey(method, url)
	if _, exists := b.entries[key]; !exists {
		return false, nil
	}
	delete(b.entries, key)
	b.order = slices.DeleteFunc(b.order, func(k string) bool { return k == key })
	return true, nil
}

func (r *memoryCacheRepository) ListKeys(_ context.Context, bucket string) ([]RequestKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bucket(bucket)
	if !ok {
		return nil, ErrBucketNotFound
	}
	keys := make([]RequestKey, 0, len(b.order))
	for _, k := range b.order {
		e := b.entries[k]
		keys = append(keys, RequestKey{Method: e.Method, URL: e.URL})
	}
	return keys, nil
}

func (r *memoryCacheRepository) Stats(_ context.Context) ([]entities.BucketStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sorted := r.sortedBuckets()
	stats := make([]entities.BucketStats, 0, len(sorted))
	for _, b := range sorted {
		var size int64
		for _, e := range b.entries {
			size += int64(len(e.Body))
		}
		stats = append(stats, entities.BucketStats{
			Name:      b.meta.Name,
			Entries:   int64(len(b.entries)),
			Bytes:     size,
			CreatedAt: b.meta.CreatedAt,
		})
	}
	return stats, nil
}

// cloneResponse copies the mutable parts so callers cannot alter stored data.
func cloneResponse(r *entities.StoredResponse) entities.StoredResponse {
	out := *r
	out.Body = slices.Clone(r.Body)
	if r.Header != nil {
		out.Header = http.Header(maps.Clone(map[string][]string(r.Header)))
		for k, v := range out.Header {
			out.Header[k] = slices.Clone(v)
		}
	}
	return out
}
