package repository

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/diitku/diitku-offline/internal/datastore/entities"
)

// setupCacheTestDB creates an in-memory SQLite database private to the test.
// Uses shared-cache mode with a single connection so all operations see the
// same database.
func setupCacheTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared&_foreign_keys=ON"), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(&entities.CacheBucket{}, &entities.CacheEntry{})
	require.NoError(t, err, "failed to migrate cache tables")
	return db
}

// repositoryFactories lists every CacheRepository implementation. Each must
// satisfy the same behaviour.
func repositoryFactories() map[string]func(t *testing.T) CacheRepository {
	return map[string]func(t *testing.T) CacheRepository{
		"gorm": func(t *testing.T) CacheRepository {
			t.Helper()
			return NewCacheRepository(setupCacheTestDB(t))
		},
		"memory": func(t *testing.T) CacheRepository {
			t.Helper()
			return NewMemoryCacheRepository()
		},
	}
}

func testResponse(url, body string) entities.StoredResponse {
	return entities.StoredResponse{
		Method:     http.MethodGet,
		URL:        url,
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
	}
}

func forEachRepository(t *testing.T, fn func(t *testing.T, repo CacheRepository)) {
	t.Helper()
	for name, factory := range repositoryFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestCacheRepository_EnsureBucketIsIdempotent(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CacheRepository) {
		ctx := t.Context()

		first, err := repo.EnsureBucket(ctx, "diitku-static-v2")
		require.NoError(t, err)
		second, err := repo.EnsureBucket(ctx, "diitku-static-v2")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		ok, err := repo.HasBucket(ctx, "diitku-static-v2")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.HasBucket(ctx, "diitku-v1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCacheRepository_ListBucketsInCreationOrder(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CacheRepository) {
		ctx := t.Context()
		for _, name := range []string{"diitku-static-v2", "diitku-dynamic-v2", "diitku-api-v2"} {
			_, err := repo.EnsureBucket(ctx, name)
			require.NoError(t, err)
		}

		buckets, err := repo.ListBuckets(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(buckets))
		for _, b := range buckets {
			names = append(names, b.Name)
		}
		assert.Equal(t, []string{"diitku-static-v2", "diitku-dynamic-v2", "diitku-api-v2"}, names)
	})
}

func TestCacheRepository_PutAndMatch(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CacheRepository) {
		ctx := t.Context()
		_, err := repo.EnsureBucket(ctx, "diitku-v1")
		require.NoError(t, err)

		large := strings.Repeat("chart.js ", 200)
		err = repo.PutResponses(ctx, "diitku-v1", []entities.StoredResponse{
			testResponse("http://localhost:8080/index.html", "<html></html>"),
			testResponse("https://cdn.jsdelivr.net/npm/chart.js", large),
		})
		require.NoError(t, err)

		got, err := repo.MatchResponse(ctx, "diitku-v1", http.MethodGet, "http://localhost:8080/index.html")
		require.NoError(t, err)
		assert.Equal(t, "diitku-v1", got.Bucket)
		assert.Equal(t, http.StatusOK, got.Status)
		assert.Equal(t, "<html></html>", string(got.Body))
		assert.Equal(t, "text/plain", got.Header.Get("Content-Type"))

		got, err = repo.MatchResponse(ctx, "", http.MethodGet, "https://cdn.jsdelivr.net/npm/chart.js")
		require.NoError(t, err)
		assert.Equal(t, large, string(got.Body), "compressed bodies must round-trip")
		assert.Equal(t, "diitku-v1", got.Bucket)

		_, err = repo.MatchResponse(ctx, "", http.MethodGet, "http://localhost:8080/missing")
		require.ErrorIs(t, err, ErrEntryNotFound)

		_, err = repo.MatchResponse(ctx, "", http.MethodPost, "http://localhost:8080/index.html")
		require.ErrorIs(t, err, ErrEntryNotFound, "method is part of the key")
	})
}

func TestCacheRepository_PutReplacesSameKey(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CacheRepository) {
		ctx := t.Context()
		_, err := repo.EnsureBucket(ctx, "diitku-v1")
		require.NoError(t, err)

		url := "http://localhost:8080/manifest.json"
		require.NoError(t, repo.PutResponses(ctx, "diitku-v1", []entities.StoredResponse{testResponse(url, "old")}))
		require.NoError(t, repo.PutResponses(ctx, "diitku-v1", []entities.StoredResponse{testResponse(url, "new")}))

		got, err := repo.MatchResponse(ctx, "diitku-v1", http.MethodGet, url)
		require.NoError(t, err)
		assert.Equal(t, "new", string(got.Body))

		keys, err := repo.ListKeys(ctx, "diitku-v1")
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})
}

func TestCacheRepository_PutIntoMissingBucket(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CacheRepository) {
		err := repo.PutResponses(t.Context(), "nope", []entities.StoredResponse{testResponse("http://x/", "x")})
		require.ErrorIs(t, err, ErrBucketNotFound)
	})
}

func TestCacheRepository_MatchAcrossBucketsPrefersOldest(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CacheRepository) {
		ctx := t.Context()
		url := "http://localhost:8080/"
		for _, b := range []struct{ name, body string }{
			{"diitku-static-v2", "static"},
			{"diitku-dynamic-v2", "dynamic"},
		} {
			_, err := repo.EnsureBucket(ctx, b.name)
			require.NoError(t, err)
			require.NoError(t, repo.PutResponses(ctx, b.name, []entities.StoredResponse{testResponse(url, b.body)}))
		}

		got, err := repo.MatchResponse(ctx, "", http.MethodGet, url)
		require.NoError(t, err)
		assert.Equal(t, "static", string(got.Body))
		assert.Equal(t, "diitku-static-v2", got.Bucket)

		got, err = repo.MatchResponse(ctx, "diitku-dynamic-v2", http.MethodGet, url)
		require.NoError(t, err)
		assert.Equal(t, "dynamic", string(got.Body))
	})
}

func TestCacheRepository_DeleteBucketRemovesEntries(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CacheRepository) {
		ctx := t.Context()
		url := "http://localhost:8080/index.html"
		_, err := repo.EnsureBucket(ctx, "diitku-v1")
		require.NoError(t, err)
		require.NoError(t, repo.PutResponses(ctx, "diitku-v1", []entities.StoredResponse{testResponse(url, "v1")}))

		deleted, err := repo.DeleteBucket(ctx, "diitku-v1")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.DeleteBucket(ctx, "diitku-v1")
		require.NoError(t, err)
		assert.False(t, deleted, "second delete reports absence")

		_, err = repo.MatchResponse(ctx, "", http.MethodGet, url)
		require.ErrorIs(t, err, ErrEntryNotFound)

		// Recreating the bucket starts empty.
		_, err = repo.EnsureBucket(ctx, "diitku-v1")
		require.NoError(t, err)
		keys, err := repo.ListKeys(ctx, "diitku-v1")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestCacheRepository_DeleteResponse(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CacheRepository) {
		ctx := t.Context()
		_, err := repo.EnsureBucket(ctx, "diitku-api-v2")
		require.NoError(t, err)
		require.NoError(t, repo.PutResponses(ctx, "diitku-api-v2", []entities.StoredResponse{
			testResponse("http://localhost:8080/a", "a"),
			testResponse("http://localhost:8080/b", "b"),
		}))

		deleted, err := repo.DeleteResponse(ctx, "diitku-api-v2", http.MethodGet, "http://localhost:8080/a")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.DeleteResponse(ctx, "diitku-api-v2", http.MethodGet, "http://localhost:8080/a")
		require.NoError(t, err)
		assert.False(t, deleted)

		keys, err := repo.ListKeys(ctx, "diitku-api-v2")
		require.NoError(t, err)
		assert.Equal(t, []RequestKey{{Method: http.MethodGet, URL: "http://localhost:8080/b"}}, keys)

		_, err = repo.DeleteResponse(ctx, "missing", http.MethodGet, "http://localhost:8080/b")
		require.ErrorIs(t, err, ErrBucketNotFound)
	})
}

func TestCacheRepository_Stats(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo CacheRepository) {
		ctx := t.Context()
		_, err := repo.EnsureBucket(ctx, "diitku-static-v2")
		require.NoError(t, err)
		_, err = repo.EnsureBucket(ctx, "diitku-dynamic-v2")
		require.NoError(t, err)
		require.NoError(t, repo.PutResponses(ctx, "diitku-static-v2", []entities.StoredResponse{
			testResponse("http://localhost:8080/", "1234"),
			testResponse("http://localhost:8080/index.html", "123456"),
		}))

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 2)
		assert.Equal(t, "diitku-static-v2", stats[0].Name)
		assert.Equal(t, int64(2), stats[0].Entries)
		assert.Equal(t, int64(10), stats[0].Bytes)
		assert.Equal(t, "diitku-dynamic-v2", stats[1].Name)
		assert.Zero(t, stats[1].Entries)
	})
}

func TestMemoryCacheRepository_ReturnsCopies(t *testing.T) {
	t.Parallel()
	repo := NewMemoryCacheRepository()
	ctx := t.Context()
	_, err := repo.EnsureBucket(ctx, "diitku-v1")
	require.NoError(t, err)
	require.NoError(t, repo.PutResponses(ctx, "diitku-v1", []entities.StoredResponse{testResponse("http://x/", "body")}))

	got, err := repo.MatchResponse(ctx, "diitku-v1", http.MethodGet, "http://x/")
	require.NoError(t, err)
	got.Body[0] = 'X'
	got.Header.Set("Content-Type", "changed")

	again, err := repo.MatchResponse(ctx, "diitku-v1", http.MethodGet, "http://x/")
	require.NoError(t, err)
	assert.Equal(t, "body", string(again.Body))
	assert.Equal(t, "text/plain", again.Header.Get("Content-Type"))
}

func TestDecodeBody_UnknownEncoding(t *testing.T) {
	t.Parallel()
	_, err := decodeBody([]byte("x"), "brotli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown body encoding")
}
