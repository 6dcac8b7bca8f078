package cachestorage

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/datastore/repository"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/network"
)

var manifest = []string{
	"http://localhost:8080/",
	"http://localhost:8080/index.html",
	"http://localhost:8080/manifest.json",
}

func setupStorage(t *testing.T) (*Storage, *network.Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client := network.NewClient(conf.NetworkSettings{}, transport)
	return New(repository.NewMemoryCacheRepository(), logger.Discard()), client, transport
}

func registerManifest(transport *httpmock.MockTransport) {
	for _, u := range manifest {
		transport.RegisterResponder(http.MethodGet, u, httpmock.NewStringResponder(http.StatusOK, "asset:"+u))
	}
}

func TestCache_AddAllStoresEveryEntry(t *testing.T) {
	t.Parallel()
	storage, client, transport := setupStorage(t)
	registerManifest(transport)
	ctx := t.Context()

	cache, err := storage.Open(ctx, "diitku-static-v2")
	require.NoError(t, err)
	n, err := cache.AddAll(ctx, client, manifest)
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Equal(t, len(manifest), transport.GetTotalCallCount())

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, len(manifest))

	// Lookups are served without touching the network.
	transport.ZeroCallCounters()
	for _, u := range manifest {
		resp, ok, err := storage.Match(ctx, http.MethodGet, u)
		require.NoError(t, err)
		require.True(t, ok, u)
		assert.Equal(t, "asset:"+u, string(resp.Body))
	}
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestCache_AddAllIsAllOrNothing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"transport error", httpmock.NewErrorResponder(assert.AnError)},
		{"not found", httpmock.NewStringResponder(http.StatusNotFound, "missing")},
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			storage, client, transport := setupStorage(t)
			registerManifest(transport)
			transport.RegisterResponder(http.MethodGet, manifest[1], tt.responder)
			ctx := t.Context()

			cache, err := storage.Open(ctx, "diitku-v1")
			require.NoError(t, err)
			_, err = cache.AddAll(ctx, client, manifest)
			require.ErrorIs(t, err, ErrFetchFailed)

			keys, err := cache.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys, "no entry may be stored when one fetch fails")
		})
	}
}

func TestStorage_MatchOnlyGET(t *testing.T) {
	t.Parallel()
	storage, client, transport := setupStorage(t)
	registerManifest(transport)
	ctx := t.Context()

	cache, err := storage.Open(ctx, "diitku-v1")
	require.NoError(t, err)
	_, err = cache.AddAll(ctx, client, manifest[:1])
	require.NoError(t, err)

	_, ok, err := storage.Match(ctx, http.MethodPost, manifest[0])
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = storage.Match(ctx, http.MethodGet, "http://localhost:8080/nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorage_KeysHasDelete(t *testing.T) {
	t.Parallel()
	storage, _, _ := setupStorage(t)
	ctx := t.Context()

	for _, name := range []string{"diitku-v1", "diitku-static-v2"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}
	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"diitku-v1", "diitku-static-v2"}, keys)

	deleted, err := storage.Delete(ctx, "diitku-v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	ok, err := storage.Has(ctx, "diitku-v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_PutAndDelete(t *testing.T) {
	t.Parallel()
	storage, _, _ := setupStorage(t)
	ctx := t.Context()

	cache, err := storage.Open(ctx, "diitku-dynamic-v2")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.Header().Set("Connection", "close")
	rec.WriteHeader(http.StatusOK)
	_, _ = rec.WriteString(`{"ok":true}`)
	require.NoError(t, cache.Put(ctx, "http://localhost:8080/api/summary", rec.Result()))

	got, ok, err := cache.Match(ctx, http.MethodGet, "http://localhost:8080/api/summary")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"ok":true}`, string(got.Body))
	assert.Empty(t, got.Header.Get("Connection"))

	deleted, err := cache.Delete(ctx, http.MethodGet, "http://localhost:8080/api/summary")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestWriteResponse(t *testing.T) {
	t.Parallel()
	storage, client, transport := setupStorage(t)
	transport.RegisterResponder(http.MethodGet, manifest[2], func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, `{"name":"Diitku"}`)
		resp.Header.Set("Content-Type", "application/manifest+json")
		return resp, nil
	})
	ctx := t.Context()

	cache, err := storage.Open(ctx, "diitku-v1")
	require.NoError(t, err)
	_, err = cache.AddAll(ctx, client, manifest[2:])
	require.NoError(t, err)

	stored, ok, err := storage.Match(ctx, http.MethodGet, manifest[2])
	require.NoError(t, err)
	require.True(t, ok)

	rec := httptest.NewRecorder()
	require.NoError(t, WriteResponse(rec, stored))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/manifest+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "17", rec.Header().Get("Content-Length"))
	assert.JSONEq(t, `{"name":"Diitku"}`, rec.Body.String())
}
