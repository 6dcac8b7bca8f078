//go:build integration

package datastore_test

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/datastore"
	"github.com/diitku/diitku-offline/internal/datastore/entities"
	"github.com/diitku/diitku-offline/internal/datastore/repository"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/testutil/containers"
)

var mysqlContainer *containers.MySQLContainer

func TestMain(m *testing.M) {
	var err error
	mysqlContainer, err = containers.NewMySQLContainer(context.Background(), nil)
	if err != nil {
		panic("failed to create MySQL container: " + err.Error())
	}

	code := m.Run()

	if err := mysqlContainer.Terminate(context.Background()); err != nil {
		panic("failed to terminate MySQL container: " + err.Error())
	}
	os.Exit(code)
}

func openMySQL(t *testing.T) *datastore.Store {
	t.Helper()
	store, err := datastore.Open(conf.StorageSettings{
		Driver: conf.DriverMySQL,
		DSN:    mysqlContainer.DSN(),
	}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mysqlContainer.Reset(context.Background(), "cache_entries", "cache_buckets"))
		_ = store.Close()
	})
	return store
}

func TestMySQL_CacheRoundTrip(t *testing.T) {
	store := openMySQL(t)
	ctx := t.Context()

	for _, name := range []string{"diitku-static-v2", "diitku-dynamic-v2"} {
		_, err := store.Cache.EnsureBucket(ctx, name)
		require.NoError(t, err)
	}

	// Long URLs exercise the hashed unique key.
	long := "https://cdn.jsdelivr.net/npm/chart.js?v=" + strings.Repeat("x", 600)
	err := store.Cache.PutResponses(ctx, "diitku-static-v2", []entities.StoredResponse{
		{Method: http.MethodGet, URL: long, Status: http.StatusOK, Body: []byte("chart")},
	})
	require.NoError(t, err)
	err = store.Cache.PutResponses(ctx, "diitku-static-v2", []entities.StoredResponse{
		{Method: http.MethodGet, URL: long, Status: http.StatusOK, Body: []byte("chart-updated")},
	})
	require.NoError(t, err)

	got, err := store.Cache.MatchResponse(ctx, "", http.MethodGet, long)
	require.NoError(t, err)
	assert.Equal(t, "chart-updated", string(got.Body))
	assert.Equal(t, "diitku-static-v2", got.Bucket)

	deleted, err := store.Cache.DeleteBucket(ctx, "diitku-static-v2")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.Cache.MatchResponse(ctx, "", http.MethodGet, long)
	require.ErrorIs(t, err, repository.ErrEntryNotFound)
}
