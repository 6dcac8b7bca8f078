package datastore

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/datastore/entities"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
)

func TestOpen_Drivers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings func(t *testing.T) conf.StorageSettings
		hasDB    bool
	}{
		{
			name: "memory",
			settings: func(t *testing.T) conf.StorageSettings {
				t.Helper()
				return conf.StorageSettings{Driver: conf.DriverMemory}
			},
		},
		{
			name: "sqlite file",
			settings: func(t *testing.T) conf.StorageSettings {
				t.Helper()
				return conf.StorageSettings{Driver: conf.DriverSQLite, DSN: filepath.Join(t.TempDir(), "cache.db")}
			},
			hasDB: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, err := Open(tt.settings(t), logger.Discard())
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			assert.Equal(t, tt.hasDB, store.DB() != nil)

			ctx := t.Context()
			_, err = store.Cache.EnsureBucket(ctx, "diitku-v1")
			require.NoError(t, err)
			err = store.Cache.PutResponses(ctx, "diitku-v1", []entities.StoredResponse{{
				Method: http.MethodGet, URL: "http://localhost:8080/", Status: http.StatusOK, Body: []byte("ok"),
			}})
			require.NoError(t, err)

			got, err := store.Cache.MatchResponse(ctx, "", http.MethodGet, "http://localhost:8080/")
			require.NoError(t, err)
			assert.Equal(t, "ok", string(got.Body))
		})
	}
}

func TestOpen_SQLitePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	settings := conf.StorageSettings{Driver: conf.DriverSQLite, DSN: filepath.Join(t.TempDir(), "cache.db")}

	store, err := Open(settings, logger.Discard())
	require.NoError(t, err)
	_, err = store.Cache.EnsureBucket(t.Context(), "diitku-static-v2")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(settings, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ok, err := store.Cache.HasBucket(t.Context(), "diitku-static-v2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(conf.StorageSettings{Driver: "postgres"}, logger.Discard())
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func TestSQLiteDSN(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "cache.db?_foreign_keys=ON", sqliteDSN("cache.db"))
	assert.Equal(t, "file:cache.db?mode=rwc&_foreign_keys=ON", sqliteDSN("file:cache.db?mode=rwc"))
}
