package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diitku/diitku-offline/internal/errors"
)

func TestDefaults_AreValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, Defaults().Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"unknown version", func(s *Settings) { s.Worker.Version = "v3" }},
		{"relative origin", func(s *Settings) { s.Worker.Origin = "/app" }},
		{"unknown driver", func(s *Settings) { s.Storage.Driver = "redis" }},
		{"missing dsn", func(s *Settings) { s.Storage.DSN = "" }},
		{"zero attempts", func(s *Settings) { s.Sync.MaxAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Defaults()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
		})
	}
}

func TestValidate_MemoryNeedsNoDSN(t *testing.T) {
	t.Parallel()
	s := Defaults()
	s.Storage.Driver = DriverMemory
	s.Storage.DSN = ""
	assert.NoError(t, s.Validate())
}

func TestLoad_FileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
worker:
  version: v1
  origin: https://app.diitku.test
storage:
  driver: memory
network:
  timeout: 15s
notification:
  shoutrrr_urls:
    - ntfy://ntfy.sh/diitku
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, VersionV1, s.Worker.Version)
	assert.Equal(t, "https://app.diitku.test", s.Worker.Origin)
	assert.Equal(t, DriverMemory, s.Storage.Driver)
	assert.Equal(t, 15*time.Second, s.Network.Timeout.Std())
	assert.Equal(t, []string{"ntfy://ntfy.sh/diitku"}, s.Notification.ShoutrrrURLs)

	// untouched keys keep their defaults
	assert.Equal(t, ":8090", s.Server.Listen)
	assert.Equal(t, 3, s.Sync.MaxAttempts)
	assert.Equal(t, 2*time.Second, s.Sync.InitialInterval.Std())
	assert.Equal(t, 24*time.Hour, s.Notification.TTL.Std())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DIITKU_WORKER_VERSION", "v1")
	t.Setenv("DIITKU_STORAGE_DRIVER", "memory")
	t.Setenv("DIITKU_SYNC_INITIAL_INTERVAL", "250ms")

	s, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, VersionV1, s.Worker.Version)
	assert.Equal(t, DriverMemory, s.Storage.Driver)
	assert.Equal(t, 250*time.Millisecond, s.Sync.InitialInterval.Std())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func TestLoad_InvalidSettings(t *testing.T) {
	t.Setenv("DIITKU_WORKER_VERSION", "v9")
	_, err := Load(NewViper(), "")
	require.Error(t, err)
}
