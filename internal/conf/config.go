// Package conf holds the worker settings and their loading from config
// files, environment variables and command-line flags.
package conf

import (
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/diitku/diitku-offline/internal/errors"
)

// Supported worker versions.
const (
	VersionV1 = "v1"
	VersionV2 = "v2"
)

// Supported storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Settings is the root configuration.
type Settings struct {
	Worker       WorkerSettings       `mapstructure:"worker" yaml:"worker" json:"worker"`
	Server       ServerSettings       `mapstructure:"server" yaml:"server" json:"server"`
	Storage      StorageSettings      `mapstructure:"storage" yaml:"storage" json:"storage"`
	Network      NetworkSettings      `mapstructure:"network" yaml:"network" json:"network"`
	Install      RetrySettings        `mapstructure:"install" yaml:"install" json:"install"`
	Sync         RetrySettings        `mapstructure:"sync" yaml:"sync" json:"sync"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification" json:"notification"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry" json:"sentry"`
	Log          LogSettings          `mapstructure:"log" yaml:"log" json:"log"`
}

// WorkerSettings selects the worker version and the application origin
// that relative manifest entries and requests resolve against.
type WorkerSettings struct {
	Version string `mapstructure:"version" yaml:"version" json:"version"`
	Origin  string `mapstructure:"origin" yaml:"origin" json:"origin"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen" json:"listen"`
	// ControlRateLimit is the per-client request rate allowed on /_sw/ routes.
	ControlRateLimit float64 `mapstructure:"control_rate_limit" yaml:"control_rate_limit" json:"control_rate_limit"`
}

// StorageSettings selects where cache buckets live.
type StorageSettings struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}

// NetworkSettings tunes outbound fetches. A zero timeout means none.
type NetworkSettings struct {
	Timeout   Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`
}

// RetrySettings controls exponential backoff for host-level retries.
type RetrySettings struct {
	MaxAttempts     int      `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	InitialInterval Duration `mapstructure:"initial_interval" yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     Duration `mapstructure:"max_interval" yaml:"max_interval" json:"max_interval"`
}

// NotificationSettings configures where push notifications are displayed.
type NotificationSettings struct {
	ShoutrrrURLs []string     `mapstructure:"shoutrrr_urls" yaml:"shoutrrr_urls" json:"shoutrrr_urls"`
	MQTT         MQTTSettings `mapstructure:"mqtt" yaml:"mqtt" json:"mqtt"`
	// TTL is how long a displayed notification can still be clicked.
	TTL Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	// HistoryBytes bounds the notifications replayed to new streams.
	HistoryBytes int `mapstructure:"history_bytes" yaml:"history_bytes" json:"history_bytes"`
}

// MQTTSettings configures the MQTT display target. Empty broker disables it.
type MQTTSettings struct {
	Broker   string `mapstructure:"broker" yaml:"broker" json:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic" json:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
}

// SentrySettings enables error telemetry when DSN is set.
type SentrySettings struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json" json:"json"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() *Settings {
	return &Settings{
		Worker: WorkerSettings{
			Version: VersionV2,
			Origin:  "http://localhost:8080",
		},
		Server: ServerSettings{
			Listen:           ":8090",
			ControlRateLimit: 10,
		},
		Storage: StorageSettings{
			Driver: DriverSQLite,
			DSN:    "diitku-cache.db",
		},
		Network: NetworkSettings{
			UserAgent: "diitku-offline-worker",
		},
		Install: RetrySettings{
			MaxAttempts:     5,
			InitialInterval: Duration(time.Second),
			MaxInterval:     Duration(30 * time.Second),
		},
		Sync: RetrySettings{
			MaxAttempts:     3,
			InitialInterval: Duration(2 * time.Second),
			MaxInterval:     Duration(time.Minute),
		},
		Notification: NotificationSettings{
			MQTT: MQTTSettings{
				Topic:    "diitku/notifications",
				ClientID: "diitku-offline-worker",
			},
			TTL:          Duration(24 * time.Hour),
			HistoryBytes: 64 << 10,
		},
		Log: LogSettings{
			Level: "info",
		},
	}
}

// Validate checks settings that would otherwise fail late.
func (s *Settings) Validate() error {
	if !slices.Contains([]string{VersionV1, VersionV2}, s.Worker.Version) {
		return configError("worker.version must be v1 or v2", "version", s.Worker.Version)
	}
	u, err := url.Parse(s.Worker.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return configError("worker.origin must be an absolute URL", "origin", s.Worker.Origin)
	}
	if !slices.Contains([]string{DriverSQLite, DriverMySQL, DriverMemory}, s.Storage.Driver) {
		return configError("storage.driver must be sqlite, mysql or memory", "driver", s.Storage.Driver)
	}
	if s.Storage.Driver != DriverMemory && s.Storage.DSN == "" {
		return configError("storage.dsn is required", "driver", s.Storage.Driver)
	}
	if s.Install.MaxAttempts < 1 {
		return configError("install.max_attempts must be at least 1", "max_attempts", s.Install.MaxAttempts)
	}
	if s.Sync.MaxAttempts < 1 {
		return configError("sync.max_attempts must be at least 1", "max_attempts", s.Sync.MaxAttempts)
	}
	return nil
}

func configError(msg, key string, value any) error {
	return errors.Newf("%s", msg).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context(key, value).
		Build()
}

var (
	settingsMu sync.RWMutex
	settings   *Settings
)

// SetSettings stores the process-wide settings.
func SetSettings(s *Settings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	settings = s
}

// GetSettings returns the process-wide settings, or nil before loading.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}
