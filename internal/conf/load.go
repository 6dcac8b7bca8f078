package conf

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/diitku/diitku-offline/internal/errors"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// DIITKU_WORKER_VERSION=v1 or DIITKU_STORAGE_DRIVER=memory.
const EnvPrefix = "DIITKU"

// NewViper returns a viper instance with defaults, search paths and
// environment binding configured.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "diitku"))
	}
	v.AddConfigPath("/etc/diitku")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Defaults())
	return v
}

func setDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("worker.version", d.Worker.Version)
	v.SetDefault("worker.origin", d.Worker.Origin)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.control_rate_limit", d.Server.ControlRateLimit)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("network.timeout", d.Network.Timeout.String())
	v.SetDefault("network.user_agent", d.Network.UserAgent)
	v.SetDefault("install.max_attempts", d.Install.MaxAttempts)
	v.SetDefault("install.initial_interval", d.Install.InitialInterval.String())
	v.SetDefault("install.max_interval", d.Install.MaxInterval.String())
	v.SetDefault("sync.max_attempts", d.Sync.MaxAttempts)
	v.SetDefault("sync.initial_interval", d.Sync.InitialInterval.String())
	v.SetDefault("sync.max_interval", d.Sync.MaxInterval.String())
	v.SetDefault("notification.shoutrrr_urls", d.Notification.ShoutrrrURLs)
	v.SetDefault("notification.mqtt.broker", d.Notification.MQTT.Broker)
	v.SetDefault("notification.mqtt.topic", d.Notification.MQTT.Topic)
	v.SetDefault("notification.mqtt.client_id", d.Notification.MQTT.ClientID)
	v.SetDefault("notification.mqtt.username", d.Notification.MQTT.Username)
	v.SetDefault("notification.mqtt.password", d.Notification.MQTT.Password)
	v.SetDefault("notification.ttl", d.Notification.TTL.String())
	v.SetDefault("notification.history_bytes", d.Notification.HistoryBytes)
	v.SetDefault("sentry.dsn", d.Sentry.DSN)
	v.SetDefault("sentry.environment", d.Sentry.Environment)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
}

// Load reads the config file (if any), applies environment overrides and
// decodes everything into Settings. An explicit configFile must exist; the
// default search is allowed to find nothing.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("file", configFile).
				Build()
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
