// Package bootstrap builds the worker's components from the settings. The
// serve command and the one-shot CLI commands share it.
package bootstrap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/diitku/diitku-offline/internal/cachestorage"
	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/datastore"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/network"
	"github.com/diitku/diitku-offline/internal/notification"
	"github.com/diitku/diitku-offline/internal/observability/metrics"
	"github.com/diitku/diitku-offline/internal/worker"
)

// Runtime holds what every command needs: storage, the outbound client
// and metrics.
type Runtime struct {
	Settings *conf.Settings
	Store    *datastore.Store
	Storage  *cachestorage.Storage
	Fetcher  network.Fetcher
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Log      logger.Logger
}

// Open opens storage and creates the metrics registry.
func Open(settings *conf.Settings, log logger.Logger) (*Runtime, error) {
	if settings == nil {
		return nil, errors.Newf("settings not loaded").
			Component("bootstrap").
			Category(errors.CategoryConfiguration).
			Build()
	}
	store, err := datastore.Open(settings.Storage, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Runtime{
		Settings: settings,
		Store:    store,
		Storage:  cachestorage.New(store.Cache, log),
		Fetcher:  network.NewClient(settings.Network, nil),
		Registry: reg,
		Metrics:  m,
		Log:      log,
	}, nil
}

// WorkerDeps are the optional collaborators of a worker.
type WorkerDeps struct {
	Clients worker.ClientController
	Push    worker.PushHandler
	Click   worker.ClickHandler
	Sync    worker.SyncHandler
}

// NewWorker builds the configured worker version.
func (r *Runtime) NewWorker(deps WorkerDeps) (*worker.Worker, error) {
	profile, err := worker.ProfileFor(r.Settings.Worker.Version)
	if err != nil {
		return nil, err
	}
	return worker.New(worker.Options{
		Profile:      profile,
		Origin:       r.Settings.Worker.Origin,
		Storage:      r.Storage,
		Fetcher:      r.Fetcher,
		Clients:      deps.Clients,
		Push:         deps.Push,
		Click:        deps.Click,
		Sync:         deps.Sync,
		InstallRetry: r.Settings.Install,
		Metrics:      r.Metrics,
		Log:          r.Log,
	})
}

// Close releases storage.
func (r *Runtime) Close() error {
	return r.Store.Close()
}

// Displayers returns the configured notification targets besides the log.
func Displayers(settings conf.NotificationSettings, timeout time.Duration) ([]notification.Displayer, error) {
	var out []notification.Displayer
	if len(settings.ShoutrrrURLs) > 0 {
		d, err := notification.NewShoutrrrDisplayer(settings.ShoutrrrURLs, timeout)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if settings.MQTT.Broker != "" {
		out = append(out, notification.NewMQTTDisplayer(settings.MQTT))
	}
	return out, nil
}
