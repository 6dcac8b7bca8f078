// Package serve runs the worker behind its HTTP front.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/diitku/diitku-offline/internal/api"
	"github.com/diitku/diitku-offline/internal/bootstrap"
	"github.com/diitku/diitku-offline/internal/clients"
	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/notification"
	"github.com/diitku/diitku-offline/internal/telemetry"
	"github.com/diitku/diitku-offline/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Command creates the serve command.
func Command(v *viper.Viper, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Install and activate the worker, then serve requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, conf.GetSettings(), version)
		},
	}
	cmd.Flags().String("listen", "", "listen address (default :8090)")
	_ = v.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func run(ctx context.Context, settings *conf.Settings, version string) error {
	log := logger.Global().Module("serve")

	rt, err := bootstrap.Open(settings, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("failed to close storage", logger.Error(err))
		}
	}()

	reporter, err := telemetry.New(settings.Sentry, version)
	if err != nil {
		return err
	}
	defer reporter.Flush(2 * time.Second)

	registry := clients.NewRegistry(log)
	displayers, err := bootstrap.Displayers(settings.Notification, settings.Network.Timeout.Std())
	if err != nil {
		return err
	}
	if err := notification.Initialize(&notification.ServiceConfig{
		Origin:       settings.Worker.Origin,
		Displayers:   displayers,
		Opener:       registry,
		TTL:          settings.Notification.TTL.Std(),
		HistoryBytes: settings.Notification.HistoryBytes,
		Metrics:      rt.Metrics,
		Log:          log,
	}); err != nil {
		return err
	}
	defer func() {
		if svc := notification.GetService(); svc != nil {
			_ = svc.Close()
		}
	}()

	w, err := rt.NewWorker(bootstrap.WorkerDeps{Clients: registry})
	if err != nil {
		return err
	}
	defer w.Close()
	w.OnStateChange(func(change *worker.StateChange) {
		if change.To != worker.StateRedundant {
			return
		}
		reporter.CaptureError(errors.Newf("worker %s became redundant: %s", change.Version, change.Err).
			Component("worker").
			Category(errors.CategoryLifecycle).
			Build(), map[string]string{"version": change.Version})
	})

	srv := api.New(api.Config{
		Worker:           w,
		Clients:          registry,
		SyncRetry:        settings.Sync,
		ControlRateLimit: settings.Server.ControlRateLimit,
		Gatherer:         rt.Registry,
		Reporter:         reporter,
		Log:              log,
	})
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(settings.Server.Listen)
	}()

	// Until activation the server passes requests through to the network.
	startCtx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()
	started := make(chan error, 1)
	go func() {
		started <- w.Start(startCtx)
	}()

	select {
	case err := <-serveErr:
		cancelStart()
		<-started
		return err
	case err := <-started:
		if err != nil {
			log.Error("worker did not activate, serving from the network only", logger.Error(err))
		} else {
			log.Info("worker started",
				logger.String("version", w.Profile().Version),
				logger.String("state", string(w.State())))
		}
	}

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serveErr
}
