// Package lifecycle runs install and activation against the configured
// storage without serving requests.
package lifecycle

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/diitku/diitku-offline/internal/bootstrap"
	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/logger"
)

// InstallCommand fills the static bucket of the configured version.
func InstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Precache the static manifest into the current version's bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), conf.GetSettings(), cmd.OutOrStdout())
		},
	}
}

// ActivateCommand installs and then activates, deleting stale buckets.
// Lifecycle state lives in the serving process, so a standalone activate
// always installs first.
func ActivateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Install, then delete every bucket the current version does not use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivate(cmd.Context(), conf.GetSettings(), cmd.OutOrStdout())
		},
	}
}

func runInstall(ctx context.Context, settings *conf.Settings, out io.Writer) error {
	log := logger.Global().Module("install")
	rt, err := bootstrap.Open(settings, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	w, err := rt.NewWorker(bootstrap.WorkerDeps{})
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Install(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", w.Profile().StaticBucket, w.State())
	return nil
}

func runActivate(ctx context.Context, settings *conf.Settings, out io.Writer) error {
	log := logger.Global().Module("activate")
	rt, err := bootstrap.Open(settings, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	w, err := rt.NewWorker(bootstrap.WorkerDeps{})
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Install(ctx); err != nil {
		return err
	}
	if err := w.Activate(ctx); err != nil {
		return err
	}
	keys, err := rt.Storage.Keys(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s, buckets: %v\n", w.Profile().Version, w.State(), keys)
	return nil
}
