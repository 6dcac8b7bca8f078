// Package cmd holds the command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/diitku/diitku-offline/cmd/bgsync"
	"github.com/diitku/diitku-offline/cmd/buckets"
	"github.com/diitku/diitku-offline/cmd/lifecycle"
	"github.com/diitku/diitku-offline/cmd/serve"
	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/logger"
)

// Version is set at build time.
var Version = "dev"

// RootCommand builds the command tree. Settings are loaded before any
// subcommand runs and are available through conf.GetSettings.
func RootCommand() *cobra.Command {
	v := conf.NewViper()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "diitku-offline",
		Short:         "Offline worker for the Diitku web application",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, err := conf.Load(v, configFile)
			if err != nil {
				return err
			}
			conf.SetSettings(settings)
			return setupLogger(settings.Log)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default searches ./config.yaml, ~/.config/diitku, /etc/diitku)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("worker-version", "", "worker version to run: v1 or v2")
	flags.String("origin", "", "application origin, e.g. https://app.diitku.example")
	flags.String("storage-driver", "", "cache storage driver: sqlite, mysql or memory")
	flags.String("storage-dsn", "", "cache storage data source name")
	if err := bindFlags(v, rootCmd, map[string]string{
		"log.level":      "log-level",
		"worker.version": "worker-version",
		"worker.origin":  "origin",
		"storage.driver": "storage-driver",
		"storage.dsn":    "storage-dsn",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error binding flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(
		serve.Command(v, Version),
		lifecycle.InstallCommand(),
		lifecycle.ActivateCommand(),
		buckets.Command(),
		bgsync.Command(),
	)
	return rootCmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) error {
	for key, flag := range keys {
		if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

func setupLogger(settings conf.LogSettings) error {
	level, err := logger.ParseLevel(settings.Level)
	if err != nil {
		return err
	}
	logger.SetGlobal(logger.NewSlogLogger(os.Stderr, level, &logger.Options{JSON: settings.JSON}))
	return nil
}
