// Package bgsync triggers background sync from the command line.
package bgsync

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/diitku/diitku-offline/internal/backgroundsync"
	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/logger"
)

// Command creates the sync command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [tag]",
		Short: "Forward pending transactions for a sync tag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag := backgroundsync.TagTransactions
			if len(args) == 1 {
				tag = args[0]
			}
			log := logger.Global().Module("sync")
			m := backgroundsync.NewManager(backgroundsync.NoopStore{}, backgroundsync.NoopRemote{}, nil, log)
			return Run(cmd.Context(), m, conf.GetSettings().Sync, tag, log, cmd.OutOrStdout())
		},
	}
}

// Run syncs tag with retries and prints the result.
func Run(ctx context.Context, m *backgroundsync.Manager, retry conf.RetrySettings, tag string, log logger.Logger, out io.Writer) error {
	var result *backgroundsync.Result
	err := backgroundsync.Retry(ctx, retry, log, func(ctx context.Context) error {
		var err error
		result, err = m.Sync(ctx, tag)
		return err
	})
	if err != nil {
		return err
	}
	if result.Ignored {
		fmt.Fprintf(out, "%s: no handler for this tag\n", tag)
		return nil
	}
	fmt.Fprintf(out, "%s: %d pending, %d forwarded, %d failed\n", tag, result.Pending, result.Forwarded, result.Failed)
	return nil
}
