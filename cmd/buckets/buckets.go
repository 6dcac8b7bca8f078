// Package buckets inspects and removes cache buckets.
package buckets

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/labstack/gommon/bytes"
	"github.com/spf13/cobra"

	"github.com/diitku/diitku-offline/internal/bootstrap"
	"github.com/diitku/diitku-offline/internal/cachestorage"
	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/logger"
)

// Command creates the buckets command group.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "Inspect cache buckets",
	}
	cmd.AddCommand(listCommand(), deleteCommand())
	return cmd
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List buckets with entry counts and sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(func(s *cachestorage.Storage) error {
				return List(cmd.Context(), s, cmd.OutOrStdout())
			})
		},
	}
}

func deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a bucket and everything stored in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(func(s *cachestorage.Storage) error {
				return Delete(cmd.Context(), s, args[0], cmd.OutOrStdout())
			})
		},
	}
}

func withStorage(fn func(s *cachestorage.Storage) error) error {
	rt, err := bootstrap.Open(conf.GetSettings(), logger.Global().Module("buckets"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt.Storage)
}

// List writes one row per bucket.
func List(ctx context.Context, s *cachestorage.Storage, out io.Writer) error {
	stats, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENTRIES\tSIZE\tCREATED")
	for _, b := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", b.Name, b.Entries, bytes.Format(b.Bytes), b.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

// Delete removes a bucket. Deleting a missing bucket is not an error.
func Delete(ctx context.Context, s *cachestorage.Storage, name string, out io.Writer) error {
	deleted, err := s.Delete(ctx, name)
	if err != nil {
		return err
	}
	if deleted {
		fmt.Fprintf(out, "deleted %s\n", name)
	} else {
		fmt.Fprintf(out, "no bucket named %s\n", name)
	}
	return nil
}
