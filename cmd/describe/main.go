package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/describe-api/internal/client"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		serverURL string
		verbose   bool
		quiet     bool
	)

	newClient := func() *client.Client {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return client.New(serverURL, nil, logger)
	}

	root := &cobra.Command{
		Use:          "describe [image or directory...]",
		Short:        "Describe images with a running describe server",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := client.ExpandPaths(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no images found")
			}

			var progress io.Writer = os.Stderr
			if quiet {
				progress = nil
			}
			outcomes := newClient().DescribeAll(cmd.Context(), paths, progress)

			failed := 0
			out := cmd.OutOrStdout()
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", o.Path, o.Err)
					continue
				}
				fmt.Fprintf(out, "%s\n", o.Path)
				for _, l := range o.Result {
					fmt.Fprintf(out, "  %16s: %6.2f%%\n", l.Name, l.Confidence)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images failed", failed, len(outcomes))
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "describe server base URL")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log retries and requests")
	root.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show the server's cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := newClient().Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hits:            %d\n", stats.Hits)
			fmt.Fprintf(out, "misses:          %d\n", stats.Misses)
			fmt.Fprintf(out, "images_in_cache: %d\n", stats.Size)
			if stats.Evictions > 0 {
				fmt.Fprintf(out, "evictions:       %d\n", stats.Evictions)
			}
			fmt.Fprintf(out, "hit ratio:       %.1f%%\n", 100*stats.HitRatio())
			return nil
		},
	})

	return root
}
