package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBatchCmd() *cobra.Command {
	var (
		flags       scrapeFlags
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "batch <url>...",
		Short: "Scrape several URLs through the worker pool and print the results as a JSON array.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := flags.options(a.DefaultOptions())
			if err != nil {
				return err
			}
			s := a.Scraper()
			if concurrency > 0 {
				s.SetConcurrency(concurrency)
			}
			results, err := s.ScrapeBatch(cmd.Context(), args, opts)
			if err != nil {
				return err
			}
			progress := s.Progress()
			a.Logger().Info("batch finished",
				zap.Int("requested", len(args)),
				zap.Int("completed", progress.CompletedJobs),
				zap.Int("failed", progress.FailedJobs))
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
	flags.bind(cmd.Flags())
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size (0 uses the configured default)")
	return cmd
}
