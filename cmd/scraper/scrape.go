package main

import (
	"github.com/spf13/cobra"
)

func newScrapeCmd() *cobra.Command {
	var flags scrapeFlags
	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Scrape one URL and print the result as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := flags.options(a.DefaultOptions())
			if err != nil {
				return err
			}
			result, err := a.Scraper().Scrape(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	flags.bind(cmd.Flags())
	return cmd
}
