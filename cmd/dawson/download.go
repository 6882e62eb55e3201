package main

import (
	"github.com/spf13/cobra"
)

var downloadWorkers int

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download queued documents without searching",
	Long: `Drain the download queue built by earlier scrape runs. Useful after
a metadata-only scrape, or to retry failed downloads without touching
the search windows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		if downloadWorkers > 0 {
			a.cfg.Download.ParallelWorkers = downloadWorkers
		}

		ctx, cancel := commandContext()
		defer cancel()

		return exitCode(a.scraper.DownloadPending(ctx))
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Re-queue opinions from saved JSON search batches",
	Long: `Read every saved search batch under the JSON directory and queue any
opinions the database does not know about. Rebuilds the download queue
when the database was lost but the JSON files survived.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		queued, err := a.scraper.ImportJSON(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("queued %d opinions from saved batches\n", queued)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(importCmd)
	downloadCmd.Flags().IntVar(&downloadWorkers, "workers", 0, "parallel download workers (overrides config)")
}
