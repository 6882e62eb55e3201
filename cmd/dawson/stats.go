package main

import (
	"github.com/spf13/cobra"

	"github.com/mmarcus006/web-scraper-legal/pkg/models"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		stats, err := a.scraper.Stats(ctx)
		if err != nil {
			return err
		}

		cmd.Println("Download status:")
		for _, status := range []models.DownloadStatus{
			models.StatusCompleted, models.StatusSkipped, models.StatusPending,
			models.StatusInProgress, models.StatusFailed,
		} {
			cmd.Printf("  %-12s %d\n", status, stats.CountByStatus[status])
		}
		cmd.Printf("\nTotal downloaded: %s\n", models.FormatBytes(stats.TotalBytes))
		cmd.Printf("Success rate:     %.1f%%\n", stats.SuccessRate())
		if stats.AverageAttempts > 0 {
			cmd.Printf("Avg attempts (retried rows): %.1f\n", stats.AverageAttempts)
		}
		cmd.Printf("Completed searches: %d (%d opinions found)\n",
			stats.TotalSearches, stats.OpinionsFound)

		if len(stats.RecentFailures) > 0 {
			cmd.Println("\nRecent failures:")
			for _, f := range stats.RecentFailures {
				cmd.Printf("  %s  %s\n    %s\n", f.DocketNumber, f.DocumentTitle, f.ErrorMessage)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
