package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmarcus006/web-scraper-legal/pkg/config"
)

var (
	scrapeStartDate    string
	scrapeEndDate      string
	scrapeDownloadPDFs bool
	scrapeWorkers      int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Search a date range and download the resulting opinions",
	Long: `Search the opinion index month by month over the given date range,
queue every result, and download the PDFs.

Windows already searched by a previous run are skipped, as are
documents already on disk, so re-running over the same range only does
the remaining work.`,
	Example: `  # Everything filed in 2023
  dawson scrape --start 2023-01-01 --end 2023-12-31

  # Metadata only, no PDFs
  dawson scrape --start 2023-01-01 --end 2023-06-30 --download-pdfs=false`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVar(&scrapeStartDate, "start", "", "start date (YYYY-MM-DD)")
	scrapeCmd.Flags().StringVar(&scrapeEndDate, "end", "", "end date (YYYY-MM-DD, default today)")
	scrapeCmd.Flags().BoolVar(&scrapeDownloadPDFs, "download-pdfs", true, "download PDFs after searching")
	scrapeCmd.Flags().IntVar(&scrapeWorkers, "workers", 0, "parallel download workers (overrides config)")
}

func runScrape(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if scrapeWorkers > 0 {
		a.cfg.Download.ParallelWorkers = scrapeWorkers
	}

	start, end, err := resolveRange(a.cfg)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	return exitCode(a.scraper.Run(ctx, start, end, scrapeDownloadPDFs))
}

// resolveRange merges flags and config into the effective date range.
func resolveRange(cfg *config.Config) (time.Time, time.Time, error) {
	startStr := scrapeStartDate
	if startStr == "" {
		startStr = cfg.Scrape.StartDate
	}
	if startStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("a start date is required (--start or START_DATE)")
	}
	start, err := config.ParseDate(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	endStr := scrapeEndDate
	if endStr == "" {
		endStr = cfg.Scrape.EndDate
	}
	end := time.Now().Truncate(24 * time.Hour)
	if endStr != "" {
		if end, err = config.ParseDate(endStr); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return start, end, nil
}
