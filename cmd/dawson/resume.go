package main

import (
	"github.com/spf13/cobra"
)

var resumeDownloadPDFs bool

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Retry whatever a previous run left unfinished",
	Long: `Retry failed search windows and drain the download queue.

Nothing already completed is repeated: completed windows stay skipped
and documents already on disk are not fetched again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		return exitCode(a.scraper.Resume(ctx, resumeDownloadPDFs))
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().BoolVar(&resumeDownloadPDFs, "download-pdfs", true, "download PDFs after retrying searches")
}
