package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyContent bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Cross-check completed downloads against the files on disk",
	Long: `Check that every download the database records as completed still
exists on disk with the recorded size. With --content, also probe each
file's PDF header.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		mismatches, err := a.scraper.Verify(ctx, verifyContent)
		if err != nil {
			return err
		}
		if len(mismatches) == 0 {
			cmd.Println("all completed downloads verified")
			return nil
		}

		for _, m := range mismatches {
			cmd.Printf("%s (%s): %s\n    %s\n", m.DocketNumber, m.DocketEntryID, m.Reason, m.Path)
		}
		return fmt.Errorf("%d of the completed downloads failed verification", len(mismatches))
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyContent, "content", false, "also check PDF headers")
}
