package cli

import (
	"fmt"

	"github.com/BenjaminSRussell/listingharvest/internal/export"
	"github.com/BenjaminSRussell/listingharvest/internal/storage"
	"github.com/spf13/cobra"
)

var reportDataDir string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the report of the last run",
	Long:  `Render the last run's report from the data directory as Markdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := storage.LoadReport(reportDataDir)
		if err != nil {
			return fmt.Errorf("no report found: %w", err)
		}
		return export.WriteReportMarkdown(cmd.OutOrStdout(), results)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDataDir, "data-dir", "./data", "Data storage directory")
}
