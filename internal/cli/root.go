package cli

import (
	"github.com/BenjaminSRussell/listingharvest/internal/config"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "listingharvest",
	Short: "A polite harvester for real-estate listing catalogs",
	Long: `listingharvest walks a paginated property catalog, visits every listing
detail page once and writes one normalized record per listing.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envFile)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: listingharvest.yaml in ./configs, . or the user config directory)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "File of LISTINGHARVEST_* variables to load if present")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(sitemapCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(reportCmd)
}
