package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BenjaminSRussell/listingharvest/internal/config"
	"github.com/BenjaminSRussell/listingharvest/internal/storage"
	"github.com/BenjaminSRussell/listingharvest/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a previous crawl",
	Long: `Resume crawling with the configuration saved in the data directory.
Listings already harvested there are not fetched again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}

		closeLog, err := initLogging(settings.Logging)
		if err != nil {
			return err
		}
		defer closeLog()

		saved, err := storage.LoadConfig(settings.DataDir)
		if err != nil {
			return fmt.Errorf("failed to resume crawler: %w", err)
		}
		saved.DataDir = settings.DataDir

		visited, err := harvestedURLs(saved)
		if err != nil {
			return fmt.Errorf("failed to resume crawler: %w", err)
		}
		log.Info().Int("harvested", len(visited)).Str("data_dir", saved.DataDir).Msg("resuming crawl")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		results, err := runCrawl(ctx, saved, visited, !noProgress, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		printResults(cmd.OutOrStdout(), "Crawl resumed and completed!", results)
		return nil
	},
}

// harvestedURLs returns the property URLs already stored for cfg.
func harvestedURLs(cfg types.Config) ([]string, error) {
	store, err := storage.Open(cfg.Sink, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	records, err := store.LoadRecords()
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.PropertyURL != "" {
			urls = append(urls, rec.PropertyURL)
		}
	}
	return urls, nil
}

func init() {
	resumeCmd.Flags().String("data-dir", "", "Data storage directory of the crawl to resume (default ./data)")
	resumeCmd.Flags().String("log-level", "", "Log level (default info)")
	resumeCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
}
