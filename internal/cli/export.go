package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BenjaminSRussell/listingharvest/internal/export"
	"github.com/BenjaminSRussell/listingharvest/internal/storage"
	"github.com/spf13/cobra"
)

var (
	exportDataDir     string
	exportSink        string
	exportFormat      string
	outputFile        string
	exportFilter      storage.ListingFilter
	includeLastmod    bool
	includeChangefreq bool
	defaultPriority   float64
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export harvested listings to JSON or CSV",
	Long:  `Export harvested listings, optionally filtered, to a JSON array or a CSV file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(exportFormat)
		if format != "json" && format != "csv" {
			return fmt.Errorf("unknown format %q (want json or csv)", exportFormat)
		}

		store, err := storage.Open(exportSink, exportDataDir)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer store.Close()

		records, err := storage.Query(store, exportFilter)
		if err != nil {
			return fmt.Errorf("failed to load records: %w", err)
		}

		output := outputFile
		if output == "" {
			output = "listings." + format
		}
		exporter, err := export.NewExporter(filepath.Dir(output))
		if err != nil {
			return err
		}

		name := filepath.Base(output)
		if format == "csv" {
			err = exporter.ExportCSV(records, name)
		} else {
			err = exporter.ExportJSON(records, name)
		}
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Successfully exported %d listings to %s\n", len(records), output)
		return nil
	},
}

var sitemapCmd = &cobra.Command{
	Use:   "export-sitemap",
	Short: "Export harvested listing URLs to a sitemap",
	Long:  `Export the URL of every harvested listing to XML sitemap format`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := export.SitemapConfig{
			DataDir:           exportDataDir,
			Sink:              exportSink,
			OutputFile:        outputFile,
			IncludeLastmod:    includeLastmod,
			IncludeChangefreq: includeChangefreq,
			DefaultPriority:   defaultPriority,
		}
		if config.OutputFile == "" {
			config.OutputFile = "sitemap.xml"
		}

		count, err := export.ExportSitemap(config)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Successfully exported %d URLs to %s\n", count, config.OutputFile)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{exportCmd, sitemapCmd} {
		cmd.Flags().StringVar(&exportDataDir, "data-dir", "./data", "Data storage directory")
		cmd.Flags().StringVar(&exportSink, "sink", storage.KindJSONL, "Sink the crawl wrote to: jsonl or sqlite")
		cmd.Flags().StringVar(&outputFile, "output", "", "Output file path")
	}

	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json or csv")
	exportCmd.Flags().StringVar(&exportFilter.Purpose, "purpose", "", "Only listings with this purpose")
	exportCmd.Flags().StringVar(&exportFilter.Type, "type", "", "Only listings of this property type")
	exportCmd.Flags().StringVar(&exportFilter.RunID, "run-id", "", "Only listings harvested by this run")
	exportCmd.Flags().Float64Var(&exportFilter.MinPrice, "min-price", 0, "Minimum price value")
	exportCmd.Flags().Float64Var(&exportFilter.MaxPrice, "max-price", 0, "Maximum price value")

	sitemapCmd.Flags().BoolVar(&includeLastmod, "include-lastmod", true, "Include lastmod in sitemap")
	sitemapCmd.Flags().BoolVar(&includeChangefreq, "include-changefreq", true, "Include changefreq in sitemap")
	sitemapCmd.Flags().Float64Var(&defaultPriority, "default-priority", 0.5, "Default priority value")
}
