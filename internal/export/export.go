package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/types"
)

// CSVHeader is the column order of ExportCSV.
var CSVHeader = []string{
	"property_id", "property_url", "purpose", "type", "added_on", "furnishing",
	"agent_name", "price_currency", "price_amount", "price_value", "location",
	"bedrooms", "bathrooms", "size", "breadcrumbs", "amenities", "description",
	"primary_image_url", "property_image_urls", "run_id", "scraped_at",
}

// listSeparator joins list columns in CSV output.
const listSeparator = " | "

type Exporter struct {
	outputDir string
}

func NewExporter(outputDir string) (*Exporter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Exporter{
		outputDir: outputDir,
	}, nil
}

// Path resolves name inside the output directory unless it is absolute.
func (e *Exporter) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(e.outputDir, name)
}

func (e *Exporter) ExportJSON(records []types.ListingRecord, outputFile string) error {
	if records == nil {
		records = []types.ListingRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(e.Path(outputFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}

	return nil
}

func (e *Exporter) ExportCSV(records []types.ListingRecord, outputFile string) error {
	file, err := os.Create(e.Path(outputFile))
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, rec := range records {
		if err := writer.Write(csvRow(rec)); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV file: %w", err)
	}
	return nil
}

func csvRow(rec types.ListingRecord) []string {
	value := ""
	if !rec.Price.Unknown && rec.Price.Amount != "" {
		value = strconv.FormatFloat(rec.Price.Value, 'f', -1, 64)
	}
	scraped := ""
	if !rec.ScrapedAt.IsZero() {
		scraped = rec.ScrapedAt.UTC().Format(time.RFC3339)
	}

	return []string{
		rec.PropertyID,
		rec.PropertyURL,
		rec.Purpose,
		rec.Type,
		rec.AddedOn,
		rec.Furnishing,
		rec.AgentName,
		rec.Price.Currency,
		rec.Price.Amount,
		value,
		rec.Location,
		rec.BedBathSize.Bedrooms,
		rec.BedBathSize.Bathrooms,
		rec.BedBathSize.Size,
		rec.Breadcrumbs,
		strings.Join(rec.Amenities, listSeparator),
		rec.Description,
		rec.PrimaryImageURL,
		strings.Join(rec.PropertyImageURLs, listSeparator),
		rec.RunID,
		scraped,
	}
}
