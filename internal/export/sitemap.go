package export

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/storage"
	"github.com/BenjaminSRussell/listingharvest/internal/types"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

// SitemapConfig holds export configuration
type SitemapConfig struct {
	DataDir           string
	Sink              string
	OutputFile        string
	IncludeLastmod    bool
	IncludeChangefreq bool
	DefaultPriority   float64
}

// URLSet represents the XML sitemap structure
type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	XMLNS   string   `xml:"xmlns,attr"`
	URLs    []URL    `xml:"url"`
}

// URL represents a single URL in the sitemap
type URL struct {
	Loc        string  `xml:"loc"`
	Lastmod    string  `xml:"lastmod,omitempty"`
	Changefreq string  `xml:"changefreq,omitempty"`
	Priority   float64 `xml:"priority,omitempty"`
}

// BuildSitemap lists each harvested property URL once, keeping the latest
// scrape time when a listing was harvested more than once.
func BuildSitemap(records []types.ListingRecord, config SitemapConfig) URLSet {
	urlSet := URLSet{
		XMLNS: sitemapNS,
		URLs:  make([]URL, 0, len(records)),
	}

	index := make(map[string]int, len(records))
	latest := make(map[string]time.Time, len(records))

	for _, rec := range records {
		if rec.PropertyURL == "" {
			continue
		}

		if i, ok := index[rec.PropertyURL]; ok {
			if config.IncludeLastmod && rec.ScrapedAt.After(latest[rec.PropertyURL]) {
				latest[rec.PropertyURL] = rec.ScrapedAt
				urlSet.URLs[i].Lastmod = rec.ScrapedAt.UTC().Format(time.RFC3339)
			}
			continue
		}

		u := URL{
			Loc:      rec.PropertyURL,
			Priority: config.DefaultPriority,
		}

		if config.IncludeLastmod && !rec.ScrapedAt.IsZero() {
			u.Lastmod = rec.ScrapedAt.UTC().Format(time.RFC3339)
			latest[rec.PropertyURL] = rec.ScrapedAt
		}

		if config.IncludeChangefreq {
			u.Changefreq = "daily"
		}

		index[rec.PropertyURL] = len(urlSet.URLs)
		urlSet.URLs = append(urlSet.URLs, u)
	}

	return urlSet
}

// WriteSitemap writes urlSet as an XML document.
func WriteSitemap(urlSet URLSet, outputFile string) error {
	output, err := xml.MarshalIndent(urlSet, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	xmlContent := []byte(xml.Header + string(output) + "\n")

	if err := os.WriteFile(outputFile, xmlContent, 0644); err != nil {
		return fmt.Errorf("failed to write sitemap: %w", err)
	}
	return nil
}

// ExportSitemap exports harvested listing URLs to an XML sitemap and
// returns how many URLs it wrote.
func ExportSitemap(config SitemapConfig) (int, error) {
	store, err := storage.Open(config.Sink, config.DataDir)
	if err != nil {
		return 0, fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	records, err := store.LoadRecords()
	if err != nil {
		return 0, fmt.Errorf("failed to load records: %w", err)
	}

	urlSet := BuildSitemap(records, config)
	if err := WriteSitemap(urlSet, config.OutputFile); err != nil {
		return 0, err
	}

	return len(urlSet.URLs), nil
}
