package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/storage"
	"github.com/BenjaminSRussell/listingharvest/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	log.Logger = zerolog.Nop()
}

// newSite serves a two-page catalog with three listings, and a sitemap
// naming a fourth listing the catalog never links.
func newSite(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var detailFetches atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/to-rent/property/dubai/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `<html><body><a href="/property/details-3.html">3</a></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>
			<a href="/property/details-1.html">1</a>
			<a href="/property/details-2.html">2</a>
			<a aria-label="Next" href="/to-rent/property/dubai/?page=2">next</a>
		</body></html>`)
	})
	mux.HandleFunc("/property/", func(w http.ResponseWriter, r *http.Request) {
		detailFetches.Add(1)
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/property/details-"), ".html")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body>
			<span>Bayut - %s</span>
			<span aria-label="Purpose">For Rent</span>
			<span aria-label="Price">%s0,000</span>
		</body></html>`, id, id)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/property/details-1.html</loc></url>
  <url><loc>%[1]s/property/details-9.html</loc></url>
  <url><loc>%[1]s/to-rent/property/dubai/</loc></url>
</urlset>`, srv.URL)
	})
	return srv, &detailFetches
}

func siteConfig(srv *httptest.Server, dataDir, sink string) types.Config {
	return types.Config{
		StartURLs:    []string{srv.URL + "/to-rent/property/dubai/"},
		Workers:      1,
		MaxDepth:     5,
		PageTimeout:  5 * time.Second,
		DataDir:      dataDir,
		Sink:         sink,
		SinkBuffer:   4,
		IgnoreRobots: true,
		Currency:     "AED",
	}
}

func TestRootCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--help"})
	defer rootCmd.SetOut(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Expected help command to execute: %v", err)
	}

	for _, name := range []string{"crawl", "resume", "export", "export-sitemap", "schema", "report"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("Expected help to list %q", name)
		}
	}
}

func TestCrawlCommandFlags(t *testing.T) {
	for _, name := range []string{"start-url", "workers", "max-depth", "page-timeout", "next-selector", "sink", "sink-buffer", "rate", "seed-sitemap", "no-progress"} {
		if crawlCmd.Flags().Lookup(name) == nil {
			t.Errorf("Expected crawl flag --%s", name)
		}
	}
}

func TestSchemaCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"schema"})
	defer rootCmd.SetOut(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("schema command failed: %v", err)
	}
	if !strings.Contains(out.String(), "property_id") || !strings.Contains(out.String(), "bayut-detail") {
		t.Errorf("Expected default schema YAML, got:\n%s", out.String())
	}
}

func TestRunCrawlAndResume(t *testing.T) {
	for _, sink := range []string{storage.KindJSONL, storage.KindSQLite} {
		t.Run(sink, func(t *testing.T) {
			srv, detailFetches := newSite(t)
			dataDir := t.TempDir()
			cfg := siteConfig(srv, dataDir, sink)

			results, err := runCrawl(context.Background(), cfg, nil, false, io.Discard)
			if err != nil {
				t.Fatalf("runCrawl() error = %v", err)
			}
			if results.Emitted != 3 || results.Processed != 5 || results.Failed != 0 {
				t.Errorf("Unexpected results: %+v", results)
			}

			report, err := storage.LoadReport(dataDir)
			if err != nil {
				t.Fatalf("Expected report to be saved: %v", err)
			}
			if report.RunID != results.RunID {
				t.Errorf("Report run %q, want %q", report.RunID, results.RunID)
			}

			saved, err := storage.LoadConfig(dataDir)
			if err != nil {
				t.Fatalf("Expected config to be saved: %v", err)
			}
			if len(saved.AllowedDomains) != 1 || saved.AllowedDomains[0] != "127.0.0.1" {
				t.Errorf("Expected defaulted allowed domains, got %v", saved.AllowedDomains)
			}

			visited, err := harvestedURLs(saved)
			if err != nil {
				t.Fatal(err)
			}
			if len(visited) != 3 {
				t.Fatalf("Expected 3 harvested URLs, got %d", len(visited))
			}

			before := detailFetches.Load()
			resumed, err := runCrawl(context.Background(), saved, visited, false, io.Discard)
			if err != nil {
				t.Fatalf("resume runCrawl() error = %v", err)
			}
			if resumed.Emitted != 0 || detailFetches.Load() != before {
				t.Errorf("Resume refetched listings: emitted %d, fetches %d -> %d", resumed.Emitted, before, detailFetches.Load())
			}
			if resumed.Processed != 2 {
				t.Errorf("Expected only the 2 catalog pages on resume, got %d", resumed.Processed)
			}
		})
	}
}

func TestRunCrawlSeedsFromSitemap(t *testing.T) {
	srv, detailFetches := newSite(t)
	cfg := siteConfig(srv, t.TempDir(), storage.KindJSONL)
	cfg.SeedSitemaps = true

	results, err := runCrawl(context.Background(), cfg, nil, false, io.Discard)
	if err != nil {
		t.Fatalf("runCrawl() error = %v", err)
	}
	if results.Emitted != 4 || results.Processed != 6 {
		t.Errorf("Expected the sitemap-only listing to be harvested, got %+v", results)
	}
	if got := detailFetches.Load(); got != 4 {
		t.Errorf("Expected 4 detail fetches, got %d", got)
	}
}

func TestRunCrawlRejectsInvalidConfig(t *testing.T) {
	cfg := types.Config{StartURLs: []string{"not a url"}, Workers: 1, PageTimeout: time.Second, DataDir: t.TempDir()}

	if _, err := runCrawl(context.Background(), cfg, nil, false, io.Discard); err == nil {
		t.Error("Expected invalid configuration to be rejected")
	}
}

func TestExportCommands(t *testing.T) {
	srv, _ := newSite(t)
	dataDir := t.TempDir()
	if _, err := runCrawl(context.Background(), siteConfig(srv, dataDir, storage.KindJSONL), nil, false, io.Discard); err != nil {
		t.Fatal(err)
	}

	outDir := t.TempDir()
	csvPath := filepath.Join(outDir, "listings.csv")
	sitemapPath := filepath.Join(outDir, "sitemap.xml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	rootCmd.SetArgs([]string{"export", "--data-dir", dataDir, "--format", "csv", "--output", csvPath, "--min-price", "15000"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	// header plus listings 2 and 3
	if lines := strings.Count(strings.TrimSpace(string(data)), "\n") + 1; lines != 3 {
		t.Errorf("Expected 3 CSV lines, got %d:\n%s", lines, data)
	}

	rootCmd.SetArgs([]string{"export-sitemap", "--data-dir", dataDir, "--output", sitemapPath})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("export-sitemap failed: %v", err)
	}
	if !strings.Contains(out.String(), "exported 3 URLs") {
		t.Errorf("Unexpected output: %s", out.String())
	}

	rootCmd.SetArgs([]string{"export", "--data-dir", dataDir, "--format", "xml"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("Expected unknown format to fail")
	}
}
