package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/types"
)

func sampleRecord(id string) types.ListingRecord {
	return types.ListingRecord{
		PropertyID:  id,
		PropertyURL: "https://www.bayut.com/property/details-" + id + ".html",
		Purpose:     "For Rent",
		Type:        "Apartment",
		Price: types.Price{
			Currency: "AED",
			Amount:   "120,000",
			Value:    120000,
		},
		BedBathSize: types.BedBathSize{
			Bedrooms: "2 Beds",
		},
		Breadcrumbs:       "Dubai > Marina",
		Amenities:         []string{"Pool", "Gym"},
		PropertyImageURLs: []string{"https://images.example.com/1.jpg"},
		Attributes:        map[string]string{"permit_number": "PRM-" + id},
		RunID:             "run-1",
		ScrapedAt:         time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC),
	}
}

func TestStorageNew(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	if store == nil {
		t.Error("Expected storage to be created")
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ListingsFile)); err != nil {
		t.Errorf("Expected listings file to exist: %v", err)
	}

	store.Close()
}

func TestStorageEmitAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	for _, id := range []string{"1", "2"} {
		if err := store.Emit(context.Background(), sampleRecord(id)); err != nil {
			t.Errorf("Failed to emit record: %v", err)
		}
	}
	store.Close()

	if err := store.Emit(context.Background(), sampleRecord("3")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}

	records, err := store.LoadRecords()
	if err != nil {
		t.Fatalf("Failed to load records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[1].PropertyID != "2" || records[1].Amenities[1] != "Gym" {
		t.Errorf("Unexpected record: %+v", records[1])
	}
	if records[0].Attributes["permit_number"] != "PRM-1" {
		t.Errorf("Expected attributes to survive, got %v", records[0].Attributes)
	}
}

func TestLoadRecordsSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), ListingsFile)
	content := `{"property_id":"1","property_url":"https://www.bayut.com/property/details-1.html"}

{"property_id":"2","prop`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	records, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("LoadRecords() error = %v", err)
	}
	if len(records) != 1 || records[0].PropertyID != "1" {
		t.Errorf("Expected only the complete record, got %+v", records)
	}

	missing, err := LoadRecords(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil || len(missing) != 0 {
		t.Errorf("Missing file should load empty, got %v, %v", missing, err)
	}
}

func TestStorageSaveAndLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	config := types.Config{
		StartURLs:   []string{"https://www.bayut.com/to-rent/property/dubai/"},
		Workers:     4,
		PageTimeout: 30 * time.Second,
		DataDir:     tmpDir,
	}

	if err := store.SaveConfig(config); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := store.LoadConfig()
	if err != nil {
		t.Errorf("Failed to load config: %v", err)
	}

	if loaded.StartURLs[0] != config.StartURLs[0] {
		t.Errorf("Expected StartURL %s, got %s", config.StartURLs[0], loaded.StartURLs[0])
	}
	if loaded.PageTimeout != config.PageTimeout {
		t.Errorf("Expected timeout %v, got %v", config.PageTimeout, loaded.PageTimeout)
	}
}

func TestSaveAndLoadReport(t *testing.T) {
	tmpDir := t.TempDir()
	results := &types.Results{
		RunID:     "run-1",
		Processed: 3,
		Failed:    1,
		Failures: []types.Failure{
			{URL: "https://www.bayut.com/property/details-9.html", Kind: types.KindDetail, Stage: types.StageFetch, Reason: "status 503"},
		},
	}

	if err := SaveReport(tmpDir, results); err != nil {
		t.Fatalf("SaveReport() error = %v", err)
	}

	loaded, err := LoadReport(tmpDir)
	if err != nil {
		t.Fatalf("LoadReport() error = %v", err)
	}
	if loaded.RunID != "run-1" || len(loaded.Failures) != 1 || loaded.Failures[0].Stage != types.StageFetch {
		t.Errorf("Unexpected report: %+v", loaded)
	}
}

func TestStorageSQLiteEmitAndQuery(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), SQLiteFile)

	store, err := NewSQLiteStorage(tmpFile)
	if err != nil {
		t.Fatalf("Failed to create SQLite storage: %v", err)
	}
	defer store.Close()

	cheap := sampleRecord("1")
	cheap.Price.Value = 50000
	sale := sampleRecord("2")
	sale.Purpose = "For Sale"

	for _, rec := range []types.ListingRecord{cheap, sale, sampleRecord("1")} {
		if err := store.Emit(context.Background(), rec); err != nil {
			t.Fatalf("Failed to emit listing: %v", err)
		}
	}

	all, err := store.LoadRecords()
	if err != nil {
		t.Fatalf("LoadRecords() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected re-emitted listing to replace the old row, got %d rows", len(all))
	}

	rent, err := store.QueryListings(ListingFilter{Purpose: "For Rent"})
	if err != nil {
		t.Fatalf("QueryListings() error = %v", err)
	}
	if len(rent) != 1 || rent[0].PropertyID != "1" {
		t.Fatalf("Expected listing 1 for rent, got %+v", rent)
	}
	got := rent[0]
	if got.Price.Value != 120000 || got.Amenities[0] != "Pool" || got.Attributes["permit_number"] != "PRM-1" {
		t.Errorf("Round trip lost data: %+v", got)
	}
	if !got.ScrapedAt.Equal(sampleRecord("1").ScrapedAt) {
		t.Errorf("Expected scraped_at %v, got %v", sampleRecord("1").ScrapedAt, got.ScrapedAt)
	}

	stats, err := store.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats["total_listings"] != 2 {
		t.Errorf("Expected 2 listings, got %v", stats["total_listings"])
	}
}

func TestOpen(t *testing.T) {
	for _, kind := range []string{"", KindJSONL, KindSQLite} {
		store, err := Open(kind, t.TempDir())
		if err != nil {
			t.Errorf("Open(%q) error = %v", kind, err)
			continue
		}
		store.Close()
	}

	if _, err := Open("parquet", t.TempDir()); err == nil {
		t.Error("Expected error for unknown sink")
	}
}

type slowSink struct {
	mu      sync.Mutex
	release chan struct{}
	got     []string
	closed  bool
	failOn  string
}

func (s *slowSink) Emit(ctx context.Context, rec types.ListingRecord) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.PropertyID == s.failOn {
		return errors.New("disk full")
	}
	s.got = append(s.got, rec.PropertyID)
	return nil
}

func (s *slowSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestBufferedSinkBlocksWhenFull(t *testing.T) {
	next := &slowSink{release: make(chan struct{})}
	buf := NewBufferedSink(next, 1)

	// The writer goroutine holds the first record; the second fills the buffer.
	if err := buf.Emit(context.Background(), sampleRecord("1")); err != nil {
		t.Fatal(err)
	}
	if err := buf.Emit(context.Background(), sampleRecord("2")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := buf.Emit(ctx, sampleRecord("3")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected Emit to block until deadline, got %v", err)
	}

	close(next.release)
	if err := buf.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(next.got) != 2 || next.got[0] != "1" || next.got[1] != "2" {
		t.Errorf("Expected records 1 and 2 flushed in order, got %v", next.got)
	}
	if !next.closed {
		t.Error("Expected wrapped sink to be closed")
	}
	if err := buf.Emit(context.Background(), sampleRecord("4")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestBufferedSinkReportsWriteError(t *testing.T) {
	next := &slowSink{failOn: "1"}
	buf := NewBufferedSink(next, 4)

	if err := buf.Emit(context.Background(), sampleRecord("1")); err != nil {
		t.Fatal(err)
	}

	err := buf.Close()
	if err == nil {
		t.Fatal("Expected Close to report the write error")
	}
}

func TestQueryFiltersAgreeAcrossStores(t *testing.T) {
	cheap := sampleRecord("1")
	cheap.Price.Value = 50000
	sale := sampleRecord("2")
	sale.Purpose = "For Sale"
	sale.Price.Value = 2000000
	unknown := sampleRecord("3")
	unknown.Price = types.Price{Currency: "AED", Unknown: true}
	records := []types.ListingRecord{cheap, sale, unknown}

	filters := []struct {
		name   string
		filter ListingFilter
		want   int
	}{
		{"all", ListingFilter{}, 3},
		{"purpose", ListingFilter{Purpose: "For Sale"}, 1},
		{"min price", ListingFilter{MinPrice: 100000}, 1},
		{"max price excludes unknown", ListingFilter{MaxPrice: 100000}, 1},
		{"run", ListingFilter{RunID: "other"}, 0},
	}

	for _, kind := range []string{KindJSONL, KindSQLite} {
		store, err := Open(kind, t.TempDir())
		if err != nil {
			t.Fatalf("Open(%s) error = %v", kind, err)
		}
		for _, rec := range records {
			if err := store.Emit(context.Background(), rec); err != nil {
				t.Fatal(err)
			}
		}

		for _, tt := range filters {
			got, err := Query(store, tt.filter)
			if err != nil {
				t.Errorf("%s/%s: Query() error = %v", kind, tt.name, err)
				continue
			}
			if len(got) != tt.want {
				t.Errorf("%s/%s: got %d records, want %d", kind, tt.name, len(got), tt.want)
			}
		}
		store.Close()
	}
}
