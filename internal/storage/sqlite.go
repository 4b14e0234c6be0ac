package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/types"
	_ "github.com/mattn/go-sqlite3"
)

const SQLiteFile = "listings.db"

// SQLiteStorage provides SQLite-based storage for queryable listings
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer avoids "database is locked" under concurrent emits
	db.SetMaxOpenConns(1)

	// Create tables
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		property_id TEXT PRIMARY KEY,
		property_url TEXT NOT NULL,
		purpose TEXT,
		type TEXT,
		added_on TEXT,
		furnishing TEXT,
		agent_name TEXT,
		price_currency TEXT,
		price_amount TEXT,
		price_value REAL,
		price_unknown INTEGER,
		location TEXT,
		bedrooms TEXT,
		bathrooms TEXT,
		size TEXT,
		bed_bath_size_unknown INTEGER,
		breadcrumbs TEXT,
		amenities TEXT,
		description TEXT,
		primary_image_url TEXT,
		property_image_urls TEXT,
		attributes TEXT,
		run_id TEXT,
		scraped_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_property_url ON listings(property_url);
	CREATE INDEX IF NOT EXISTS idx_purpose ON listings(purpose);
	CREATE INDEX IF NOT EXISTS idx_type ON listings(type);
	CREATE INDEX IF NOT EXISTS idx_run_id ON listings(run_id);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Emit upserts rec keyed by property id.
func (s *SQLiteStorage) Emit(ctx context.Context, rec types.ListingRecord) error {
	amenities, err := json.Marshal(rec.Amenities)
	if err != nil {
		return fmt.Errorf("failed to marshal amenities: %w", err)
	}
	images, err := json.Marshal(rec.PropertyImageURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal image urls: %w", err)
	}
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO listings
		(property_id, property_url, purpose, type, added_on, furnishing, agent_name,
		 price_currency, price_amount, price_value, price_unknown, location,
		 bedrooms, bathrooms, size, bed_bath_size_unknown, breadcrumbs, amenities,
		 description, primary_image_url, property_image_urls, attributes, run_id, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.PropertyID,
		rec.PropertyURL,
		rec.Purpose,
		rec.Type,
		rec.AddedOn,
		rec.Furnishing,
		rec.AgentName,
		rec.Price.Currency,
		rec.Price.Amount,
		rec.Price.Value,
		rec.Price.Unknown,
		rec.Location,
		rec.BedBathSize.Bedrooms,
		rec.BedBathSize.Bathrooms,
		rec.BedBathSize.Size,
		rec.BedBathSize.Unknown,
		rec.Breadcrumbs,
		string(amenities),
		rec.Description,
		rec.PrimaryImageURL,
		string(images),
		string(attrs),
		rec.RunID,
		rec.ScrapedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save listing %s: %w", rec.PropertyID, err)
	}

	return nil
}

// ListingFilter narrows QueryListings. Zero fields match everything; a
// price bound excludes listings whose price is unknown.
type ListingFilter struct {
	Purpose  string
	Type     string
	RunID    string
	MinPrice float64
	MaxPrice float64
}

// Match reports whether rec passes the filter.
func (f ListingFilter) Match(rec types.ListingRecord) bool {
	if f.Purpose != "" && rec.Purpose != f.Purpose {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if f.RunID != "" && rec.RunID != f.RunID {
		return false
	}
	if f.MinPrice > 0 || f.MaxPrice > 0 {
		if rec.Price.Unknown {
			return false
		}
		if f.MinPrice > 0 && rec.Price.Value < f.MinPrice {
			return false
		}
		if f.MaxPrice > 0 && rec.Price.Value > f.MaxPrice {
			return false
		}
	}
	return true
}

// Query returns the records in store that pass filter, using SQL when the
// store supports it.
func Query(store Store, filter ListingFilter) ([]types.ListingRecord, error) {
	if q, ok := store.(interface {
		QueryListings(ListingFilter) ([]types.ListingRecord, error)
	}); ok {
		return q.QueryListings(filter)
	}

	records, err := store.LoadRecords()
	if err != nil {
		return nil, err
	}
	matched := make([]types.ListingRecord, 0, len(records))
	for _, rec := range records {
		if filter.Match(rec) {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// QueryListings queries listings with filters
func (s *SQLiteStorage) QueryListings(filter ListingFilter) ([]types.ListingRecord, error) {
	query := "SELECT " + listingColumns + " FROM listings WHERE 1=1"
	args := make([]interface{}, 0)

	if filter.Purpose != "" {
		query += " AND purpose = ?"
		args = append(args, filter.Purpose)
	}

	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}

	if filter.MinPrice > 0 || filter.MaxPrice > 0 {
		query += " AND price_unknown = 0"
	}

	if filter.MinPrice > 0 {
		query += " AND price_value >= ?"
		args = append(args, filter.MinPrice)
	}

	if filter.MaxPrice > 0 {
		query += " AND price_value <= ?"
		args = append(args, filter.MaxPrice)
	}

	query += " ORDER BY scraped_at, property_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]types.ListingRecord, 0)
	for rows.Next() {
		rec, err := scanListing(rows)
		if err != nil {
			continue
		}
		results = append(results, rec)
	}

	return results, rows.Err()
}

// LoadRecords returns every stored listing.
func (s *SQLiteStorage) LoadRecords() ([]types.ListingRecord, error) {
	return s.QueryListings(ListingFilter{})
}

// GetStats returns listing statistics
func (s *SQLiteStorage) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	// Total listings
	var total int
	err := s.db.QueryRow("SELECT COUNT(*) FROM listings").Scan(&total)
	if err != nil {
		return nil, err
	}
	stats["total_listings"] = total

	// Listings with a known price
	var priced int
	err = s.db.QueryRow("SELECT COUNT(*) FROM listings WHERE price_unknown = 0").Scan(&priced)
	if err != nil {
		return nil, err
	}
	stats["priced_listings"] = priced

	// Runs that contributed listings
	var runs int
	err = s.db.QueryRow("SELECT COUNT(DISTINCT run_id) FROM listings").Scan(&runs)
	if err != nil {
		return nil, err
	}
	stats["runs"] = runs

	return stats, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

const listingColumns = `property_id, property_url, purpose, type, added_on, furnishing, agent_name,
	price_currency, price_amount, price_value, price_unknown, location,
	bedrooms, bathrooms, size, bed_bath_size_unknown, breadcrumbs, amenities,
	description, primary_image_url, property_image_urls, attributes, run_id, scraped_at`

func scanListing(rows *sql.Rows) (types.ListingRecord, error) {
	var (
		rec                        types.ListingRecord
		amenities, images, attrs   string
		scrapedAt                  string
		purpose, typ, addedOn      sql.NullString
		furnishing, agent, loc     sql.NullString
		currency, amount           sql.NullString
		beds, baths, size, crumbs  sql.NullString
		desc, primary, runID       sql.NullString
		value                      sql.NullFloat64
		priceUnknown, sizesUnknown sql.NullBool
	)

	err := rows.Scan(
		&rec.PropertyID, &rec.PropertyURL, &purpose, &typ, &addedOn, &furnishing, &agent,
		&currency, &amount, &value, &priceUnknown, &loc,
		&beds, &baths, &size, &sizesUnknown, &crumbs, &amenities,
		&desc, &primary, &images, &attrs, &runID, &scrapedAt,
	)
	if err != nil {
		return rec, err
	}

	rec.Purpose = purpose.String
	rec.Type = typ.String
	rec.AddedOn = addedOn.String
	rec.Furnishing = furnishing.String
	rec.AgentName = agent.String
	rec.Price = types.Price{
		Currency: currency.String,
		Amount:   amount.String,
		Value:    value.Float64,
		Unknown:  priceUnknown.Bool,
	}
	rec.Location = loc.String
	rec.BedBathSize = types.BedBathSize{
		Bedrooms:  beds.String,
		Bathrooms: baths.String,
		Size:      size.String,
		Unknown:   sizesUnknown.Bool,
	}
	rec.Breadcrumbs = crumbs.String
	rec.Description = desc.String
	rec.PrimaryImageURL = primary.String
	rec.RunID = runID.String

	if err := json.Unmarshal([]byte(amenities), &rec.Amenities); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(images), &rec.PropertyImageURLs); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
		return rec, err
	}
	rec.ScrapedAt, _ = time.Parse(time.RFC3339Nano, scrapedAt)

	return rec, nil
}
