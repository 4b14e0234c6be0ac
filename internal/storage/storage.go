package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BenjaminSRussell/listingharvest/internal/types"
)

const (
	ListingsFile = "listings.jsonl"
	ConfigFile   = "config.json"
	ReportFile   = "report.json"

	maxLineSize = 4 * 1024 * 1024
)

// Storage manages persistent storage of crawl data: listings as JSON lines
// plus the run config and failure report.
type Storage struct {
	dataDir string
	mu      sync.Mutex
	jsonl   *os.File
}

// New creates a new storage instance
func New(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	jsonlPath := filepath.Join(dataDir, ListingsFile)
	file, err := os.OpenFile(jsonlPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}

	return &Storage{
		dataDir: dataDir,
		jsonl:   file,
	}, nil
}

// Emit appends rec as one JSON line.
func (s *Storage) Emit(ctx context.Context, rec types.ListingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jsonl == nil {
		return ErrClosed
	}
	if _, err := s.jsonl.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	return nil
}

// LoadRecords loads every record written so far. Malformed lines, such as
// a partial line left by a killed run, are skipped.
func (s *Storage) LoadRecords() ([]types.ListingRecord, error) {
	return LoadRecords(filepath.Join(s.dataDir, ListingsFile))
}

// LoadRecords reads a JSONL listings file.
func LoadRecords(path string) ([]types.ListingRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.ListingRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read JSONL file: %w", err)
	}
	defer file.Close()

	records := make([]types.ListingRecord, 0)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.ListingRecord
		if err := json.Unmarshal(line, &rec); err == nil {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan JSONL file: %w", err)
	}

	return records, nil
}

// SaveConfig saves crawler configuration
func (s *Storage) SaveConfig(config types.Config) error {
	return SaveConfig(s.dataDir, config)
}

// LoadConfig loads crawler configuration
func (s *Storage) LoadConfig() (types.Config, error) {
	return LoadConfig(s.dataDir)
}

// SaveConfig writes config.json into dataDir.
func SaveConfig(dataDir string, config types.Config) error {
	return writeJSON(filepath.Join(dataDir, ConfigFile), config, "config")
}

// LoadConfig reads config.json from dataDir.
func LoadConfig(dataDir string) (types.Config, error) {
	var config types.Config
	if err := readJSON(filepath.Join(dataDir, ConfigFile), &config, "config"); err != nil {
		return types.Config{}, err
	}
	return config, nil
}

// SaveReport writes the run results, failures included, to report.json.
func SaveReport(dataDir string, results *types.Results) error {
	return writeJSON(filepath.Join(dataDir, ReportFile), results, "report")
}

// LoadReport reads report.json from dataDir.
func LoadReport(dataDir string) (*types.Results, error) {
	var results types.Results
	if err := readJSON(filepath.Join(dataDir, ReportFile), &results, "report"); err != nil {
		return nil, err
	}
	return &results, nil
}

// Close closes the storage
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jsonl != nil {
		err := s.jsonl.Close()
		s.jsonl = nil
		return err
	}

	return nil
}

func writeJSON(path string, v any, what string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", what, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", what, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", what, err)
	}

	return nil
}

func readJSON(path string, v any, what string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", what, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}

	return nil
}

// Sink kinds accepted by Open.
const (
	KindJSONL  = "jsonl"
	KindSQLite = "sqlite"
)

// Open returns the Store named by kind under dataDir.
func Open(kind, dataDir string) (Store, error) {
	switch kind {
	case "", KindJSONL:
		s, err := New(dataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindSQLite:
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := NewSQLiteStorage(filepath.Join(dataDir, SQLiteFile))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink %q (want %s or %s)", kind, KindJSONL, KindSQLite)
	}
}
