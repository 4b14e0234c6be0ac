// Package config loads harvester settings. Later sources override earlier
// ones: built-in defaults, a YAML file, LISTINGHARVEST_* environment
// variables (optionally seeded from a .env file), then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/discover"
	harvesthttp "github.com/BenjaminSRussell/listingharvest/internal/http"
	"github.com/BenjaminSRussell/listingharvest/internal/logging"
	"github.com/BenjaminSRussell/listingharvest/internal/normalize"
	"github.com/BenjaminSRussell/listingharvest/internal/storage"
	"github.com/BenjaminSRussell/listingharvest/internal/types"
	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName names the per-user config directory.
	AppName = "listingharvest"
	// EnvPrefix prefixes environment overrides, e.g. LISTINGHARVEST_WORKERS.
	EnvPrefix = "LISTINGHARVEST"
	// DefaultStartURL is the catalog crawled when none is configured.
	DefaultStartURL = "https://www.bayut.com/to-rent/property/dubai/"
)

// Settings is everything a run needs.
type Settings struct {
	types.Config `mapstructure:",squash"`
	Logging      logging.Config `mapstructure:"logging"`
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"start-url":      "start_urls",
	"allowed-domain": "allowed_domains",
	"workers":        "workers",
	"max-depth":      "max_depth",
	"page-timeout":   "page_timeout",
	"data-dir":       "data_dir",
	"detail-marker":  "detail_marker",
	"link-selector":  "link_selector",
	"next-selector":  "next_page_selectors",
	"schema":         "schema_file",
	"seed-sitemap":   "seed_sitemaps",
	"currency":       "currency",
	"sink":           "sink",
	"sink-buffer":    "sink_buffer",
	"ignore-robots":  "ignore_robots",
	"rate":           "rate_limit",
	"max-retries":    "max_retries",
	"user-agent":     "user_agent",
	"log-level":      "logging.level",
	"log-dir":        "logging.log_dir",
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("start_urls", []string{DefaultStartURL})
	v.SetDefault("allowed_domains", []string{})
	v.SetDefault("workers", 8)
	v.SetDefault("max_depth", 50)
	v.SetDefault("page_timeout", 30*time.Second)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("detail_marker", discover.DefaultDetailMarker)
	v.SetDefault("link_selector", discover.DefaultLinkSelector)
	v.SetDefault("next_page_selectors", []string{})
	v.SetDefault("schema_file", "")
	v.SetDefault("seed_sitemaps", false)
	v.SetDefault("currency", normalize.DefaultCurrency)
	v.SetDefault("sink", storage.KindJSONL)
	v.SetDefault("sink_buffer", 64)
	v.SetDefault("ignore_robots", false)
	v.SetDefault("rate_limit", 2.0)
	v.SetDefault("max_retries", 3)
	v.SetDefault("user_agent", harvesthttp.DefaultUserAgent)

	logDefaults := logging.DefaultConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.log_dir", logDefaults.LogDir)
	v.SetDefault("logging.rotation.max_size", logDefaults.Rotation.MaxSize)
	v.SetDefault("logging.rotation.max_backups", logDefaults.Rotation.MaxBackups)
	v.SetDefault("logging.rotation.max_age", logDefaults.Rotation.MaxAge)
	v.SetDefault("logging.rotation.compress", logDefaults.Rotation.Compress)
}

// Load reads settings. configPath may be empty, in which case
// listingharvest.yaml is looked up in ./configs, the working directory
// and the user config directory; a missing file is not an error. Only
// flags the user actually set override the other sources.
func Load(configPath string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(UserConfigDir())
	}

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &settings, nil
}

// UserConfigDir is the per-user config directory, e.g.
// ~/.config/listingharvest.
func UserConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// LoadDotEnv adds the KEY=value pairs in path to the environment. Variables
// that are already set win. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// RegisterFlags adds the crawl flags to flags. Flag defaults are left zero;
// the effective defaults live in SetDefaults.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringSlice("start-url", nil, "Catalog URL to start from (repeatable)")
	flags.StringSlice("allowed-domain", nil, "Domain the crawl may visit (repeatable, default: registrable domains of the start URLs)")
	flags.Int("workers", 0, "Number of concurrent workers (default 8)")
	flags.Int("max-depth", 0, "Maximum catalog pages followed from a start URL, 0 for unlimited (default 50)")
	flags.Duration("page-timeout", 0, "Per-page fetch and processing timeout (default 30s)")
	flags.String("data-dir", "", "Data storage directory (default ./data)")
	flags.String("detail-marker", "", "Path fragment identifying listing detail pages")
	flags.String("link-selector", "", "Selector for candidate listing links")
	flags.StringSlice("next-selector", nil, "Next-page selector, tried in order (repeatable, css: prefix and @attr suffix allowed)")
	flags.String("schema", "", "YAML field schema for detail pages (default: built-in)")
	flags.Bool("seed-sitemap", false, "Also enqueue listing pages found in the site's sitemaps")
	flags.String("currency", "", "Currency recorded with prices (default AED)")
	flags.String("sink", "", "Record sink: jsonl or sqlite (default jsonl)")
	flags.Int("sink-buffer", 0, "Records buffered before workers block on the sink (default 64)")
	flags.Bool("ignore-robots", false, "Ignore robots.txt")
	flags.Float64("rate", 0, "Maximum requests per second, 0 for unlimited (default 2)")
	flags.Int("max-retries", 0, "Maximum retry attempts per page (default 3)")
	flags.String("user-agent", "", "User-Agent header")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error (default info)")
	flags.String("log-dir", "", "Directory for the rotated log file (default logs)")
}
