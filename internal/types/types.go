package types

import (
	"time"
)

// Config holds crawler configuration
type Config struct {
	StartURLs      []string      `json:"start_urls" mapstructure:"start_urls"`
	AllowedDomains []string      `json:"allowed_domains" mapstructure:"allowed_domains"`
	Workers        int           `json:"workers" mapstructure:"workers"`
	MaxDepth       int           `json:"max_depth" mapstructure:"max_depth"`
	PageTimeout    time.Duration `json:"page_timeout" mapstructure:"page_timeout"`
	DataDir        string        `json:"data_dir" mapstructure:"data_dir"`

	// Discovery and extraction
	DetailMarker      string   `json:"detail_marker" mapstructure:"detail_marker"`
	LinkSelector      string   `json:"link_selector" mapstructure:"link_selector"`
	NextPageSelectors []string `json:"next_page_selectors" mapstructure:"next_page_selectors"`
	SchemaFile        string   `json:"schema_file" mapstructure:"schema_file"`
	SeedSitemaps      bool     `json:"seed_sitemaps" mapstructure:"seed_sitemaps"`
	Currency          string   `json:"currency" mapstructure:"currency"`

	// Sink
	Sink       string `json:"sink" mapstructure:"sink"`
	SinkBuffer int    `json:"sink_buffer" mapstructure:"sink_buffer"`

	// Transport
	IgnoreRobots bool    `json:"ignore_robots" mapstructure:"ignore_robots"`
	RateLimit    float64 `json:"rate_limit" mapstructure:"rate_limit"`
	MaxRetries   int     `json:"max_retries" mapstructure:"max_retries"`
	UserAgent    string  `json:"user_agent" mapstructure:"user_agent"`
}

// PageKind classifies a page reference.
type PageKind string

const (
	KindCatalog PageKind = "catalog"
	KindDetail  PageKind = "detail"
)

// PageState is a page reference's position in the frontier lifecycle.
type PageState int

const (
	StateDiscovered PageState = iota
	StateEnqueued
	StateFetching
	StateProcessed
	StateFailed
)

func (s PageState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateEnqueued:
		return "enqueued"
	case StateFetching:
		return "fetching"
	case StateProcessed:
		return "processed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PageRef represents a URL in the frontier. Key is the normalized URL and
// is the page's identity; URL is what gets fetched.
type PageRef struct {
	URL    string   `json:"url"`
	Key    string   `json:"key"`
	Kind   PageKind `json:"kind"`
	Depth  int      `json:"depth"`
	Parent string   `json:"parent,omitempty"`
}

// Failure stages
const (
	StageFetch    = "fetch"
	StageExtract  = "extract"
	StageDiscover = "discover"
	StageValidate = "validate"
	StageSink     = "sink"
	StageCanceled = "canceled"
	StagePanic    = "panic"
)

// Failure is one entry of the end-of-run failure report
type Failure struct {
	URL    string    `json:"url"`
	Kind   PageKind  `json:"kind"`
	Stage  string    `json:"stage"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Results contains crawl statistics
type Results struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Discovered   int           `json:"discovered"`
	Enqueued     int           `json:"enqueued"`
	Processed    int           `json:"processed"`
	Failed       int           `json:"failed"`
	Emitted      int           `json:"emitted"`
	Dropped      int           `json:"dropped"`
	Pending      int           `json:"pending"`
	DepthLimited int           `json:"depth_limited"`
	Canceled     bool          `json:"canceled"`
	Failures     []Failure     `json:"failures"`
	Retries      []HostRetries `json:"retries,omitempty"`
}

// HostRetries is the retry history of one host during a run.
type HostRetries struct {
	Host       string        `json:"host"`
	Retries    int           `json:"retries"`
	Throttled  int           `json:"throttled"`
	GaveUp     int           `json:"gave_up"`
	LastStatus int           `json:"last_status,omitempty"`
	MaxWait    time.Duration `json:"max_wait"`
}

// Price is the nested price sub-structure of a listing.
type Price struct {
	Currency string  `json:"currency"`
	Amount   string  `json:"amount"`
	Value    float64 `json:"value,omitempty"`
	Unknown  bool    `json:"unknown"`
}

// BedBathSize is the nested bedrooms/bathrooms/area sub-structure.
type BedBathSize struct {
	Bedrooms  string `json:"bedrooms"`
	Bathrooms string `json:"bathrooms"`
	Size      string `json:"size"`
	Unknown   bool   `json:"unknown"`
}

// ListingRecord is a normalized property listing
type ListingRecord struct {
	PropertyID        string            `json:"property_id"`
	PropertyURL       string            `json:"property_url"`
	Purpose           string            `json:"purpose"`
	Type              string            `json:"type"`
	AddedOn           string            `json:"added_on"`
	Furnishing        string            `json:"furnishing"`
	AgentName         string            `json:"agent_name"`
	Price             Price             `json:"price"`
	Location          string            `json:"location"`
	BedBathSize       BedBathSize       `json:"bed_bath_size"`
	Breadcrumbs       string            `json:"breadcrumbs"`
	Amenities         []string          `json:"amenities"`
	Description       string            `json:"description"`
	PrimaryImageURL   string            `json:"primary_image_url"`
	PropertyImageURLs []string          `json:"property_image_urls"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	RunID             string            `json:"run_id,omitempty"`
	ScrapedAt         time.Time         `json:"scraped_at"`
}
