package crawler

import (
	"fmt"
	"net"
	"net/url"

	"github.com/BenjaminSRussell/listingharvest/internal/discover"
	"github.com/BenjaminSRussell/listingharvest/internal/parser"
	"github.com/BenjaminSRussell/listingharvest/internal/types"
	"golang.org/x/net/publicsuffix"
)

// ValidateConfig validates crawler configuration and fills the defaults
// that depend on other fields.
func ValidateConfig(config *types.Config) error {
	if len(config.StartURLs) == 0 {
		return fmt.Errorf("at least one start URL is required")
	}

	for _, raw := range config.StartURLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid start URL %q: %w", raw, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("start URL %q must be an absolute http(s) URL", raw)
		}
	}

	if config.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", config.Workers)
	}

	if config.Workers > 1000 {
		return fmt.Errorf("workers too high (max 1000), got %d", config.Workers)
	}

	if config.PageTimeout <= 0 {
		return fmt.Errorf("page timeout must be positive, got %v", config.PageTimeout)
	}

	if config.MaxDepth < 0 {
		return fmt.Errorf("max depth cannot be negative, got %d", config.MaxDepth)
	}

	// Validate retry settings
	if config.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got %d", config.MaxRetries)
	}

	if config.MaxRetries > 10 {
		return fmt.Errorf("max retries too high (max 10), got %d", config.MaxRetries)
	}

	if config.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative, got %v", config.RateLimit)
	}

	if config.SinkBuffer < 0 {
		return fmt.Errorf("sink buffer cannot be negative, got %d", config.SinkBuffer)
	}

	switch config.Sink {
	case "", "jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown sink %q", config.Sink)
	}

	for _, s := range discover.StrategiesFromSelectors(config.NextPageSelectors) {
		if err := parser.ValidateSelector(s.Selector); err != nil {
			return fmt.Errorf("invalid next-page selector: %w", err)
		}
	}

	// Stay on the start sites unless told otherwise
	if len(config.AllowedDomains) == 0 {
		seen := make(map[string]bool)
		for _, raw := range config.StartURLs {
			domain := siteDomain(parser.Host(raw))
			if domain != "" && !seen[domain] {
				seen[domain] = true
				config.AllowedDomains = append(config.AllowedDomains, domain)
			}
		}
	}

	return nil
}

// siteDomain returns the registrable domain of host (www.bayut.com ->
// bayut.com), so the apex and every subdomain of a start site are
// crawlable. IPs and single-label hosts are kept as they are.
func siteDomain(host string) string {
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
