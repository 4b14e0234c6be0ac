// Package discover finds listing links and the next catalog page on a
// search-results page.
package discover

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/BenjaminSRussell/listingharvest/internal/parser"
)

const (
	// DefaultDetailMarker identifies listing detail URLs by path.
	DefaultDetailMarker = "/property/details-"
	// DefaultLinkSelector yields every anchor href on the page.
	DefaultLinkSelector = "//a[@href]/@href"
)

// Strategy is one way of locating the next-page link. Attr names the
// attribute to read; empty means the selector already yields the URL text.
type Strategy struct {
	Name     string
	Selector string
	Attr     string
}

// DefaultStrategies returns the next-page strategies in the order they are
// tried.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "aria-label", Selector: `//a[@aria-label="Next"]/@href`},
		{Name: "rel-next-anchor", Selector: `css:a[rel="next"]`, Attr: "href"},
		{Name: "rel-next-link", Selector: `css:link[rel="next"]`, Attr: "href"},
		{Name: "title", Selector: `//a[@title="Next"]/@href`},
	}
}

// xpathAttrStep matches an XPath ending in an attribute step.
var xpathAttrStep = regexp.MustCompile(`(/@|/attribute::)[\w:.-]+\s*$`)

// StrategiesFromSelectors builds strategies from configured selectors. A
// CSS selector of the form "css:<selector>@<attr>" reads that attribute.
// Selectors that address elements rather than an attribute read href, so
// `//a[@rel="next"]` follows the link instead of its text.
func StrategiesFromSelectors(selectors []string) []Strategy {
	out := make([]Strategy, 0, len(selectors))
	for i, sel := range selectors {
		s := Strategy{Name: fmt.Sprintf("configured-%d", i+1), Selector: sel, Attr: "href"}
		if strings.HasPrefix(sel, parser.CSSPrefix) {
			if at := strings.LastIndex(sel, "@"); at > len(parser.CSSPrefix) {
				s.Selector, s.Attr = sel[:at], sel[at+1:]
			}
		} else if xpathAttrStep.MatchString(sel) {
			s.Attr = ""
		}
		out = append(out, s)
	}
	return out
}

// Discovery is what one catalog page yields.
type Discovery struct {
	Listings []string
	Next     string
	HasNext  bool
	Strategy string
}

// Discoverer extracts listing and pagination links.
type Discoverer struct {
	detailMarker string
	linkSelector string
	strategies   []Strategy
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithDetailMarker sets the path fragment that marks a detail URL.
func WithDetailMarker(marker string) Option {
	return func(d *Discoverer) {
		if marker != "" {
			d.detailMarker = marker
		}
	}
}

// WithLinkSelector sets the selector that yields candidate hrefs.
func WithLinkSelector(sel string) Option {
	return func(d *Discoverer) {
		if sel != "" {
			d.linkSelector = sel
		}
	}
}

// WithStrategies replaces the next-page strategies.
func WithStrategies(s []Strategy) Option {
	return func(d *Discoverer) {
		if len(s) > 0 {
			d.strategies = s
		}
	}
}

// New creates a Discoverer and validates its selectors.
func New(opts ...Option) (*Discoverer, error) {
	d := &Discoverer{
		detailMarker: DefaultDetailMarker,
		linkSelector: DefaultLinkSelector,
		strategies:   DefaultStrategies(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := parser.ValidateSelector(d.linkSelector); err != nil {
		return nil, fmt.Errorf("link selector: %w", err)
	}
	for _, s := range d.strategies {
		if err := parser.ValidateSelector(s.Selector); err != nil {
			return nil, fmt.Errorf("next-page strategy %s: %w", s.Name, err)
		}
	}

	return d, nil
}

// Discover returns the detail links of doc in document order, duplicates
// included, and the first next-page link any strategy finds.
func (d *Discoverer) Discover(doc parser.Document) (Discovery, error) {
	var disc Discovery

	hrefs, err := doc.QueryTexts(d.linkSelector)
	if err != nil {
		return disc, err
	}
	for _, href := range hrefs {
		abs, ok := resolve(doc, href)
		if ok && d.IsDetail(abs) {
			disc.Listings = append(disc.Listings, abs)
		}
	}

	for _, s := range d.strategies {
		raw, ok, err := doc.QueryAttribute(s.Selector, s.Attr)
		if err != nil {
			return disc, err
		}
		if !ok {
			continue
		}
		next, ok := resolve(doc, raw)
		if !ok {
			continue
		}
		disc.Next = next
		disc.HasNext = true
		disc.Strategy = s.Name
		break
	}

	return disc, nil
}

// IsDetail reports whether rawURL's path carries the detail marker.
func (d *Discoverer) IsDetail(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, d.detailMarker)
}

// resolve makes href absolute and rejects anything that is not http(s).
func resolve(doc parser.Document, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	abs, err := doc.ResolveURL(href)
	if err != nil {
		return "", false
	}
	u, err := url.Parse(abs)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return abs, true
}
