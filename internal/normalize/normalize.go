// Package normalize turns raw extraction results into validated listing
// records.
package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BenjaminSRussell/listingharvest/internal/extract"
	"github.com/BenjaminSRussell/listingharvest/internal/types"
)

// Field names the normalizer maps onto the record shape. Any other field in
// a raw result is carried in ListingRecord.Attributes.
const (
	FieldPropertyID      = "property_id"
	FieldPropertyURL     = "property_url"
	FieldPurpose         = "purpose"
	FieldType            = "type"
	FieldAddedOn         = "added_on"
	FieldFurnishing      = "furnishing"
	FieldAgentName       = "agent_name"
	FieldPriceAmount     = "price_amount"
	FieldPriceCurrency   = "price_currency"
	FieldLocation        = "location"
	FieldBedrooms        = "bedrooms"
	FieldBathrooms       = "bathrooms"
	FieldSize            = "size"
	FieldBreadcrumbs     = "breadcrumbs"
	FieldAmenities       = "amenities"
	FieldDescription     = "description"
	FieldPrimaryImageURL = "primary_image_url"
	FieldImageURLs       = "property_image_urls"
)

// BreadcrumbSeparator joins breadcrumb fragments.
const BreadcrumbSeparator = " > "

// DefaultCurrency is used when a page does not state its currency.
const DefaultCurrency = "AED"

var knownFields = map[string]bool{
	FieldPropertyID: true, FieldPropertyURL: true, FieldPurpose: true,
	FieldType: true, FieldAddedOn: true, FieldFurnishing: true,
	FieldAgentName: true, FieldPriceAmount: true, FieldPriceCurrency: true,
	FieldLocation: true, FieldBedrooms: true, FieldBathrooms: true,
	FieldSize: true, FieldBreadcrumbs: true, FieldAmenities: true,
	FieldDescription: true, FieldPrimaryImageURL: true, FieldImageURLs: true,
}

// MissingRequiredField is the ValidationError reason for a record without
// an identifier or URL.
const MissingRequiredField = "missing required field"

// ValidationError means a record cannot be emitted.
type ValidationError struct {
	Reason string
	Field  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Field)
}

// Normalizer builds ListingRecords from raw results.
type Normalizer struct {
	currency string
	runID    string
	now      func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithCurrency sets the currency assumed when a page does not state one.
func WithCurrency(currency string) Option {
	return func(n *Normalizer) {
		if currency != "" {
			n.currency = currency
		}
	}
}

// WithRunID stamps records with the crawl run identifier.
func WithRunID(id string) Option {
	return func(n *Normalizer) {
		n.runID = id
	}
}

// WithClock overrides the ScrapedAt clock.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		currency: DefaultCurrency,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates raw and assembles the record. Only a missing
// property_id or property_url fails; every other field degrades to empty.
func (n *Normalizer) Normalize(raw extract.Result) (types.ListingRecord, error) {
	id := text(raw, FieldPropertyID)
	if id == "" {
		return types.ListingRecord{}, &ValidationError{Reason: MissingRequiredField, Field: FieldPropertyID}
	}
	pageURL := text(raw, FieldPropertyURL)
	if pageURL == "" {
		return types.ListingRecord{}, &ValidationError{Reason: MissingRequiredField, Field: FieldPropertyURL}
	}

	rec := types.ListingRecord{
		PropertyID:        id,
		PropertyURL:       pageURL,
		Purpose:           text(raw, FieldPurpose),
		Type:              text(raw, FieldType),
		AddedOn:           text(raw, FieldAddedOn),
		Furnishing:        text(raw, FieldFurnishing),
		AgentName:         text(raw, FieldAgentName),
		Price:             n.price(raw),
		Location:          text(raw, FieldLocation),
		BedBathSize:       bedBathSize(raw),
		Breadcrumbs:       JoinBreadcrumbs(list(raw, FieldBreadcrumbs)),
		Amenities:         Dedupe(list(raw, FieldAmenities)),
		Description:       JoinDescription(list(raw, FieldDescription)),
		PrimaryImageURL:   text(raw, FieldPrimaryImageURL),
		PropertyImageURLs: Dedupe(list(raw, FieldImageURLs)),
		Attributes:        attributes(raw),
		RunID:             n.runID,
		ScrapedAt:         n.now().UTC(),
	}

	return rec, nil
}

func (n *Normalizer) price(raw extract.Result) types.Price {
	p := types.Price{
		Currency: text(raw, FieldPriceCurrency),
		Amount:   text(raw, FieldPriceAmount),
	}
	if p.Currency == "" {
		p.Currency = n.currency
	}
	if p.Amount == "" {
		p.Unknown = true
		return p
	}
	if v, ok := ParseAmount(p.Amount); ok {
		p.Value = v
	}
	return p
}

func bedBathSize(raw extract.Result) types.BedBathSize {
	b := types.BedBathSize{
		Bedrooms:  text(raw, FieldBedrooms),
		Bathrooms: text(raw, FieldBathrooms),
		Size:      text(raw, FieldSize),
	}
	b.Unknown = b.Bedrooms == "" && b.Bathrooms == "" && b.Size == ""
	return b
}

func attributes(raw extract.Result) map[string]string {
	var names []string
	for name, v := range raw {
		if !knownFields[name] && !v.IsAbsent() {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	attrs := make(map[string]string, len(names))
	for _, name := range names {
		attrs[name] = raw[name].String()
	}
	return attrs
}

// JoinBreadcrumbs joins fragments with BreadcrumbSeparator. An empty list
// yields "".
func JoinBreadcrumbs(parts []string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, BreadcrumbSeparator)
}

// JoinDescription joins fragments with single spaces and collapses runs of
// whitespace.
func JoinDescription(parts []string) string {
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// Dedupe removes repeated items, keeping first-seen order. It never returns
// nil so records always serialize a list.
func Dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// ParseAmount parses a price such as "120,000" or "AED 1,250.50".
func ParseAmount(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ',' || r == ' ':
		default:
			if b.Len() > 0 {
				return 0, false
			}
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func text(raw extract.Result, name string) string {
	s, _ := raw.Get(name).Text()
	return strings.TrimSpace(s)
}

func list(raw extract.Result, name string) []string {
	l, _ := raw.Get(name).List()
	return l
}
