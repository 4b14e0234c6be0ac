package http

import (
	"net/http"
	"strings"
)

// DefaultUserAgent identifies the harvester to the sites it visits.
const DefaultUserAgent = "ListingHarvestBot/1.0 (+https://github.com/BenjaminSRussell/listingharvest)"

// RequestHeaders is the fixed header set sent with every request.
type RequestHeaders struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
	AcceptEncoding string
}

// DefaultHeaders returns the headers used when none are configured.
func DefaultHeaders(userAgent string) RequestHeaders {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return RequestHeaders{
		UserAgent:      userAgent,
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, br",
	}
}

// ApplyHeaders applies the header set to an HTTP request
func (h RequestHeaders) ApplyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", h.UserAgent)
	if h.Accept != "" {
		req.Header.Set("Accept", h.Accept)
	}
	if h.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", h.AcceptLanguage)
	}
	if h.AcceptEncoding != "" {
		req.Header.Set("Accept-Encoding", h.AcceptEncoding)
	}
}

// Agent is the product token of the user agent, as matched by robots.txt
// groups ("ListingHarvestBot" for the default).
func (h RequestHeaders) Agent() string {
	agent := h.UserAgent
	if i := strings.IndexAny(agent, "/ "); i > 0 {
		agent = agent[:i]
	}
	return agent
}
