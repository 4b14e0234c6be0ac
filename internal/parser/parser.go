package parser

import (
	"fmt"
	"net/url"
	"strings"
)

var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"msclkid":      true,
	"mc_cid":       true,
	"mc_eid":       true,
}

// ResolveReference converts a relative href to an absolute URL against
// baseURL. It returns "" for hrefs that can never be crawled.
func ResolveReference(href, baseURL string) string {
	href = strings.TrimSpace(href)

	// Skip empty, javascript, mailto, tel, etc.
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") {
		return ""
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(u)
	resolved.Fragment = ""

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}

	return resolved.String()
}

// NormalizeURL returns the identity form of an absolute URL. Two URLs that
// differ only in letter case, a trailing slash, default port, fragment,
// tracking parameters or query parameter order normalize to the same key.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if port := u.Port(); (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = u.Hostname()
	}

	u.Path = strings.TrimRight(strings.ToLower(u.Path), "/")
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawPath = ""

	u.RawQuery = removeTrackingParams(u.Query()).Encode()

	return u.String(), nil
}

// removeTrackingParams removes common tracking parameters
func removeTrackingParams(q url.Values) url.Values {
	for param := range trackingParams {
		q.Del(param)
	}
	return q
}

// Host returns the lower-cased host of rawURL without port, or "".
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
