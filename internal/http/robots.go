package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

const maxRobotsSize = 512 * 1024

// RobotsCache fetches and caches robots.txt per scheme and host.
type RobotsCache struct {
	client  *http.Client
	headers RequestHeaders

	// Robot exclusion
	cache sync.Map // map[string]*robotstxt.RobotsData
}

// NewRobotsCache creates a cache that fetches with client.
func NewRobotsCache(client *http.Client, headers RequestHeaders) *RobotsCache {
	return &RobotsCache{
		client:  client,
		headers: headers,
	}
}

// Allowed checks robots.txt for rawURL. An unreachable robots.txt allows
// crawling and is retried on the next call.
func (rc *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsedURL.Scheme, parsedURL.Host)

	// Check cache
	if data, ok := rc.cache.Load(robotsURL); ok {
		return data.(*robotstxt.RobotsData).TestAgent(parsedURL.RequestURI(), rc.headers.Agent())
	}

	robots, err := rc.fetch(ctx, robotsURL)
	if err != nil {
		return true
	}

	rc.cache.Store(robotsURL, robots)

	return robots.TestAgent(parsedURL.RequestURI(), rc.headers.Agent())
}

func (rc *RobotsCache) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", rc.headers.UserAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return nil, err
	}

	// 4xx allows everything, 5xx disallows everything
	return robotstxt.FromStatusAndBytes(resp.StatusCode, body)
}
