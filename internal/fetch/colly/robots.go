package collyfetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsCache fetches and caches robots.txt groups per host. Lookups fail
// open: an unreachable or malformed robots.txt never blocks a crawl.
type RobotsCache struct {
	client *http.Client

	mu     sync.Mutex
	groups map[string]*robotstxt.RobotsData
}

// NewRobotsCache builds a cache with its own bounded HTTP client.
func NewRobotsCache(timeout time.Duration) *RobotsCache {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RobotsCache{
		client: &http.Client{Timeout: timeout},
		groups: make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether the user agent may fetch rawURL per the host's
// robots.txt.
func (c *RobotsCache) Allowed(ctx context.Context, userAgent, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	data := c.dataFor(ctx, u)
	if data == nil {
		return true
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, userAgent)
}

func (c *RobotsCache) dataFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	c.mu.Lock()
	data, cached := c.groups[key]
	c.mu.Unlock()
	if cached {
		return data
	}

	data = c.fetch(ctx, key+"/robots.txt")

	c.mu.Lock()
	c.groups[key] = data
	c.mu.Unlock()
	return data
}

func (c *RobotsCache) fetch(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close() //nolint:errcheck // read side only

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	return data
}
