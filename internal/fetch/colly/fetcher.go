// Package collyfetch implements the fetch primitive using gocolly.
package collyfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

// Config controls collector behavior.
type Config struct {
	// UserAgent is the fallback when the selected identity carries none.
	UserAgent string
	// Timeout is the fallback request timeout.
	Timeout time.Duration
}

// Fetcher implements pipeline.Fetcher with one Colly collector clone per
// request, so identity (proxy + headers) can vary per task.
type Fetcher struct {
	cfg    Config
	robots *RobotsCache
	base   *colly.Collector
}

// New builds a Fetcher. robots may be nil to skip robots.txt checks
// entirely.
func New(cfg Config, robots *RobotsCache) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // robots is enforced by the cache, per identity
	c.WithTransport(newHTTPTransport(""))
	return &Fetcher{cfg: cfg, robots: robots, base: c}
}

// Fetch executes a single HTTP GET through the task's identity. Non-2xx
// statuses are returned as responses, not errors, so the caller's outcome
// classification sees them.
func (f *Fetcher) Fetch(ctx context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	ua := req.Identity.UserAgent
	if ua == "" {
		ua = f.cfg.UserAgent
	}
	if req.RespectRobots && f.robots != nil {
		if !f.robots.Allowed(ctx, ua, req.URL) {
			return pipeline.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, pipeline.ErrRobotsDisallowed)
		}
	}

	var (
		result   pipeline.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := f.base.Clone()
	collector.IgnoreRobotsTxt = true
	collector.UserAgent = ua
	collector.SetRequestTimeout(f.timeout(req))
	collector.WithTransport(newHTTPTransport(req.Identity.ProxyURL))

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Identity.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = responseFrom(r, start)
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses here; keep the response so the
		// pipeline can classify 403/429/5xx instead of a bare error.
		if r != nil && r.StatusCode != 0 {
			result = responseFrom(r, start)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return pipeline.FetchResponse{}, fmt.Errorf("fetch %s canceled: %w", req.URL, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return pipeline.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, fetchErr)
		}
		if result.StatusCode != 0 {
			return result, nil
		}
		if err != nil {
			return pipeline.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
		return result, nil
	}
}

func (f *Fetcher) timeout(req pipeline.FetchRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if f.cfg.Timeout > 0 {
		return f.cfg.Timeout
	}
	return 15 * time.Second
}

func responseFrom(r *colly.Response, start time.Time) pipeline.FetchResponse {
	headers := http.Header{}
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	return pipeline.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(start),
	}
}

func newHTTPTransport(proxyURL string) *http.Transport {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return transport
}
