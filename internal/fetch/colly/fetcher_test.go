package collyfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiderjobs/crawler/internal/pipeline"
)

func request(url string) pipeline.FetchRequest {
	return pipeline.FetchRequest{
		URL:      url,
		Site:     "itviec",
		Identity: pipeline.Identity{ID: "direct-0", UserAgent: "spiderjobs-test/0.1"},
		Timeout:  5 * time.Second,
	}
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "spiderjobs-test/0.1", r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>jobs</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	resp, err := f.Fetch(context.Background(), request(srv.URL+"/it-jobs"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "jobs")
	require.Greater(t, resp.Duration, time.Duration(0))
}

func TestFetchIdentityHeaders(t *testing.T) {
	t.Parallel()

	var gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLang = r.Header.Get("Accept-Language")
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	req := request(srv.URL)
	req.Identity.Headers = http.Header{"Accept-Language": []string{"en-US"}}
	_, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "en-US", gotLang)
}

// TestFetchNonOKStatusIsResponse ensures block and server-error statuses
// come back as responses so outcome classification can see them.
func TestFetchNonOKStatusIsResponse(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusForbidden, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		f := New(Config{}, nil)
		resp, err := f.Fetch(context.Background(), request(srv.URL))
		require.NoError(t, err)
		require.Equal(t, status, resp.StatusCode)
		srv.Close()
	}
}

func TestFetchContextCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	f := New(Config{}, nil)
	_, err := f.Fetch(ctx, request(srv.URL))
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Config{}, NewRobotsCache(2*time.Second))

	req := request(srv.URL + "/private/page")
	req.RespectRobots = true
	_, err := f.Fetch(context.Background(), req)
	require.ErrorIs(t, err, pipeline.ErrRobotsDisallowed)

	req = request(srv.URL + "/public/page")
	req.RespectRobots = true
	resp, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRobotsCacheFailsOpen(t *testing.T) {
	t.Parallel()

	cache := NewRobotsCache(time.Second)
	// Unreachable host: lookups must not block the crawl.
	require.True(t, cache.Allowed(context.Background(), "ua", "http://127.0.0.1:1/page"))
}

func TestRobotsCacheCachesPerHost(t *testing.T) {
	t.Parallel()

	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /x\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cache := NewRobotsCache(2 * time.Second)
	require.False(t, cache.Allowed(context.Background(), "ua", srv.URL+"/x"))
	require.True(t, cache.Allowed(context.Background(), "ua", srv.URL+"/y"))
	require.Equal(t, 1, hits)
}
