package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
)

type recordingLimiter struct {
	mu       sync.Mutex
	waits    []string
	observed []http.Header
	waitErr  error
}

func (l *recordingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits = append(l.waits, rawURL)
	return l.waitErr
}

func (l *recordingLimiter) Observe(_ string, headers http.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observed = append(l.observed, headers)
}

func TestFetchConditionalGET(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		if r.Header.Get("If-None-Match") == `W/"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `W/"v1"`)
		w.Header().Set("X-Poll-Interval", "60")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	limiter := &recordingLimiter{}
	f := New(Config{UserAgent: "test-agent", Timeout: time.Second, Limiter: limiter})
	headers := http.Header{"Accept": {"application/vnd.github+json"}}

	first, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/users/a/events/public", Headers: headers})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, `W/"v1"`, first.Headers.Get("ETag"))
	assert.Equal(t, "60", first.Headers.Get("X-Poll-Interval"))
	assert.Equal(t, []byte(`[]`), first.Body)

	conditional := headers.Clone()
	conditional.Set("If-None-Match", `W/"v1"`)
	second, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/users/a/events/public", Headers: conditional})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, second.StatusCode)
	assert.Empty(t, second.Body)

	assert.Len(t, limiter.waits, 2)
	assert.Len(t, limiter.observed, 2)
}

func TestFetchReturnsErrorStatusesAsResponses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		default:
			http.Error(w, "boom", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/other"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestFetchLimiterError(t *testing.T) {
	t.Parallel()

	f := New(Config{Limiter: &recordingLimiter{waitErr: errors.New("canceled")}})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://127.0.0.1:1/"})
	assert.Error(t, err)
}

func TestFetchConnectionFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: addr})
	assert.Error(t, err)
}

func TestFetchHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{
		URL:     "https://api.github.com",
		Headers: http.Header{"Accept": {"application/vnd.github+json"}},
	}
	start := time.Unix(0, 0)
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"Accept": {"*/*"}}}
	hooks.onRequest(collyReq)
	assert.Equal(t, []string{"application/vnd.github+json"}, collyReq.Headers.Values("Accept"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusNotModified,
		Headers:    &http.Header{"Etag": {"abc"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://api.github.com")},
	})
	assert.Equal(t, http.StatusNotModified, result.StatusCode)
	assert.Equal(t, "abc", result.Headers.Get("ETag"))

	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(crawler.FetchRequest{}, collyReq)
	assert.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
