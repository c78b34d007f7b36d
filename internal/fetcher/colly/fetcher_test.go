package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
)

func TestRenderFetchesMarkup(t *testing.T) {
	t.Parallel()

	var gotUA, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotTrace = r.Header.Get("X-Trace")
		_, _ = w.Write([]byte("<html><body><h1>Belmont</h1></body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	page, err := f.Render(context.Background(), crawler.RenderRequest{
		URL:     srv.URL + "/news",
		Headers: http.Header{"User-Agent": {"racecrawler-test"}, "X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, page.Markup, "Belmont")
	require.Equal(t, srv.URL+"/news", page.SourceURL)
	require.Equal(t, srv.URL+"/news", page.FinalURL)
	require.Equal(t, "racecrawler-test", gotUA)
	require.Equal(t, "yes", gotTrace)
}

func TestRenderMapsStatuses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	tests := []struct {
		path string
		want error
	}{
		{path: "/missing", want: crawler.ErrNotFound},
		{path: "/gone", want: crawler.ErrNotFound},
		{path: "/boom", want: crawler.ErrRender},
	}
	for _, tt := range tests {
		_, err := f.Render(context.Background(), crawler.RenderRequest{URL: srv.URL + tt.path})
		require.ErrorIs(t, err, tt.want, tt.path)
	}
}

func TestRenderRevisitsSameURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	for range 2 {
		_, err := f.Render(context.Background(), crawler.RenderRequest{URL: srv.URL})
		require.NoError(t, err)
	}
}

func TestRenderHonorsDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Render(ctx, crawler.RenderRequest{URL: srv.URL})
	require.ErrorIs(t, err, crawler.ErrRenderTimeout)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.RenderRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}, "User-Agent": {"skip-me"}},
	}
	var result crawler.RenderedPage
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Empty(t, collyReq.Headers.Get("User-Agent"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", result.Markup)
	require.Equal(t, "https://example.com/final", result.FinalURL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
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
