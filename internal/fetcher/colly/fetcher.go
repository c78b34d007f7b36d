// Package collyfetcher renders static pages with a plain HTTP GET through
// gocolly. Nothing is executed; the markup is what the server sent.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	RespectRobots bool
	Timeout       time.Duration
	Logger        *zap.Logger
}

// Renderer implements crawler.Renderer using the Colly collector.
type Renderer struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Renderer. The collector's HTTP backend is shared by every
// request, so transport and timeout are fixed here.
func New(cfg Config) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	// Error statuses are reported through OnResponse and mapped below.
	c.ParseHTTPErrorResponse = true
	c.AllowURLRevisit = true

	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = &robotsAwareTransport{base: transport, backoff: robotsRetryBackoff, logger: cfg.Logger}
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Renderer{cfg: cfg, baseCollector: c}
}

// Render fetches req.URL once. WaitSelector and WaitTime have no meaning
// without a browser and are ignored.
func (f *Renderer) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderedPage, error) {
	var (
		result   crawler.RenderedPage
		fetchErr error
	)
	collector := f.buildCollector(req, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return crawler.RenderedPage{}, err
	}
	switch {
	case result.StatusCode == http.StatusNotFound || result.StatusCode == http.StatusGone:
		return crawler.RenderedPage{}, fmt.Errorf("%w: %s returned %d", crawler.ErrNotFound, req.URL, result.StatusCode)
	case result.StatusCode >= http.StatusBadRequest:
		return crawler.RenderedPage{}, fmt.Errorf("%w: %s returned %d", crawler.ErrRender, req.URL, result.StatusCode)
	}
	result.SourceURL = req.URL
	return result, nil
}

func (f *Renderer) buildCollector(
	req crawler.RenderRequest,
	result *crawler.RenderedPage,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if ua := req.Headers.Get("User-Agent"); ua != "" {
		collector.UserAgent = ua
	}
	f.configureCollectorHooks(collector, req, result, fetchErr)
	return collector
}

func (f *Renderer) configureCollectorHooks(
	hooks collectorHooks,
	req crawler.RenderRequest,
	result *crawler.RenderedPage,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(req.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.RenderedPage{
			FinalURL:   r.Request.URL.String(),
			Markup:     string(r.Body),
			StatusCode: r.StatusCode,
			FetchedAt:  time.Now().UTC(),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Renderer) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %w", crawler.ErrRenderTimeout, url, ctx.Err())
		}
		return fmt.Errorf("%w: %s: %w", crawler.ErrRender, url, ctx.Err())
	case err := <-done:
		if err == nil {
			err = *fetchErr
		}
		if err == nil {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %s: %w", crawler.ErrRenderTimeout, url, err)
		}
		return fmt.Errorf("%w: %s: %w", crawler.ErrRender, url, err)
	}
}

// copyHeaders adds every header except User-Agent, which the collector sets.
func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		if http.CanonicalHeaderKey(key) == "User-Agent" {
			continue
		}
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
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
}
