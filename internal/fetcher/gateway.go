// Package fetcher routes render requests to a headless browser or a plain
// HTTP fetch, under a shared per-host rate limit and a rotating user agent.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
)

// HostLimiter blocks until a request to rawURL may proceed.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Promoter decides whether a static page must be rendered in the browser
// after all.
type Promoter interface {
	ShouldPromote(page crawler.RenderedPage) bool
}

// Gateway implements crawler.Renderer.
type Gateway struct {
	static     crawler.Renderer
	headless   crawler.Renderer
	limiter    HostLimiter
	promoter   Promoter
	userAgents []string
	selectUA   crawler.UserAgentSelector
	logger     *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLimiter throttles every request per host.
func WithLimiter(l HostLimiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithUserAgents sets the pool and the selector drawing from it.
func WithUserAgents(pool []string, sel crawler.UserAgentSelector) Option {
	return func(g *Gateway) {
		g.userAgents = append([]string(nil), pool...)
		g.selectUA = sel
	}
}

// WithPromoter re-renders static pages that p flags in the headless browser.
func WithPromoter(p Promoter) Option {
	return func(g *Gateway) { g.promoter = p }
}

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway builds a Gateway. Both renderers are required.
func NewGateway(static, headless crawler.Renderer, opts ...Option) (*Gateway, error) {
	if static == nil || headless == nil {
		return nil, errors.New("gateway requires static and headless renderers")
	}
	g := &Gateway{static: static, headless: headless, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	if g.selectUA == nil {
		g.selectUA = RoundRobinSelector()
	}
	return g, nil
}

// Render implements crawler.Renderer.
func (g *Gateway) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderedPage, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, req.URL); err != nil {
			return crawler.RenderedPage{}, fmt.Errorf("%w: %w", crawler.ErrRenderTimeout, err)
		}
	}
	if ua := g.selectUA(g.userAgents); ua != "" {
		req.Headers = req.Headers.Clone()
		if req.Headers == nil {
			req.Headers = http.Header{}
		}
		req.Headers.Set("User-Agent", ua)
	}

	backend, mode := g.static, "static"
	if req.RequiresRendering {
		backend, mode = g.headless, "headless"
	}
	g.logger.Debug("rendering", zap.String("url", req.URL), zap.String("mode", mode))
	page, err := backend.Render(ctx, req)
	if err != nil {
		return crawler.RenderedPage{}, err
	}
	if req.RequiresRendering || g.promoter == nil || !g.promoter.ShouldPromote(page) {
		return page, nil
	}
	g.logger.Info("promoting to headless", zap.String("url", req.URL))
	promoted, err := g.headless.Render(ctx, req)
	if err != nil {
		g.logger.Warn("headless promotion failed, keeping static page", zap.String("url", req.URL), zap.Error(err))
		return page, nil
	}
	return promoted, nil
}
