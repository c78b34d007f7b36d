package headless

import (
	"context"
	"fmt"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
)

// Noop implements crawler.Renderer when headless rendering is disabled.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render always fails with crawler.ErrRender.
func (Noop) Render(_ context.Context, req crawler.RenderRequest) (crawler.RenderedPage, error) {
	return crawler.RenderedPage{}, fmt.Errorf("%w: headless rendering disabled for %s", crawler.ErrRender, req.URL)
}
