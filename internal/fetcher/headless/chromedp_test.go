package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	r, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 2, cap(r.limiter))
	require.Equal(t, defaultNavigationTimeout, r.cfg.NavigationTimeout)
	require.Equal(t, defaultSelectorTimeout, r.cfg.SelectorTimeout)
}

func TestCloneHeaderAndNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}, "Accept": {"text/html"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	require.Len(t, src["X-Test"], 2)
	require.Nil(t, cloneHeader(nil))

	net := toNetworkHeaders(src)
	require.Equal(t, []string{"a", "b"}, net["X-Test"])
	require.Equal(t, "text/html", net["Accept"])
}

func TestResponseMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example/app.js"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://entries.example/missing"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://entries.example/iframe"},
	})

	status, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 404, status)
	require.Equal(t, "https://entries.example/missing", url)
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	status, url := newResponseMeta().snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)

	_, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	require.Equal(t, "https://req", url)
}

func TestClassifyRenderErrors(t *testing.T) {
	t.Parallel()

	live := context.Background()
	expired, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-expired.Done()

	err := classify(live, live, "https://x", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	require.ErrorIs(t, err, crawler.ErrRender)
	require.Equal(t, crawler.OutcomeError, crawler.OutcomeFromError(err))

	err = classify(expired, live, "https://x", errors.New("navigate"))
	require.ErrorIs(t, err, crawler.ErrRenderTimeout)
	require.Equal(t, crawler.OutcomeTimeout, crawler.OutcomeFromError(err))
}

func TestNoopRendererFails(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Render(context.Background(), crawler.RenderRequest{URL: "https://x"})
	require.ErrorIs(t, err, crawler.ErrRender)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	r := &Renderer{limiter: make(chan struct{}, 1)}
	require.NoError(t, r.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, r.acquire(ctx))
	r.release()
	require.NoError(t, r.acquire(context.Background()))
}
