package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/sites"
)

type fakeApp struct {
	kind     sites.Kind
	params   crawler.Params
	crawlErr error
	served   bool
	closed   bool
}

func (f *fakeApp) Crawl(_ context.Context, kind sites.Kind, params crawler.Params) (crawler.Summary, error) {
	f.kind, f.params = kind, params
	if f.crawlErr != nil {
		return crawler.Summary{}, f.crawlErr
	}
	return crawler.Summary{RunID: "run-1", Site: string(kind)}, nil
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func withFakeApp(t *testing.T, fake *fakeApp) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandBuildsParams(t *testing.T) {
	fake := &fakeApp{}
	cfgPath := withFakeApp(t, fake)

	out, err := run(t, "--config", "racecrawler.yaml", "crawl", "results",
		"--days-back", "2", "--num-pages", "max", "--region", "USA", "--state-bred", "false")
	require.NoError(t, err)
	require.Equal(t, "racecrawler.yaml", *cfgPath)
	require.Equal(t, sites.KindResults, fake.kind)
	require.NotNil(t, fake.params.Dates.DaysBack)
	require.Equal(t, 2, *fake.params.Dates.DaysBack)
	require.Nil(t, fake.params.Dates.DaysForward)
	require.Nil(t, fake.params.Pages.StartPage)
	require.Equal(t, "max", fake.params.Pages.NumPages)
	require.Equal(t, "USA", fake.params.Region)
	require.Equal(t, "false", fake.params.StateBred)
	require.True(t, fake.closed)

	var summary crawler.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Equal(t, "results", summary.Site)
}

func TestCrawlCommandRejectsUnknownSite(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	_, err := run(t, "crawl", "weather")
	require.Error(t, err)
	require.False(t, fake.closed)
}

func TestCrawlCommandReportsFailure(t *testing.T) {
	fake := &fakeApp{crawlErr: errors.New("boom")}
	withFakeApp(t, fake)

	_, err := run(t, "crawl", "news", "--start-page", "2", "--end-page", "4")
	require.ErrorContains(t, err, "crawl news: boom")
	require.Equal(t, 2, *fake.params.Pages.StartPage)
	require.Equal(t, 4, *fake.params.Pages.EndPage)
	require.True(t, fake.closed)
}

func TestServeCommand(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	_, err := run(t, "serve")
	require.NoError(t, err)
	require.True(t, fake.served)
	require.True(t, fake.closed)
}
