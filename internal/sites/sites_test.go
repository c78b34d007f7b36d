package sites

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/navigate"
	"github.com/JakeFAU/racing-crawler/internal/record"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

var testClock = fixedClock{at: time.Date(2024, 5, 4, 9, 0, 0, 0, time.UTC)}

func newPage(t *testing.T, target crawler.CrawlTarget, markup string) *crawler.Page {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return &crawler.Page{
		Target:   target,
		Rendered: crawler.RenderedPage{SourceURL: target.URL, FinalURL: target.URL, Markup: markup},
		Doc:      doc,
	}
}

// collect runs Extract and returns the emitted records.
func collect(t *testing.T, site crawler.Site, page *crawler.Page) ([]record.Record, crawler.ExtractResult) {
	t.Helper()
	var out []record.Record
	res, err := site.Extract(context.Background(), page, func(rec record.Record) { out = append(out, rec) })
	require.NoError(t, err)
	return out, res
}

func str(s string) *string { return &s }

func TestNewKnowsEveryKind(t *testing.T) {
	t.Parallel()

	for _, kind := range Kinds() {
		site, err := New(kind, URLs{}, testClock, zap.NewNop())
		require.NoError(t, err)
		require.Equal(t, string(kind), site.Name())
	}
	_, err := New("bogus", URLs{}, testClock, nil)
	require.Error(t, err)
}

const entriesRoot = `<html><body><main><table><tbody>
<tr><td><a href="/entries-results/churchill-downs/2024-05-01">Churchill Downs</a></td></tr>
<tr><td><a href="/entries-results/churchill-downs/2024-05-01#race-2">Race 2</a></td></tr>
<tr><td><a href="/entries-results/keeneland/2024-05-02">Keeneland</a></td></tr>
<tr><td><a href="/entries-results/2024-05-03">Friday</a></td></tr>
</tbody></table></main></body></html>`

func TestEntriesDiscovery(t *testing.T) {
	t.Parallel()

	site := NewEntries(DefaultEntriesURL, zap.NewNop())
	roots, err := site.Start(crawler.Params{})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Equal(t, crawler.RoleDiscoverDates, roots[0].Role)
	require.True(t, roots[0].RequiresRendering)

	page := newPage(t, roots[0], entriesRoot)
	require.Equal(t, []string{"2024-05-01", "2024-05-02", "2024-05-03"}, site.DeclaredDates(page))
	require.Equal(t, []string{"churchill-downs", "keeneland"}, site.KnownTracks(page))

	date := site.DateTarget("2024-05-01")
	require.Equal(t, DefaultEntriesURL+"?date=2024-05-01", date.URL)
	require.Equal(t, crawler.RoleDiscoverTracks, date.Role)
	require.Equal(t, "2024-05-01", date.LogicalDate)

	tracks := site.TrackTargets(newPage(t, date, entriesRoot), "2024-05-01")
	require.Len(t, tracks, 1)
	require.Equal(t, "https://entries.horseracingnation.com/entries-results/churchill-downs/2024-05-01", tracks[0].URL)
	require.Equal(t, crawler.RoleExtractTable, tracks[0].Role)
	require.False(t, tracks[0].Speculative)

	guess := site.FallbackTarget("keeneland", "2024-05-01")
	require.Equal(t, DefaultEntriesURL+"/keeneland/2024-05-01", guess.URL)
	require.True(t, guess.Speculative)
	require.Equal(t, "table", guess.WaitSelector)
}

const trackPage = `<html><head><title>Churchill Downs Entries</title></head><body><main>
<div class="my-5">
  <div class="race-header">Race # 12</div>
  <time datetime="2024-05-04T18:57:00-04:00">6:57 PM</time>
  <div class="race-distance">1 1/4 Miles</div>
  <div class="race-restrictions">3 yo</div>
  <div class="race-purse">Purse: $5,000,000</div>
  <div class="race-wager-text">Exacta, Trifecta</div>
  <table class="table-entries">
    <thead><tr><th>#</th><th>PP</th><th>Horse / Sire</th><th>Trainer / Jockey</th><th>ML</th></tr></thead>
    <tbody>
      <tr>
        <td data-label="Program Number">1</td>
        <td data-label="Post Position">1</td>
        <td data-label="Horse / Sire"><a class="horse-link" href="/horse/Dornoch">Dornoch</a> <span class="small">(95)</span><p>Good Magic</p></td>
        <td data-label="Trainer / Jockey"><p>Danny Gargan</p><p>Luis Saez</p></td>
        <td data-label="Morning Line Odds"><p>20/1</p></td>
      </tr>
    </tbody>
  </table>
</div>
<table><thead><tr><th>Horse notes</th></tr></thead><tbody><tr><td>Likes mud</td></tr></tbody></table>
<table><thead><tr><th>Weather</th></tr></thead><tbody><tr><td>Sunny</td></tr></tbody></table>
</main></body></html>`

func TestEntriesExtractTrackPage(t *testing.T) {
	t.Parallel()

	site := NewEntries(DefaultEntriesURL, zap.NewNop())
	target := site.FallbackTarget("churchill-downs", "2024-05-04")
	recs, res := collect(t, site, newPage(t, target, trackPage))

	require.Equal(t, 1, res.Unrecognized)
	require.Len(t, recs, 1)
	got, ok := recs[0].(record.RaceRecord)
	require.True(t, ok)

	want := record.RaceRecord{
		Track:            str("Churchill Downs"),
		RaceDate:         str("2024-05-04"),
		RaceNumber:       str("12"),
		RaceTime:         str("2024-05-04T18:57:00-04:00"),
		RaceDistance:     str("1 1/4 Miles"),
		RaceRestrictions: str("3 yo"),
		Purse:            str("Purse: $5,000,000"),
		RaceWager:        str("Exacta, Trifecta"),
		PostPosition:     str("1"),
		HorseName:        str("Dornoch"),
		Sire:             str("Good Magic"),
		SpeedFigure:      str("95"),
		MorningLineOdds:  str("20/1"),
		Trainer:          str("Danny Gargan"),
		Jockey:           str("Luis Saez"),
		EntryURL:         str(target.URL),
	}
	got.HRNPowerRanking = nil
	require.Empty(t, cmp.Diff(want, got))
}

func TestEntriesTrackNameAndDateFallbacks(t *testing.T) {
	t.Parallel()

	target := crawler.CrawlTarget{URL: "https://example.org/card?id=9", LogicalDate: "2024-01-01"}
	page := newPage(t, target, `<title>Belmont at Saratoga Entries for 6-8-2024</title>`)
	require.Equal(t, "Belmont at Saratoga", trackName(page))
	require.Equal(t, "2024-06-08", raceDate(page))

	page = newPage(t, target, `<p>nothing</p>`)
	require.Equal(t, unknownTrack, trackName(page))
	require.Equal(t, "2024-01-01", raceDate(page))
}

const rankingsPage = `<table>
<thead><tr><th>Rank</th><th>Rating</th><th>Horse</th></tr></thead>
<tbody>
<tr><td>1</td><td>120*</td><td><a href="/horse/Flightline">Flightline</a><br>by Tapit</td></tr>
<tr><td>2</td><td>98</td><td><a href="/horse/Epicenter">Epicenter</a><br>by Not This Time</td></tr>
</tbody></table>`

func TestRankingsExtract(t *testing.T) {
	t.Parallel()

	site := NewRankings(DefaultRankingsURL, testClock, zap.NewNop())
	roots, err := site.Start(crawler.Params{})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.True(t, roots[0].FollowPages)
	require.Equal(t, crawler.RoleDiscoverPage, roots[0].Role)
	require.Equal(t, DefaultRankingsURL+"?page=1", roots[0].URL)

	recs, res := collect(t, site, newPage(t, roots[0], rankingsPage))
	require.Zero(t, res.Unrecognized)
	require.Len(t, recs, 2)
	first := recs[0].(record.RankingRecord)
	require.Equal(t, 1, *first.Rank)
	require.Equal(t, "Flightline", *first.HorseName)
	require.Equal(t, "Tapit", *first.Sire)
	require.Equal(t, "2024-05-04", *first.RankingDate)
	require.Equal(t, roots[0].URL, *first.URL)
}

func TestRankingsBoundedPagesAndAlternativeStructure(t *testing.T) {
	t.Parallel()

	site := NewRankings(DefaultRankingsURL, testClock, zap.NewNop())
	two := 2
	roots, err := site.Start(crawler.Params{Pages: navigate.PageParams{StartPage: &two, NumPages: "2"}})
	require.NoError(t, err)
	require.Len(t, roots, 2)
	require.Equal(t, DefaultRankingsURL+"?page=2", roots[0].URL)
	require.Equal(t, DefaultRankingsURL+"?page=3", roots[1].URL)
	require.False(t, roots[0].FollowPages)

	markup := `<ol>
<li class="rank-item">Zandon <a href="/sire/Upstart">Upstart</a> <a href="/horse/Zandon">profile</a></li>
<li class="rank-item"><a href="/horse/Taiba">Taiba</a></li>
</ol>`
	recs, _ := collect(t, site, newPage(t, roots[0], markup))
	require.Len(t, recs, 2)
	first := recs[0].(record.RankingRecord)
	require.Equal(t, "Zandon", *first.HorseName)
	require.Equal(t, "Upstart", *first.Sire)
	require.Equal(t, "/horse/Zandon", *first.HorseURL)
	require.Equal(t, "Taiba", *recs[1].(record.RankingRecord).HorseName)
}

func TestNewsFeedAndArticle(t *testing.T) {
	t.Parallel()

	site := NewNews(DefaultNewsURL, zap.NewNop())
	roots, err := site.Start(crawler.Params{})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.False(t, roots[0].FollowPages)
	require.False(t, roots[0].RequiresRendering)

	feed := `<article><h3><a href="/news/derby-recap">Derby recap</a></h3></article>
<article><h3><a href="/news/preakness-preview">Preakness preview</a></h3></article>`
	recs, res := collect(t, site, newPage(t, roots[0], feed))
	require.Empty(t, recs)
	require.Len(t, res.FollowUps, 2)
	require.Equal(t, "https://www.horseracingnation.com/news/derby-recap", res.FollowUps[0].URL)
	require.Equal(t, crawler.RoleExtractTable, res.FollowUps[0].Role)

	story := `<h1> Mystik Dan wins the Derby </h1><time>May 4, 2024</time>
<div><p>A nose.</p><p> Three across the wire. </p></div>`
	recs, _ = collect(t, site, newPage(t, res.FollowUps[0], story))
	require.Len(t, recs, 1)
	want := record.ArticleRecord{
		Title:           str("Mystik Dan wins the Derby"),
		Author:          str(unknownAuthor),
		PublicationDate: str("May 4, 2024"),
		Content:         str("A nose. Three across the wire."),
		Source:          str(newsSource),
		URL:             str(res.FollowUps[0].URL),
	}
	require.Empty(t, cmp.Diff(want, recs[0]))

	recs, _ = collect(t, site, newPage(t, res.FollowUps[1], `<div><p>untitled</p></div>`))
	require.Empty(t, recs)
}

func TestNewsPagePlans(t *testing.T) {
	t.Parallel()

	site := NewNews(DefaultNewsURL, zap.NewNop())
	end := 3
	roots, err := site.Start(crawler.Params{Pages: navigate.PageParams{EndPage: &end}})
	require.NoError(t, err)
	require.Len(t, roots, 3)

	roots, err = site.Start(crawler.Params{Pages: navigate.PageParams{NumPages: "max"}})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.True(t, roots[0].FollowPages)
}

func TestResultsStartAndPageFanOut(t *testing.T) {
	t.Parallel()

	site := NewResults(DefaultResultsURL, testClock, zap.NewNop())
	roots, err := site.Start(crawler.Params{})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Zero(t, roots[0].PageNumber)
	require.Contains(t, roots[0].URL, "startDate=05%2F03%2F2024")
	require.Contains(t, roots[0].URL, "endDate=05%2F04%2F2024")
	require.Contains(t, roots[0].URL, "regionOptions=Domestic")
	require.Contains(t, roots[0].URL, "searchStateBredPlacers=False")
	require.Contains(t, roots[0].URL, "page=1")

	markup := `<main><div class="g-l8"><h5>Showing 1 - 25 of 60</h5></div>
<table><thead><tr><th>Race</th><th>HRN</th><th>Horse</th><th>Sire</th><th>Age</th></tr></thead>
<tbody><tr><td>5</td><td>101</td><td>Thorpedo Anna</td><td>Fast Anna</td><td>3F</td></tr></tbody></table></main>`
	recs, res := collect(t, site, newPage(t, roots[0], markup))
	require.Len(t, res.FollowUps, 2)
	require.Contains(t, res.FollowUps[0].URL, "page=2")
	require.Equal(t, 3, res.FollowUps[1].PageNumber)
	require.Len(t, recs, 1)
	got := recs[0].(record.RaceRecord)
	require.Equal(t, "Thorpedo Anna", *got.HorseName)
	require.Equal(t, "3", *got.Age)
	require.Equal(t, "F", *got.Sex)

	// Later pages never fan out again.
	_, res = collect(t, site, newPage(t, res.FollowUps[0], markup))
	require.Empty(t, res.FollowUps)
}

func TestResultsParams(t *testing.T) {
	t.Parallel()

	site := NewResults(DefaultResultsURL, testClock, zap.NewNop())
	roots, err := site.Start(crawler.Params{
		Dates:     navigate.DateParams{StartDate: "2024-04-01", EndDate: "2024-04-07"},
		Region:    "International",
		StateBred: "true",
	})
	require.NoError(t, err)
	require.Contains(t, roots[0].URL, "startDate=04%2F01%2F2024")
	require.Contains(t, roots[0].URL, "endDate=04%2F07%2F2024")
	require.Contains(t, roots[0].URL, "regionOptions=International")
	require.Contains(t, roots[0].URL, "searchStateBredPlacers=True")

	_, err = site.Start(crawler.Params{Dates: navigate.DateParams{StartDate: "04/01/2024"}})
	require.ErrorIs(t, err, navigate.ErrInvalidDateRange)
}
