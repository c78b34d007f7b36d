package sites

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/classify"
	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/extract"
	"github.com/JakeFAU/racing-crawler/internal/navigate"
	"github.com/JakeFAU/racing-crawler/internal/record"
)

const (
	entriesSection    = "entries-results"
	entriesLinks      = `a[href*="/entries-results/"]`
	unknownTrack      = "Unknown Track"
	rootWaitMS        = 3000
	dateWaitMS        = 5000
	trackWaitMS       = 8000
	tableWaitSelector = "table"
)

var (
	titleTrack    = regexp.MustCompile(`(.+?)\s+Entries`)
	titleDate     = regexp.MustCompile(`\b(\d{1,2})-(\d{1,2})-(\d{4})\b`)
	raceNumberRe  = regexp.MustCompile(`Race # (\d+)`)
	yearPrefix    = regexp.MustCompile(`^\d{4}-`)
	entryKeywords = []string{"horse", "trainer", "jockey", "sire"}
)

// Entries crawls the daily entries and results pages. The root page declares
// the available dates; each date page links the tracks running that day and
// each track page carries one table per race.
type Entries struct {
	root   string
	logger *zap.Logger
}

// NewEntries returns the entries adapter rooted at root.
func NewEntries(root string, logger *zap.Logger) *Entries {
	return &Entries{root: strings.TrimRight(root, "/"), logger: logger}
}

// Name implements crawler.Site.
func (*Entries) Name() string { return string(KindEntries) }

// Start implements crawler.Site.
func (e *Entries) Start(crawler.Params) ([]crawler.CrawlTarget, error) {
	return []crawler.CrawlTarget{{
		URL:               e.root,
		Role:              crawler.RoleDiscoverDates,
		RequiresRendering: true,
		WaitSelector:      tableWaitSelector,
		WaitTimeMS:        rootWaitMS,
	}}, nil
}

// DeclaredDates implements crawler.DateSite.
func (e *Entries) DeclaredDates(page *crawler.Page) []string {
	return navigate.DeclaredDates(page.Doc, entriesLinks)
}

// KnownTracks implements crawler.DateSite. A track is the first path segment
// after the entries section that is not a date.
func (e *Entries) KnownTracks(page *crawler.Page) []string {
	seen := map[string]bool{}
	var out []string
	page.Doc.Find(entriesLinks).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		track := trackSlug(href)
		if track == "" || seen[track] {
			return
		}
		seen[track] = true
		out = append(out, track)
	})
	return out
}

// DateTarget implements crawler.DateSite.
func (e *Entries) DateTarget(date string) crawler.CrawlTarget {
	return crawler.CrawlTarget{
		URL:               e.root + "?date=" + date,
		Role:              crawler.RoleDiscoverTracks,
		RequiresRendering: true,
		WaitTimeMS:        dateWaitMS,
		LogicalDate:       date,
	}
}

// TrackTargets implements crawler.DateSite: every entries link that mentions
// date.
func (e *Entries) TrackTargets(page *crawler.Page, date string) []crawler.CrawlTarget {
	links := navigate.Links(page.Doc, page.URL(), entriesLinks, func(u string) bool {
		return strings.Contains(u, "/"+date)
	})
	out := make([]crawler.CrawlTarget, 0, len(links))
	for _, u := range links {
		out = append(out, e.trackTarget(u, date, false))
	}
	e.logger.Debug("track links for date", zap.String("date", date), zap.Int("tracks", len(out)))
	return out
}

// FallbackTarget implements crawler.DateSite.
func (e *Entries) FallbackTarget(track, date string) crawler.CrawlTarget {
	return e.trackTarget(fmt.Sprintf("%s/%s/%s", e.root, track, date), date, true)
}

func (e *Entries) trackTarget(u, date string, speculative bool) crawler.CrawlTarget {
	return crawler.CrawlTarget{
		URL:               u,
		Role:              crawler.RoleExtractTable,
		RequiresRendering: true,
		WaitSelector:      tableWaitSelector,
		WaitTimeMS:        trackWaitMS,
		LogicalDate:       date,
		Speculative:       speculative,
	}
}

// Extract implements crawler.Site for track pages.
func (e *Entries) Extract(_ context.Context, page *crawler.Page, emit crawler.Emit) (crawler.ExtractResult, error) {
	base := extract.RaceContext{
		Track:    record.Text(trackName(page)),
		RaceDate: record.Text(raceDate(page)),
		EntryURL: record.Text(page.URL()),
	}
	res := crawler.ExtractResult{}
	detailed := 0
	page.Doc.Find("table").Each(func(_ int, tbl *goquery.Selection) {
		table := extract.ReadTable(tbl)
		header := classify.HeaderText(table.Headers)
		if !containsAny(header, entryKeywords) {
			return
		}
		shape := classify.Entries.Classify(table.Headers)
		if shape == classify.ShapeUnrecognized {
			res.Unrecognized++
			return
		}
		rc := base
		if card := tbl.Closest(".my-5"); card.Length() > 0 {
			raceCard(card, &rc)
		}
		if shape == classify.ShapeDetailed {
			detailed++
			if rc.RaceNumber == nil {
				rc.RaceNumber = record.Text(fmt.Sprint(detailed))
			}
		}
		emitRaceRows(shape, table, rc, emit)
	})
	return res, nil
}

// emitRaceRows extracts every row of a race table and applies rc to it.
func emitRaceRows(shape classify.Shape, table extract.Table, rc extract.RaceContext, emit crawler.Emit) {
	for _, row := range table.Rows {
		rec, ok := extract.RaceRow(shape, row)
		if !ok {
			continue
		}
		rc.Apply(&rec)
		emit(rec)
	}
}

// raceCard reads the race-level fields of a .my-5 card.
func raceCard(card *goquery.Selection, rc *extract.RaceContext) {
	if m := raceNumberRe.FindStringSubmatch(record.Clean(card.Find(".race-header").First().Text())); m != nil {
		rc.RaceNumber = record.Text(m[1])
	}
	if t, ok := card.Find("time[datetime]").First().Attr("datetime"); ok {
		rc.RaceTime = record.Text(t)
	}
	rc.RaceDistance = record.Text(card.Find(".race-distance").First().Text())
	rc.RaceRestrictions = record.Text(card.Find(".race-restrictions").First().Text())
	rc.Purse = record.Text(card.Find(".race-purse").First().Text())
	rc.RaceWager = record.Text(card.Find(".race-wager-text").First().Text())
}

// trackSlug returns the track segment of an entries link, or "".
func trackSlug(href string) string {
	segs := navigate.PathSegments(href)
	for i, s := range segs {
		if s != entriesSection || i+1 >= len(segs) {
			continue
		}
		if next := segs[i+1]; !yearPrefix.MatchString(next) {
			return next
		}
		return ""
	}
	return ""
}

// trackName prefers the URL slug, then the page heading.
func trackName(page *crawler.Page) string {
	if slug := trackSlug(page.URL()); slug != "" {
		return titleCase(strings.ReplaceAll(slug, "-", " "))
	}
	for _, sel := range []string{"main h1", "h1", "title"} {
		if m := titleTrack.FindStringSubmatch(record.Clean(page.Doc.Find(sel).First().Text())); m != nil {
			return m[1]
		}
	}
	return unknownTrack
}

// raceDate prefers the URL, then an M-D-YYYY date in the title, then the
// target's logical date.
func raceDate(page *crawler.Page) string {
	if d, ok := navigate.DateFromPath(page.URL()); ok {
		return d
	}
	title := record.Clean(page.Doc.Find("title").First().Text() + " " + page.Doc.Find("h1").First().Text())
	if m := titleDate.FindStringSubmatch(title); m != nil {
		if t, err := time.Parse("1-2-2006", m[1]+"-"+m[2]+"-"+m[3]); err == nil {
			return t.Format(navigate.DateLayout)
		}
	}
	return page.Target.LogicalDate
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
