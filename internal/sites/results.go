package sites

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/classify"
	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/extract"
	"github.com/JakeFAU/racing-crawler/internal/navigate"
	"github.com/JakeFAU/racing-crawler/internal/record"
)

const (
	resultsDateLayout = "01/02/2006"
	resultsPerPage    = 25
	resultsCountSel   = "main .g-l8 h5"
	resultsWaitMS     = 5000
	defaultRegion     = "Domestic"
	defaultStateBred  = "False"
)

// Results crawls the race results search. The first page reports how many
// results matched; the remaining pages are fanned out from that count unless
// the caller bounds the pages.
type Results struct {
	base   string
	clock  crawler.Clock
	logger *zap.Logger
}

// NewResults returns the results adapter for the search at base.
func NewResults(base string, clock crawler.Clock, logger *zap.Logger) *Results {
	return &Results{base: base, clock: clock, logger: logger}
}

// Name implements crawler.Site.
func (*Results) Name() string { return string(KindResults) }

// Start implements crawler.Site. Dates default to yesterday through today.
func (r *Results) Start(params crawler.Params) ([]crawler.CrawlTarget, error) {
	search, err := r.searchURL(params)
	if err != nil {
		return nil, err
	}
	plan, err := navigate.ResolvePagePlan(params.Pages, true)
	if err != nil {
		return nil, err
	}
	tmpl := crawler.CrawlTarget{Role: crawler.RoleExtractTable, RequiresRendering: true, WaitTimeMS: resultsWaitMS}
	if plan.Follow {
		// PageNumber stays zero: the page count is read from this page.
		tmpl.URL = withPage(search, plan.Start)
		return []crawler.CrawlTarget{tmpl}, nil
	}
	return pageTargets(search, plan, tmpl), nil
}

func (r *Results) searchURL(params crawler.Params) (string, error) {
	today := r.clock.Now()
	start, end := today.AddDate(0, 0, -1), today
	if !params.Dates.Empty() {
		dates, err := navigate.ComputeDateRange(params.Dates, today, nil)
		if err != nil {
			return "", err
		}
		if len(dates) > 0 {
			start, _ = time.Parse(navigate.DateLayout, dates[0])
			end, _ = time.Parse(navigate.DateLayout, dates[len(dates)-1])
		}
	}
	u, err := url.Parse(r.base)
	if err != nil {
		return "", fmt.Errorf("parse results url: %w", err)
	}
	region := params.Region
	if region == "" {
		region = defaultRegion
	}
	stateBred := defaultStateBred
	if params.StateBred != "" {
		b, _ := strconv.ParseBool(params.StateBred)
		stateBred = titleCase(strconv.FormatBool(b))
	}
	q := u.Query()
	q.Set("startDate", start.Format(resultsDateLayout))
	q.Set("endDate", end.Format(resultsDateLayout))
	q.Set("regionOptions", region)
	q.Set("searchStateBredPlacers", stateBred)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Extract implements crawler.Site.
func (r *Results) Extract(_ context.Context, page *crawler.Page, emit crawler.Emit) (crawler.ExtractResult, error) {
	res := crawler.ExtractResult{}
	if page.Target.PageNumber == 0 {
		res.FollowUps = r.remainingPages(page)
	}
	rc := extract.RaceContext{EntryURL: record.Text(page.URL())}
	for _, table := range extract.Tables(page.Doc.Selection) {
		shape := classify.Entries.Classify(table.Headers)
		if shape == classify.ShapeUnrecognized {
			res.Unrecognized++
			continue
		}
		emitRaceRows(shape, table, rc, emit)
	}
	return res, nil
}

// remainingPages reads the result count and targets every page after the
// current one.
func (r *Results) remainingPages(page *crawler.Page) []crawler.CrawlTarget {
	label := strings.TrimSpace(page.Doc.Find(resultsCountSel).First().Text())
	last := navigate.PageCount(label, resultsPerPage)
	cur, ok := navigate.PageFromURL(page.Target.URL)
	if !ok {
		cur = 1
	}
	r.logger.Debug("results pages", zap.String("label", label), zap.Int("pages", last))
	var out []crawler.CrawlTarget
	for n := cur + 1; n <= last; n++ {
		t := page.Target
		t.URL = withPage(page.Target.URL, n)
		t.PageNumber = n
		out = append(out, t)
	}
	return out
}
