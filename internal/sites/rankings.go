package sites

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/classify"
	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/extract"
	"github.com/JakeFAU/racing-crawler/internal/navigate"
	"github.com/JakeFAU/racing-crawler/internal/record"
)

const (
	rankingsWaitMS   = 5000
	alternativeItems = `[class*="rank"], [class*="power"], [class*="horse"]`
)

// Rankings crawls the power rankings listing. Pagination follows until
// exhausted unless the caller bounds it.
type Rankings struct {
	root   string
	clock  crawler.Clock
	logger *zap.Logger
}

// NewRankings returns the power rankings adapter rooted at root.
func NewRankings(root string, clock crawler.Clock, logger *zap.Logger) *Rankings {
	return &Rankings{root: root, clock: clock, logger: logger}
}

// Name implements crawler.Site.
func (*Rankings) Name() string { return string(KindRankings) }

// Start implements crawler.Site.
func (r *Rankings) Start(params crawler.Params) ([]crawler.CrawlTarget, error) {
	plan, err := navigate.ResolvePagePlan(params.Pages, true)
	if err != nil {
		return nil, err
	}
	return pageTargets(r.root, plan, crawler.CrawlTarget{
		Role:              crawler.RoleDiscoverPage,
		RequiresRendering: true,
		WaitSelector:      tableWaitSelector,
		WaitTimeMS:        rankingsWaitMS,
	}), nil
}

// Extract implements crawler.Site.
func (r *Rankings) Extract(_ context.Context, page *crawler.Page, emit crawler.Emit) (crawler.ExtractResult, error) {
	today := r.clock.Now().Format(navigate.DateLayout)
	res := crawler.ExtractResult{}
	found := false
	for _, table := range extract.Tables(page.Doc.Selection) {
		if classify.Rankings.Classify(table.Headers) != classify.ShapeRankings {
			res.Unrecognized++
			continue
		}
		found = true
		for _, row := range table.Rows {
			rec, ok := extract.Ranking(row)
			if !ok {
				continue
			}
			rec.RankingDate = record.Text(today)
			rec.URL = record.Text(page.URL())
			emit(rec)
		}
	}
	if !found {
		r.logger.Debug("no ranking table, trying alternative structure", zap.String("url", page.URL()))
		alternativeRankings(page, today, emit)
	}
	return res, nil
}

// alternativeRankings reads rankings laid out without a table: any element
// whose class mentions rank, power or horse and that carries a name.
func alternativeRankings(page *crawler.Page, today string, emit crawler.Emit) {
	seen := map[string]bool{}
	page.Doc.Find(alternativeItems).Each(func(_ int, s *goquery.Selection) {
		name := elementName(s)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		rec := record.RankingRecord{
			HorseName:   record.Text(name),
			RankingDate: record.Text(today),
			URL:         record.Text(page.URL()),
		}
		s.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			text := record.Clean(a.Text())
			switch {
			case href == "" || text == "":
			case strings.Contains(href, "horse") || strings.Contains(href, "profile"):
				if rec.HorseURL == nil {
					rec.HorseURL = record.Text(href)
				}
			case strings.Contains(href, "sire") || strings.Contains(href, "stallion"):
				rec.Sire = record.Text(text)
			}
		})
		emit(rec)
	})
}

// elementName is the element's own leading text, else its first link or
// name-classed child.
func elementName(s *goquery.Selection) string {
	own := ""
	s.Contents().EachWithBreak(func(_ int, c *goquery.Selection) bool {
		if goquery.NodeName(c) == "#text" {
			own = record.Clean(c.Text())
		}
		return own == ""
	})
	if own != "" {
		return own
	}
	if a := record.Clean(s.Find("a").First().Text()); a != "" {
		return a
	}
	return record.Clean(s.Find(`[class*="name"]`).First().Text())
}

// pageTargets expands a page plan into targets built from tmpl. A following
// plan yields one target that chases pagination; a bounded plan yields one
// target per page.
func pageTargets(root string, plan navigate.PagePlan, tmpl crawler.CrawlTarget) []crawler.CrawlTarget {
	if plan.Follow {
		t := tmpl
		t.URL = withPage(root, plan.Start)
		t.PageNumber = plan.Start
		t.FollowPages = true
		return []crawler.CrawlTarget{t}
	}
	pages := plan.Pages()
	out := make([]crawler.CrawlTarget, 0, len(pages))
	for _, n := range pages {
		t := tmpl
		t.URL = withPage(root, n)
		t.PageNumber = n
		out = append(out, t)
	}
	return out
}
