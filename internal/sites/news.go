package sites

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
	"github.com/JakeFAU/racing-crawler/internal/navigate"
	"github.com/JakeFAU/racing-crawler/internal/record"
)

const (
	newsSource    = "Horse Racing Nation"
	unknownAuthor = "Unknown Author"
)

// News crawls the news feed. Feed pages link articles; each article page
// yields one ArticleRecord.
type News struct {
	root   string
	logger *zap.Logger
}

// NewNews returns the news adapter rooted at root.
func NewNews(root string, logger *zap.Logger) *News {
	return &News{root: root, logger: logger}
}

// Name implements crawler.Site.
func (*News) Name() string { return string(KindNews) }

// Start implements crawler.Site. Without page directives only the start page
// is fetched.
func (n *News) Start(params crawler.Params) ([]crawler.CrawlTarget, error) {
	plan, err := navigate.ResolvePagePlan(params.Pages, false)
	if err != nil {
		return nil, err
	}
	return pageTargets(n.root, plan, crawler.CrawlTarget{Role: crawler.RoleDiscoverPage}), nil
}

// Extract implements crawler.Site. Feed pages (DISCOVER_PAGE) produce article
// targets; article pages (EXTRACT_TABLE) produce records.
func (n *News) Extract(_ context.Context, page *crawler.Page, emit crawler.Emit) (crawler.ExtractResult, error) {
	if page.Target.Role == crawler.RoleDiscoverPage {
		return n.feed(page), nil
	}
	rec, ok := article(page)
	if !ok {
		n.logger.Warn("skipping article with no title", zap.String("url", page.URL()))
		return crawler.ExtractResult{}, nil
	}
	emit(rec)
	return crawler.ExtractResult{}, nil
}

func (n *News) feed(page *crawler.Page) crawler.ExtractResult {
	links := navigate.Links(page.Doc, page.URL(), "article h3 a", nil)
	res := crawler.ExtractResult{FollowUps: make([]crawler.CrawlTarget, 0, len(links))}
	for _, u := range links {
		res.FollowUps = append(res.FollowUps, crawler.CrawlTarget{URL: u, Role: crawler.RoleExtractTable})
	}
	n.logger.Debug("news feed page", zap.String("url", page.URL()), zap.Int("articles", len(links)))
	return res
}

// article reads one article page. ok is false without a title.
func article(page *crawler.Page) (record.ArticleRecord, bool) {
	doc := page.Doc
	rec := record.ArticleRecord{
		Title:           record.Text(doc.Find("h1").First().Text()),
		Author:          record.Text(doc.Find("span.byline").First().Text()),
		PublicationDate: record.Text(doc.Find("time").First().Text()),
		Source:          record.Text(newsSource),
		URL:             record.Text(page.URL()),
	}
	if rec.Author == nil {
		rec.Author = record.Text(unknownAuthor)
	}
	var paras []string
	doc.Find("div p").Each(func(_ int, p *goquery.Selection) {
		if text := record.Clean(p.Text()); text != "" {
			paras = append(paras, text)
		}
	})
	rec.Content = record.Text(strings.Join(paras, " "))
	return rec, rec.HasIdentity()
}
