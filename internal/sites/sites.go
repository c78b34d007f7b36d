// Package sites adapts individual racing websites to the crawl engine. Each
// adapter knows its root URL, how its pages are laid out and which targets
// lead from one page to the next; the engine does the rest.
package sites

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
)

// Kind names a supported site.
type Kind string

// Supported sites.
const (
	KindEntries  Kind = "entries"
	KindRankings Kind = "rankings"
	KindNews     Kind = "news"
	KindResults  Kind = "results"
)

// Kinds lists every supported site in a stable order.
func Kinds() []Kind {
	return []Kind{KindEntries, KindRankings, KindNews, KindResults}
}

// Default root URLs.
const (
	DefaultEntriesURL  = "https://entries.horseracingnation.com/entries-results"
	DefaultRankingsURL = "https://www.horseracingnation.com/polls/current/PowerRankings_Active"
	DefaultNewsURL     = "https://www.horseracingnation.com/news"
	DefaultResultsURL  = "https://www.bloodhorse.com/horse-racing/race/race-results/allracing"
)

// URLs overrides the root URL of each site. Empty fields use the defaults.
type URLs struct {
	Entries  string
	Rankings string
	News     string
	Results  string
}

func (u URLs) withDefaults() URLs {
	if u.Entries == "" {
		u.Entries = DefaultEntriesURL
	}
	if u.Rankings == "" {
		u.Rankings = DefaultRankingsURL
	}
	if u.News == "" {
		u.News = DefaultNewsURL
	}
	if u.Results == "" {
		u.Results = DefaultResultsURL
	}
	return u
}

// New builds the adapter for kind.
func New(kind Kind, urls URLs, clock crawler.Clock, logger *zap.Logger) (crawler.Site, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	urls = urls.withDefaults()
	logger = logger.With(zap.String("site", string(kind)))
	switch kind {
	case KindEntries:
		return NewEntries(urls.Entries, logger), nil
	case KindRankings:
		return NewRankings(urls.Rankings, clock, logger), nil
	case KindNews:
		return NewNews(urls.News, logger), nil
	case KindResults:
		return NewResults(urls.Results, clock, logger), nil
	default:
		return nil, fmt.Errorf("unknown site %q", kind)
	}
}

// withPage returns raw with its page query parameter set to n.
func withPage(raw string, n int) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}

// titleCase upper-cases the first letter of every space-separated word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
