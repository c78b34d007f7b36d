package navigate

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Visited reports whether a URL has already been scheduled in this run.
type Visited interface {
	Contains(url string) bool
}

// VisitedSet is a Visited for callers that do not share it across goroutines.
type VisitedSet map[string]struct{}

// Contains implements Visited.
func (s VisitedSet) Contains(u string) bool {
	_, ok := s[u]
	return ok
}

// Add marks u as visited.
func (s VisitedSet) Add(u string) {
	s[u] = struct{}{}
}

// Cursor is the position of one pagination branch.
type Cursor struct {
	URL string
	// Page is the current page number. Zero means "derive it from the URL or markup".
	Page int
}

// Strategy names how a pagination candidate was found.
type Strategy string

// Strategies in the order they are tried.
const (
	StrategyStructural Strategy = "structural"
	StrategyNextLink   Strategy = "next_link"
	StrategyArithmetic Strategy = "arithmetic"
)

// Candidate is a possible next page.
type Candidate struct {
	URL      string
	Strategy Strategy
}

var (
	pageQueryPattern = regexp.MustCompile(`[?&]page=(\d+)`)
	pagePathPattern  = regexp.MustCompile(`/page[-/](\d+)`)
	shortQuery       = regexp.MustCompile(`([?&])p=(\d+)`)
	longQuery        = regexp.MustCompile(`([?&])page=(\d+)`)
	pathSegment      = regexp.MustCompile(`/page/(\d+)`)
)

var (
	paginationContainers = "ul.pagination, .pagination, nav[aria-label*=agination], .pager, .page-nav, [class*=pagination]"
	nextLinkTexts        = map[string]bool{
		"next": true, "next page": true, "next »": true, "next ›": true,
		"›": true, "→": true, "»": true, "▶": true, "⟩": true, ">": true,
	}
)

// ComputePaginationTarget picks the next page to fetch. It never returns the
// current URL or a visited URL, and it reports false once every candidate is
// exhausted. It is pure: repeated calls with the same inputs agree.
func ComputePaginationTarget(markup string, cur Cursor, visited Visited) (Candidate, bool) {
	current := CanonicalURL(cur.URL)
	for _, c := range Candidates(markup, cur) {
		key := CanonicalURL(c.URL)
		if key == current {
			continue
		}
		if visited != nil && (visited.Contains(key) || visited.Contains(c.URL)) {
			continue
		}
		return c, true
	}
	return Candidate{}, false
}

// CanonicalURL is the key two spellings of one page share: scheme and host
// lower-cased, fragment dropped, query parameters sorted. Unparsable input is
// returned unchanged.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	u.ForceQuery = false
	return u.String()
}

// Candidates lists every next-page candidate in precedence order without
// filtering visited pages.
func Candidates(markup string, cur Cursor) []Candidate {
	base, err := url.Parse(cur.URL)
	if err != nil {
		return nil
	}
	base.Fragment = ""
	base.RawFragment = ""
	curURL := base.String()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	page := cur.Page
	if page <= 0 {
		page = CurrentPage(curURL, doc)
	}

	var out []Candidate
	seen := map[string]bool{}
	add := func(raw string, s Strategy) {
		u := resolve(base, raw)
		if u == "" || seen[CanonicalURL(u)] {
			return
		}
		seen[CanonicalURL(u)] = true
		out = append(out, Candidate{URL: u, Strategy: s})
	}

	for _, href := range structuralLinks(doc, page) {
		add(href, StrategyStructural)
	}
	for _, href := range nextLinks(doc) {
		add(href, StrategyNextLink)
	}
	if guess := ArithmeticNext(curURL, page); guess != "" {
		add(guess, StrategyArithmetic)
	}
	return out
}

// CurrentPage reads the page number from the URL, then from the active
// pagination item in the markup, defaulting to 1.
func CurrentPage(rawURL string, doc *goquery.Document) int {
	if n, ok := PageFromURL(rawURL); ok {
		return n
	}
	if doc != nil {
		active := doc.Find(".pagination .active, .pagination .current, [aria-current=page]").First()
		if n, err := strconv.Atoi(strings.TrimSpace(active.Text())); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// PageFromURL extracts a page number from ?page=N or /page/N style URLs.
func PageFromURL(rawURL string) (int, bool) {
	for _, re := range []*regexp.Regexp{pageQueryPattern, pagePathPattern} {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// ArithmeticNext guesses the URL of page+1 from the current URL's pattern.
// URLs with no page marker get a page query parameter.
func ArithmeticNext(rawURL string, page int) string {
	next := strconv.Itoa(page + 1)
	switch {
	case longQuery.MatchString(rawURL):
		return longQuery.ReplaceAllString(rawURL, "${1}page="+next)
	case shortQuery.MatchString(rawURL):
		return shortQuery.ReplaceAllString(rawURL, "${1}p="+next)
	case pathSegment.MatchString(rawURL):
		return pathSegment.ReplaceAllString(rawURL, "/page/"+next)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("page", next)
	u.RawQuery = q.Encode()
	return u.String()
}

func structuralLinks(doc *goquery.Document, page int) []string {
	var out []string
	doc.Find(`a[rel="next"], link[rel="next"]`).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			out = append(out, href)
		}
	})
	want := strconv.Itoa(page + 1)
	doc.Find(paginationContainers).Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if strings.TrimSpace(s.Text()) == want {
			out = append(out, href)
			return
		}
		if n, ok := PageFromURL(href); ok && n == page+1 {
			out = append(out, href)
		}
	})
	return out
}

func nextLinks(doc *goquery.Document) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.ToLower(strings.Join(strings.Fields(s.Text()), " "))
		class, _ := s.Attr("class")
		class = strings.ToLower(class)
		aria, _ := s.Attr("aria-label")
		switch {
		case nextLinkTexts[text]:
		case strings.HasPrefix(text, "next"):
		case strings.Contains(class, "next"):
		case strings.Contains(strings.ToLower(aria), "next"):
		default:
			return
		}
		out = append(out, href)
	})
	return out
}

func resolve(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(strings.ToLower(raw), "javascript:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u := base.ResolveReference(ref)
	u.Fragment = ""
	return u.String()
}
