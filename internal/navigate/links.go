package navigate

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var isoDateInPath = regexp.MustCompile(`/(\d{4}-\d{2}-\d{2})`)

// Links resolves every href matched by selector against base. Fragments are
// dropped and duplicates removed; keep, when non-nil, filters resolved URLs.
func Links(doc *goquery.Document, base, selector string, keep func(string) bool) []string {
	b, err := url.Parse(base)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		u := resolve(b, href)
		if u == "" || seen[u] {
			return
		}
		if keep != nil && !keep(u) {
			return
		}
		seen[u] = true
		out = append(out, u)
	})
	return out
}

// DeclaredDates returns the sorted, distinct YYYY-MM-DD dates that appear in
// the paths of anchors matched by selector.
func DeclaredDates(doc *goquery.Document, selector string) []string {
	set := map[string]bool{}
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if m := isoDateInPath.FindStringSubmatch(href); m != nil {
			set[m[1]] = true
		}
	})
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// DateFromPath returns the first /YYYY-MM-DD segment of a URL.
func DateFromPath(rawURL string) (string, bool) {
	m := isoDateInPath.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// PathSegments splits a URL path into its non-empty segments.
func PathSegments(rawURL string) []string {
	u, err := url.Parse(rawURL)
	path := rawURL
	if err == nil {
		path = u.Path
	}
	var out []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
