package navigate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const pagedMarkup = `<html><body>
<ul class="pagination">
 <li class="page-item"><a class="page-link" href="/polls?page=1">1</a></li>
 <li class="page-item active"><a class="page-link" href="/polls?page=2">2</a></li>
 <li class="page-item"><a class="page-link" href="/polls?page=3">3</a></li>
 <li class="page-item"><a class="page-link next" href="/polls?page=3#top">Next »</a></li>
</ul></body></html>`

func TestComputePaginationTargetStructural(t *testing.T) {
	t.Parallel()

	cur := Cursor{URL: "https://example.com/polls?page=2"}
	got, ok := ComputePaginationTarget(pagedMarkup, cur, VisitedSet{})
	require.True(t, ok)
	require.Equal(t, "https://example.com/polls?page=3", got.URL)
	require.Equal(t, StrategyStructural, got.Strategy)
}

func TestComputePaginationTargetSkipsVisited(t *testing.T) {
	t.Parallel()

	// Every strategy lands on page 3 here, so once it is visited the branch ends.
	cur := Cursor{URL: "https://example.com/polls?page=2"}
	visited := VisitedSet{}
	visited.Add("https://example.com/polls?page=3")

	_, ok := ComputePaginationTarget(pagedMarkup, cur, visited)
	require.False(t, ok)
}

func TestComputePaginationTargetExhaustedIsIdempotent(t *testing.T) {
	t.Parallel()

	markup := `<html><body><p>no links</p></body></html>`
	cur := Cursor{URL: "https://example.com/news?page=4", Page: 4}
	visited := VisitedSet{}
	visited.Add("https://example.com/news?page=5")

	for i := 0; i < 3; i++ {
		_, ok := ComputePaginationTarget(markup, cur, visited)
		require.False(t, ok)
	}
}

func TestComputePaginationTargetNeverReturnsCurrent(t *testing.T) {
	t.Parallel()

	markup := `<a rel="next" href="/news?page=1">more</a>`
	cur := Cursor{URL: "https://example.com/news?page=1"}
	got, ok := ComputePaginationTarget(markup, cur, nil)
	require.True(t, ok)
	require.Equal(t, "https://example.com/news?page=2", got.URL)
	require.Equal(t, StrategyArithmetic, got.Strategy)
}

func TestComputePaginationTargetNextAffordance(t *testing.T) {
	t.Parallel()

	markup := `<div><a href="/archive/older">›</a></div>`
	got, ok := ComputePaginationTarget(markup, Cursor{URL: "https://example.com/archive"}, VisitedSet{})
	require.True(t, ok)
	require.Equal(t, "https://example.com/archive/older", got.URL)
	require.Equal(t, StrategyNextLink, got.Strategy)
}

func TestArithmeticNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		page int
		want string
	}{
		{url: "https://x.test/a?page=2", page: 2, want: "https://x.test/a?page=3"},
		{url: "https://x.test/a?sort=new&page=7", page: 7, want: "https://x.test/a?sort=new&page=8"},
		{url: "https://x.test/a?p=1", page: 1, want: "https://x.test/a?p=2"},
		{url: "https://x.test/blog/page/4", page: 4, want: "https://x.test/blog/page/5"},
		{url: "https://x.test/news", page: 1, want: "https://x.test/news?page=2"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ArithmeticNext(tt.url, tt.page))
		})
	}
}

func TestCurrentPage(t *testing.T) {
	t.Parallel()

	require.Equal(t, 6, CurrentPage("https://x.test/a?page=6", nil))
	require.Equal(t, 3, CurrentPage("https://x.test/page-3", nil))
	require.Equal(t, 1, CurrentPage("https://x.test/a", nil))
}

func TestResolvePagePlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params PageParams
		follow bool
		want   PagePlan
	}{
		{name: "defaults to start page", want: PagePlan{Start: 1, End: 1}},
		{name: "defaults to follow", follow: true, want: PagePlan{Start: 1, Follow: true}},
		{name: "explicit end", params: PageParams{StartPage: intPtr(2), EndPage: intPtr(4)}, want: PagePlan{Start: 2, End: 4}},
		{name: "num pages", params: PageParams{StartPage: intPtr(3), NumPages: "2"}, want: PagePlan{Start: 3, End: 4}},
		{name: "end wins over num", params: PageParams{EndPage: intPtr(2), NumPages: "9"}, want: PagePlan{Start: 1, End: 2}},
		{name: "max follows", params: PageParams{NumPages: "MAX"}, want: PagePlan{Start: 1, Follow: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ResolvePagePlan(tt.params, tt.follow)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := ResolvePagePlan(PageParams{StartPage: intPtr(5), EndPage: intPtr(2)}, false)
	require.ErrorIs(t, err, ErrInvalidPagePlan)
	_, err = ResolvePagePlan(PageParams{NumPages: "lots"}, false)
	require.ErrorIs(t, err, ErrInvalidPagePlan)
	_, err = ResolvePagePlan(PageParams{StartPage: intPtr(0)}, false)
	require.ErrorIs(t, err, ErrInvalidPagePlan)

	require.Equal(t, []int{2, 3, 4}, PagePlan{Start: 2, End: 4}.Pages())
}

func TestPageCount(t *testing.T) {
	t.Parallel()

	require.Equal(t, 3, PageCount("Showing 1 - 25 of 51 results", 25))
	require.Equal(t, 40, PageCount("1,000 races", 25))
	require.Equal(t, 1, PageCount("No races found", 25))
}

func TestComputePaginationTargetIgnoresOtherSpellingsOfCurrent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		markup string
		cur    string
		want   string
	}{
		{
			name:   "reordered query on disabled next",
			markup: `<a class="next" href="/news?sort=new&page=3">Next</a>`,
			cur:    "https://example.com/news?page=3&sort=new",
			want:   "https://example.com/news?page=4&sort=new",
		},
		{
			name:   "fragment on final url",
			markup: `<a rel="next" href="?page=3">Next</a>`,
			cur:    "https://example.com/news?page=3#top",
			want:   "https://example.com/news?page=4",
		},
		{
			name:   "upper-case host",
			markup: `<a rel="next" href="https://EXAMPLE.com/news?page=3">Next</a>`,
			cur:    "https://example.com/news?page=3",
			want:   "https://example.com/news?page=4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ComputePaginationTarget(tt.markup, Cursor{URL: tt.cur, Page: 3}, nil)
			require.True(t, ok)
			require.Equal(t, tt.want, got.URL)
			require.Equal(t, StrategyArithmetic, got.Strategy)
		})
	}
}

func TestComputePaginationTargetMatchesVisitedByCanonicalURL(t *testing.T) {
	t.Parallel()

	markup := `<a rel="next" href="/news?sort=new&page=4#list">Next</a>`
	cur := Cursor{URL: "https://example.com/news?page=3&sort=new", Page: 3}
	visited := VisitedSet{}
	visited.Add(CanonicalURL("https://example.com/news?page=4&sort=new"))

	_, ok := ComputePaginationTarget(markup, cur, visited)
	require.False(t, ok)
}

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://Example.COM/news?sort=new&page=2#top": "https://example.com/news?page=2&sort=new",
		"https://example.com/news?":                    "https://example.com/news",
		"https://example.com/news/page/2":              "https://example.com/news/page/2",
		"https://example.com/a?b=2&a=1&a=0":            "https://example.com/a?a=1&a=0&b=2",
	}
	for in, want := range tests {
		require.Equal(t, want, CanonicalURL(in), in)
	}
	require.Equal(t, CanonicalURL("https://example.com/x?page=1"), CanonicalURL("https://example.com/x?page=1#frag"))
}
