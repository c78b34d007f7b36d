package navigate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidPagePlan reports start/end/num page directives that conflict.
var ErrInvalidPagePlan = errors.New("invalid page plan")

// PageMax is the num_pages value meaning "follow pagination until exhausted".
const PageMax = "max"

// PagePlan is a resolved set of result pages.
type PagePlan struct {
	Start int
	// End is inclusive and ignored when Follow is set.
	End int
	// Follow means keep following next-page links until none remain.
	Follow bool
}

// PageParams are the caller's page directives. Zero values mean "not given".
type PageParams struct {
	StartPage *int   `json:"start_page,omitempty"`
	EndPage   *int   `json:"end_page,omitempty"`
	NumPages  string `json:"num_pages,omitempty"`
}

// ResolvePagePlan applies the directives. start defaults to 1. An explicit
// end wins over num_pages. num_pages N covers start..start+N-1 and "max"
// follows pagination. With neither, followByDefault decides between
// following and fetching only the start page.
func ResolvePagePlan(p PageParams, followByDefault bool) (PagePlan, error) {
	plan := PagePlan{Start: 1}
	if p.StartPage != nil {
		if *p.StartPage < 1 {
			return PagePlan{}, fmt.Errorf("%w: start_page must be >= 1", ErrInvalidPagePlan)
		}
		plan.Start = *p.StartPage
	}
	num := strings.TrimSpace(strings.ToLower(p.NumPages))
	switch {
	case p.EndPage != nil:
		if *p.EndPage < plan.Start {
			return PagePlan{}, fmt.Errorf("%w: end_page %d before start_page %d", ErrInvalidPagePlan, *p.EndPage, plan.Start)
		}
		plan.End = *p.EndPage
	case num == PageMax:
		plan.Follow = true
	case num != "":
		n, err := strconv.Atoi(num)
		if err != nil || n < 1 {
			return PagePlan{}, fmt.Errorf("%w: num_pages %q", ErrInvalidPagePlan, p.NumPages)
		}
		plan.End = plan.Start + n - 1
	case followByDefault:
		plan.Follow = true
	default:
		plan.End = plan.Start
	}
	return plan, nil
}

// Pages lists the page numbers of a bounded plan. A following plan lists only
// its start page.
func (p PagePlan) Pages() []int {
	if p.Follow {
		return []int{p.Start}
	}
	out := make([]int, 0, p.End-p.Start+1)
	for n := p.Start; n <= p.End; n++ {
		out = append(out, n)
	}
	return out
}

var lastNumber = regexp.MustCompile(`\d[\d,]*`)

// PageCount converts a "N results" style label into a page count. It returns
// 1 when no number is present.
func PageCount(label string, perPage int) int {
	matches := lastNumber.FindAllString(label, -1)
	if len(matches) == 0 || perPage <= 0 {
		return 1
	}
	total, err := strconv.Atoi(strings.ReplaceAll(matches[len(matches)-1], ",", ""))
	if err != nil || total <= 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}
