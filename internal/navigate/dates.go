// Package navigate decides which pages a crawl should visit next: which race
// dates to fetch, which result pages exist, and where pagination leads.
package navigate

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the canonical form of every date the crawler handles.
const DateLayout = "2006-01-02"

// ErrInvalidDateRange reports a date directive that cannot produce a range.
var ErrInvalidDateRange = errors.New("invalid date range")

// DateParams are the caller's date directives. Zero values mean "not given".
type DateParams struct {
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	DaysBack    *int   `json:"days_back,omitempty"`
	DaysForward *int   `json:"days_forward,omitempty"`
	TodayOnly   bool   `json:"today_only,omitempty"`
}

// Empty reports whether no directive was given.
func (p DateParams) Empty() bool {
	return p.StartDate == "" && p.EndDate == "" && p.DaysBack == nil && p.DaysForward == nil && !p.TodayOnly
}

// Validate checks the directives against today without fetching anything.
func (p DateParams) Validate(today time.Time) error {
	if p.DaysBack != nil && *p.DaysBack < 0 {
		return fmt.Errorf("%w: days_back must be >= 0", ErrInvalidDateRange)
	}
	if p.DaysForward != nil && *p.DaysForward < 0 {
		return fmt.Errorf("%w: days_forward must be >= 0", ErrInvalidDateRange)
	}
	_, err := ComputeDateRange(p, today, nil)
	return err
}

// ComputeDateRange turns directives into the ordered list of dates to crawl.
//
// today_only wins outright. days_back and days_forward override the start and
// end bounds. When only one bound is known the range is that single date. With
// no directives the dates discovered on the page are returned unchanged.
func ComputeDateRange(p DateParams, today time.Time, discovered []string) ([]string, error) {
	day := truncateDay(today)
	if p.TodayOnly {
		return []string{day.Format(DateLayout)}, nil
	}

	start, err := parseBound(p.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseBound(p.EndDate)
	if err != nil {
		return nil, err
	}
	if p.DaysBack != nil {
		d := day.AddDate(0, 0, -*p.DaysBack)
		start = &d
	}
	if p.DaysForward != nil {
		d := day.AddDate(0, 0, *p.DaysForward)
		end = &d
	}

	switch {
	case start == nil && end == nil:
		return append([]string(nil), discovered...), nil
	case start == nil:
		start = end
	case end == nil:
		end = start
	}
	if start.After(*end) {
		return nil, fmt.Errorf("%w: start %s is after end %s",
			ErrInvalidDateRange, start.Format(DateLayout), end.Format(DateLayout))
	}

	var out []string
	for d := *start; !d.After(*end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(DateLayout))
	}
	return out, nil
}

func parseBound(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidDateRange, value)
	}
	return &t, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
