package crawler

import (
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/racing-crawler/internal/record"
)

// Role says what the engine does with a page once it is rendered.
type Role string

// Target roles.
const (
	RoleDiscoverDates  Role = "DISCOVER_DATES"
	RoleDiscoverTracks Role = "DISCOVER_TRACKS"
	RoleExtractTable   Role = "EXTRACT_TABLE"
	RoleDiscoverPage   Role = "DISCOVER_PAGE"
)

// CrawlTarget is one unit of work. It is a value type and is never mutated
// once built; derive the next page of a listing with NextPage.
type CrawlTarget struct {
	URL               string
	RequiresRendering bool
	WaitSelector      string
	WaitTimeMS        int
	// LogicalDate is the race date this target belongs to, YYYY-MM-DD.
	LogicalDate string
	Role        Role
	// Speculative marks fallback guesses whose failure is expected and silent.
	Speculative bool
	// FollowPages asks the engine to chase pagination after extraction.
	FollowPages bool
	// PageNumber is the 1-based position in a paginated listing, when known.
	PageNumber int
	// PagesFollowed counts pagination hops from the branch's first page.
	PagesFollowed int
}

// NextPage derives the target for the following page of a listing.
func (t CrawlTarget) NextPage(url string) CrawlTarget {
	next := t
	next.URL = url
	next.Speculative = false
	next.PagesFollowed = t.PagesFollowed + 1
	if t.PageNumber > 0 {
		next.PageNumber = t.PageNumber + 1
	}
	return next
}

// RenderRequest is what the gateway needs to produce a page.
type RenderRequest struct {
	URL               string
	RequiresRendering bool
	WaitSelector      string
	WaitTime          time.Duration
	Headers           http.Header
}

// RenderedPage is the captured document after rendering.
type RenderedPage struct {
	SourceURL  string
	FinalURL   string
	Markup     string
	StatusCode int
	FetchedAt  time.Time
}

// Page is a rendered target handed to a site for extraction.
type Page struct {
	Target   CrawlTarget
	Rendered RenderedPage
	Doc      *goquery.Document
}

// URL returns the final URL of the page, falling back to the target URL.
func (p *Page) URL() string {
	if p.Rendered.FinalURL != "" {
		return p.Rendered.FinalURL
	}
	return p.Target.URL
}

// Emit hands one extracted record to the engine.
type Emit func(rec record.Record)

// ExtractResult reports what a site found on a page besides records.
type ExtractResult struct {
	// FollowUps are new targets discovered on the page.
	FollowUps []CrawlTarget
	// Unrecognized counts tables no classifier rule matched.
	Unrecognized int
}

// Outcome is the tagged result of one target.
type Outcome string

// Target outcomes.
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeNoContent Outcome = "no_content"
	OutcomeError     Outcome = "error"
	// OutcomeSkipped is used for targets dropped before rendering, e.g. after
	// cancellation or once a fallback quota is met.
	OutcomeSkipped Outcome = "skipped"
)

// AcceptStatus is the result of handing a record to a sink.
type AcceptStatus string

// Sink statuses.
const (
	StatusAck              AcceptStatus = "ack"
	StatusDuplicateSkipped AcceptStatus = "duplicate_skipped"
)

// Envelope is a record plus the crawl metadata stored beside it.
type Envelope struct {
	RunID     string
	Source    string
	Record    record.Record
	ScrapedAt time.Time
}

// Type returns the record type of the wrapped record.
func (e Envelope) Type() record.Type {
	return e.Record.RecordType()
}

// Notification is published after a record is acknowledged.
type Notification struct {
	RunID     string      `json:"run_id"`
	Source    string      `json:"source"`
	ItemType  record.Type `json:"item_type"`
	DataHash  string      `json:"data_hash"`
	SourceURL string      `json:"source_url"`
}
