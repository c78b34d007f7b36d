package crawler

import "context"

// Site adapts one website to the engine.
type Site interface {
	// Name is the source label stored with every record.
	Name() string
	// Start returns the initial targets for a crawl with params.
	Start(params Params) ([]CrawlTarget, error)
	// Extract streams records found on an EXTRACT_TABLE or DISCOVER_PAGE
	// target to emit and reports any follow-up targets.
	Extract(ctx context.Context, page *Page, emit Emit) (ExtractResult, error)
}

// DateSite is a Site whose crawl begins by discovering race dates and the
// tracks running on each date.
type DateSite interface {
	Site
	// DeclaredDates lists the dates offered by the root page.
	DeclaredDates(page *Page) []string
	// KnownTracks lists track identifiers linked from a page.
	KnownTracks(page *Page) []string
	// DateTarget builds the DISCOVER_TRACKS target for one date.
	DateTarget(date string) CrawlTarget
	// TrackTargets returns the track pages linked for date.
	TrackTargets(page *Page, date string) []CrawlTarget
	// FallbackTarget guesses the track page URL for track on date.
	FallbackTarget(track, date string) CrawlTarget
}
