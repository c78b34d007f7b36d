// Package detector flags static pages that arrived as a JavaScript shell.
// Race cards and results on the tracked sites are filled in client-side, so a
// colly fetch of such a page carries no tables worth extracting and the
// gateway renders it again in the browser.
package detector

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
)

const (
	defaultThreshold = 2048
	// scriptShareLimit is the percentage of a small page inside <script>
	// elements at which it counts as a shell.
	scriptShareLimit = 25
)

// mountPoints are the empty containers client-side frameworks render into.
var mountPoints = []string{
	"__next",
	`id="__nuxt"`,
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"ng-version",
}

// Heuristic flags shell pages by size, script share and framework mount points.
type Heuristic struct {
	// BodyLengthThreshold is the markup length in bytes below which a page is
	// judged by its script share. A card with real entry tables is far larger.
	BodyLengthThreshold int
}

// NewHeuristic returns a Heuristic. A threshold of zero or less uses 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// ShouldPromote reports whether page needs a browser to show its content.
// Error responses are never promoted; a missing status reads as 200.
func (h *Heuristic) ShouldPromote(page crawler.RenderedPage) bool {
	switch page.StatusCode {
	case 0, http.StatusOK:
	default:
		return false
	}
	markup := strings.TrimSpace(page.Markup)
	switch {
	case markup == "":
		return true
	case hasMountPoint(markup):
		return true
	default:
		return len(markup) < h.BodyLengthThreshold && scriptDensityHigh(markup)
	}
}

func hasMountPoint(markup string) bool {
	for _, m := range mountPoints {
		if strings.Contains(markup, m) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(markup string) bool {
	return scriptShare(markup) >= scriptShareLimit
}

// scriptShare is the percentage of markup from each "<script" up to the end
// of its closing tag. An unterminated script runs to the end of the page.
func scriptShare(markup string) int {
	if markup == "" {
		return 0
	}
	const closeTag = "</script>"
	lower := strings.ToLower(markup)
	covered := 0
	for rest := lower; ; {
		start := strings.Index(rest, "<script")
		if start < 0 {
			break
		}
		rest = rest[start:]
		end := strings.Index(rest, closeTag)
		if end < 0 {
			covered += len(rest)
			break
		}
		end += len(closeTag)
		covered += end
		rest = rest[end:]
	}
	return covered * 100 / len(lower)
}
