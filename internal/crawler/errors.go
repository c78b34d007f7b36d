package crawler

import (
	"context"
	"errors"

	"github.com/JakeFAU/racing-crawler/internal/navigate"
)

var (
	// ErrInvalidDateRange is returned before any fetch when date bounds are malformed or inverted.
	ErrInvalidDateRange = navigate.ErrInvalidDateRange
	// ErrInvalidPagePlan is returned before any fetch when page bounds conflict.
	ErrInvalidPagePlan = navigate.ErrInvalidPagePlan
	// ErrRenderTimeout means the page did not load within the render timeout.
	ErrRenderTimeout = errors.New("render timeout")
	// ErrRender covers navigation and browser failures other than timeouts.
	ErrRender = errors.New("render failed")
	// ErrNotFound means the document responded 404 or 410.
	ErrNotFound = errors.New("page not found")
	// ErrPersist wraps any sink failure.
	ErrPersist = errors.New("persist failed")
	// ErrNoTracksActive is informational: no track produced entries for a date.
	ErrNoTracksActive = errors.New("no tracks active")
	// ErrUnsupportedRole is returned when a site cannot handle a target role.
	ErrUnsupportedRole = errors.New("unsupported target role")
)

// OutcomeFromError maps a render or extraction error to an Outcome.
func OutcomeFromError(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrRenderTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeError
	}
}
