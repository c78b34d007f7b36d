package crawler

import (
	"context"
	"time"
)

// Renderer turns a request into a rendered page.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderedPage, error)
}

// Sink persists records with content-hash deduplication. Failures wrap ErrPersist.
type Sink interface {
	Accept(ctx context.Context, env Envelope) (AcceptStatus, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher fingerprints values for deduplication.
type Hasher interface {
	HashValue(v any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// UserAgentSelector picks the user agent for one request from a pool.
type UserAgentSelector func(pool []string) string
