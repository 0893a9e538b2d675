package scrape

import (
	"context"
	"time"
)

// Engine is a long-lived rendering resource (one headless browser) from which
// a short-lived page is created for every Render call.
type Engine interface {
	// Render navigates a fresh page to url and returns the rendered document.
	// Errors wrapping ErrEngineUnavailable mean the shared resource itself is
	// unusable and must be recreated.
	Render(ctx context.Context, url string) (string, error)
	// Alive reports whether the shared resource can still serve renders.
	Alive() bool
	// Close releases the shared resource.
	Close() error
}

// EngineFactory launches a new Engine. The gateway calls it at startup and
// whenever the current engine stops being usable.
type EngineFactory func(ctx context.Context) (Engine, error)

// Renderer is the narrow render capability consumed by the fetch coordinator.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Publisher pushes refresh notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
