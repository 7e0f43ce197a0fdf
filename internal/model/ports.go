package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the scheduling daemon from concrete storage
// implementations (Redis, SQLite). Each implementation satisfies one or
// more of these interfaces.

// FiringWriter persists firing records.
type FiringWriter interface {
	// Run reads firings from firingCh and writes them.
	// Blocks until ctx is cancelled or firingCh is closed.
	Run(ctx context.Context, firingCh <-chan Firing)

	// Close releases underlying resources.
	Close() error
}

// FiringReader reads persisted firings for history queries.
type FiringReader interface {
	// ReadRecent returns the most recent firings for an event, newest first.
	ReadRecent(event string, limit int) ([]Firing, error)

	// ReadSince returns all firings fired at or after the given time,
	// in fired-at order.
	ReadSince(since time.Time) ([]Firing, error)

	// LastFired returns the most recent firing for an event.
	// Returns nil, nil if the event has never fired.
	LastFired(event string) (*Firing, error)

	// Close releases underlying resources.
	Close() error
}

// FiringPublisher publishes firings to external subscribers (dashboards,
// downstream consumers). Implementations must not block the caller on a
// slow or unavailable broker.
type FiringPublisher interface {
	// Run reads firings from firingCh and publishes them.
	// Blocks until ctx is cancelled or firingCh is closed.
	Run(ctx context.Context, firingCh <-chan Firing)

	// Close releases underlying resources.
	Close() error
}
