// Package revocation keeps the set of tokens that were invalidated before their
// natural expiry (logout). Entries never outlive the token they revoke.
package revocation

import (
	"context"
	"time"
)

// Store is safe for concurrent use. A Revoke that has returned is visible to
// every later IsRevoked call, from any goroutine, until expiresAt passes.
type Store interface {
	// Revoke is idempotent; a later call overwrites the expiry. An empty token
	// or a zero expiresAt is ignored.
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
	// Sweep drops every entry with expiresAt <= now and reports how many went.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
