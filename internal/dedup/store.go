// Package dedup suppresses repeat alerts for offline events that are still
// unresolved. The suppression contract: a key is suppressed for exactly as
// long as it keeps appearing in poll results. Reconcile evicts keys missing
// from the latest poll, so a recurrence is treated as new and notified again.
package dedup

import (
	"context"
	"time"
)

type Store interface {
	// IsNew reports whether the key has not produced a notification yet. It
	// never mutates the store; marking happens only after a delivery succeeds.
	IsNew(ctx context.Context, key string) (bool, error)

	MarkNotified(ctx context.Context, key string, at time.Time) error

	// Reconcile evicts every stored key absent from current and returns the
	// number of evictions. Called once per poll cycle with the full fetched
	// key set, regardless of delivery outcomes.
	Reconcile(ctx context.Context, current map[string]struct{}) (int, error)
}
