// Package history persists the last known event log of each tracked
// invoice.
//
// The indexer remains the source of truth. The store is a cache that
// lets the service answer from the most recent fetch when the indexer
// is unavailable, and gives the watcher its set of invoices to poll.
package history

import (
	"context"
	"errors"

	"github.com/mbd888/chainvoice/internal/invoice"
)

var ErrNotTracked = errors.New("history: invoice not tracked")

// Ref identifies one invoice on one chain.
type Ref struct {
	ChainID int64
	Address string
}

// Store persists per-invoice core facts and event logs.
type Store interface {
	// Track registers an invoice for watching. Idempotent.
	Track(ctx context.Context, ref Ref) error

	// SaveLog replaces the cached core facts and event log for an
	// invoice and tracks it if it was not tracked before.
	SaveLog(ctx context.Context, ref Ref, core invoice.Core, events []invoice.Event) error

	// Log returns the cached core facts and event log. Returns
	// ErrNotTracked when no log was ever saved for the invoice;
	// tracking alone stores nothing replayable.
	Log(ctx context.Context, ref Ref) (invoice.Core, []invoice.Event, error)

	// Tracked lists all registered invoices.
	Tracked(ctx context.Context) ([]Ref, error)
}
