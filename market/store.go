/*
store.go - Persistence interfaces for the deal engine

PURPOSE:
  Defines the contract between the engine and the database. Two layers:

  Store: request-scoped reads plus WithTx, the only way to mutate.
  Tx:    the operations available inside one atomic unit. Everything a
         single engine operation writes (balance move, ledger entry,
         status transition) happens through one Tx, so it either all
         lands or none of it does.

CONDITIONAL MUTATION CONTRACT:
  The race-sensitive writes are expressed as conditional updates that
  report whether they won:

    ReserveOffer:   active -> reserved, false if already reserved
    TransitionDeal: status change guarded by expected prior status
    Debit:          decrement-if-sufficient, false on shortfall

  The engine turns a lost condition into InvalidState, NotFound, or
  InsufficientFunds; it never re-checks outside the atomic unit.

APPEND-ONLY CONTRACT:
  AppendEntry and AppendMessage are inserts. No Update or Delete exists
  for ledger entries or messages, ever.

IMPLEMENTATIONS:
  - store/sqlite: production store (SQLite)
  - store/memory: in-memory store for tests

SEE ALSO:
  - engine.go: The only caller of Tx
*/
package market

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Request-scoped handle
// =============================================================================

// Store is the persistence handle passed into each engine operation.
type Store interface {
	// GetUser returns a user or nil if absent.
	GetUser(ctx context.Context, id UserID) (*User, error)

	// GetBalance is a point-in-time read, used only for the advisory
	// check at deal creation. Authorization of pay/complete never
	// relies on it.
	GetBalance(ctx context.Context, id UserID) (int64, error)

	// GetOffer returns an offer snapshot regardless of status, or nil.
	GetOffer(ctx context.Context, id OfferID) (*Offer, error)

	// GetDeal returns a deal or nil if absent.
	GetDeal(ctx context.Context, id DealID) (*Deal, error)

	// ListDealsForUser returns deals where the user is buyer or seller,
	// newest first, capped at limit.
	ListDealsForUser(ctx context.Context, id UserID, limit int) ([]DealSummary, error)

	// EntriesForUser returns the user's ledger entries, newest first.
	// Read-only accounting view; never consulted for decisions.
	EntriesForUser(ctx context.Context, id UserID) ([]Entry, error)

	// WithTx executes fn within one atomic unit. If fn returns an
	// error, every write made through the Tx is rolled back.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// TX - One atomic unit of work
// =============================================================================

// Tx exposes the writes available inside WithTx.
type Tx interface {
	// ReserveOffer flips an offer active -> reserved. Returns false if
	// the offer is absent or already reserved.
	ReserveOffer(ctx context.Context, id OfferID) (bool, error)

	// InsertDeal persists a new pending deal and returns its id.
	InsertDeal(ctx context.Context, d Deal) (DealID, error)

	// TransitionDeal moves a deal from the expected status to the next
	// one. Returns false if the deal was not in the expected status.
	// completedAt is set only on the transition into DealCompleted.
	TransitionDeal(ctx context.Context, id DealID, from, to DealStatus, completedAt *time.Time) (bool, error)

	// Debit decreases a balance if and only if the result stays
	// non-negative. Returns false on shortfall, leaving the balance
	// untouched.
	Debit(ctx context.Context, id UserID, amount int64) (bool, error)

	// Credit increases a balance. No upper bound.
	Credit(ctx context.Context, id UserID, amount int64) error

	// AppendEntry inserts one ledger entry. Append-only.
	AppendEntry(ctx context.Context, e Entry) error
}
