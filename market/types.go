/*
Package market provides the deal lifecycle engine for the marketplace.

PURPOSE:
  This package contains the domain types and the state machine that moves
  a purchase from creation through payment to completion. Money integrity
  lives here: fees are computed here, balances move only through the
  store's atomic debit/credit operations, and every balance change is
  mirrored by an append-only ledger entry.

KEY CONCEPTS IN THIS FILE (types.go):
  - User: account identity plus spendable balance (minor currency units)
  - Offer: a sell listing that becomes reserved exactly once
  - Deal: the purchase record with an explicit lifecycle
  - Entry: an immutable ledger record of one balance change

DESIGN PRINCIPLES:
  1. Integer money: balances, prices, and amounts are int64 minor units
  2. Immutability: ledger entries are never updated or deleted
  3. Guarded transitions: a deal status only changes via a conditional
     update against its expected prior status

SEE ALSO:
  - engine.go: State machine operations (Create, Pay, Complete)
  - fees.go: Buyer total and seller payout computation
  - store.go: Persistence interfaces
*/
package market

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID int64
type OfferID int64
type DealID int64
type EntryID int64

// =============================================================================
// USER - Account with a spendable balance
// =============================================================================

// User is an account. Balance is held in the smallest currency unit and
// is mutated only through the store's conditional debit and credit.
type User struct {
	ID           UserID
	Username     string
	Email        string
	PasswordHash string
	Balance      int64
	CreatedAt    time.Time
}

// =============================================================================
// OFFER - A sell listing
// =============================================================================

type OfferStatus string

const (
	OfferActive   OfferStatus = "active"
	OfferReserved OfferStatus = "reserved"
)

// Offer is a sell listing. It transitions active -> reserved exactly
// once, when a deal referencing it is created.
type Offer struct {
	ID          OfferID
	SellerID    UserID
	SellerName  string // populated by listing queries, not stored
	Title       string
	Description string
	Price       int64
	Status      OfferStatus
	CreatedAt   time.Time
}

// =============================================================================
// DEAL - One buyer/seller transaction with an explicit lifecycle
// =============================================================================

type DealStatus string

const (
	DealPending   DealStatus = "pending"
	DealPaid      DealStatus = "paid"
	DealCompleted DealStatus = "completed" // terminal
)

// Deal is the record of a single purchase. Amount is the buyer-facing
// total, inclusive of the buyer fee. Deals are never deleted; status
// moves pending -> paid -> completed and never backward.
type Deal struct {
	ID          DealID
	OfferID     OfferID
	BuyerID     UserID
	SellerID    UserID
	Amount      int64
	Status      DealStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// DealSummary is a deal annotated for display: offer title, party
// usernames, and whether the viewing user is the buyer.
type DealSummary struct {
	ID          DealID
	Title       string
	Amount      int64
	Status      DealStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Buyer       string
	Seller      string
	IsBuyer     bool
}

// =============================================================================
// ENTRY - Append-only ledger record
// =============================================================================

type EntryKind string

const (
	EntryPayment EntryKind = "payment" // buyer debited, signed amount negative
	EntryPayout  EntryKind = "payout"  // seller credited, signed amount positive
)

// Entry records one balance-affecting event tied to a user and a deal.
// For a completed deal the entries do NOT net to zero: the platform
// retains the spread between buyer total and seller payout.
type Entry struct {
	ID        EntryID
	UserID    UserID
	DealID    DealID
	Amount    int64 // signed
	Kind      EntryKind
	CreatedAt time.Time
}

// =============================================================================
// MESSAGE - Per-deal chat, append-only, no transition logic
// =============================================================================

type Message struct {
	ID        int64
	DealID    DealID
	UserID    UserID
	Body      string
	CreatedAt time.Time
}
