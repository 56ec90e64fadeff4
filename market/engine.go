/*
engine.go - The deal lifecycle state machine

PURPOSE:
  Drives deals through {pending -> paid -> completed}, validating the
  caller at every step and coordinating balance moves with ledger writes
  inside single atomic units.

STATE MACHINE:
  pending    created by Create; no money moved yet
  paid       entered via Pay; buyer debited by the full amount, one
             payment ledger entry recorded
  completed  terminal; entered via Complete; seller credited the
             fee-adjusted payout, one payout ledger entry recorded

ATOMICITY:
  Each of Pay and Complete performs status transition + balance move +
  ledger append through one store transaction. Concurrent calls against
  the same deal race on the status-guarded update: exactly one wins,
  the rest fail with InvalidState and leave no trace.

AUTHORIZATION:
  Only the buyer may pay, and only the buyer may confirm completion.
  Sellers cannot self-confirm and release their own payout.

KNOWN PERMANENT STATES:
  A deal that is paid but never completed stays paid forever: buyer
  debited, seller unpaid. There is no timeout, refund, or arbitration
  path. The status column tolerates values this engine never writes, so
  an administrative tool can introduce one without touching this code.

SEE ALSO:
  - fees.go: BuyerTotal / SellerPayout
  - store.go: The Tx contract the engine relies on
*/
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// listLimit caps ListForUser results, newest first.
const listLimit = 50

// Engine owns deal records end-to-end. It never mutates balances
// directly; all movement goes through the store's conditional ops.
type Engine struct {
	store Store
	log   zerolog.Logger
}

func NewEngine(store Store, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// =============================================================================
// CREATE - offer -> pending deal
// =============================================================================

// Create opens a deal for an active offer on behalf of the buyer.
// The balance check here is advisory: funds move only at Pay, where the
// conditional debit re-validates inside the atomic unit. The offer is
// reserved in the same unit as the deal insert, so two buyers racing on
// one offer produce exactly one deal.
func (e *Engine) Create(ctx context.Context, buyerID UserID, offerID OfferID) (*Deal, error) {
	if buyerID == 0 {
		return nil, ErrUnauthorized
	}

	offer, err := e.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, fmt.Errorf("load offer %d: %w", offerID, err)
	}
	if offer == nil || offer.Status != OfferActive {
		return nil, fmt.Errorf("offer %d: %w", offerID, ErrNotFound)
	}
	if offer.SellerID == buyerID {
		return nil, fmt.Errorf("cannot buy own offer: %w", ErrInvalidOperation)
	}

	total := BuyerTotal(offer.Price)

	balance, err := e.store.GetBalance(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("load balance for user %d: %w", buyerID, err)
	}
	if balance < total {
		return nil, &InsufficientFundsError{UserID: buyerID, Required: total, Available: balance}
	}

	deal := Deal{
		OfferID:  offerID,
		BuyerID:  buyerID,
		SellerID: offer.SellerID,
		Amount:   total,
		Status:   DealPending,
	}

	err = e.store.WithTx(ctx, func(tx Tx) error {
		reserved, err := tx.ReserveOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if !reserved {
			// Another buyer won the race since our snapshot read.
			return fmt.Errorf("offer %d: %w", offerID, ErrNotFound)
		}

		id, err := tx.InsertDeal(ctx, deal)
		if err != nil {
			return err
		}
		deal.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Int64("deal_id", int64(deal.ID)).
		Int64("offer_id", int64(offerID)).
		Int64("buyer_id", int64(buyerID)).
		Int64("amount", total).
		Msg("deal created")

	return &deal, nil
}

// =============================================================================
// PAY - pending -> paid
// =============================================================================

// Pay debits the buyer by the deal amount and records the payment entry.
// Debit, ledger write, and status change succeed or fail together; a
// concurrent Pay on the same deal loses the status guard and observes
// InvalidState with the buyer's balance untouched.
func (e *Engine) Pay(ctx context.Context, callerID UserID, dealID DealID) (*Deal, error) {
	if callerID == 0 {
		return nil, ErrUnauthorized
	}

	deal, err := e.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("load deal %d: %w", dealID, err)
	}
	if deal == nil {
		return nil, fmt.Errorf("deal %d: %w", dealID, ErrNotFound)
	}
	if deal.BuyerID != callerID {
		return nil, ErrForbidden
	}
	if deal.Status != DealPending {
		return nil, &InvalidStateError{DealID: dealID, Status: deal.Status, Expected: DealPending}
	}

	err = e.store.WithTx(ctx, func(tx Tx) error {
		moved, err := tx.TransitionDeal(ctx, dealID, DealPending, DealPaid, nil)
		if err != nil {
			return err
		}
		if !moved {
			return &InvalidStateError{DealID: dealID, Status: deal.Status, Expected: DealPending}
		}

		debited, err := tx.Debit(ctx, deal.BuyerID, deal.Amount)
		if err != nil {
			return err
		}
		if !debited {
			// Balance changed since Create; rollback also reverts the
			// status transition above.
			return &InsufficientFundsError{UserID: deal.BuyerID, Required: deal.Amount, Available: -1}
		}

		return tx.AppendEntry(ctx, Entry{
			UserID: deal.BuyerID,
			DealID: dealID,
			Amount: -deal.Amount,
			Kind:   EntryPayment,
		})
	})
	if err != nil {
		return nil, err
	}

	deal.Status = DealPaid

	e.log.Info().
		Int64("deal_id", int64(dealID)).
		Int64("buyer_id", int64(deal.BuyerID)).
		Int64("amount", deal.Amount).
		Msg("deal paid")

	return deal, nil
}

// =============================================================================
// COMPLETE - paid -> completed
// =============================================================================

// Complete releases the escrowed funds: the seller is credited the
// fee-adjusted payout and the deal reaches its terminal state. Only the
// buyer may confirm; the seller asking for their own payout is Forbidden.
func (e *Engine) Complete(ctx context.Context, callerID UserID, dealID DealID) (*Deal, error) {
	if callerID == 0 {
		return nil, ErrUnauthorized
	}

	deal, err := e.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("load deal %d: %w", dealID, err)
	}
	if deal == nil {
		return nil, fmt.Errorf("deal %d: %w", dealID, ErrNotFound)
	}
	if deal.BuyerID != callerID {
		return nil, ErrForbidden
	}
	if deal.Status != DealPaid {
		return nil, &InvalidStateError{DealID: dealID, Status: deal.Status, Expected: DealPaid}
	}

	payout := SellerPayout(deal.Amount)
	now := time.Now().UTC()

	err = e.store.WithTx(ctx, func(tx Tx) error {
		moved, err := tx.TransitionDeal(ctx, dealID, DealPaid, DealCompleted, &now)
		if err != nil {
			return err
		}
		if !moved {
			return &InvalidStateError{DealID: dealID, Status: deal.Status, Expected: DealPaid}
		}

		if err := tx.Credit(ctx, deal.SellerID, payout); err != nil {
			return err
		}

		return tx.AppendEntry(ctx, Entry{
			UserID: deal.SellerID,
			DealID: dealID,
			Amount: payout,
			Kind:   EntryPayout,
		})
	})
	if err != nil {
		return nil, err
	}

	deal.Status = DealCompleted
	deal.CompletedAt = &now

	e.log.Info().
		Int64("deal_id", int64(dealID)).
		Int64("seller_id", int64(deal.SellerID)).
		Int64("payout", payout).
		Int64("spread", deal.Amount-payout).
		Msg("deal completed")

	return deal, nil
}

// =============================================================================
// LIST - role-annotated deal history
// =============================================================================

// ListForUser returns the user's deals as buyer or seller, newest
// first, each flagged with the caller's role.
func (e *Engine) ListForUser(ctx context.Context, userID UserID) ([]DealSummary, error) {
	if userID == 0 {
		return nil, ErrUnauthorized
	}
	return e.store.ListDealsForUser(ctx, userID, listLimit)
}
