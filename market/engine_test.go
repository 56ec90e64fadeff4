package market_test

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playtrade/market-engine/market"
	"github.com/playtrade/market-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*market.Engine, *memory.Memory) {
	t.Helper()
	store := memory.NewMemory()
	engine := market.NewEngine(store, zerolog.Nop())
	return engine, store
}

func newUser(t *testing.T, store *memory.Memory, name string, balance int64) market.UserID {
	t.Helper()
	id, err := store.CreateUser(context.Background(), market.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		Balance:      balance,
	})
	require.NoError(t, err)
	return id
}

func newOffer(t *testing.T, store *memory.Memory, seller market.UserID, price int64) market.OfferID {
	t.Helper()
	id, err := store.CreateOffer(context.Background(), market.Offer{
		SellerID: seller,
		Title:    "test item",
		Price:    price,
	})
	require.NoError(t, err)
	return id
}

func balance(t *testing.T, store *memory.Memory, id market.UserID) int64 {
	t.Helper()
	b, err := store.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestEngine_FullLifecycle(t *testing.T) {
	// GIVEN: A seller listing at 1000 and a buyer holding 2000
	// WHEN: The buyer creates, pays, and completes a deal
	// THEN: Buyer pays 1050, seller receives 997, statuses advance in order

	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 0)
	buyer := newUser(t, store, "buyer", 2000)
	offerID := newOffer(t, store, seller, 1000)

	deal, err := engine.Create(ctx, buyer, offerID)
	require.NoError(t, err)
	assert.Equal(t, market.DealPending, deal.Status)
	assert.Equal(t, int64(1050), deal.Amount)
	assert.Equal(t, int64(2000), balance(t, store, buyer), "create must not move funds")

	// Offer leaves the catalog once reserved.
	offer, err := store.GetOffer(ctx, offerID)
	require.NoError(t, err)
	assert.Equal(t, market.OfferReserved, offer.Status)

	deal, err = engine.Pay(ctx, buyer, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, market.DealPaid, deal.Status)
	assert.Equal(t, int64(950), balance(t, store, buyer))
	assert.Equal(t, int64(0), balance(t, store, seller), "funds stay in escrow until completion")

	deal, err = engine.Complete(ctx, buyer, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, market.DealCompleted, deal.Status)
	require.NotNil(t, deal.CompletedAt)
	assert.Equal(t, int64(997), balance(t, store, seller))
	assert.Equal(t, int64(950), balance(t, store, buyer))
}

func TestEngine_LedgerEntriesMatchMovements(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 0)
	buyer := newUser(t, store, "buyer", 2000)
	offerID := newOffer(t, store, seller, 1000)

	deal, err := engine.Create(ctx, buyer, offerID)
	require.NoError(t, err)
	_, err = engine.Pay(ctx, buyer, deal.ID)
	require.NoError(t, err)
	_, err = engine.Complete(ctx, buyer, deal.ID)
	require.NoError(t, err)

	buyerEntries, err := store.EntriesForUser(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, buyerEntries, 1)
	assert.Equal(t, int64(-1050), buyerEntries[0].Amount)
	assert.Equal(t, market.EntryPayment, buyerEntries[0].Kind)
	assert.Equal(t, deal.ID, buyerEntries[0].DealID)

	sellerEntries, err := store.EntriesForUser(ctx, seller)
	require.NoError(t, err)
	require.Len(t, sellerEntries, 1)
	assert.Equal(t, int64(997), sellerEntries[0].Amount)
	assert.Equal(t, market.EntryPayout, sellerEntries[0].Kind)
}

// =============================================================================
// CREATE GUARDS
// =============================================================================

func TestEngine_Create_Anonymous_Unauthorized(t *testing.T) {
	engine, store := newTestEngine(t)

	seller := newUser(t, store, "seller", 0)
	offerID := newOffer(t, store, seller, 100)

	_, err := engine.Create(context.Background(), 0, offerID)
	assert.ErrorIs(t, err, market.ErrUnauthorized)
}

func TestEngine_Create_OwnOffer_InvalidOperation(t *testing.T) {
	engine, store := newTestEngine(t)

	seller := newUser(t, store, "seller", 5000)
	offerID := newOffer(t, store, seller, 100)

	_, err := engine.Create(context.Background(), seller, offerID)
	assert.ErrorIs(t, err, market.ErrInvalidOperation)
}

func TestEngine_Create_MissingOffer_NotFound(t *testing.T) {
	engine, store := newTestEngine(t)

	buyer := newUser(t, store, "buyer", 5000)

	_, err := engine.Create(context.Background(), buyer, 999)
	assert.ErrorIs(t, err, market.ErrNotFound)
}

func TestEngine_Create_ReservedOffer_NotFound(t *testing.T) {
	// A second buyer arriving after the offer is reserved sees the same
	// NotFound as for a missing offer.
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 0)
	first := newUser(t, store, "first", 5000)
	second := newUser(t, store, "second", 5000)
	offerID := newOffer(t, store, seller, 100)

	_, err := engine.Create(ctx, first, offerID)
	require.NoError(t, err)

	_, err = engine.Create(ctx, second, offerID)
	assert.ErrorIs(t, err, market.ErrNotFound)
}

func TestEngine_Create_InsufficientBalance(t *testing.T) {
	// GIVEN: A buyer with exactly the list price but not the 5% markup
	// WHEN: Creating a deal for a 100-priced offer (total 105)
	// THEN: The advisory check rejects with the shortfall details

	engine, store := newTestEngine(t)

	seller := newUser(t, store, "seller", 0)
	buyer := newUser(t, store, "buyer", 100)
	offerID := newOffer(t, store, seller, 100)

	_, err := engine.Create(context.Background(), buyer, offerID)
	require.ErrorIs(t, err, market.ErrInsufficientFunds)

	var fundsErr *market.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	assert.Equal(t, int64(105), fundsErr.Required)
	assert.Equal(t, int64(100), fundsErr.Available)

	// The offer must still be purchasable by someone else.
	offer, err := store.GetOffer(context.Background(), offerID)
	require.NoError(t, err)
	assert.Equal(t, market.OfferActive, offer.Status)
}

// =============================================================================
// PAY GUARDS
// =============================================================================

func TestEngine_Pay_OnlyBuyer(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 5000)
	buyer := newUser(t, store, "buyer", 5000)
	stranger := newUser(t, store, "stranger", 5000)
	offerID := newOffer(t, store, seller, 100)

	deal, err := engine.Create(ctx, buyer, offerID)
	require.NoError(t, err)

	_, err = engine.Pay(ctx, seller, deal.ID)
	assert.ErrorIs(t, err, market.ErrForbidden)

	_, err = engine.Pay(ctx, stranger, deal.ID)
	assert.ErrorIs(t, err, market.ErrForbidden)

	assert.Equal(t, int64(5000), balance(t, store, buyer), "failed attempts must not move funds")
}

func TestEngine_Pay_Twice_InvalidState(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 0)
	buyer := newUser(t, store, "buyer", 5000)
	offerID := newOffer(t, store, seller, 100)

	deal, err := engine.Create(ctx, buyer, offerID)
	require.NoError(t, err)

	_, err = engine.Pay(ctx, buyer, deal.ID)
	require.NoError(t, err)

	_, err = engine.Pay(ctx, buyer, deal.ID)
	require.ErrorIs(t, err, market.ErrInvalidState)

	assert.Equal(t, int64(4895), balance(t, store, buyer), "second pay must not debit again")
}

func TestEngine_Pay_Shortfall_LeavesDealPending(t *testing.T) {
	// GIVEN: A pending deal whose buyer's balance dropped below the
	//        total after creation
	// WHEN: Paying
	// THEN: InsufficientFunds, and the deal is still pending so the
	//       buyer can retry after topping up

	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 0)
	buyer := newUser(t, store, "buyer", 210)
	other := newUser(t, store, "othersel", 0)

	offerID := newOffer(t, store, seller, 100)  // total 105
	drainID := newOffer(t, store, other, 150)   // total 157

	deal, err := engine.Create(ctx, buyer, offerID)
	require.NoError(t, err)
	drain, err := engine.Create(ctx, buyer, drainID)
	require.NoError(t, err)

	// Paying the big deal first leaves 210-157=53, short of 105.
	_, err = engine.Pay(ctx, buyer, drain.ID)
	require.NoError(t, err)

	_, err = engine.Pay(ctx, buyer, deal.ID)
	require.ErrorIs(t, err, market.ErrInsufficientFunds)

	got, err := store.GetDeal(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, market.DealPending, got.Status, "failed debit must roll back the transition")
	assert.Equal(t, int64(53), balance(t, store, buyer))

	entries, err := store.EntriesForUser(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no ledger entry for the failed payment")
}

// =============================================================================
// COMPLETE GUARDS
// =============================================================================

func TestEngine_Complete_SellerCannotSelfRelease(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 0)
	buyer := newUser(t, store, "buyer", 5000)
	offerID := newOffer(t, store, seller, 100)

	deal, err := engine.Create(ctx, buyer, offerID)
	require.NoError(t, err)
	_, err = engine.Pay(ctx, buyer, deal.ID)
	require.NoError(t, err)

	_, err = engine.Complete(ctx, seller, deal.ID)
	assert.ErrorIs(t, err, market.ErrForbidden)
	assert.Equal(t, int64(0), balance(t, store, seller))
}

func TestEngine_Complete_BeforePay_InvalidState(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 0)
	buyer := newUser(t, store, "buyer", 5000)
	offerID := newOffer(t, store, seller, 100)

	deal, err := engine.Create(ctx, buyer, offerID)
	require.NoError(t, err)

	_, err = engine.Complete(ctx, buyer, deal.ID)
	require.ErrorIs(t, err, market.ErrInvalidState)

	var stateErr *market.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, market.DealPending, stateErr.Status)
	assert.Equal(t, market.DealPaid, stateErr.Expected)
}

func TestEngine_Complete_Twice_InvalidState(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 0)
	buyer := newUser(t, store, "buyer", 5000)
	offerID := newOffer(t, store, seller, 100)

	deal, err := engine.Create(ctx, buyer, offerID)
	require.NoError(t, err)
	_, err = engine.Pay(ctx, buyer, deal.ID)
	require.NoError(t, err)
	_, err = engine.Complete(ctx, buyer, deal.ID)
	require.NoError(t, err)

	_, err = engine.Complete(ctx, buyer, deal.ID)
	require.ErrorIs(t, err, market.ErrInvalidState)

	assert.Equal(t, int64(99), balance(t, store, seller), "payout credited exactly once")
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestEngine_ConcurrentPay_ExactlyOneWinner(t *testing.T) {
	// GIVEN: One pending deal
	// WHEN: Many goroutines race to pay it
	// THEN: Exactly one succeeds and the buyer is debited exactly once

	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 0)
	buyer := newUser(t, store, "buyer", 100000)
	offerID := newOffer(t, store, seller, 1000)

	deal, err := engine.Create(ctx, buyer, offerID)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Pay(ctx, buyer, deal.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case market.IsClientError(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins, "exactly one pay must win")
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, int64(100000-1050), balance(t, store, buyer), "debited exactly once")

	entries, err := store.EntriesForUser(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEngine_ConcurrentCreate_OneDealPerOffer(t *testing.T) {
	// Two buyers racing on one offer must produce exactly one deal.

	engine, store := newTestEngine(t)
	ctx := context.Background()

	seller := newUser(t, store, "seller", 0)
	offerID := newOffer(t, store, seller, 100)

	const workers = 8
	buyers := make([]market.UserID, workers)
	for i := range buyers {
		buyers[i] = newUser(t, store, "buyer"+string(rune('a'+i)), 5000)
	}

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for _, b := range buyers {
		wg.Add(1)
		go func(buyer market.UserID) {
			defer wg.Done()
			_, err := engine.Create(ctx, buyer, offerID)
			results <- err
		}(b)
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, market.ErrNotFound)
		}
	}
	assert.Equal(t, 1, wins, "one offer sells exactly once")
}

// =============================================================================
// LISTING TESTS
// =============================================================================

func TestEngine_ListForUser_RoleFlags(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	alice := newUser(t, store, "alice", 5000)
	bob := newUser(t, store, "bob", 5000)

	// Alice buys from Bob, then Bob buys from Alice.
	offer1 := newOffer(t, store, bob, 100)
	offer2 := newOffer(t, store, alice, 200)

	d1, err := engine.Create(ctx, alice, offer1)
	require.NoError(t, err)
	d2, err := engine.Create(ctx, bob, offer2)
	require.NoError(t, err)

	deals, err := engine.ListForUser(ctx, alice)
	require.NoError(t, err)
	require.Len(t, deals, 2)

	// Newest first.
	assert.Equal(t, d2.ID, deals[0].ID)
	assert.False(t, deals[0].IsBuyer, "alice is the seller of the newest deal")
	assert.Equal(t, d1.ID, deals[1].ID)
	assert.True(t, deals[1].IsBuyer)

	assert.Equal(t, "bob", deals[0].Buyer)
	assert.Equal(t, "alice", deals[0].Seller)
}

func TestEngine_ListForUser_Anonymous_Unauthorized(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.ListForUser(context.Background(), 0)
	assert.ErrorIs(t, err, market.ErrUnauthorized)
}
