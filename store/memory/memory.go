// Package memory provides an in-memory Store implementation (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playtrade/market-engine/market"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.Mutex
	users    map[market.UserID]*market.User
	offers   map[market.OfferID]*market.Offer
	deals    map[market.DealID]*market.Deal
	entries  []market.Entry
	messages []market.Message

	nextUser  market.UserID
	nextOffer market.OfferID
	nextDeal  market.DealID
	nextEntry market.EntryID
	nextMsg   int64
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[market.UserID]*market.User),
		offers:    make(map[market.OfferID]*market.Offer),
		deals:     make(map[market.DealID]*market.Deal),
		nextUser:  1,
		nextOffer: 1,
		nextDeal:  1,
		nextEntry: 1,
		nextMsg:   1,
	}
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u market.User) (market.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Email == u.Email {
			return 0, fmt.Errorf("email already registered: %w", market.ErrInvalidOperation)
		}
	}

	u.ID = m.nextUser
	u.CreatedAt = time.Now().UTC()
	m.nextUser++
	m.users[u.ID] = &u
	return u.ID, nil
}

func (m *Memory) GetUser(_ context.Context, id market.UserID) (*market.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*market.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetBalance(_ context.Context, id market.UserID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return 0, fmt.Errorf("user %d: %w", id, market.ErrNotFound)
	}
	return u.Balance, nil
}

// =============================================================================
// OFFERS
// =============================================================================

func (m *Memory) CreateOffer(_ context.Context, o market.Offer) (market.OfferID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o.ID = m.nextOffer
	o.Status = market.OfferActive
	o.CreatedAt = time.Now().UTC()
	m.nextOffer++
	m.offers[o.ID] = &o
	return o.ID, nil
}

func (m *Memory) GetOffer(_ context.Context, id market.OfferID) (*market.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.offers[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) ListActiveOffers(_ context.Context, limit int) ([]market.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []market.Offer
	// Newest first: ids are monotonic.
	for id := m.nextOffer - 1; id >= 1 && len(out) < limit; id-- {
		if o, ok := m.offers[id]; ok && o.Status == market.OfferActive {
			cp := *o
			if u, ok := m.users[o.SellerID]; ok {
				cp.SellerName = u.Username
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *Memory) ListOffersBySeller(_ context.Context, sellerID market.UserID) ([]market.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []market.Offer
	for id := m.nextOffer - 1; id >= 1; id-- {
		if o, ok := m.offers[id]; ok && o.SellerID == sellerID {
			cp := *o
			if u, ok := m.users[sellerID]; ok {
				cp.SellerName = u.Username
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

// =============================================================================
// DEALS
// =============================================================================

func (m *Memory) GetDeal(_ context.Context, id market.DealID) (*market.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deals[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp, nil
}

func (m *Memory) ListDealsForUser(_ context.Context, id market.UserID, limit int) ([]market.DealSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []market.DealSummary
	for dealID := m.nextDeal - 1; dealID >= 1 && len(out) < limit; dealID-- {
		d, ok := m.deals[dealID]
		if !ok || (d.BuyerID != id && d.SellerID != id) {
			continue
		}

		s := market.DealSummary{
			ID:          d.ID,
			Amount:      d.Amount,
			Status:      d.Status,
			CreatedAt:   d.CreatedAt,
			CompletedAt: d.CompletedAt,
			IsBuyer:     d.BuyerID == id,
		}
		if o, ok := m.offers[d.OfferID]; ok {
			s.Title = o.Title
		}
		if u, ok := m.users[d.BuyerID]; ok {
			s.Buyer = u.Username
		}
		if u, ok := m.users[d.SellerID]; ok {
			s.Seller = u.Username
		}
		out = append(out, s)
	}
	return out, nil
}

// =============================================================================
// LEDGER / MESSAGES
// =============================================================================

func (m *Memory) EntriesForUser(_ context.Context, id market.UserID) ([]market.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []market.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == id {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg market.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.ID = m.nextMsg
	msg.CreatedAt = time.Now().UTC()
	m.nextMsg++
	m.messages = append(m.messages, msg)
	return msg.ID, nil
}

func (m *Memory) ListMessages(_ context.Context, dealID market.DealID) ([]market.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []market.Message
	for _, msg := range m.messages {
		if msg.DealID == dealID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL WRITES
// =============================================================================

// WithTx executes fn under the store lock against a snapshot of the
// mutable state. If fn returns an error the snapshot is restored, so
// partial writes never become visible.
func (m *Memory) WithTx(_ context.Context, fn func(market.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked()
	if err := fn(&memTx{m: m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users     map[market.UserID]*market.User
	offers    map[market.OfferID]*market.Offer
	deals     map[market.DealID]*market.Deal
	entryLen  int
	nextDeal  market.DealID
	nextEntry market.EntryID
}

func (m *Memory) snapshotLocked() snapshot {
	s := snapshot{
		users:     make(map[market.UserID]*market.User, len(m.users)),
		offers:    make(map[market.OfferID]*market.Offer, len(m.offers)),
		deals:     make(map[market.DealID]*market.Deal, len(m.deals)),
		entryLen:  len(m.entries),
		nextDeal:  m.nextDeal,
		nextEntry: m.nextEntry,
	}
	for id, u := range m.users {
		cp := *u
		s.users[id] = &cp
	}
	for id, o := range m.offers {
		cp := *o
		s.offers[id] = &cp
	}
	for id, d := range m.deals {
		cp := *d
		s.deals[id] = &cp
	}
	return s
}

func (m *Memory) restoreLocked(s snapshot) {
	m.users = s.users
	m.offers = s.offers
	m.deals = s.deals
	m.entries = m.entries[:s.entryLen]
	m.nextDeal = s.nextDeal
	m.nextEntry = s.nextEntry
}

// memTx mutates the store directly; WithTx already holds the lock and
// owns rollback.
type memTx struct {
	m *Memory
}

func (t *memTx) ReserveOffer(_ context.Context, id market.OfferID) (bool, error) {
	o, ok := t.m.offers[id]
	if !ok || o.Status != market.OfferActive {
		return false, nil
	}
	o.Status = market.OfferReserved
	return true, nil
}

func (t *memTx) InsertDeal(_ context.Context, d market.Deal) (market.DealID, error) {
	d.ID = t.m.nextDeal
	d.CreatedAt = time.Now().UTC()
	t.m.nextDeal++
	t.m.deals[d.ID] = &d
	return d.ID, nil
}

func (t *memTx) TransitionDeal(_ context.Context, id market.DealID, from, to market.DealStatus, completedAt *time.Time) (bool, error) {
	d, ok := t.m.deals[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	if completedAt != nil {
		ts := completedAt.UTC()
		d.CompletedAt = &ts
	}
	return true, nil
}

func (t *memTx) Debit(_ context.Context, id market.UserID, amount int64) (bool, error) {
	u, ok := t.m.users[id]
	if !ok || u.Balance < amount {
		return false, nil
	}
	u.Balance -= amount
	return true, nil
}

func (t *memTx) Credit(_ context.Context, id market.UserID, amount int64) error {
	u, ok := t.m.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, market.ErrNotFound)
	}
	u.Balance += amount
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, e market.Entry) error {
	e.ID = t.m.nextEntry
	e.CreatedAt = time.Now().UTC()
	t.m.nextEntry++
	t.m.entries = append(t.m.entries, e)
	return nil
}
