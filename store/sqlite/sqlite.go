/*
Package sqlite provides the SQLite-backed implementation of the
marketplace storage interfaces.

PURPOSE:
  Implements market.Store and market.Tx plus the collaborator surfaces
  (users, offers, messages) on a single SQLite file. The same SQL
  patterns apply to PostgreSQL with minor dialect changes.

CONDITIONAL UPDATES:
  The race-sensitive writes are single guarded statements; the affected
  row count is the verdict:

    UPDATE offers SET status='reserved' WHERE id=? AND status='active'
    UPDATE deals  SET status=?          WHERE id=? AND status=?
    UPDATE users  SET balance=balance-? WHERE id=? AND balance>=?

  Combined with WithTx these give exactly-once transitions and a
  balance that can never go negative, without read-then-write races.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE is ever issued against transactions or messages.

WAL MODE:
  The database is opened with WAL for better concurrency: readers
  don't block, single writer at a time, better crash recovery. A
  sync.RWMutex serializes writers in-process on top of that.

USAGE:
  store, err := sqlite.New("./data/market.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := market.NewEngine(store, logger)

SEE ALSO:
  - market/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/playtrade/market-engine/market"
)

// Store implements market.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS offers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seller_id INTEGER NOT NULL REFERENCES users(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_offers_status
		ON offers(status, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_offers_seller
		ON offers(seller_id);

	CREATE TABLE IF NOT EXISTS deals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		offer_id INTEGER NOT NULL REFERENCES offers(id),
		buyer_id INTEGER NOT NULL REFERENCES users(id),
		seller_id INTEGER NOT NULL REFERENCES users(id),
		amount INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_deals_buyer
		ON deals(buyer_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_deals_seller
		ON deals(seller_id, created_at DESC);

	-- Transactions: immutable ledger of all balance changes
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		deal_id INTEGER NOT NULL REFERENCES deals(id),
		amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user
		ON transactions(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_deal
		ON transactions(deal_id);

	-- Messages: append-only per-deal chat
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		deal_id INTEGER NOT NULL REFERENCES deals(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		body TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_deal
		ON messages(deal_id, created_at ASC);
	`

	_, err := s.db.Exec(schema)
	return err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// =============================================================================
// USER STORE
// =============================================================================

// CreateUser inserts a user and returns the assigned id.
// Fails if the email is already registered.
func (s *Store) CreateUser(ctx context.Context, u market.User) (market.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, balance, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.Balance, now(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, fmt.Errorf("email already registered: %w", market.ErrInvalidOperation)
		}
		return 0, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := res.LastInsertId()
	return market.UserID(id), err
}

// GetUser retrieves a user by id, or nil if absent.
func (s *Store) GetUser(ctx context.Context, id market.UserID) (*market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, balance, created_at
		 FROM users WHERE id = ?`, id))
}

// GetUserByEmail retrieves a user by email, or nil if absent.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*market.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, balance, created_at
		 FROM users WHERE email = ?`, email))
}

func scanUser(row *sql.Row) (*market.User, error) {
	var u market.User
	var createdAt string

	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Balance, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// GetBalance returns a point-in-time balance read.
func (s *Store) GetBalance(ctx context.Context, id market.UserID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var balance int64
	err := s.db.QueryRowContext(ctx,
		"SELECT balance FROM users WHERE id = ?", id,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("user %d: %w", id, market.ErrNotFound)
	}
	return balance, err
}

// =============================================================================
// OFFER STORE
// =============================================================================

// CreateOffer inserts an active offer and returns the assigned id.
func (s *Store) CreateOffer(ctx context.Context, o market.Offer) (market.OfferID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO offers (seller_id, title, description, price, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		o.SellerID, o.Title, o.Description, o.Price, market.OfferActive, now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create offer: %w", err)
	}

	id, err := res.LastInsertId()
	return market.OfferID(id), err
}

// GetOffer retrieves an offer snapshot regardless of status, or nil.
func (s *Store) GetOffer(ctx context.Context, id market.OfferID) (*market.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var o market.Offer
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, seller_id, title, description, price, status, created_at
		 FROM offers WHERE id = ?`, id,
	).Scan(&o.ID, &o.SellerID, &o.Title, &o.Description, &o.Price, &o.Status, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &o, nil
}

// ListActiveOffers returns purchasable offers, newest first.
func (s *Store) ListActiveOffers(ctx context.Context, limit int) ([]market.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOffers(ctx,
		`SELECT o.id, o.seller_id, u.username, o.title, o.description, o.price, o.status, o.created_at
		 FROM offers o JOIN users u ON o.seller_id = u.id
		 WHERE o.status = ?
		 ORDER BY o.created_at DESC, o.id DESC LIMIT ?`,
		market.OfferActive, limit)
}

// ListOffersBySeller returns all of a seller's offers, newest first.
func (s *Store) ListOffersBySeller(ctx context.Context, sellerID market.UserID) ([]market.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOffers(ctx,
		`SELECT o.id, o.seller_id, u.username, o.title, o.description, o.price, o.status, o.created_at
		 FROM offers o JOIN users u ON o.seller_id = u.id
		 WHERE o.seller_id = ?
		 ORDER BY o.created_at DESC, o.id DESC`,
		sellerID)
}

func (s *Store) queryOffers(ctx context.Context, query string, args ...any) ([]market.Offer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	var offers []market.Offer
	for rows.Next() {
		var o market.Offer
		var createdAt string
		if err := rows.Scan(&o.ID, &o.SellerID, &o.SellerName, &o.Title, &o.Description, &o.Price, &o.Status, &createdAt); err != nil {
			return nil, err
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// =============================================================================
// DEAL STORE (reads; writes go through Tx)
// =============================================================================

// GetDeal retrieves a deal by id, or nil if absent.
func (s *Store) GetDeal(ctx context.Context, id market.DealID) (*market.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d market.Deal
	var createdAt string
	var completedAt sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, offer_id, buyer_id, seller_id, amount, status, created_at, completed_at
		 FROM deals WHERE id = ?`, id,
	).Scan(&d.ID, &d.OfferID, &d.BuyerID, &d.SellerID, &d.Amount, &d.Status, &createdAt, &completedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		d.CompletedAt = &t
	}
	return &d, nil
}

// ListDealsForUser returns deals where the user is buyer or seller,
// newest first, joined with offer titles and party usernames.
func (s *Store) ListDealsForUser(ctx context.Context, id market.UserID, limit int) ([]market.DealSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, o.title, d.amount, d.status, d.created_at, d.completed_at,
		        buyer.username, seller.username, d.buyer_id
		 FROM deals d
		 JOIN offers o ON d.offer_id = o.id
		 JOIN users buyer ON d.buyer_id = buyer.id
		 JOIN users seller ON d.seller_id = seller.id
		 WHERE d.buyer_id = ? OR d.seller_id = ?
		 ORDER BY d.created_at DESC, d.id DESC
		 LIMIT ?`,
		id, id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query deals: %w", err)
	}
	defer rows.Close()

	var deals []market.DealSummary
	for rows.Next() {
		var d market.DealSummary
		var createdAt string
		var completedAt sql.NullString
		var buyerID market.UserID

		if err := rows.Scan(&d.ID, &d.Title, &d.Amount, &d.Status, &createdAt, &completedAt,
			&d.Buyer, &d.Seller, &buyerID); err != nil {
			return nil, err
		}

		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			d.CompletedAt = &t
		}
		d.IsBuyer = buyerID == id
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// =============================================================================
// LEDGER (reads; writes go through Tx)
// =============================================================================

// EntriesForUser returns the user's ledger entries, newest first.
func (s *Store) EntriesForUser(ctx context.Context, id market.UserID) ([]market.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, deal_id, amount, kind, created_at
		 FROM transactions WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var entries []market.Entry
	for rows.Next() {
		var e market.Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.DealID, &e.Amount, &e.Kind, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage inserts a chat message and returns the assigned id.
func (s *Store) AppendMessage(ctx context.Context, m market.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (deal_id, user_id, body, created_at)
		 VALUES (?, ?, ?, ?)`,
		m.DealID, m.UserID, m.Body, now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}
	return res.LastInsertId()
}

// ListMessages returns a deal's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, dealID market.DealID) ([]market.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deal_id, user_id, body, created_at
		 FROM messages WHERE deal_id = ?
		 ORDER BY created_at ASC, id ASC`,
		dealID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []market.Message
	for rows.Next() {
		var m market.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.DealID, &m.UserID, &m.Body, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// =============================================================================
// TRANSACTIONAL WRITES (market.Tx)
// =============================================================================

// WithTx executes fn within a database transaction. If fn returns an
// error, all writes made through the Tx are rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(market.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&storeTx{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type storeTx struct {
	tx *sql.Tx
}

// ReserveOffer flips active to reserved; the row count is the verdict.
func (t *storeTx) ReserveOffer(ctx context.Context, id market.OfferID) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE offers SET status = ? WHERE id = ? AND status = ?",
		market.OfferReserved, id, market.OfferActive,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve offer: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *storeTx) InsertDeal(ctx context.Context, d market.Deal) (market.DealID, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO deals (offer_id, buyer_id, seller_id, amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.OfferID, d.BuyerID, d.SellerID, d.Amount, d.Status, now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deal: %w", err)
	}
	id, err := res.LastInsertId()
	return market.DealID(id), err
}

// TransitionDeal performs the status-guarded update. A concurrent
// winner leaves zero rows for everyone else.
func (t *storeTx) TransitionDeal(ctx context.Context, id market.DealID, from, to market.DealStatus, completedAt *time.Time) (bool, error) {
	var res sql.Result
	var err error

	if completedAt != nil {
		res, err = t.tx.ExecContext(ctx,
			"UPDATE deals SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
			to, completedAt.UTC().Format(time.RFC3339), id, from,
		)
	} else {
		res, err = t.tx.ExecContext(ctx,
			"UPDATE deals SET status = ? WHERE id = ? AND status = ?",
			to, id, from,
		)
	}
	if err != nil {
		return false, fmt.Errorf("failed to transition deal: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Debit is a decrement-if-sufficient: the balance guard is part of the
// statement, so two debits racing on one account cannot overdraw it.
func (t *storeTx) Debit(ctx context.Context, id market.UserID, amount int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE users SET balance = balance - ? WHERE id = ? AND balance >= ?",
		amount, id, amount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to debit user: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *storeTx) Credit(ctx context.Context, id market.UserID, amount int64) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE users SET balance = balance + ? WHERE id = ?",
		amount, id,
	)
	if err != nil {
		return fmt.Errorf("failed to credit user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("user %d: %w", id, market.ErrNotFound)
	}
	return nil
}

func (t *storeTx) AppendEntry(ctx context.Context, e market.Entry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (user_id, deal_id, amount, kind, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.DealID, e.Amount, e.Kind, now(),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"messages", "transactions", "deals", "offers", "users"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
