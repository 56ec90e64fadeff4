/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Deal, offer, and balance endpoints
  - auth.go: Registration and login endpoints
*/
package api

import (
	"time"

	"github.com/playtrade/market-engine/market"
)

// =============================================================================
// AUTH
// =============================================================================

// RegisterRequest creates a new user account.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest authenticates an existing user.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionDTO is returned by register and login.
type SessionDTO struct {
	Token string  `json:"token"`
	User  UserDTO `json:"user"`
}

// UserDTO represents a user in API responses. The password hash never
// leaves the server.
type UserDTO struct {
	ID       market.UserID `json:"id"`
	Username string        `json:"username"`
	Email    string        `json:"email"`
	Balance  int64         `json:"balance"`
}

// =============================================================================
// OFFERS
// =============================================================================

// CreateOfferRequest lists a new item for sale.
type CreateOfferRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

// OfferDTO represents an offer in API responses.
type OfferDTO struct {
	ID          market.OfferID     `json:"id"`
	SellerID    market.UserID      `json:"seller_id"`
	Seller      string             `json:"seller,omitempty"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Price       int64              `json:"price"`
	BuyerTotal  int64              `json:"buyer_total"`
	Status      market.OfferStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

// =============================================================================
// DEALS
// =============================================================================

// CreateDealRequest opens a deal against an active offer.
type CreateDealRequest struct {
	OfferID market.OfferID `json:"offer_id"`
}

// DealDTO represents a deal in API responses.
type DealDTO struct {
	ID          market.DealID     `json:"id"`
	OfferID     market.OfferID    `json:"offer_id"`
	BuyerID     market.UserID     `json:"buyer_id"`
	SellerID    market.UserID     `json:"seller_id"`
	Amount      int64             `json:"amount"`
	Status      market.DealStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// DealSummaryDTO is one row of the "my deals" listing.
type DealSummaryDTO struct {
	ID          market.DealID     `json:"id"`
	Title       string            `json:"title"`
	Amount      int64             `json:"amount"`
	Status      market.DealStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Buyer       string            `json:"buyer"`
	Seller      string            `json:"seller"`
	IsBuyer     bool              `json:"is_buyer"`
}

// =============================================================================
// MESSAGES
// =============================================================================

// PostMessageRequest appends a chat message to a deal.
type PostMessageRequest struct {
	Body string `json:"body"`
}

// MessageDTO represents a deal message in API responses.
type MessageDTO struct {
	ID        int64         `json:"id"`
	DealID    market.DealID `json:"deal_id"`
	UserID    market.UserID `json:"user_id"`
	Body      string        `json:"body"`
	IsOwn     bool          `json:"is_own"`
	CreatedAt time.Time     `json:"created_at"`
}

// =============================================================================
// BALANCE / LEDGER
// =============================================================================

// BalanceDTO is a point-in-time balance read.
type BalanceDTO struct {
	UserID  market.UserID `json:"user_id"`
	Balance int64         `json:"balance"`
}

// EntryDTO represents one ledger entry in API responses.
type EntryDTO struct {
	ID        market.EntryID   `json:"id"`
	DealID    market.DealID    `json:"deal_id"`
	Amount    int64            `json:"amount"`
	Kind      market.EntryKind `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
}

// ErrorResponse is the JSON shape for all error statuses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
