/*
handlers.go - HTTP API handlers for the marketplace

PURPOSE:
  Exposes the deal engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Auth:
    POST   /api/auth/register          Create account (signup bonus credited)
    POST   /api/auth/login             Authenticate, returns session token

  Offers:
    GET    /api/offers                 List active offers
    POST   /api/offers                 Create offer
    GET    /api/offers/mine            List caller's offers

  Deals:
    POST   /api/deals                  Open a deal against an offer
    GET    /api/deals                  List caller's deals (buyer or seller)
    GET    /api/deals/{id}             Get one deal (parties only)
    POST   /api/deals/{id}/pay         Buyer funds the deal
    POST   /api/deals/{id}/complete    Buyer confirms receipt, seller paid

  Messages:
    GET    /api/deals/{id}/messages    Deal chat (parties only)
    POST   /api/deals/{id}/messages    Append a message

  Account:
    GET    /api/me/balance             Point-in-time balance
    GET    /api/me/transactions        Ledger entries, newest first

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store:  Database access (users, offers, messages, reads)
  - Engine: Deal lifecycle state machine
  - Log:    Structured logger

IDENTITY:
  The caller is identified by the X-User-Id header, treated as a trusted
  attribute set by an upstream gateway. See identity.go.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid operations
  - 401: Missing or unknown caller identity
  - 402: Insufficient funds at the moment of debit
  - 403: Caller is not the authorized party for the transition
  - 404: Offer or deal not found (or not visible to the caller)
  - 409: Deal not in the required status for the transition
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Registration and login
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/playtrade/market-engine/market"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence surface the handlers need: the engine's
// Store plus the collaborator queries (users, offers, messages).
type Store interface {
	market.Store

	CreateUser(ctx context.Context, u market.User) (market.UserID, error)
	GetUserByEmail(ctx context.Context, email string) (*market.User, error)

	CreateOffer(ctx context.Context, o market.Offer) (market.OfferID, error)
	ListActiveOffers(ctx context.Context, limit int) ([]market.Offer, error)
	ListOffersBySeller(ctx context.Context, sellerID market.UserID) ([]market.Offer, error)

	AppendMessage(ctx context.Context, m market.Message) (int64, error)
	ListMessages(ctx context.Context, dealID market.DealID) ([]market.Message, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  Store
	Engine *market.Engine
	Log    zerolog.Logger

	// Session tokens live in memory only; the trusted identity is the
	// X-User-Id header, so losing tokens on restart is harmless.
	tokens sync.Map // token -> market.UserID
}

// NewHandler creates a handler with all dependencies wired.
func NewHandler(store Store, engine *market.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		Store:  store,
		Engine: engine,
		Log:    log,
	}
}

const offerListLimit = 100

// =============================================================================
// OFFER ENDPOINTS
// =============================================================================

// ListOffers returns active offers, newest first.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.Store.ListActiveOffers(r.Context(), offerListLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list offers", err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferDTOs(offers))
}

// CreateOffer lists a new item for sale by the caller.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	sellerID := callerID(r)
	if sellerID == 0 {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	var req CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required", nil)
		return
	}
	if req.Price <= 0 {
		writeError(w, http.StatusBadRequest, "Price must be positive", nil)
		return
	}

	id, err := h.Store.CreateOffer(r.Context(), market.Offer{
		SellerID:    sellerID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create offer", err)
		return
	}

	offer, err := h.Store.GetOffer(r.Context(), id)
	if err != nil || offer == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load offer", err)
		return
	}

	offersCreated.Inc()
	writeJSON(w, http.StatusCreated, toOfferDTO(*offer))
}

// MyOffers returns all of the caller's offers regardless of status.
func (h *Handler) MyOffers(w http.ResponseWriter, r *http.Request) {
	sellerID := callerID(r)
	if sellerID == 0 {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	offers, err := h.Store.ListOffersBySeller(r.Context(), sellerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list offers", err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferDTOs(offers))
}

// =============================================================================
// DEAL ENDPOINTS
// =============================================================================

// CreateDeal opens a pending deal against an active offer.
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	buyerID := callerID(r)

	var req CreateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	deal, err := h.Engine.Create(r.Context(), buyerID, req.OfferID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dealTransitions.WithLabelValues("create").Inc()
	writeJSON(w, http.StatusCreated, toDealDTO(*deal))
}

// GetDeal returns a single deal. Only the buyer or seller can see it.
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	dealID, ok := dealParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid deal id", nil)
		return
	}

	deal, err := h.Store.GetDeal(r.Context(), dealID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get deal", err)
		return
	}
	// Outsiders get the same 404 as a missing deal; existence is not leaked.
	if deal == nil || (deal.BuyerID != userID && deal.SellerID != userID) {
		writeError(w, http.StatusNotFound, "Deal not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toDealDTO(*deal))
}

// ListDeals returns the caller's deals, newest first.
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)

	deals, err := h.Engine.ListForUser(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]DealSummaryDTO, len(deals))
	for i, d := range deals {
		dtos[i] = DealSummaryDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PayDeal moves a pending deal to paid, debiting the buyer.
func (h *Handler) PayDeal(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)

	dealID, ok := dealParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid deal id", nil)
		return
	}

	deal, err := h.Engine.Pay(r.Context(), userID, dealID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dealTransitions.WithLabelValues("pay").Inc()
	writeJSON(w, http.StatusOK, toDealDTO(*deal))
}

// CompleteDeal moves a paid deal to completed, crediting the seller.
func (h *Handler) CompleteDeal(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)

	dealID, ok := dealParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid deal id", nil)
		return
	}

	deal, err := h.Engine.Complete(r.Context(), userID, dealID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dealTransitions.WithLabelValues("complete").Inc()
	writeJSON(w, http.StatusOK, toDealDTO(*deal))
}

// =============================================================================
// MESSAGE ENDPOINTS
// =============================================================================

// ListMessages returns a deal's chat, oldest first. Parties only.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	deal, status := h.dealForParty(r, userID)
	if deal == nil {
		writeError(w, status, "Deal not found", nil)
		return
	}

	msgs, err := h.Store.ListMessages(r.Context(), deal.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list messages", err)
		return
	}

	dtos := make([]MessageDTO, len(msgs))
	for i, m := range msgs {
		dtos[i] = MessageDTO{
			ID:        m.ID,
			DealID:    m.DealID,
			UserID:    m.UserID,
			Body:      m.Body,
			IsOwn:     m.UserID == userID,
			CreatedAt: m.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PostMessage appends a chat message to a deal. Parties only.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	deal, status := h.dealForParty(r, userID)
	if deal == nil {
		writeError(w, status, "Deal not found", nil)
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Body == "" {
		writeError(w, http.StatusBadRequest, "Message body is required", nil)
		return
	}

	id, err := h.Store.AppendMessage(r.Context(), market.Message{
		DealID: deal.ID,
		UserID: userID,
		Body:   req.Body,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to post message", err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageDTO{
		ID:     id,
		DealID: deal.ID,
		UserID: userID,
		Body:   req.Body,
		IsOwn:  true,
	})
}

// dealForParty loads the deal in the URL and checks the caller is a
// party to it. Returns nil plus the status to respond with otherwise.
func (h *Handler) dealForParty(r *http.Request, userID market.UserID) (*market.Deal, int) {
	dealID, ok := dealParam(r)
	if !ok {
		return nil, http.StatusBadRequest
	}

	deal, err := h.Store.GetDeal(r.Context(), dealID)
	if err != nil {
		return nil, http.StatusInternalServerError
	}
	if deal == nil || (deal.BuyerID != userID && deal.SellerID != userID) {
		return nil, http.StatusNotFound
	}
	return deal, http.StatusOK
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

// GetBalance returns the caller's point-in-time balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	balance, err := h.Store.GetBalance(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{UserID: userID, Balance: balance})
}

// GetTransactions returns the caller's ledger entries, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	entries, err := h.Store.EntriesForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:        e.ID,
			DealID:    e.DealID,
			Amount:    e.Amount,
			Kind:      e.Kind,
			CreatedAt: e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func dealParam(r *http.Request) (market.DealID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return market.DealID(id), true
}

func toDealDTO(d market.Deal) DealDTO {
	return DealDTO{
		ID:          d.ID,
		OfferID:     d.OfferID,
		BuyerID:     d.BuyerID,
		SellerID:    d.SellerID,
		Amount:      d.Amount,
		Status:      d.Status,
		CreatedAt:   d.CreatedAt,
		CompletedAt: d.CompletedAt,
	}
}

func toOfferDTO(o market.Offer) OfferDTO {
	return OfferDTO{
		ID:          o.ID,
		SellerID:    o.SellerID,
		Seller:      o.SellerName,
		Title:       o.Title,
		Description: o.Description,
		Price:       o.Price,
		BuyerTotal:  market.BuyerTotal(o.Price),
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
	}
}

func toOfferDTOs(offers []market.Offer) []OfferDTO {
	dtos := make([]OfferDTO, len(offers))
	for i, o := range offers {
		dtos[i] = toOfferDTO(o)
	}
	return dtos
}

// writeEngineError maps domain errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Authentication required", err)
	case errors.Is(err, market.ErrForbidden):
		writeError(w, http.StatusForbidden, "Not your deal to act on", err)
	case errors.Is(err, market.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, market.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "Insufficient funds", err)
	case errors.Is(err, market.ErrInvalidState):
		writeError(w, http.StatusConflict, "Deal is not in the required status", err)
	case errors.Is(err, market.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, "Invalid operation", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
