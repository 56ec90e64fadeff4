/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates users, offers, and
	deals that demonstrate specific parts of the lifecycle.

AVAILABLE SCENARIOS:

	fresh-market:  Sellers with active offers, buyers with the signup bonus
	mid-deal:      A paid deal awaiting completion, plus chat history
	settled:       A completed deal showing both ledger sides

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create users with known credentials (password "demo-pass")
 3. Create offers
 4. Drive deals through the engine so every invariant holds

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "mid-deal"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - server.go: Route registration
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/playtrade/market-engine/market"
)

// =============================================================================
// SCENARIO CATALOG
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-market",
		Name:        "Fresh Market",
		Description: "Two sellers with active offers, one buyer with the signup bonus",
	},
	{
		ID:          "mid-deal",
		Name:        "Mid Deal",
		Description: "A paid deal in escrow awaiting completion, with chat history",
	},
	{
		ID:          "settled",
		Name:        "Settled Deal",
		Description: "A completed deal with payment and payout visible in the ledger",
	},
}

// resetter is implemented by stores that can wipe all data.
type resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO ENDPOINTS
// =============================================================================

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario resets the database and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusBadRequest, "Store does not support scenarios", nil)
		return
	}

	ctx := r.Context()
	if err := rs.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "fresh-market":
		err = h.loadFreshMarketScenario(ctx)
	case "mid-deal":
		err = h.loadMidDealScenario(ctx)
	case "settled":
		err = h.loadSettledScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.Log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedUser(ctx context.Context, username string, balance int64) (market.UserID, error) {
	return h.Store.CreateUser(ctx, market.User{
		Username:     username,
		Email:        username + "@demo.local",
		PasswordHash: hashPassword("demo-pass"),
		Balance:      balance,
	})
}

func (h *Handler) loadFreshMarketScenario(ctx context.Context) error {
	alice, err := h.seedUser(ctx, "alice", signupBonus)
	if err != nil {
		return err
	}
	bob, err := h.seedUser(ctx, "bob", signupBonus)
	if err != nil {
		return err
	}
	if _, err := h.seedUser(ctx, "carol", signupBonus); err != nil {
		return err
	}

	offers := []market.Offer{
		{SellerID: alice, Title: "Dragon Lore skin", Description: "Factory new", Price: 450},
		{SellerID: alice, Title: "Starter account bundle", Description: "Level 30, all runes", Price: 120},
		{SellerID: bob, Title: "Rare emote pack", Description: "Retired 2023 set", Price: 80},
	}
	for _, o := range offers {
		if _, err := h.Store.CreateOffer(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadMidDealScenario(ctx context.Context) error {
	if err := h.loadFreshMarketScenario(ctx); err != nil {
		return err
	}

	seller, err := h.seedUser(ctx, "dave", signupBonus)
	if err != nil {
		return err
	}
	buyer, err := h.seedUser(ctx, "erin", 2000)
	if err != nil {
		return err
	}

	offerID, err := h.Store.CreateOffer(ctx, market.Offer{
		SellerID: seller, Title: "Founders badge", Description: "Account-bound until transfer", Price: 600,
	})
	if err != nil {
		return err
	}

	deal, err := h.Engine.Create(ctx, buyer, offerID)
	if err != nil {
		return err
	}
	if _, err := h.Engine.Pay(ctx, buyer, deal.ID); err != nil {
		return err
	}

	chat := []market.Message{
		{DealID: deal.ID, UserID: buyer, Body: "Paid. When can you transfer?"},
		{DealID: deal.ID, UserID: seller, Body: "Tonight, will ping you here."},
	}
	for _, m := range chat {
		if _, err := h.Store.AppendMessage(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSettledScenario(ctx context.Context) error {
	seller, err := h.seedUser(ctx, "frank", signupBonus)
	if err != nil {
		return err
	}
	buyer, err := h.seedUser(ctx, "grace", 2000)
	if err != nil {
		return err
	}

	offerID, err := h.Store.CreateOffer(ctx, market.Offer{
		SellerID: seller, Title: "Legacy mount code", Description: "Unused gift code", Price: 1000,
	})
	if err != nil {
		return err
	}

	deal, err := h.Engine.Create(ctx, buyer, offerID)
	if err != nil {
		return err
	}
	if _, err := h.Engine.Pay(ctx, buyer, deal.ID); err != nil {
		return err
	}
	if _, err := h.Engine.Complete(ctx, buyer, deal.ID); err != nil {
		return fmt.Errorf("settle demo deal: %w", err)
	}
	return nil
}
