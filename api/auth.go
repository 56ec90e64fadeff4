/*
auth.go - Registration and login

PURPOSE:
  Account creation and credential checks. Registration credits the
  signup bonus so new users can transact immediately. Both endpoints
  return an opaque session token; the gateway exchanges it for the
  X-User-Id header on subsequent requests.

PASSWORD STORAGE:
  SHA-256 of the raw password. Matches what the upstream gateway
  expects; swap for bcrypt if credentials ever live only here.

TOKENS:
  uuid v4 strings held in memory. Not persisted: the trusted identity
  on every request is the X-User-Id header, so a restart only forces
  a re-login.

SEE ALSO:
  - identity.go: How callers are identified after login
*/
package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/playtrade/market-engine/market"
)

// signupBonus is credited to every new account.
const signupBonus = 1000

const minPasswordLen = 6

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Register creates a new account and returns a session token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "Username is required", nil)
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "A valid email is required", nil)
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters", nil)
		return
	}

	id, err := h.Store.CreateUser(r.Context(), market.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hashPassword(req.Password),
		Balance:      signupBonus,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	h.Log.Info().Int64("user_id", int64(id)).Str("email", req.Email).Msg("user registered")
	usersRegistered.Inc()

	h.writeSession(w, http.StatusCreated, market.User{
		ID:       id,
		Username: req.Username,
		Email:    req.Email,
		Balance:  signupBonus,
	})
}

// Login checks credentials and returns a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.Store.GetUserByEmail(r.Context(), email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to look up user", err)
		return
	}
	// Same response for unknown email and wrong password.
	if user == nil || user.PasswordHash != hashPassword(req.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password", nil)
		return
	}

	h.writeSession(w, http.StatusOK, *user)
}

func (h *Handler) writeSession(w http.ResponseWriter, status int, user market.User) {
	token := uuid.NewString()
	h.tokens.Store(token, user.ID)

	writeJSON(w, status, SessionDTO{
		Token: token,
		User: UserDTO{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Balance:  user.Balance,
		},
	})
}

// UserForToken resolves a session token, for gateway integration.
func (h *Handler) UserForToken(token string) (market.UserID, bool) {
	v, ok := h.tokens.Load(token)
	if !ok {
		return 0, false
	}
	return v.(market.UserID), true
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
