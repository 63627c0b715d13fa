package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/storefront"
)

type SessionHandler struct {
	responder
	sf      *storefront.Storefront
	timeout time.Duration
}

func NewSessionHandler(sf *storefront.Storefront, timeout time.Duration, log *zap.Logger) *SessionHandler {
	return &SessionHandler{responder: newResponder(log), sf: sf, timeout: timeout}
}

type LoginRequestDTO struct {
	Token string `json:"token"`
}

type SessionResponseDTO struct {
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// GET /api/v1/session
func (h *SessionHandler) Get(w http.ResponseWriter, _ *http.Request) {
	resp := SessionResponseDTO{Authenticated: h.sf.Session.Authenticated()}
	if exp, ok := h.sf.Session.ExpiresAt(); ok && resp.Authenticated {
		resp.ExpiresAt = &exp
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// POST /api/v1/session/login
//
// The login stands when the cart sync fails; the cart is returned as far
// as it could be synced.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req LoginRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	snap, err := h.sf.Login(ctx, req.Token)
	if err != nil && !h.sf.Session.Authenticated() {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cartResponse(snap))
}

// POST /api/v1/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sf.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
