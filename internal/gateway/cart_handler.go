package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/reconciler"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

type CartHandler struct {
	responder
	sf      *storefront.Storefront
	timeout time.Duration
}

func NewCartHandler(sf *storefront.Storefront, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{responder: newResponder(log), sf: sf, timeout: timeout}
}

type AddItemRequestDTO struct {
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Size          string `json:"size"`
	Color         string `json:"color"`
	Customization string `json:"customization"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type CartResponseDTO struct {
	Lines         []domain.CartLine `json:"lines"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	ItemCount     int               `json:"item_count"`
	Authoritative bool              `json:"authoritative"`
}

func cartResponse(snap domain.CartSnapshot) CartResponseDTO {
	lines := snap.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	return CartResponseDTO{
		Lines:         lines,
		Subtotal:      snap.Subtotal(),
		ItemCount:     snap.ItemCount(),
		Authoritative: snap.Authoritative,
	}
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, cartResponse(h.sf.Cart.Snapshot()))
}

// POST /api/v1/cart/refresh
func (h *CartHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, err := h.sf.Cart.FetchAuthoritative(ctx)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cartResponse(snap))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	snap, err := h.sf.AddProduct(ctx, req.ProductID, req.Quantity, reconciler.LineOptions{
		Size:          req.Size,
		Color:         req.Color,
		Customization: req.Customization,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, cartResponse(snap))
}

// PUT /api/v1/cart/items/{line_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "quantity is required")
		return
	}

	snap, err := h.sf.Cart.UpdateQuantity(ctx, chi.URLParam(r, "line_id"), *req.Quantity)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cartResponse(snap))
}

// DELETE /api/v1/cart/items/{line_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, err := h.sf.Cart.RemoveLine(ctx, chi.URLParam(r, "line_id"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cartResponse(snap))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, err := h.sf.Cart.ClearCart(ctx)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cartResponse(snap))
}
