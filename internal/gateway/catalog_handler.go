package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/storefront"
)

// CatalogHandler serves products and the shopper's order history.
type CatalogHandler struct {
	responder
	sf      *storefront.Storefront
	timeout time.Duration
}

func NewCatalogHandler(sf *storefront.Storefront, timeout time.Duration, log *zap.Logger) *CatalogHandler {
	return &CatalogHandler{responder: newResponder(log), sf: sf, timeout: timeout}
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	return page, size
}

// GET /api/v1/products
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	page, size := pageParams(r)
	products, err := h.sf.Products(ctx, page, size)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, products)
}

// GET /api/v1/products/{product_id}
func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, err := h.sf.Product(ctx, chi.URLParam(r, "product_id"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

// GET /api/v1/orders
func (h *CatalogHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	page, size := pageParams(r)
	orders, err := h.sf.MyOrders(ctx, page, size)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{order_id}
func (h *CatalogHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.sf.Order(ctx, chi.URLParam(r, "order_id"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, order)
}
