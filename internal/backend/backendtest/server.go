// Package backendtest provides an in-memory storefront API for tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

const ValidToken = "test-token"

// Route keys used with FailNext, Calls and Hook.
const (
	RouteGetCart      = "GET /api/cart"
	RouteAddItem      = "POST /api/cart/items"
	RouteUpdateItem   = "PUT /api/cart/items"
	RouteRemoveItem   = "DELETE /api/cart/items"
	RouteClearCart    = "DELETE /api/cart"
	RouteDiscount     = "GET /api/discount-codes/code"
	RouteShipping     = "GET /api/shipping-fees"
	RouteCreateOrder  = "POST /api/orders"
	RouteNotify       = "POST /api/notification/send"
	RouteListProducts = "GET /api/products"
	RouteGetProduct   = "GET /api/products/{id}"
	RouteMyOrders     = "GET /api/orders/my-orders"
	RouteGetOrder     = "GET /api/orders/{id}"

	RouteCreateShipping = "POST /api/shipping-fees"
	RouteUpdateShipping = "PUT /api/shipping-fees/{id}"
	RouteDeleteShipping = "DELETE /api/shipping-fees/{id}"
	RouteOrderStatus    = "PUT /api/orders/{id}/status"
	RouteDeleteOrder    = "DELETE /api/orders/{id}"
)

type Item struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"productId"`
	ProductName       string          `json:"productName"`
	Quantity          int             `json:"quantity"`
	Size              string          `json:"size"`
	Color             string          `json:"color"`
	CustomizationText string          `json:"customizationText"`
	Price             decimal.Decimal `json:"price"`
	Images            []domain.Image  `json:"images"`
}

type Notification struct {
	OrderNumber string `json:"orderNumber"`
	Total       string `json:"total"`
}

type failure struct {
	status int
	body   string
}

type Server struct {
	*httptest.Server

	mu            sync.Mutex
	items         []Item
	products      map[string]domain.Product
	discounts     map[string]domain.DiscountCode
	shipping      []domain.ShippingFee
	orders        []domain.Order
	submissions   []domain.OrderSubmission
	idemKeys      []string
	notifications []Notification
	failures      map[string][]failure
	calls         map[string]int
	nextID        int

	// Hook runs at the start of every request, outside the server lock.
	Hook func(route string)
}

func New(t testing.TB) *Server {
	s := &Server{
		products:  make(map[string]domain.Product),
		discounts: make(map[string]domain.DiscountCode),
		failures:  make(map[string][]failure),
		calls:     make(map[string]int),
	}

	r := chi.NewRouter()
	r.Get("/api/cart", s.wrap(RouteGetCart, true, s.getCart))
	r.Post("/api/cart/items", s.wrap(RouteAddItem, true, s.addItem))
	r.Put("/api/cart/items/{id}", s.wrap(RouteUpdateItem, true, s.updateItem))
	r.Delete("/api/cart/items/{id}", s.wrap(RouteRemoveItem, true, s.removeItem))
	r.Delete("/api/cart", s.wrap(RouteClearCart, true, s.clearCart))
	r.Get("/api/discount-codes/code/{code}", s.wrap(RouteDiscount, false, s.getDiscount))
	r.Get("/api/shipping-fees", s.wrap(RouteShipping, false, s.listShipping))
	r.Post("/api/orders", s.wrap(RouteCreateOrder, true, s.createOrder))
	r.Post("/api/notification/send", s.wrap(RouteNotify, true, s.notify))
	r.Get("/api/products", s.wrap(RouteListProducts, false, s.listProducts))
	r.Get("/api/products/{id}", s.wrap(RouteGetProduct, false, s.getProduct))
	r.Get("/api/orders/my-orders", s.wrap(RouteMyOrders, true, s.myOrders))
	r.Get("/api/orders/{id}", s.wrap(RouteGetOrder, true, s.getOrder))
	r.Post("/api/shipping-fees", s.wrap(RouteCreateShipping, true, s.createShipping))
	r.Put("/api/shipping-fees/{id}", s.wrap(RouteUpdateShipping, true, s.updateShipping))
	r.Delete("/api/shipping-fees/{id}", s.wrap(RouteDeleteShipping, true, s.deleteShipping))
	r.Put("/api/orders/{id}/status", s.wrap(RouteOrderStatus, true, s.updateOrderStatus))
	r.Delete("/api/orders/{id}", s.wrap(RouteDeleteOrder, true, s.deleteOrder))

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Server) AddDiscount(dc domain.DiscountCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discounts[dc.Code] = dc
}

func (s *Server) SetShipping(fees ...domain.ShippingFee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipping = fees
}

// SeedCart replaces the server cart; items without id get one assigned.
func (s *Server) SeedCart(items ...Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	for _, it := range items {
		if it.ID == "" {
			it.ID = s.newIDLocked()
		}
		s.items = append(s.items, it)
	}
}

func (s *Server) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Server) Submissions() []domain.OrderSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrderSubmission(nil), s.submissions...)
}

func (s *Server) IdempotencyKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.idemKeys...)
}

func (s *Server) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

func (s *Server) Shipping() []domain.ShippingFee {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ShippingFee(nil), s.shipping...)
}

func (s *Server) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Order(nil), s.orders...)
}

func (s *Server) AddOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
}

// FailNext makes the next call to route answer status with body.
// Repeated calls queue further failures.
func (s *Server) FailNext(route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], failure{status: status, body: body})
}

func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) newIDLocked() string {
	s.nextID++
	return fmt.Sprintf("line-%d", s.nextID)
}

func (s *Server) wrap(route string, auth bool, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hook := s.Hook; hook != nil {
			hook(route)
		}

		s.mu.Lock()
		s.calls[route]++
		var f *failure
		if queue := s.failures[route]; len(queue) > 0 {
			f = &queue[0]
			s.failures[route] = queue[1:]
		}
		s.mu.Unlock()

		if f != nil {
			http.Error(w, f.body, f.status)
			return
		}
		if auth && r.Header.Get("Authorization") != "Bearer "+ValidToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) getCart(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	items := append([]Item{}, s.items...)
	s.mu.Unlock()

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     "cart-1",
		"userId": "customer-1",
		"items":  items,
		"total":  total,
	})
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID         string `json:"productId"`
		Quantity          int    `json:"quantity"`
		Size              string `json:"size"`
		Color             string `json:"color"`
		CustomizationText string `json:"customizationText"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity < 1 {
		http.Error(w, "invalid quantity", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[req.ProductID]
	if !ok {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	for i, it := range s.items {
		if it.ProductID == req.ProductID && it.Size == req.Size && it.Color == req.Color && it.CustomizationText == req.CustomizationText {
			s.items[i].Quantity += req.Quantity
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	s.items = append(s.items, Item{
		ID:                s.newIDLocked(),
		ProductID:         p.ID,
		ProductName:       p.Name,
		Quantity:          req.Quantity,
		Size:              req.Size,
		Color:             req.Color,
		CustomizationText: req.CustomizationText,
		Price:             p.Price,
		Images:            p.Images,
	})
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	var qty int
	if err := json.NewDecoder(r.Body).Decode(&qty); err != nil || qty < 1 {
		http.Error(w, "invalid quantity", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.items {
		if it.ID == id {
			s.items[i].Quantity = qty
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "item not found", http.StatusNotFound)
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "item not found", http.StatusNotFound)
}

func (s *Server) clearCart(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getDiscount(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	s.mu.Lock()
	dc, ok := s.discounts[code]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "discount code not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dc)
}

func (s *Server) listShipping(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	fees := append([]domain.ShippingFee{}, s.shipping...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, domain.Page[domain.ShippingFee]{
		Items: fees, TotalItems: len(fees), PageNumber: 1, PageSize: 30, TotalPages: 1,
	})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var sub domain.OrderSubmission
	if err := json.Unmarshal(body, &sub); err != nil || len(sub.Items) == 0 {
		http.Error(w, "invalid order payload", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	items := make([]domain.OrderItem, 0, len(sub.Items))
	for i, l := range sub.Items {
		total = total.Add(l.PriceAtPurchase.Mul(decimal.NewFromInt(int64(l.Quantity))))
		items = append(items, domain.OrderItem{
			ID:              fmt.Sprintf("oi-%d", i+1),
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			PriceAtPurchase: l.PriceAtPurchase,
		})
	}
	order := domain.Order{
		ID:           fmt.Sprintf("order-%d", len(s.orders)+1),
		OrderNumber:  fmt.Sprintf("ORD-%04d", len(s.orders)+1),
		CustomerID:   "customer-1",
		PaymentCode:  sub.PaymentMethod,
		Total:        total,
		DiscountCode: sub.DiscountCode,
		Governorate:  strings.TrimSpace(sub.Governorate),
		Items:        items,
	}
	s.orders = append(s.orders, order)
	s.submissions = append(s.submissions, sub)
	s.idemKeys = append(s.idemKeys, r.Header.Get("Idempotency-Key"))
	// the backend consumes the cart on order creation
	s.items = nil
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) notify(w http.ResponseWriter, r *http.Request) {
	var n Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listProducts(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, domain.Page[domain.Product]{
		Items: products, TotalItems: len(products), PageNumber: 1, PageSize: len(products), TotalPages: 1,
	})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p, ok := s.products[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "product not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) myOrders(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	orders := append([]domain.Order{}, s.orders...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, domain.Page[domain.Order]{
		Items: orders, TotalItems: len(orders), PageNumber: 1, PageSize: 20, TotalPages: 1,
	})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ID == id {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}
	http.Error(w, "order not found", http.StatusNotFound)
}

func (s *Server) createShipping(w http.ResponseWriter, r *http.Request) {
	var fee domain.ShippingFee
	if err := json.NewDecoder(r.Body).Decode(&fee); err != nil || strings.TrimSpace(fee.Governorate) == "" {
		http.Error(w, "invalid shipping fee", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.shipping {
		if strings.EqualFold(f.Governorate, fee.Governorate) {
			http.Error(w, "governorate already exists", http.StatusBadRequest)
			return
		}
	}
	s.nextID++
	fee.ID = fmt.Sprintf("fee-%d", s.nextID)
	s.shipping = append(s.shipping, fee)
	writeJSON(w, http.StatusCreated, fee)
}

func (s *Server) updateShipping(w http.ResponseWriter, r *http.Request) {
	var fee domain.ShippingFee
	if err := json.NewDecoder(r.Body).Decode(&fee); err != nil {
		http.Error(w, "invalid shipping fee", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.shipping {
		if f.ID == id {
			fee.ID = id
			s.shipping[i] = fee
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "shipping fee not found", http.StatusNotFound)
}

func (s *Server) deleteShipping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.shipping {
		if f.ID == id {
			s.shipping = append(s.shipping[:i], s.shipping[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "shipping fee not found", http.StatusNotFound)
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var code int
	if err := json.NewDecoder(r.Body).Decode(&code); err != nil {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.orders {
		if o.ID == id {
			s.orders[i].StatusCode = code
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "order not found", http.StatusNotFound)
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.orders {
		if o.ID == id {
			s.orders = append(s.orders[:i], s.orders[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "order not found", http.StatusNotFound)
}
