// Package gateway exposes the storefront runtime as a local JSON API for a
// UI running on the same device.
package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

type Options struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	Logger             *zap.Logger
	// Done ends open event streams when closed, e.g. on server shutdown.
	Done <-chan struct{}
}

func NewRouter(sf *storefront.Storefront, opts Options) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = 12 << 20
	}
	log := logger.OrNop(opts.Logger)

	cart := NewCartHandler(sf, opts.RequestTimeout, log)
	co := NewCheckoutHandler(sf, opts.RequestTimeout, log)
	catalog := NewCatalogHandler(sf, opts.RequestTimeout, log)
	session := NewSessionHandler(sf, opts.RequestTimeout, log)

	events := NewEventsHandler(sf, log)
	events.done = opts.Done
	health := newResponder(log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(AccessLog(log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// The event stream outlives any request timeout.
		r.Get("/events", events.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))
			r.Use(MaxBodySize(opts.MaxRequestBodySize))

			r.Route("/session", func(r chi.Router) {
				r.Get("/", session.Get)
				r.Post("/login", session.Login)
				r.Post("/logout", session.Logout)
			})
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cart.GetCart)
				r.Delete("/", cart.ClearCart)
				r.Post("/refresh", cart.Refresh)
				r.Post("/items", cart.AddItem)
				r.Put("/items/{line_id}", cart.UpdateQuantity)
				r.Delete("/items/{line_id}", cart.RemoveItem)
			})
			r.Route("/checkout", func(r chi.Router) {
				r.Get("/shipping", co.ListShipping)
				r.Put("/shipping", co.SelectShipping)
				r.Post("/discount", co.ApplyDiscount)
				r.Delete("/discount", co.ClearDiscount)
				r.Get("/totals", co.Totals)
				r.Get("/state", co.State)
				r.Post("/orders", co.SubmitOrder)
			})
			r.Get("/products", catalog.ListProducts)
			r.Get("/products/{product_id}", catalog.GetProduct)
			r.Get("/orders", catalog.ListOrders)
			r.Get("/orders/{order_id}", catalog.GetOrder)
		})
	})

	return otelhttp.NewHandler(r, "storefront-gateway")
}
