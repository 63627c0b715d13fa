// Package storefront wires the session, local store, cart reconciler and
// checkout aggregator of one device profile together.
package storefront

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/mirror"
	"github.com/fjod/go_cart/storefront/internal/reconciler"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/fjod/go_cart/storefront/internal/storage"
)

type Deps struct {
	Store     storage.Store
	Namespace string
	Backend   backend.Options
	Checkout  checkout.Options
	Logger    *zap.Logger
	// Closers run on Close after the store, e.g. a Kafka writer.
	Closers []io.Closer
}

type Storefront struct {
	Session  *session.Session
	Cart     *reconciler.Reconciler
	Checkout *checkout.Aggregator
	Backend  *backend.Client

	mirror  *mirror.Mirror
	store   storage.Store
	closers []io.Closer
	log     *zap.Logger
}

// Open restores the persisted token and cart of the namespace and returns
// a ready Storefront. A restored cart is optimistic until the next fetch.
// The store and closers belong to the Storefront from here on; they are
// closed by Close, or before Open returns an error.
func Open(ctx context.Context, deps Deps) (*Storefront, error) {
	if deps.Store == nil {
		_ = closeAll(deps.Closers)
		return nil, errors.New("storefront: store is required")
	}
	if deps.Namespace == "" {
		deps.Namespace = "default"
	}
	log := logger.OrNop(deps.Logger).With(zap.String("namespace", deps.Namespace))

	sess := session.New(deps.Store, deps.Namespace, log)
	if err := sess.Restore(ctx); err != nil {
		log.Warn("failed to restore session, starting logged out", zap.Error(err))
	}

	if deps.Backend.Logger == nil {
		deps.Backend.Logger = log
	}
	client, err := backend.New(deps.Backend, sess)
	if err != nil {
		_ = closeAll(append([]io.Closer{deps.Store}, deps.Closers...))
		return nil, err
	}

	m := mirror.New(deps.Store, deps.Namespace, log)
	m.Restore(ctx)
	rec := reconciler.New(m, client, sess, log)

	opts := deps.Checkout
	if opts.Logger == nil {
		opts.Logger = log
	}

	return &Storefront{
		Session:  sess,
		Cart:     rec,
		Checkout: checkout.New(rec, client, sess, opts),
		Backend:  client,
		mirror:   m,
		store:    deps.Store,
		closers:  deps.Closers,
		log:      log,
	}, nil
}

// Login stores the token, pushes lines added while logged out and loads
// the account cart. The login stands even when the cart cannot be synced.
func (s *Storefront) Login(ctx context.Context, token string) (domain.CartSnapshot, error) {
	if err := s.Session.Login(ctx, token); err != nil {
		return s.Cart.Snapshot(), err
	}
	return s.Cart.SyncLocalLines(ctx)
}

// Logout drops the token and the local copy of the account cart.
func (s *Storefront) Logout(ctx context.Context) {
	s.Session.Expire(ctx)
	s.Cart.DiscardLocal()
	s.Checkout.ClearDiscount()
}

// Subscribe registers fn for every change of the cart mirror.
func (s *Storefront) Subscribe(fn func(domain.CartSnapshot)) {
	s.mirror.Subscribe(fn)
}

// AddProduct looks the product up in the catalog, checks the chosen
// variant and adds it to the cart.
func (s *Storefront) AddProduct(ctx context.Context, productID string, qty int, opts reconciler.LineOptions) (domain.CartSnapshot, error) {
	const op = "cart.add_product"
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return s.Cart.Snapshot(), apperr.Validation(op, map[string]string{"product_id": "product is required"})
	}
	p, err := s.Backend.GetProduct(ctx, productID)
	if err != nil {
		return s.Cart.Snapshot(), err
	}
	if err := checkVariant(op, p, opts); err != nil {
		return s.Cart.Snapshot(), err
	}
	return s.Cart.AddLine(ctx, p.Ref(), qty, opts)
}

func checkVariant(op string, p domain.Product, opts reconciler.LineOptions) error {
	if !p.InStock {
		return apperr.New(apperr.KindInvalidInput, op, p.Name+" is out of stock")
	}
	fields := make(map[string]string)
	size, color := strings.TrimSpace(opts.Size), strings.TrimSpace(opts.Color)
	switch {
	case len(p.Sizes) > 0 && size == "":
		fields["size"] = "please select a size"
	case len(p.Sizes) > 0 && !slices.Contains(p.Sizes, size):
		fields["size"] = "size " + size + " is not available"
	}
	switch {
	case len(p.Colors) > 0 && color == "":
		fields["color"] = "please select a color"
	case len(p.Colors) > 0 && !slices.Contains(p.Colors, color):
		fields["color"] = "color " + color + " is not available"
	}
	if len(fields) > 0 {
		return apperr.Validation(op, fields)
	}
	return nil
}

func (s *Storefront) Product(ctx context.Context, id string) (domain.Product, error) {
	return s.Backend.GetProduct(ctx, id)
}

func (s *Storefront) Products(ctx context.Context, page, size int) (domain.Page[domain.Product], error) {
	return s.Backend.ListProducts(ctx, page, size)
}

func (s *Storefront) MyOrders(ctx context.Context, page, size int) (domain.Page[domain.Order], error) {
	orders, err := s.Backend.MyOrders(ctx, page, size)
	return orders, s.checkAuth(ctx, err)
}

func (s *Storefront) Order(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.Backend.GetOrder(ctx, id)
	return order, s.checkAuth(ctx, err)
}

// CreateShippingFee and the other admin operations below need an account
// with the admin role; the backend answers Forbidden otherwise. Shipping
// fee changes mark the cached shipping list stale.
func (s *Storefront) CreateShippingFee(ctx context.Context, req backend.ShippingFeeRequest) (domain.ShippingFee, error) {
	fee, err := s.Backend.CreateShippingFee(ctx, req)
	if err == nil {
		s.Checkout.InvalidateShipping()
	}
	return fee, s.checkAuth(ctx, err)
}

func (s *Storefront) UpdateShippingFee(ctx context.Context, id string, req backend.ShippingFeeRequest) error {
	err := s.Backend.UpdateShippingFee(ctx, id, req)
	if err == nil {
		s.Checkout.InvalidateShipping()
	}
	return s.checkAuth(ctx, err)
}

func (s *Storefront) DeleteShippingFee(ctx context.Context, id string) error {
	err := s.Backend.DeleteShippingFee(ctx, id)
	if err == nil {
		s.Checkout.InvalidateShipping()
	}
	return s.checkAuth(ctx, err)
}

func (s *Storefront) UpdateOrderStatus(ctx context.Context, id string, code int) error {
	return s.checkAuth(ctx, s.Backend.UpdateOrderStatus(ctx, id, code))
}

func (s *Storefront) DeleteOrder(ctx context.Context, id string) error {
	return s.checkAuth(ctx, s.Backend.DeleteOrder(ctx, id))
}

func (s *Storefront) checkAuth(ctx context.Context, err error) error {
	if apperr.Is(err, apperr.KindUnauthenticated) {
		s.Session.Expire(ctx)
	}
	return err
}

func (s *Storefront) Close() error {
	return closeAll(append([]io.Closer{s.store}, s.closers...))
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
