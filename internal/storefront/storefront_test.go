package storefront

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/backend/backendtest"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/reconciler"
	"github.com/fjod/go_cart/storefront/internal/storage"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newServer(t *testing.T) *backendtest.Server {
	t.Helper()
	srv := backendtest.New(t)
	srv.AddProduct(domain.Product{ID: "P1", Name: "Tote", Price: decimal.NewFromInt(100), InStock: true})
	srv.AddProduct(domain.Product{
		ID: "P3", Name: "Scarf", Price: decimal.NewFromInt(80), InStock: true,
		Sizes: []string{"S", "M"}, Colors: []string{"Red"},
	})
	srv.AddProduct(domain.Product{ID: "P4", Name: "Belt", Price: decimal.NewFromInt(60)})
	srv.SetShipping(domain.ShippingFee{ID: "s1", Governorate: "Cairo", Fee: decimal.NewFromInt(30)})
	return srv
}

func open(t *testing.T, srv *backendtest.Server, store storage.Store) *Storefront {
	t.Helper()
	sf, err := Open(context.Background(), Deps{
		Store:     store,
		Namespace: "device-1",
		Backend:   backend.Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RateLimit: 1000, RateBurst: 1000},
	})
	require.NoError(t, err)
	return sf
}

func TestOpen_RequiresStore(t *testing.T) {
	_, err := Open(context.Background(), Deps{})
	assert.Error(t, err)
}

type closeCountingStore struct {
	*storage.MemoryStore
	closed int
}

func (s *closeCountingStore) Close() error {
	s.closed++
	return nil
}

func TestOpen_FailureClosesStoreAndClosers(t *testing.T) {
	store := &closeCountingStore{MemoryStore: storage.NewMemoryStore()}
	writerClosed := 0
	_, err := Open(context.Background(), Deps{
		Store:   store,
		Backend: backend.Options{BaseURL: "not a url"},
		Closers: []io.Closer{closerFunc(func() error { writerClosed++; return nil })},
	})
	require.Error(t, err)
	assert.Equal(t, 1, store.closed)
	assert.Equal(t, 1, writerClosed)
}

func TestOpen_RestoresTokenAndCart(t *testing.T) {
	srv := newServer(t)
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveToken(ctx, "device-1", backendtest.ValidToken))
	require.NoError(t, store.SaveCart(ctx, "device-1", &domain.CartSnapshot{
		Lines: []domain.CartLine{{
			ID:       "line-9",
			Product:  domain.ProductRef{ID: "P1", Name: "Tote", Price: decimal.NewFromInt(100)},
			Quantity: 2,
		}},
		Authoritative: true,
	}))

	sf := open(t, srv, store)

	assert.True(t, sf.Session.Authenticated())
	snap := sf.Cart.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "line-9", snap.Lines[0].ID)
	assert.False(t, snap.Authoritative)
}

func TestLogin_PushesLinesAddedWhileLoggedOut(t *testing.T) {
	srv := newServer(t)
	sf := open(t, srv, storage.NewMemoryStore())
	ctx := context.Background()

	snap, err := sf.AddProduct(ctx, "P1", 2, reconciler.LineOptions{})
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Empty(t, snap.Lines[0].ID)
	assert.Equal(t, 0, srv.Calls(backendtest.RouteAddItem))

	snap, err = sf.Login(ctx, backendtest.ValidToken)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.NotEmpty(t, snap.Lines[0].ID)
	assert.True(t, snap.Authoritative)
	assert.Len(t, srv.Items(), 1)
}

func TestLogin_BlankToken(t *testing.T) {
	sf := open(t, newServer(t), storage.NewMemoryStore())
	_, err := sf.Login(context.Background(), "  ")
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
	assert.False(t, sf.Session.Authenticated())
}

func TestLogout_DropsTokenAndCart(t *testing.T) {
	srv := newServer(t)
	store := storage.NewMemoryStore()
	sf := open(t, srv, store)
	ctx := context.Background()
	srv.SeedCart(backendtest.Item{ProductID: "P1", ProductName: "Tote", Quantity: 1, Price: decimal.NewFromInt(100)})

	_, err := sf.Login(ctx, backendtest.ValidToken)
	require.NoError(t, err)
	require.Len(t, sf.Cart.Snapshot().Lines, 1)

	sf.Logout(ctx)
	assert.False(t, sf.Session.Authenticated())
	assert.Empty(t, sf.Cart.Snapshot().Lines)
	_, err = store.LoadToken(ctx, "device-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	// the server cart belongs to the account and is kept
	assert.Len(t, srv.Items(), 1)
}

func TestAddProduct_ChecksVariant(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		opts    reconciler.LineOptions
		field   string
		wantErr apperr.Kind
	}{
		{"size required", "P3", reconciler.LineOptions{Color: "Red"}, "size", apperr.KindInvalidInput},
		{"unknown size", "P3", reconciler.LineOptions{Size: "XL", Color: "Red"}, "size", apperr.KindInvalidInput},
		{"color required", "P3", reconciler.LineOptions{Size: "S"}, "color", apperr.KindInvalidInput},
		{"out of stock", "P4", reconciler.LineOptions{}, "", apperr.KindInvalidInput},
		{"unknown product", "P404", reconciler.LineOptions{}, "", apperr.KindNotFound},
		{"blank product", " ", reconciler.LineOptions{}, "product_id", apperr.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sf := open(t, newServer(t), storage.NewMemoryStore())
			snap, err := sf.AddProduct(context.Background(), tt.id, 1, tt.opts)
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, apperr.KindOf(err))
			assert.Empty(t, snap.Lines)
			if tt.field != "" {
				var e *apperr.Error
				require.True(t, errors.As(err, &e))
				assert.Contains(t, e.Fields, tt.field)
			}
		})
	}
}

func TestAddProduct_ValidVariant(t *testing.T) {
	sf := open(t, newServer(t), storage.NewMemoryStore())
	snap, err := sf.AddProduct(context.Background(), "P3", 1, reconciler.LineOptions{Size: "M", Color: "Red"})
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "M", snap.Lines[0].Size)
	assert.True(t, decimal.NewFromInt(80).Equal(snap.Lines[0].Product.Price))
}

func TestMyOrders_UnauthorizedExpiresSession(t *testing.T) {
	srv := newServer(t)
	sf := open(t, srv, storage.NewMemoryStore())
	_, err := sf.Login(context.Background(), backendtest.ValidToken)
	require.NoError(t, err)

	srv.FailNext(backendtest.RouteMyOrders, http.StatusUnauthorized, "token expired")
	_, err = sf.MyOrders(context.Background(), 1, 10)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.False(t, sf.Session.Authenticated())
}

func TestOrders_PassThrough(t *testing.T) {
	srv := newServer(t)
	srv.AddOrder(domain.Order{ID: "o-1", OrderNumber: "ORD-0001", Total: decimal.NewFromInt(130)})
	sf := open(t, srv, storage.NewMemoryStore())
	_, err := sf.Login(context.Background(), backendtest.ValidToken)
	require.NoError(t, err)

	page, err := sf.MyOrders(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	order, err := sf.Order(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-0001", order.OrderNumber)
}

func TestShippingFeeAdmin_RefreshesCachedShipping(t *testing.T) {
	srv := newServer(t)
	sf, err := Open(context.Background(), Deps{
		Store:     storage.NewMemoryStore(),
		Namespace: "admin",
		Backend:   backend.Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RateLimit: 1000, RateBurst: 1000},
		Checkout:  checkout.Options{ShippingTTL: time.Hour},
	})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = sf.Login(ctx, backendtest.ValidToken)
	require.NoError(t, err)

	fees, err := sf.Checkout.LoadShipping(ctx, false)
	require.NoError(t, err)
	require.Len(t, fees, 1)

	created, err := sf.CreateShippingFee(ctx, backend.ShippingFeeRequest{Governorate: "Giza", Fee: decimal.NewFromInt(45)})
	require.NoError(t, err)
	fees, err = sf.Checkout.LoadShipping(ctx, false)
	require.NoError(t, err)
	assert.Len(t, fees, 2)

	_, err = sf.Checkout.SelectShipping("Giza")
	require.NoError(t, err)
	require.NoError(t, sf.UpdateShippingFee(ctx, created.ID, backend.ShippingFeeRequest{Governorate: "Giza", Fee: decimal.NewFromInt(50)}))
	_, err = sf.Checkout.LoadShipping(ctx, false)
	require.NoError(t, err)
	sel, ok := sf.Checkout.Selection()
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(50).Equal(sel.Fee))

	require.NoError(t, sf.DeleteShippingFee(ctx, created.ID))
	fees, err = sf.Checkout.LoadShipping(ctx, false)
	require.NoError(t, err)
	assert.Len(t, fees, 1)
	_, ok = sf.Checkout.Selection()
	assert.False(t, ok)
	assert.Equal(t, 4, srv.Calls(backendtest.RouteShipping))
}

func TestShippingFeeAdmin_FailureKeepsCache(t *testing.T) {
	srv := newServer(t)
	sf, err := Open(context.Background(), Deps{
		Store:     storage.NewMemoryStore(),
		Namespace: "admin",
		Backend:   backend.Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RateLimit: 1000, RateBurst: 1000},
		Checkout:  checkout.Options{ShippingTTL: time.Hour},
	})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = sf.Login(ctx, backendtest.ValidToken)
	require.NoError(t, err)
	_, err = sf.Checkout.LoadShipping(ctx, false)
	require.NoError(t, err)

	srv.FailNext(backendtest.RouteDeleteShipping, http.StatusForbidden, "admin access required")
	err = sf.DeleteShippingFee(ctx, "s1")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.True(t, sf.Session.Authenticated())

	_, err = sf.Checkout.LoadShipping(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Calls(backendtest.RouteShipping))
}

func TestOrderAdmin_UpdatesAndDeletes(t *testing.T) {
	srv := newServer(t)
	srv.AddOrder(domain.Order{ID: "o-1", OrderNumber: "ORD-0001"})
	sf := open(t, srv, storage.NewMemoryStore())
	ctx := context.Background()
	_, err := sf.Login(ctx, backendtest.ValidToken)
	require.NoError(t, err)

	require.NoError(t, sf.UpdateOrderStatus(ctx, "o-1", 4))
	order, err := sf.Order(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivered, order.Status())

	require.NoError(t, sf.DeleteOrder(ctx, "o-1"))
	_, err = sf.Order(ctx, "o-1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	srv.FailNext(backendtest.RouteOrderStatus, http.StatusUnauthorized, "token expired")
	err = sf.UpdateOrderStatus(ctx, "o-1", 1)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.False(t, sf.Session.Authenticated())
}

func TestClose_RunsClosers(t *testing.T) {
	sf := open(t, newServer(t), storage.NewMemoryStore())
	closed := false
	sf.closers = append(sf.closers, closerFunc(func() error { closed = true; return nil }))

	require.NoError(t, sf.Close())
	assert.True(t, closed)
}

func TestFromConfig_EndToEndOrder(t *testing.T) {
	srv := newServer(t)
	cfg := &config.Config{
		RequestTimeout: 2 * time.Second,
		Backend:        config.BackendConfig{BaseURL: srv.URL, RateLimitRPS: 1000, RateLimitBurst: 1000},
		Retry:          config.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Breaker:        config.BreakerConfig{MaxFailures: 5, OpenTimeout: time.Second},
		Store:          config.StoreConfig{Driver: "memory", Namespace: "e2e"},
		Notifier:       config.NotifierConfig{Kind: "http"},
		ShippingTTL:    time.Minute,
	}
	sf, err := FromConfig(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer sf.Close()
	ctx := context.Background()

	_, err = sf.Login(ctx, backendtest.ValidToken)
	require.NoError(t, err)
	_, err = sf.AddProduct(ctx, "P1", 3, reconciler.LineOptions{})
	require.NoError(t, err)
	_, err = sf.Checkout.LoadShipping(ctx, false)
	require.NoError(t, err)

	receipt, err := sf.Checkout.SubmitOrder(ctx, domain.OrderForm{
		FullName:      "Omar Said",
		Phone:         "01198765432",
		Address:       "5 Tahrir Sq",
		Governorate:   "Cairo",
		PaymentMethod: domain.PaymentVodafoneCash,
		SenderDetails: "01198765432",
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(330).Equal(receipt.Totals.Total))
	assert.Empty(t, sf.Cart.Snapshot().Lines)

	notes := srv.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "330.00", notes[0].Total)
	require.Len(t, srv.Submissions(), 1)
	assert.Equal(t, 1, srv.Submissions()[0].PaymentMethod)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	drivers := []config.StoreConfig{
		{Driver: "memory"},
		{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "sf.db")},
		{Driver: "redis", RedisAddr: mr.Addr()},
	}
	for _, cfg := range drivers {
		t.Run(cfg.Driver, func(t *testing.T) {
			store, err := OpenStore(ctx, cfg)
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.SaveToken(ctx, "ns", "tok"))
			tok, err := store.LoadToken(ctx, "ns")
			require.NoError(t, err)
			assert.Equal(t, "tok", tok)
		})
	}

	_, err := OpenStore(ctx, config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}
