package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/backend/backendtest"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/retry"
)

type staticToken string

func (t staticToken) Token() (string, error) {
	if t == "" {
		return "", apperr.ErrUnauthenticated
	}
	return string(t), nil
}

func newTestClient(t *testing.T, baseURL string, token staticToken) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		RateLimit:  1000,
		RateBurst:  1000,
		ReadPolicy: retry.Policy{MaxAttempts: 3, Backoff: retry.Constant(time.Millisecond)},
	}, token)
	require.NoError(t, err)
	return c
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "not a url"}, nil)
	assert.Error(t, err)

	_, err = New(Options{BaseURL: ""}, nil)
	assert.Error(t, err)
}

func TestGetCart_MapsItemsAndImages(t *testing.T) {
	srv := backendtest.New(t)
	srv.SeedCart(backendtest.Item{
		ID: "line-7", ProductID: "P1", ProductName: "Tote", Quantity: 2, Size: "M",
		Price: decimal.RequireFromString("150.25"),
		Images: []domain.Image{
			{ID: "i1", Path: "uploads/tote.png", IsMain: true},
			{ID: "i2", Path: "https://cdn.example.com/tote.png"},
		},
	})
	c := newTestClient(t, srv.URL, backendtest.ValidToken)

	cart, err := c.GetCart(context.Background())
	require.NoError(t, err)

	require.Len(t, cart.Lines, 1)
	l := cart.Lines[0]
	assert.Equal(t, "line-7", l.ID)
	assert.Equal(t, "P1", l.Product.ID)
	assert.Equal(t, "Tote", l.Product.Name)
	assert.True(t, l.Product.Price.Equal(decimal.RequireFromString("150.25")))
	assert.Equal(t, 2, l.Quantity)
	assert.Equal(t, "M", l.Size)
	assert.Equal(t, srv.URL+"/uploads/tote.png", l.Images[0].Path)
	assert.Equal(t, "https://cdn.example.com/tote.png", l.Images[1].Path)
	assert.True(t, cart.Authoritative)
	assert.False(t, cart.FetchedAt.IsZero())
}

func TestCartMutations_RequireToken(t *testing.T) {
	srv := backendtest.New(t)
	c := newTestClient(t, srv.URL, "")

	err := c.UpdateItem(context.Background(), "line-1", 2)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	err = c.AddItem(context.Background(), AddItemRequest{ProductID: "P1", Quantity: 1})
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	// rejected before any network call
	assert.Equal(t, 0, srv.Calls(backendtest.RouteUpdateItem))
	assert.Equal(t, 0, srv.Calls(backendtest.RouteAddItem))
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   apperr.Kind
	}{
		{"bad quantity", http.StatusBadRequest, "invalid quantity", apperr.KindInvalidQuantity},
		{"expired", http.StatusUnauthorized, "", apperr.KindUnauthenticated},
		{"missing line", http.StatusNotFound, "", apperr.KindNotFound},
		{"concurrent edit", http.StatusConflict, "", apperr.KindConflict},
		{"forbidden", http.StatusForbidden, "", apperr.KindForbidden},
		{"teapot", http.StatusTeapot, "", apperr.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := backendtest.New(t)
			srv.SeedCart(backendtest.Item{ID: "line-1", ProductID: "P1", Quantity: 1})
			srv.FailNext(backendtest.RouteUpdateItem, tt.status, tt.body)
			c := newTestClient(t, srv.URL, backendtest.ValidToken)

			err := c.UpdateItem(context.Background(), "line-1", 3)
			assert.Equal(t, tt.kind, apperr.KindOf(err))

			var e *apperr.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.status, e.Status)
		})
	}
}

func TestRemoveItem_ReferencedByOrderIsConflict(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNext(backendtest.RouteRemoveItem, http.StatusInternalServerError,
		"The DELETE statement conflicted with the REFERENCE constraint FK_OrderItems")
	c := newTestClient(t, srv.URL, backendtest.ValidToken)

	err := c.RemoveItem(context.Background(), "line-1")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestMutationsAreNotRetried(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNext(backendtest.RouteUpdateItem, http.StatusServiceUnavailable, "")
	c := newTestClient(t, srv.URL, backendtest.ValidToken)

	err := c.UpdateItem(context.Background(), "line-1", 2)
	assert.True(t, apperr.Is(err, apperr.KindServerError))
	assert.Equal(t, 1, srv.Calls(backendtest.RouteUpdateItem))
}

func TestReadsAreRetried(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNext(backendtest.RouteGetCart, http.StatusBadGateway, "")
	srv.FailNext(backendtest.RouteGetCart, http.StatusServiceUnavailable, "")
	c := newTestClient(t, srv.URL, backendtest.ValidToken)

	_, err := c.GetCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, srv.Calls(backendtest.RouteGetCart))
}

func TestUpdateItem_SendsBareQuantity(t *testing.T) {
	var body string
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		body = string(buf[:n])
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/cart/items/line%2F9", r.URL.EscapedPath())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()
	c := newTestClient(t, ts.URL, "tok")

	require.NoError(t, c.UpdateItem(context.Background(), "line/9", 4))
	assert.Equal(t, "4", body)
	assert.Equal(t, "Bearer tok", auth)
}

func TestListShippingFees_Cleans(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetShipping(
		domain.ShippingFee{ID: "1", Governorate: "  Cairo ", Fee: decimal.NewFromInt(30)},
		domain.ShippingFee{ID: "2", Governorate: "   ", Fee: decimal.NewFromInt(50)},
		domain.ShippingFee{ID: "3", Governorate: "Giza", Fee: decimal.NewFromInt(40)},
	)
	c := newTestClient(t, srv.URL, "")

	fees, err := c.ListShippingFees(context.Background())
	require.NoError(t, err)
	require.Len(t, fees, 2)
	assert.Equal(t, "Cairo", fees[0].Governorate)
	assert.Equal(t, "Giza", fees[1].Governorate)
}

func TestGetDiscountCode(t *testing.T) {
	srv := backendtest.New(t)
	pct := decimal.NewFromInt(10)
	srv.AddDiscount(domain.DiscountCode{Code: "SAVE10", PercentageValue: &pct, IsActive: true})
	c := newTestClient(t, srv.URL, "")

	dc, err := c.GetDiscountCode(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.True(t, dc.IsActive)
	assert.True(t, dc.PercentageValue.Equal(pct))

	_, err = c.GetDiscountCode(context.Background(), "NOPE")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreateOrderAndNotify(t *testing.T) {
	srv := backendtest.New(t)
	c := newTestClient(t, srv.URL, backendtest.ValidToken)

	order, err := c.CreateOrder(context.Background(), domain.OrderSubmission{
		FullName: "Mona",
		Items:    []domain.OrderLine{{ProductID: "P1", Quantity: 2, PriceAtPurchase: decimal.NewFromInt(100)}},
	}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, []string{"key-1"}, srv.IdempotencyKeys())

	require.NoError(t, c.SendNotification(context.Background(), order.ID, decimal.NewFromInt(490)))
	assert.Equal(t, []backendtest.Notification{{OrderNumber: "order-1", Total: "490.00"}}, srv.Notifications())
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c, err := New(Options{
		BaseURL:     ts.URL,
		RateLimit:   1000,
		RateBurst:   1000,
		MaxFailures: 2,
		OpenTimeout: time.Minute,
	}, staticToken("tok"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err := c.ClearCart(context.Background())
		assert.True(t, apperr.Is(err, apperr.KindServerError))
	}
	err = c.ClearCart(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindServerError))
	assert.Contains(t, err.Error(), "temporarily unavailable")
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := backendtest.New(t)
	c, err := New(Options{BaseURL: srv.URL, RateLimit: 1000, RateBurst: 1000, MaxFailures: 1}, staticToken(backendtest.ValidToken))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := c.RemoveItem(context.Background(), "missing")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	}
	assert.Equal(t, 3, srv.Calls(backendtest.RouteRemoveItem))
}

func TestCatalogAndOrders(t *testing.T) {
	srv := backendtest.New(t)
	srv.AddProduct(domain.Product{ID: "P1", Name: "Tote", Price: decimal.NewFromInt(100),
		Images: []domain.Image{{ID: "i", Path: "/img/p1.jpg"}}})
	srv.AddOrder(domain.Order{ID: "o-1", OrderNumber: "ORD-1", StatusCode: 3})
	c := newTestClient(t, srv.URL, backendtest.ValidToken)
	ctx := context.Background()

	p, err := c.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/img/p1.jpg", p.Images[0].Path)

	page, err := c.ListProducts(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	orders, err := c.MyOrders(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, orders.Items, 1)
	assert.Equal(t, domain.OrderShipped, orders.Items[0].Status())

	o, err := c.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", o.OrderNumber)

	_, err = c.GetOrder(ctx, "o-404")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestResolveImagePath(t *testing.T) {
	base := "https://api.example.com"
	assert.Equal(t, "https://api.example.com/a.png", ResolveImagePath(base, "a.png"))
	assert.Equal(t, "https://api.example.com/a.png", ResolveImagePath(base+"/", "/a.png"))
	assert.Equal(t, "http://other/a.png", ResolveImagePath(base, "http://other/a.png"))
	assert.Equal(t, "HTTPS://other/a.png", ResolveImagePath(base, "HTTPS://other/a.png"))
	assert.Equal(t, "data:image/png;base64,xyz", ResolveImagePath(base, "data:image/png;base64,xyz"))
	assert.Equal(t, "", ResolveImagePath(base, ""))
}
