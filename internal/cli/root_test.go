package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/backend"
	"github.com/fjod/go_cart/storefront/internal/backend/backendtest"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/notify"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"github.com/fjod/go_cart/storefront/internal/storefront"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "storefront", cmd.Use)
	assert.Contains(t, cmd.Long, "checkout totals")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	paths := [][]string{
		{"serve"}, {"login"}, {"logout"},
		{"cart", "show"}, {"cart", "add"}, {"cart", "update"}, {"cart", "remove"}, {"cart", "clear"}, {"cart", "refresh"},
		{"checkout", "shipping"}, {"checkout", "discount"}, {"checkout", "total"}, {"checkout", "submit"},
		{"orders", "list"}, {"orders", "show"},
		{"admin", "shipping", "add"}, {"admin", "shipping", "update"}, {"admin", "shipping", "delete"},
		{"admin", "order", "status"}, {"admin", "order", "delete"},
	}

	for _, path := range paths {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(nil)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestSubmitCommandFlags(t *testing.T) {
	cmd := NewRootCommand(nil)
	submitCmd, _, err := cmd.Find([]string{"checkout", "submit"})
	require.NoError(t, err)

	for _, name := range []string{"name", "phone", "address", "governorate", "payment", "sender", "notes", "discount", "proof"} {
		assert.NotNil(t, submitCmd.Flags().Lookup(name), "flag --%s", name)
	}
	assert.Equal(t, "instapay", submitCmd.Flags().Lookup("payment").DefValue)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand(nil)
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	portFlag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, portFlag)
	assert.Equal(t, "", portFlag.DefValue)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"exit error", WrapExitError(ExitCommandError, "bad", nil), ExitCommandError},
		{"classified", apperr.New(apperr.KindNotFound, "op", "missing"), ExitFailure},
		{"wrapped classified", errors.Join(apperr.ErrEmptyCart), ExitFailure},
		{"plain", errors.New("accepts 1 arg(s)"), ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

// harness runs commands against a fake backend with one shared
// in-memory device store, so state carries over between commands.
type harness struct {
	t     *testing.T
	srv   *backendtest.Server
	store *storage.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := backendtest.New(t)
	srv.AddProduct(domain.Product{ID: "P1", Name: "Tote", Price: decimal.NewFromInt(100), InStock: true})
	srv.SetShipping(domain.ShippingFee{ID: "s1", Governorate: "Cairo", Fee: decimal.NewFromInt(30), DeliveryTime: "2 days"})
	return &harness{t: t, srv: srv, store: storage.NewMemoryStore()}
}

func (h *harness) opts(format string) *RootOptions {
	return &RootOptions{
		Format: format,
		Open: func(ctx context.Context, log *zap.Logger) (*storefront.Storefront, error) {
			sf, err := storefront.Open(ctx, storefront.Deps{
				Store:     h.store,
				Namespace: "cli",
				Logger:    log,
				Backend: backend.Options{
					BaseURL: h.srv.URL, Timeout: 2 * time.Second, RateLimit: 1000, RateBurst: 1000,
				},
			})
			if err != nil {
				return nil, err
			}
			sf.Checkout.SetNotifier(notify.NewHTTPNotifier(sf.Backend))
			return sf, nil
		},
	}
}

func (h *harness) run(args ...string) (int, string) {
	var out bytes.Buffer
	code := Execute(args, &out, h.opts("text"))
	return code, out.String()
}

// runJSON runs the command with --format json and decodes the envelope.
func (h *harness) runJSON(args ...string) (int, map[string]any) {
	h.t.Helper()
	var out bytes.Buffer
	code := Execute(append([]string{"--format", "json"}, args...), &out, h.opts("text"))
	var resp map[string]any
	require.NoError(h.t, json.Unmarshal(out.Bytes(), &resp), out.String())
	return code, resp
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)
	code, out := h.run("--format", "xml", "cart", "show")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "invalid format")
}

func TestCart_LoggedOutLinesPersist(t *testing.T) {
	h := newHarness(t)

	code, resp := h.runJSON("cart", "add", "P1", "--qty", "2")
	require.Equal(t, ExitSuccess, code, resp)
	data := resp["data"].(map[string]any)
	assert.Equal(t, "200.00", data["subtotal"])
	assert.Equal(t, false, data["authoritative"])
	assert.Equal(t, 0, h.srv.Calls(backendtest.RouteAddItem))

	code, out := h.run("cart", "show")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Tote")
	assert.Contains(t, out, "(local)")
	assert.Contains(t, out, "Subtotal: 200.00")
}

func TestCart_EmptyText(t *testing.T) {
	h := newHarness(t)
	code, out := h.run("cart", "show")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Cart is empty.\n", out)
}

func TestCart_UpdateRejectsNonNumericQuantity(t *testing.T) {
	h := newHarness(t)
	code, out := h.run("cart", "update", "line-1", "many")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "quantity must be a number")
}

func TestLoginCheckoutSubmit(t *testing.T) {
	h := newHarness(t)

	code, _ := h.run("cart", "add", "P1", "--qty", "3")
	require.Equal(t, ExitSuccess, code)

	code, resp := h.runJSON("login", backendtest.ValidToken)
	require.Equal(t, ExitSuccess, code, resp)
	assert.Equal(t, true, resp["data"].(map[string]any)["authoritative"])
	assert.Len(t, h.srv.Items(), 1)

	code, resp = h.runJSON("checkout", "total", "--governorate", "cairo")
	require.Equal(t, ExitSuccess, code, resp)
	assert.Equal(t, "330", resp["data"].(map[string]any)["total"])

	code, resp = h.runJSON("checkout", "submit",
		"--name", "Omar Said", "--phone", "01198765432", "--address", "5 Tahrir Sq",
		"--governorate", "Cairo", "--payment", "vodafonecash", "--sender", "01198765432")
	require.Equal(t, ExitSuccess, code, resp)
	receipt := resp["data"].(map[string]any)
	assert.NotEmpty(t, receipt["order_number"])
	assert.NotEmpty(t, receipt["idempotency_key"])

	require.Len(t, h.srv.Submissions(), 1)
	notes := h.srv.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "330.00", notes[0].Total)

	code, out := h.run("cart", "show")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Cart is empty.\n", out)
}

func TestCheckoutSubmit_ValidationDetails(t *testing.T) {
	h := newHarness(t)
	_, _ = h.run("login", backendtest.ValidToken)
	_, _ = h.run("cart", "add", "P1")

	code, resp := h.runJSON("checkout", "submit", "--governorate", "Cairo", "--phone", "123")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "error", resp["status"])
	cliErr := resp["error"].(map[string]any)
	assert.Equal(t, "invalid_input", cliErr["code"])
	details := cliErr["details"].(map[string]any)
	assert.Contains(t, details, "full_name")
	assert.Contains(t, details, "phone")
	assert.Equal(t, string(domain.FailureInvalidPayload), details["reason"])
	assert.Empty(t, h.srv.Submissions())
}

func TestCheckoutSubmit_UnknownPaymentMethod(t *testing.T) {
	h := newHarness(t)
	code, resp := h.runJSON("checkout", "submit", "--payment", "cash")
	assert.Equal(t, ExitFailure, code)
	details := resp["error"].(map[string]any)["details"].(map[string]any)
	assert.Contains(t, details, "payment_method")
}

func TestCheckoutDiscount(t *testing.T) {
	h := newHarness(t)
	fixed := decimal.NewFromInt(50)
	h.srv.AddDiscount(domain.DiscountCode{Code: "FIFTY", Type: domain.DiscountFixed, FixedValue: &fixed, IsActive: true})
	_, _ = h.run("login", backendtest.ValidToken)
	_, _ = h.run("cart", "add", "P1")

	code, out := h.run("checkout", "discount", "FIFTY")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "takes 50.00 off")

	code, out = h.run("checkout", "discount", "NOPE")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "Error [")
}

func TestCheckoutShipping(t *testing.T) {
	h := newHarness(t)
	code, out := h.run("checkout", "shipping")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "GOVERNORATE")
	assert.Contains(t, out, "Cairo")
	assert.Contains(t, out, "30.00")
}

func TestOrders(t *testing.T) {
	h := newHarness(t)
	h.srv.AddOrder(domain.Order{ID: "o-1", OrderNumber: "ORD-0001", Total: decimal.NewFromInt(130)})

	code, resp := h.runJSON("orders", "list")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "login_required", resp["error"].(map[string]any)["code"])

	_, _ = h.run("login", backendtest.ValidToken)
	code, out := h.run("orders", "list")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "ORD-0001")

	code, out = h.run("orders", "show", "o-1")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "Total: 130.00")
}

func TestAdminShipping(t *testing.T) {
	h := newHarness(t)
	_, _ = h.run("login", backendtest.ValidToken)

	code, out := h.run("admin", "shipping", "add", "--governorate", "Giza", "--fee", "45.5", "--delivery", "3 days")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "Added Giza: 45.50")

	code, out = h.run("checkout", "shipping")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "Giza")

	fees := h.srv.Shipping()
	require.Len(t, fees, 2)
	id := fees[1].ID
	code, out = h.run("admin", "shipping", "update", id, "--governorate", "Giza", "--fee", "50")
	require.Equal(t, ExitSuccess, code, out)
	assert.True(t, decimal.NewFromInt(50).Equal(h.srv.Shipping()[1].Fee))

	code, out = h.run("admin", "shipping", "delete", id)
	require.Equal(t, ExitSuccess, code, out)
	assert.Len(t, h.srv.Shipping(), 1)

	code, out = h.run("admin", "shipping", "add", "--governorate", "Aswan", "--fee", "lots")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "fee must be a number")
}

func TestAdminOrder(t *testing.T) {
	h := newHarness(t)
	h.srv.AddOrder(domain.Order{ID: "o-1", OrderNumber: "ORD-0001"})

	code, resp := h.runJSON("admin", "order", "status", "o-1", "shipped")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "login_required", resp["error"].(map[string]any)["code"])

	_, _ = h.run("login", backendtest.ValidToken)
	code, out := h.run("admin", "order", "status", "o-1", "Shipped")
	require.Equal(t, ExitSuccess, code, out)
	assert.Equal(t, "Order o-1 is now Shipped.\n", out)
	assert.Equal(t, domain.OrderShipped, h.srv.Orders()[0].Status())

	code, out = h.run("admin", "order", "status", "o-1", "lost")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out, "unknown order status")

	h.srv.FailNext(backendtest.RouteDeleteOrder, http.StatusForbidden, "admin access required")
	code, resp = h.runJSON("admin", "order", "delete", "o-1")
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "forbidden", resp["error"].(map[string]any)["code"])

	code, out = h.run("admin", "order", "delete", "o-1")
	require.Equal(t, ExitSuccess, code, out)
	assert.Empty(t, h.srv.Orders())
}

func TestParseOrderStatus(t *testing.T) {
	tests := []struct {
		in   string
		code int
		ok   bool
	}{
		{"3", 3, true},
		{"delivered", 4, true},
		{" Pending ", 0, true},
		{"6", 6, false},
		{"-1", -1, false},
		{"lost", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			code, ok := parseOrderStatus(tt.in)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.code, code)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	_, _ = h.run("login", backendtest.ValidToken)
	_, _ = h.run("cart", "add", "P1")

	code, out := h.run("logout")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Logged out.\n", out)

	_, err := h.store.LoadToken(context.Background(), "cli")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, out = h.run("cart", "show")
	assert.Equal(t, "Cart is empty.\n", out)
}
