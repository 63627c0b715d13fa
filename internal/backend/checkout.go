package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

func (c *Client) GetDiscountCode(ctx context.Context, code string) (domain.DiscountCode, error) {
	var dc domain.DiscountCode
	err := c.read(ctx, request{
		op:     "discount.get",
		method: http.MethodGet,
		path:   "/api/discount-codes/code/" + url.PathEscape(code),
		auth:   authOptional,
	}, &dc)
	return dc, err
}

// ListShippingFees returns the shipping reference list with governorate
// names trimmed and unnamed entries dropped.
func (c *Client) ListShippingFees(ctx context.Context) ([]domain.ShippingFee, error) {
	var page domain.Page[domain.ShippingFee]
	err := c.read(ctx, request{
		op:     "shipping.list",
		method: http.MethodGet,
		path:   "/api/shipping-fees",
		query:  url.Values{"pageNumber": {"1"}, "pageSize": {"30"}},
		auth:   authOptional,
	}, &page)
	if err != nil {
		return nil, err
	}

	fees := make([]domain.ShippingFee, 0, len(page.Items))
	for _, fee := range page.Items {
		fee.Governorate = strings.TrimSpace(fee.Governorate)
		if fee.Governorate == "" {
			continue
		}
		fees = append(fees, fee)
	}
	return fees, nil
}

// CreateOrder posts the order. It is never retried; idemKey lets the
// backend recognise a manual resubmission of the same attempt.
func (c *Client) CreateOrder(ctx context.Context, order domain.OrderSubmission, idemKey string) (domain.Order, error) {
	var created domain.Order
	err := c.do(ctx, request{
		op:      "order.create",
		method:  http.MethodPost,
		path:    "/api/orders",
		body:    order,
		auth:    authRequired,
		idemKey: idemKey,
	}, &created)
	return created, err
}

type notificationRequest struct {
	OrderNumber string `json:"orderNumber"`
	Total       string `json:"total"`
}

// SendNotification alerts the shop admins about a new order.
func (c *Client) SendNotification(ctx context.Context, orderNumber string, total decimal.Decimal) error {
	return c.do(ctx, request{
		op:     "notification.send",
		method: http.MethodPost,
		path:   "/api/notification/send",
		body:   notificationRequest{OrderNumber: orderNumber, Total: total.StringFixed(2)},
		auth:   authRequired,
	}, nil)
}
