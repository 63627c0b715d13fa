package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/domain"
)

// ShippingFeeRequest creates or replaces one governorate's shipping fee.
type ShippingFeeRequest struct {
	Governorate  string          `json:"governorate"`
	Fee          decimal.Decimal `json:"fee"`
	DeliveryTime string          `json:"deliveryTime"`
	Status       int             `json:"status"`
}

func (r ShippingFeeRequest) validate(op string) (ShippingFeeRequest, error) {
	r.Governorate = strings.TrimSpace(r.Governorate)
	r.DeliveryTime = strings.TrimSpace(r.DeliveryTime)
	fields := map[string]string{}
	if r.Governorate == "" {
		fields["governorate"] = "governorate is required"
	}
	if r.Fee.IsNegative() {
		fields["fee"] = "fee must not be negative"
	}
	if len(fields) > 0 {
		return r, apperr.Validation(op, fields)
	}
	return r, nil
}

func (c *Client) CreateShippingFee(ctx context.Context, req ShippingFeeRequest) (domain.ShippingFee, error) {
	const op = "shipping.create"
	req, err := req.validate(op)
	if err != nil {
		return domain.ShippingFee{}, err
	}
	var fee domain.ShippingFee
	err = c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   "/api/shipping-fees",
		body:   req,
		auth:   authRequired,
	}, &fee)
	return fee, err
}

func (c *Client) UpdateShippingFee(ctx context.Context, id string, req ShippingFeeRequest) error {
	const op = "shipping.update"
	req, err := req.validate(op)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		op:     op,
		method: http.MethodPut,
		path:   "/api/shipping-fees/" + url.PathEscape(id),
		body:   req,
		auth:   authRequired,
	}, nil)
}

func (c *Client) DeleteShippingFee(ctx context.Context, id string) error {
	return c.do(ctx, request{
		op:     "shipping.delete",
		method: http.MethodDelete,
		path:   "/api/shipping-fees/" + url.PathEscape(id),
		auth:   authRequired,
	}, nil)
}

// UpdateOrderStatus sets the numeric status code of an order, see
// domain.OrderStatusFromCode.
func (c *Client) UpdateOrderStatus(ctx context.Context, id string, code int) error {
	const op = "order.update_status"
	if code < 0 || code > 5 {
		return apperr.Validation(op, map[string]string{"status": "status must be between 0 and 5"})
	}
	return c.do(ctx, request{
		op:     op,
		method: http.MethodPut,
		path:   "/api/orders/" + url.PathEscape(id) + "/status",
		body:   code,
		auth:   authRequired,
	}, nil)
}

func (c *Client) DeleteOrder(ctx context.Context, id string) error {
	return c.do(ctx, request{
		op:     "order.delete",
		method: http.MethodDelete,
		path:   "/api/orders/" + url.PathEscape(id),
		auth:   authRequired,
	}, nil)
}
