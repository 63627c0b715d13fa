package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type cartItemResponse struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"productId"`
	ProductName       string          `json:"productName"`
	Quantity          int             `json:"quantity"`
	Size              *string         `json:"size"`
	Color             *string         `json:"color"`
	CustomizationText *string         `json:"customizationText"`
	Price             decimal.Decimal `json:"price"`
	Images            []domain.Image  `json:"images"`
}

type cartResponse struct {
	ID     string             `json:"id"`
	UserID string             `json:"userId"`
	Items  []cartItemResponse `json:"items"`
	Total  decimal.Decimal    `json:"total"`
}

// AddItemRequest is the body of POST /api/cart/items.
type AddItemRequest struct {
	ProductID         string `json:"productId"`
	Quantity          int    `json:"quantity"`
	Size              string `json:"size"`
	Color             string `json:"color"`
	CustomizationText string `json:"customizationText,omitempty"`
}

// GetCart fetches the authoritative cart with image paths made absolute.
func (c *Client) GetCart(ctx context.Context) (domain.CartSnapshot, error) {
	var resp cartResponse
	err := c.read(ctx, request{
		op:     "cart.get",
		method: http.MethodGet,
		path:   "/api/cart",
		auth:   authRequired,
	}, &resp)
	if err != nil {
		return domain.CartSnapshot{}, err
	}
	return c.toSnapshot(resp), nil
}

func (c *Client) AddItem(ctx context.Context, item AddItemRequest) error {
	return c.do(ctx, request{
		op:     "cart.add_item",
		method: http.MethodPost,
		path:   "/api/cart/items",
		body:   item,
		auth:   authRequired,
		lineOp: true,
	}, nil)
}

// UpdateItem sets the quantity of a server line. The body is the bare
// quantity.
func (c *Client) UpdateItem(ctx context.Context, lineID string, quantity int) error {
	return c.do(ctx, request{
		op:     "cart.update_item",
		method: http.MethodPut,
		path:   "/api/cart/items/" + url.PathEscape(lineID),
		body:   quantity,
		auth:   authRequired,
		lineOp: true,
	}, nil)
}

func (c *Client) RemoveItem(ctx context.Context, lineID string) error {
	return c.do(ctx, request{
		op:     "cart.remove_item",
		method: http.MethodDelete,
		path:   "/api/cart/items/" + url.PathEscape(lineID),
		auth:   authRequired,
		lineOp: true,
	}, nil)
}

func (c *Client) ClearCart(ctx context.Context) error {
	return c.do(ctx, request{
		op:     "cart.clear",
		method: http.MethodDelete,
		path:   "/api/cart",
		auth:   authRequired,
	}, nil)
}

func (c *Client) toSnapshot(resp cartResponse) domain.CartSnapshot {
	snap := domain.CartSnapshot{
		Lines:         make([]domain.CartLine, 0, len(resp.Items)),
		Authoritative: true,
		FetchedAt:     time.Now().UTC(),
	}
	for _, item := range resp.Items {
		snap.Lines = append(snap.Lines, domain.CartLine{
			ID: item.ID,
			Product: domain.ProductRef{
				ID:    item.ProductID,
				Name:  item.ProductName,
				Price: item.Price,
			},
			Quantity:      item.Quantity,
			Size:          deref(item.Size),
			Color:         deref(item.Color),
			Customization: deref(item.CustomizationText),
			Images:        c.resolveImages(item.Images),
		})
	}
	return snap
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
