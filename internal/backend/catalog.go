package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

func (c *Client) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := c.read(ctx, request{
		op:     "product.get",
		method: http.MethodGet,
		path:   "/api/products/" + url.PathEscape(id),
		auth:   authOptional,
	}, &p)
	if err != nil {
		return domain.Product{}, err
	}
	p.Images = c.resolveImages(p.Images)
	return p, nil
}

func (c *Client) ListProducts(ctx context.Context, pageNumber, pageSize int) (domain.Page[domain.Product], error) {
	var page domain.Page[domain.Product]
	err := c.read(ctx, request{
		op:     "product.list",
		method: http.MethodGet,
		path:   "/api/products",
		query:  pageQuery(pageNumber, pageSize),
		auth:   authOptional,
	}, &page)
	if err != nil {
		return page, err
	}
	for i := range page.Items {
		page.Items[i].Images = c.resolveImages(page.Items[i].Images)
	}
	return page, nil
}

func (c *Client) MyOrders(ctx context.Context, pageNumber, pageSize int) (domain.Page[domain.Order], error) {
	var page domain.Page[domain.Order]
	err := c.read(ctx, request{
		op:     "order.list_mine",
		method: http.MethodGet,
		path:   "/api/orders/my-orders",
		query:  pageQuery(pageNumber, pageSize),
		auth:   authRequired,
	}, &page)
	return page, err
}

func (c *Client) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var o domain.Order
	err := c.read(ctx, request{
		op:     "order.get",
		method: http.MethodGet,
		path:   "/api/orders/" + url.PathEscape(id),
		auth:   authRequired,
	}, &o)
	return o, err
}

func pageQuery(pageNumber, pageSize int) url.Values {
	if pageNumber < 1 {
		pageNumber = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return url.Values{
		"pageNumber": {strconv.Itoa(pageNumber)},
		"pageSize":   {strconv.Itoa(pageSize)},
	}
}
