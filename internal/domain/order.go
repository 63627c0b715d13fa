package domain

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentInstaPay     PaymentMethod = "instapay"
	PaymentVodafoneCash PaymentMethod = "vodafonecash"
)

// Code is the integer the backend expects for the method.
func (m PaymentMethod) Code() int {
	if m == PaymentVodafoneCash {
		return 1
	}
	return 0
}

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(s))) {
	case "", PaymentInstaPay:
		return PaymentInstaPay, nil
	case PaymentVodafoneCash:
		return PaymentVodafoneCash, nil
	default:
		return "", fmt.Errorf("unknown payment method %q", s)
	}
}

// OrderForm is what the shopper fills in at checkout.
type OrderForm struct {
	FullName      string
	Phone         string
	Address       string
	Governorate   string
	PaymentMethod PaymentMethod
	SenderDetails string
	Notes         string
	ProofImage    io.Reader
	ProofFilename string
}

// OrderLine is a denormalized line snapshot: the price is the one the
// shopper saw at submission time.
type OrderLine struct {
	ProductID       string          `json:"productId"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"priceAtPurchase"`
	Size            *string         `json:"size"`
	Color           *string         `json:"color"`
}

// OrderSubmission is the immutable order creation payload.
type OrderSubmission struct {
	FullName          string      `json:"fullname"`
	PhoneNumber       string      `json:"phonenumber"`
	Address           string      `json:"address"`
	Governorate       string      `json:"governorate"`
	DiscountCode      *string     `json:"discountCode"`
	PaymentMethod     int         `json:"paymentMethod"`
	SenderDetails     string      `json:"senderDetails"`
	PaymentProofImage *string     `json:"paymentProofImage"`
	PaymentNotes      *string     `json:"paymentNotes"`
	Items             []OrderLine `json:"items"`
}

// NewOrderLines snapshots the cart lines for an order payload.
func NewOrderLines(cart CartSnapshot) []OrderLine {
	lines := make([]OrderLine, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		lines = append(lines, OrderLine{
			ProductID:       l.Product.ID,
			Quantity:        l.Quantity,
			PriceAtPurchase: l.Product.Price,
			Size:            optional(l.Size),
			Color:           optional(l.Color),
		})
	}
	return lines
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

type OrderStatus string

const (
	OrderPending    OrderStatus = "Pending"
	OrderConfirmed  OrderStatus = "Confirmed"
	OrderProcessing OrderStatus = "Processing"
	OrderShipped    OrderStatus = "Shipped"
	OrderDelivered  OrderStatus = "Delivered"
	OrderCancelled  OrderStatus = "Cancelled"
)

// OrderStatusFromCode maps the backend's numeric status; unknown codes are Pending.
func OrderStatusFromCode(code int) OrderStatus {
	switch code {
	case 1:
		return OrderConfirmed
	case 2:
		return OrderProcessing
	case 3:
		return OrderShipped
	case 4:
		return OrderDelivered
	case 5:
		return OrderCancelled
	default:
		return OrderPending
	}
}

type OrderItem struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"productId"`
	ProductName     string          `json:"productName"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"priceAtPurchase"`
	Size            string          `json:"size"`
	Color           string          `json:"color"`
}

// Order is an order as acknowledged or listed by the backend.
type Order struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"orderNumber"`
	CustomerID     string          `json:"customerId"`
	StatusCode     int             `json:"status"`
	PaymentCode    int             `json:"paymentMethod"`
	Total          decimal.Decimal `json:"total"`
	ShippingFee    decimal.Decimal `json:"shippingFee"`
	DiscountCode   *string         `json:"discountCode"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	Governorate    string          `json:"governorate"`
	Date           Timestamp       `json:"date"`
	Items          []OrderItem     `json:"items"`
}

func (o Order) Status() OrderStatus {
	return OrderStatusFromCode(o.StatusCode)
}

func (o Order) PaymentMethod() PaymentMethod {
	if o.PaymentCode == 1 {
		return PaymentVodafoneCash
	}
	return PaymentInstaPay
}

// Product is a catalog entry.
type Product struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Code          string           `json:"code"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"originalPrice,omitempty"`
	Description   string           `json:"description"`
	Category      int              `json:"category"`
	Sizes         []string         `json:"sizes"`
	Colors        []string         `json:"colors"`
	Images        []Image          `json:"images"`
	InStock       bool             `json:"inStock"`
	IsOffer       bool             `json:"isOffer"`
}

func (p Product) Ref() ProductRef {
	return ProductRef{ID: p.ID, Name: p.Name, Price: p.Price}
}

// Page is the backend's paginated list envelope.
type Page[T any] struct {
	Items      []T `json:"items"`
	TotalItems int `json:"totalItems"`
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}
