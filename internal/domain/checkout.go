package domain

import (
	"github.com/shopspring/decimal"
)

type DiscountType int

const (
	DiscountPercentage DiscountType = 0
	DiscountFixed      DiscountType = 1
)

// DiscountCode is the backend record looked up by code value.
type DiscountCode struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	Type              DiscountType     `json:"type"`
	PercentageValue   *decimal.Decimal `json:"percentageValue"`
	FixedValue        *decimal.Decimal `json:"fixedValue"`
	MinOrderAmount    decimal.Decimal  `json:"minOrderAmount"`
	MaxDiscountAmount *decimal.Decimal `json:"maxDiscountAmount"`
	UsageLimit        int              `json:"usageLimit"`
	UsageCount        int              `json:"usageCount"`
	StartDate         Timestamp        `json:"startDate"`
	EndDate           Timestamp        `json:"endDate"`
	IsActive          bool             `json:"isActive"`
}

// Amount computes the discount the code grants on subtotal: a percentage
// capped by the optional maximum, or a fixed value.
func (c DiscountCode) Amount(subtotal decimal.Decimal) decimal.Decimal {
	if c.PercentageValue != nil && c.PercentageValue.IsPositive() {
		amount := subtotal.Mul(*c.PercentageValue).Div(decimal.NewFromInt(100))
		if c.MaxDiscountAmount != nil && c.MaxDiscountAmount.IsPositive() && amount.GreaterThan(*c.MaxDiscountAmount) {
			return *c.MaxDiscountAmount
		}
		return amount
	}
	if c.FixedValue != nil && c.FixedValue.IsPositive() {
		return *c.FixedValue
	}
	return decimal.Zero
}

// DiscountApplication is the resolved effect of a code against the
// subtotal current at validation time.
type DiscountApplication struct {
	Code                 string          `json:"code"`
	Amount               decimal.Decimal `json:"amount"`
	MinOrderAmount       decimal.Decimal `json:"min_order_amount"`
	SubtotalAtValidation decimal.Decimal `json:"subtotal_at_validation"`
}

type ShippingFee struct {
	ID           string          `json:"id"`
	Governorate  string          `json:"governorate"`
	Fee          decimal.Decimal `json:"fee"`
	DeliveryTime string          `json:"deliveryTime"`
	Status       int             `json:"status"`
}

type ShippingSelection struct {
	Governorate  string          `json:"governorate"`
	Fee          decimal.Decimal `json:"fee"`
	DeliveryTime string          `json:"delivery_time"`
}

// Totals is the breakdown produced by the checkout aggregator.
type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	DiscountCode  string          `json:"discount_code,omitempty"`
	DiscountStale bool            `json:"discount_stale,omitempty"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	Total         decimal.Decimal `json:"total"`
	ItemCount     int             `json:"item_count"`
}
