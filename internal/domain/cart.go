package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductRef is the product as captured on a cart line: the price is a
// snapshot taken when the line was created or last refreshed.
type ProductRef struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type Image struct {
	ID     string `json:"id"`
	Path   string `json:"imagePath"`
	IsMain bool   `json:"isMain"`
}

// CartLine is one row of the cart. ID stays empty until the backend has
// persisted the line.
type CartLine struct {
	ID            string     `json:"id,omitempty"`
	Product       ProductRef `json:"product"`
	Quantity      int        `json:"quantity"`
	Size          string     `json:"size,omitempty"`
	Color         string     `json:"color,omitempty"`
	Customization string     `json:"customization,omitempty"`
	Images        []Image    `json:"images,omitempty"`
}

// SameVariant reports whether both lines describe the same purchasable
// variant: product, size, color and customization all equal.
func (l CartLine) SameVariant(other CartLine) bool {
	return l.Product.ID == other.Product.ID &&
		l.Size == other.Size &&
		l.Color == other.Color &&
		l.Customization == other.Customization
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l CartLine) Clone() CartLine {
	c := l
	if l.Images != nil {
		c.Images = make([]Image, len(l.Images))
		copy(c.Images, l.Images)
	}
	return c
}

func (l CartLine) equal(o CartLine) bool {
	if l.ID != o.ID || !l.SameVariant(o) || l.Quantity != o.Quantity ||
		l.Product.Name != o.Product.Name || !l.Product.Price.Equal(o.Product.Price) ||
		len(l.Images) != len(o.Images) {
		return false
	}
	for i := range l.Images {
		if l.Images[i] != o.Images[i] {
			return false
		}
	}
	return true
}

// CartSnapshot is an ordered view of the cart. Authoritative snapshots come
// straight from the backend; optimistic ones are provisional.
type CartSnapshot struct {
	Lines         []CartLine `json:"lines"`
	Authoritative bool       `json:"authoritative"`
	FetchedAt     time.Time  `json:"fetched_at,omitempty"`
}

func (s CartSnapshot) Clone() CartSnapshot {
	c := CartSnapshot{Authoritative: s.Authoritative, FetchedAt: s.FetchedAt}
	if s.Lines != nil {
		c.Lines = make([]CartLine, len(s.Lines))
		for i, l := range s.Lines {
			c.Lines[i] = l.Clone()
		}
	}
	return c
}

// Equal compares line contents and order; provenance fields are ignored.
func (s CartSnapshot) Equal(o CartSnapshot) bool {
	if len(s.Lines) != len(o.Lines) {
		return false
	}
	for i := range s.Lines {
		if !s.Lines[i].equal(o.Lines[i]) {
			return false
		}
	}
	return true
}

func (s CartSnapshot) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

func (s CartSnapshot) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

func (s CartSnapshot) IsEmpty() bool {
	return len(s.Lines) == 0
}

// IndexOf returns the position of the line with the given id, or -1.
func (s CartSnapshot) IndexOf(lineID string) int {
	if lineID == "" {
		return -1
	}
	for i, l := range s.Lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

// IndexOfVariant returns the position of the line matching line's variant, or -1.
func (s CartSnapshot) IndexOfVariant(line CartLine) int {
	for i, l := range s.Lines {
		if l.SameVariant(line) {
			return i
		}
	}
	return -1
}
