package sales

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sale is one receipt.
type Sale struct {
	SaleDate       Timestamp `json:"saleDate"`
	Items          []Item    `json:"items"`
	StoreLocation  string    `json:"storeLocation"`
	Customer       Customer  `json:"customer"`
	CouponUsed     bool      `json:"couponUsed"`
	PurchaseMethod string    `json:"purchaseMethod"`
}

// Item is one purchased line.
type Item struct {
	Name     string          `json:"name"`
	Tags     []string        `json:"tags"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// Customer describes the buyer. Zero values mean unknown.
type Customer struct {
	Gender       string `json:"gender"`
	Age          int    `json:"age"`
	Email        string `json:"email"`
	Satisfaction int    `json:"satisfaction"`
}

// ErrInvalidSale is returned by Validate.
var ErrInvalidSale = errors.New("invalid sale")

// Validate checks the sale can be stored.
func (s *Sale) Validate() error {
	if len(s.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidSale)
	}
	for i, it := range s.Items {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("%w: item %d has no name", ErrInvalidSale, i+1)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: item %q has quantity %d", ErrInvalidSale, it.Name, it.Quantity)
		}
		if it.Price.IsNegative() {
			return fmt.Errorf("%w: item %q has a negative price", ErrInvalidSale, it.Name)
		}
	}
	if c := s.Customer.Satisfaction; c != 0 && (c < 1 || c > 5) {
		return fmt.Errorf("%w: satisfaction %d is outside 1-5", ErrInvalidSale, c)
	}
	if s.Customer.Age < 0 {
		return fmt.Errorf("%w: negative age", ErrInvalidSale)
	}
	return nil
}

// Total is the sum of price times quantity.
func (s *Sale) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range s.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Document renders the sale for the sales collection. Prices are stored as
// Decimal128.
func (s *Sale) Document() (bson.D, error) {
	items := bson.A{}
	for _, it := range s.Items {
		price, err := primitive.ParseDecimal128(it.Price.String())
		if err != nil {
			return nil, fmt.Errorf("price of %q: %w", it.Name, err)
		}
		tags := it.Tags
		if tags == nil {
			tags = []string{}
		}
		items = append(items, bson.D{
			{Key: "name", Value: it.Name},
			{Key: "tags", Value: tags},
			{Key: "price", Value: price},
			{Key: "quantity", Value: it.Quantity},
		})
	}
	return bson.D{
		{Key: "saleDate", Value: s.SaleDate.Time.UTC()},
		{Key: "items", Value: items},
		{Key: "storeLocation", Value: s.StoreLocation},
		{Key: "customer", Value: bson.D{
			{Key: "gender", Value: s.Customer.Gender},
			{Key: "age", Value: s.Customer.Age},
			{Key: "email", Value: s.Customer.Email},
			{Key: "satisfaction", Value: s.Customer.Satisfaction},
		}},
		{Key: "couponUsed", Value: s.CouponUsed},
		{Key: "purchaseMethod", Value: s.PurchaseMethod},
	}, nil
}

// Summary renders the sale for the confirmation question.
func (s *Sale) Summary() string {
	var b strings.Builder
	if !s.SaleDate.IsZero() {
		fmt.Fprintf(&b, "- **Date:** %s\n", s.SaleDate.UTC().Format(time.RFC3339))
	}
	if s.StoreLocation != "" {
		fmt.Fprintf(&b, "- **Store:** %s\n", s.StoreLocation)
	}
	if s.PurchaseMethod != "" {
		fmt.Fprintf(&b, "- **Purchase method:** %s\n", s.PurchaseMethod)
	}
	fmt.Fprintf(&b, "- **Coupon used:** %t\n", s.CouponUsed)
	if s.Customer.Email != "" {
		fmt.Fprintf(&b, "- **Customer:** %s\n", s.Customer.Email)
	}
	b.WriteString("\n| Item | Price | Quantity |\n|---|---|---|\n")
	for _, it := range s.Items {
		fmt.Fprintf(&b, "| %s | $%s | %d |\n", it.Name, it.Price.StringFixed(2), it.Quantity)
	}
	fmt.Fprintf(&b, "\n**Total:** $%s\n", s.Total().StringFixed(2))
	return b.String()
}

// Timestamp is a sale date that accepts the layouts models produce.
// Empty strings and null decode to the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("sale date: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("sale date %q: unrecognized format", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}
