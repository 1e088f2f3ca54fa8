package discount

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/money"
)

// Value is the discount amount variant. Exactly one concrete type applies per
// rule; the sealed interface makes two-values-set unrepresentable.
type Value interface {
	isValue()
}

// Percentage discounts the pre-discount price of targeted items, expressed in
// basis points (1000 = 10%).
type Percentage struct {
	Bps int64
}

// FixedAmount subtracts a flat value from the targeted items, clipped so no
// item's price goes negative.
type FixedAmount struct {
	Amount money.Money
}

// FixedPrice overrides the unit price of targeted items directly.
type FixedPrice struct {
	Price money.Money
}

func (Percentage) isValue()  {}
func (FixedAmount) isValue() {}
func (FixedPrice) isValue()  {}

// Rule is an automatic discount gated by a trigger tree. An empty scope
// targets every line in the cart.
type Rule struct {
	ID         uuid.UUID
	Name       string
	Trigger    Trigger
	Value      Value
	Scope      []string
	ActiveFrom *time.Time
	ActiveTo   *time.Time
	UsageLimit *int32
	UsedCount  int32
}

// Active reports whether the rule is inside its activity window and under its
// usage limit at the given instant.
func (r Rule) Active(now time.Time) bool {
	if r.ActiveFrom != nil && now.Before(*r.ActiveFrom) {
		return false
	}
	if r.ActiveTo != nil && now.After(*r.ActiveTo) {
		return false
	}
	if r.UsageLimit != nil && *r.UsageLimit >= 0 && r.UsedCount >= *r.UsageLimit {
		return false
	}
	return true
}

// Coupon is a buyer-entered discount resolved from a code. Coupons need no
// trigger; a valid code always applies.
type Coupon struct {
	Code  string
	Value Value
	Scope []string
}

// MerchantDiscount is an ad-hoc discount granted by the merchant on the
// current checkout. It always applies.
type MerchantDiscount struct {
	ID    string
	Name  string
	Value Value
	Scope []string
}

// Source identifies where an applied discount came from.
type Source string

const (
	// SourceCoupon marks a discount resolved from a coupon code.
	SourceCoupon Source = "COUPON"
	// SourceMerchant marks an ad-hoc merchant discount.
	SourceMerchant Source = "MERCHANT_DISCOUNT"
	// SourceRule marks an automatic discount rule.
	SourceRule Source = "DISCOUNT_RULE"
)

// Applied records one discount's effect on the cart.
type Applied struct {
	Source              Source      `json:"source"`
	SourceID            string      `json:"sourceId"`
	Amount              money.Money `json:"amount"`
	AffectedLineItemIDs []uuid.UUID `json:"affectedLineItemIds,omitempty"`
}
