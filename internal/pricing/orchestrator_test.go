package pricing

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/cart"
	"github.com/noah-isme/checkout-pricing/internal/discount"
	"github.com/noah-isme/checkout-pricing/internal/money"
	"github.com/noah-isme/checkout-pricing/internal/shipping"
	"github.com/noah-isme/checkout-pricing/internal/tax"
)

func usd(cents int64) money.Money { return money.MustFromMinorUnits(cents, "USD") }

type staticRules struct {
	rules []discount.Rule
	err   error
}

func (s staticRules) ActiveRules(context.Context, time.Time) ([]discount.Rule, error) {
	return s.rules, s.err
}

type couponTable map[string]discount.Coupon

func (t couponTable) Resolve(_ context.Context, code string) (discount.Coupon, error) {
	c, ok := t[code]
	if !ok {
		return discount.Coupon{}, discount.ErrCouponNotFound
	}
	return c, nil
}

func newCart(t *testing.T, items ...cart.LineItem) *cart.Cart {
	t.Helper()
	c := cart.New("USD")
	for _, it := range items {
		if err := c.AddItem(it); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func tenPercentOverFifty() discount.Rule {
	min := usd(5_000)
	return discount.Rule{
		ID:      uuid.MustParse("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"),
		Name:    "10% over $50",
		Trigger: discount.SubtotalRange{Min: &min},
		Value:   discount.Percentage{Bps: 1000},
	}
}

func TestPriceEndToEnd(t *testing.T) {
	// $100 cart, 10% automatic rule, 8% tax on the discounted $90,
	// $5 standard shipping.
	c := newCart(t, cart.LineItem{
		Quantity:  1,
		UnitPrice: usd(10_000),
		Shippable: true,
	})
	c.SetShippingAddress(cart.Address{Country: "US", Subdivision: "WA"})
	c.SelectShipping("standard")

	engine := New(Config{
		DefaultCurrency: "USD",
		TaxMode:         tax.ModeAuto,
	}, Collaborators{
		Tax:      tax.MockProvider{RateBps: 800},
		Carriers: shipping.MockProvider{Currency: "USD"},
		Rules:    staticRules{rules: []discount.Rule{tenPercentOverFifty()}},
	})

	res, err := engine.Price(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors.HasErrors() {
		t.Fatalf("unexpected soft errors: %+v", res.Errors)
	}

	s := res.Summary
	checks := []struct {
		name string
		got  money.Money
		want int64
	}{
		{"subtotal", s.Subtotal, 10_000},
		{"discount", s.Discount, 1_000},
		{"tax", s.Tax, 720},
		{"shipping", s.Shipping, 500},
		{"total", s.Total, 10_220},
		{"payNow", s.PayNow, 10_220},
		{"payLater", s.PayLater, 0},
	}
	for _, ck := range checks {
		if got := ck.got.MinorUnits(); got != ck.want {
			t.Errorf("%s: expected %d, got %d", ck.name, ck.want, got)
		}
	}
	if res.TaxSource != tax.RateSourceComputed {
		t.Fatalf("expected computed tax, got %s", res.TaxSource)
	}
	if res.Shipping.Pickup || !res.Shipping.Requested {
		t.Fatalf("expected the requested carrier option, got %+v", res.Shipping)
	}
	if len(res.AppliedDiscounts) != 1 || res.AppliedDiscounts[0].Source != discount.SourceRule {
		t.Fatalf("expected one rule discount, got %+v", res.AppliedDiscounts)
	}
}

func TestCouponAndMerchantDiscountStack(t *testing.T) {
	c := newCart(t, cart.LineItem{Quantity: 1, UnitPrice: usd(10_000)})
	if err := c.ApplyCoupon("SAVE5"); err != nil {
		t.Fatal(err)
	}

	engine := New(Config{DefaultCurrency: "USD", TaxMode: tax.ModeNone}, Collaborators{
		Coupons: couponTable{"SAVE5": {Code: "SAVE5", Value: discount.FixedAmount{Amount: usd(500)}}},
	})
	merchant := []discount.MerchantDiscount{
		{ID: "goodwill", Name: "Support apology", Value: discount.FixedAmount{Amount: usd(200)}},
	}

	res, err := engine.Price(context.Background(), c, merchant)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Summary.Discount.MinorUnits(); got != 700 {
		t.Fatalf("expected 700 combined discount, got %d", got)
	}
	if got := res.Summary.Total.MinorUnits(); got != 9_300 {
		t.Fatalf("expected 9300 total, got %d", got)
	}
	if len(res.AppliedDiscounts) != 2 {
		t.Fatalf("expected coupon and merchant discount, got %+v", res.AppliedDiscounts)
	}
}

func TestUnknownCouponIsSoft(t *testing.T) {
	c := newCart(t, cart.LineItem{Quantity: 2, UnitPrice: usd(2_500)})
	if err := c.ApplyCoupon("NOPE"); err != nil {
		t.Fatal(err)
	}

	engine := New(Config{DefaultCurrency: "USD", TaxMode: tax.ModeNone}, Collaborators{
		Coupons: couponTable{},
	})
	res, err := engine.Price(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.Errors.Coupon, discount.ErrCouponNotFound) {
		t.Fatalf("expected coupon-not-found, got %v", res.Errors.Coupon)
	}
	if got := res.Summary.Total.MinorUnits(); got != 5_000 {
		t.Fatalf("total must still be computed without the coupon, got %d", got)
	}
	var warned bool
	for _, v := range res.Violations {
		if v.Target == "coupon" && v.Severity == SeverityWarning {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a coupon warning, got %+v", res.Violations)
	}
}

func TestRuleSourceFailureIsSoft(t *testing.T) {
	c := newCart(t, cart.LineItem{Quantity: 1, UnitPrice: usd(1_000)})
	engine := New(Config{DefaultCurrency: "USD", TaxMode: tax.ModeNone}, Collaborators{
		Rules: staticRules{err: errors.New("store unreachable")},
	})
	res, err := engine.Price(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors.DiscountRule == nil {
		t.Fatal("expected a recorded rule-store failure")
	}
	if got := res.Summary.Total.MinorUnits(); got != 1_000 {
		t.Fatalf("expected undiscounted total, got %d", got)
	}
}

func TestPickupShipsNothing(t *testing.T) {
	c := newCart(t, cart.LineItem{Quantity: 1, UnitPrice: usd(4_000), Shippable: true})
	c.SetPickup(cart.PickupInfo{LocationID: "store-12"})

	engine := New(Config{DefaultCurrency: "USD", TaxMode: tax.ModeNone}, Collaborators{
		Carriers: shipping.MockProvider{Currency: "USD"},
	})
	res, err := engine.Price(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Shipping.Pickup {
		t.Fatal("expected pickup resolution")
	}
	if !res.Summary.Shipping.IsZero() || !res.Summary.AdditionalFees.IsZero() {
		t.Fatalf("pickup must cost nothing, got %s + %s", res.Summary.Shipping, res.Summary.AdditionalFees)
	}
}

func TestCarrierFailureFallsBackToZeroShipping(t *testing.T) {
	c := newCart(t, cart.LineItem{Quantity: 1, UnitPrice: usd(4_000), Shippable: true})
	c.SetShippingAddress(cart.Address{Country: "US"})

	engine := New(Config{DefaultCurrency: "USD", TaxMode: tax.ModeNone}, Collaborators{})
	res, err := engine.Price(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors.Shipping == nil {
		t.Fatal("expected a recorded shipping failure")
	}
	if !res.Summary.Shipping.IsZero() {
		t.Fatalf("expected zero shipping fallback, got %s", res.Summary.Shipping)
	}
	var blocked bool
	for _, v := range res.Violations {
		if v.Target == "shipping" && v.Severity == SeverityError {
			blocked = true
		}
	}
	if !blocked {
		t.Fatalf("shipping failure must be an ERROR violation, got %+v", res.Violations)
	}
}

func TestBalanceInvariantAcrossPaymentOptions(t *testing.T) {
	deposit := usd(1_000)
	c := newCart(t,
		cart.LineItem{Quantity: 1, UnitPrice: usd(10_000)},
		cart.LineItem{Quantity: 2, UnitPrice: usd(3_000), PaymentOption: cart.DepositOnline, DepositAmount: &deposit},
		cart.LineItem{Quantity: 1, UnitPrice: usd(2_000), PaymentOption: cart.FullPaymentOffline},
	)
	c.GiftCards = []cart.GiftCard{{ID: "gc-1", Balance: usd(2_500)}}

	engine := New(Config{DefaultCurrency: "USD", TaxMode: tax.ModeAuto}, Collaborators{
		Tax: tax.MockProvider{RateBps: 700},
	})
	res, err := engine.Price(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}

	s := res.Summary
	sum := s.PayNow.MinorUnits() + s.PayLater.MinorUnits() +
		s.MembershipCharged.MinorUnits() + s.GiftCardApplied.MinorUnits()
	if sum != s.Total.MinorUnits() {
		t.Fatalf("buckets %d do not balance against total %d", sum, s.Total.MinorUnits())
	}
	if s.GiftCardApplied.MinorUnits() != 2_500 {
		t.Fatalf("expected full gift card applied, got %d", s.GiftCardApplied.MinorUnits())
	}
	if !res.Summary.PayLater.IsPositive() {
		t.Fatal("deposit remainder and offline line must land in payLater")
	}
}

func TestGiftCardCurrencyMismatchIsSoft(t *testing.T) {
	c := newCart(t, cart.LineItem{Quantity: 1, UnitPrice: usd(5_000)})
	c.GiftCards = []cart.GiftCard{{ID: "gc-eur", Balance: money.MustFromMinorUnits(1_000, "EUR")}}

	engine := New(Config{DefaultCurrency: "USD", TaxMode: tax.ModeNone}, Collaborators{})
	res, err := engine.Price(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.Errors.GiftCard, money.ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", res.Errors.GiftCard)
	}
	if !res.Summary.GiftCardApplied.IsZero() {
		t.Fatalf("mismatched card must not apply, got %s", res.Summary.GiftCardApplied)
	}
	if got := res.Summary.PayNow.MinorUnits(); got != 5_000 {
		t.Fatalf("expected full payNow, got %d", got)
	}
}

func TestHardInputAborts(t *testing.T) {
	c := cart.New("USD")
	c.Items = append(c.Items, cart.LineItem{
		ID:        uuid.New(),
		Quantity:  -1,
		UnitPrice: usd(1_000),
	})

	engine := New(Config{DefaultCurrency: "USD", TaxMode: tax.ModeNone}, Collaborators{})
	if _, err := engine.Price(context.Background(), c, nil); !errors.Is(err, ErrHardInput) {
		t.Fatalf("expected hard input abort, got %v", err)
	}
}

func TestPricingIsDeterministic(t *testing.T) {
	min := int64(2)
	c := newCart(t,
		cart.LineItem{Quantity: 2, UnitPrice: usd(3_000), Shippable: true},
		cart.LineItem{Quantity: 1, UnitPrice: usd(1_500)},
	)
	c.SetShippingAddress(cart.Address{Country: "US"})
	if err := c.ApplyCoupon("SAVE5"); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := New(Config{DefaultCurrency: "USD", TaxMode: tax.ModeAuto, TaxShipping: true}, Collaborators{
		Tax:      tax.MockProvider{RateBps: 825},
		Carriers: shipping.MockProvider{Currency: "USD"},
		Coupons:  couponTable{"SAVE5": {Code: "SAVE5", Value: discount.FixedAmount{Amount: usd(500)}}},
		Rules: staticRules{rules: []discount.Rule{
			tenPercentOverFifty(),
			{
				ID:      uuid.MustParse("6f0f40e4-96b2-4b3e-8f14-2f3f0f40e496"),
				Name:    "bulk",
				Trigger: discount.ItemQuantityRange{Min: &min},
				Value:   discount.Percentage{Bps: 500},
			},
		}},
	})
	engine.Now = func() time.Time { return now }

	first, err := engine.Price(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Price(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs produced different results:\n%+v\n%+v", first, second)
	}
}
