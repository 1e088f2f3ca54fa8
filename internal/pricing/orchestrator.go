// Package pricing composes the discount, tax, shipping and payment stages
// into a single pass over a cart. The engine is pure: it reads the cart,
// calls collaborators through their interfaces and produces a summary plus an
// accumulator of soft errors. It never mutates the cart and performs no I/O
// of its own.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/cart"
	"github.com/noah-isme/checkout-pricing/internal/catalog"
	"github.com/noah-isme/checkout-pricing/internal/discount"
	"github.com/noah-isme/checkout-pricing/internal/money"
	"github.com/noah-isme/checkout-pricing/internal/payment"
	"github.com/noah-isme/checkout-pricing/internal/shipping"
	"github.com/noah-isme/checkout-pricing/internal/tax"
)

// shippingTaxLineID is the synthetic line used to tax the shipping amount
// alongside the item lines in a single provider quote.
var shippingTaxLineID = uuid.MustParse("00000000-0000-0000-0000-00000000f21e")

// RuleSource supplies the automatic discount rules active at pricing time.
type RuleSource interface {
	ActiveRules(ctx context.Context, now time.Time) ([]discount.Rule, error)
}

// Collaborators groups the external systems the engine consults. Any of them
// may be nil; the engine then skips or degrades the corresponding stage.
type Collaborators struct {
	Catalog        catalog.Provider
	Coupons        discount.CouponResolver
	CustomTriggers discount.CustomTriggerProvider
	Tax            tax.Provider
	Carriers       shipping.Provider
	Memberships    payment.MembershipProvider
	Rules          RuleSource
}

// Config is the immutable site configuration the engine is constructed with.
type Config struct {
	DefaultCurrency string
	TaxMode         tax.Mode
	ManualTaxBps    int64
	FallbackTaxBps  int64
	TaxInclusive    bool
	TaxShipping     bool
	TaxTimeout      time.Duration
	Stacking        discount.StackingPolicy
}

// PriceSummary is the rounded monetary breakdown of a checkout. Total always
// equals Subtotal - Discount + Tax + Shipping + AdditionalFees when prices
// exclude tax; with tax-inclusive pricing the tax column is informational.
type PriceSummary struct {
	Subtotal          money.Money `json:"subtotal"`
	Discount          money.Money `json:"discount"`
	Tax               money.Money `json:"tax"`
	Shipping          money.Money `json:"shipping"`
	AdditionalFees    money.Money `json:"additionalFees"`
	Total             money.Money `json:"total"`
	PayNow            money.Money `json:"payNow"`
	PayLater          money.Money `json:"payLater"`
	MembershipCharged money.Money `json:"membershipCharged"`
	GiftCardApplied   money.Money `json:"giftCardApplied"`
}

// LineBreakdown itemizes one line's journey through the stages.
type LineBreakdown struct {
	ItemID        uuid.UUID            `json:"itemId"`
	Name          string               `json:"name,omitempty"`
	Quantity      int64                `json:"quantity"`
	UnitPrice     money.Money          `json:"unitPrice"`
	Total         money.Money          `json:"total"`
	Discounted    money.Money          `json:"discounted"`
	Tax           money.Money          `json:"tax"`
	PaymentOption cart.PaymentOption   `json:"paymentOption"`
	TaxBreakdown  []tax.BreakdownEntry `json:"taxBreakdown,omitempty"`
}

// Result is everything one pricing pass produces.
type Result struct {
	Summary               PriceSummary         `json:"summary"`
	Lines                 []LineBreakdown      `json:"lines"`
	AppliedDiscounts      []discount.Applied   `json:"appliedDiscounts,omitempty"`
	Shipping              shipping.Resolved    `json:"shipping"`
	TaxSource             tax.RateSource       `json:"taxSource"`
	MembershipAllocations []payment.Allocation `json:"membershipAllocations,omitempty"`
	Errors                CalculationErrors    `json:"-"`
	Violations            []Violation          `json:"violations,omitempty"`
}

// Engine sequences the pricing stages. Safe for concurrent use across carts;
// a single cart must not be priced concurrently without external
// serialization, which belongs to the cart-mutation layer, not here.
type Engine struct {
	cfg Config
	col Collaborators
	Now func() time.Time
}

// New constructs an engine from immutable configuration and collaborators.
func New(cfg Config, col Collaborators) *Engine {
	return &Engine{cfg: cfg, col: col}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Price runs one full pass. Hard input errors abort with no result; every
// other failure degrades the affected stage and is recorded on the result.
// For an unchanged cart and unchanged collaborator responses the output is
// deterministic.
func (e *Engine) Price(ctx context.Context, c *cart.Cart, merchantDiscounts []discount.MerchantDiscount) (*Result, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardInput, err)
	}

	res := &Result{}
	currency := c.Currency

	snap, catalogErrs := catalog.Build(ctx, e.col.Catalog, c)
	res.Errors.Catalog = catalogErrs

	// Discount stage.
	var rules []discount.Rule
	if e.col.Rules != nil {
		loaded, err := e.col.Rules.ActiveRules(ctx, e.now())
		if err != nil {
			res.Errors.DiscountRule = fmt.Errorf("load discount rules: %w", err)
		} else {
			rules = loaded
		}
	}
	evaluator := &discount.Evaluator{
		Coupons: e.col.Coupons,
		Custom:  e.col.CustomTriggers,
		Policy:  e.cfg.Stacking,
		Now:     e.now,
	}
	evaluated, err := evaluator.Evaluate(ctx, discount.Input{
		Snapshot:          snap,
		Rules:             rules,
		CouponCode:        c.CouponCode,
		MerchantDiscounts: merchantDiscounts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardInput, err)
	}
	res.Errors.Coupon = evaluated.CouponErr
	res.AppliedDiscounts = evaluated.Applied

	// Shipping stage runs before tax so the shipping amount can be taxed in
	// the same quote.
	res.Shipping = e.resolveShipping(ctx, c, snap, &res.Errors)

	// Tax stage.
	taxSummary := e.computeTax(ctx, c, snap, evaluated, res.Shipping, &res.Errors)
	res.TaxSource = taxSummary.Source

	lineTaxes := make(map[uuid.UUID]tax.LineTax, len(taxSummary.Lines))
	for _, lt := range taxSummary.Lines {
		lineTaxes[lt.ItemID] = lt
	}
	taxFor := func(id uuid.UUID) tax.LineTax {
		if lt, ok := lineTaxes[id]; ok {
			return lt
		}
		return tax.LineTax{ItemID: id, Tax: money.Zero(currency)}
	}
	shippingTax := taxFor(shippingTaxLineID).Tax

	// Payment stage.
	splitItems := make([]payment.Item, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		amount := discountedTotal(evaluated, line)
		if !e.cfg.TaxInclusive {
			amount, _ = amount.Add(taxFor(line.ItemID).Tax)
		}
		splitItems = append(splitItems, payment.Item{
			LineID:        line.ItemID,
			Amount:        amount,
			PaymentOption: line.PaymentOption,
			DepositUnit:   line.DepositAmount,
			Quantity:      line.Quantity,
		})
	}
	splitter := &payment.Splitter{Memberships: e.col.Memberships}
	split, membershipErrs := splitter.Split(ctx, currency, splitItems, c.Memberships)
	res.Errors.Membership = membershipErrs
	res.MembershipAllocations = split.Allocations

	// Shipping and its surcharges are due at checkout.
	payNow, _ := split.PayNow.Add(res.Shipping.Total)
	if !e.cfg.TaxInclusive {
		payNow, _ = payNow.Add(shippingTax)
	}

	giftApplied := e.applyGiftCards(c, payNow, &res.Errors)
	payNow, _ = payNow.Sub(giftApplied)

	// Assemble the summary, rounding each component exactly once and
	// deriving the total from the rounded components so the balance
	// identity holds to the minor unit.
	subtotal := snap.Subtotal().Round()
	discountTotal := evaluated.TotalDiscount.Round()
	taxTotal := taxSummary.Total.Round()
	shippingBase := res.Shipping.BaseCost.Round()
	fees := res.Shipping.Surcharges.Round()

	total, _ := subtotal.Sub(discountTotal)
	if !e.cfg.TaxInclusive {
		total, _ = total.Add(taxTotal)
	}
	total, _ = total.Add(shippingBase)
	total, _ = total.Add(fees)

	res.Summary = PriceSummary{
		Subtotal:          subtotal,
		Discount:          discountTotal,
		Tax:               taxTotal,
		Shipping:          shippingBase,
		AdditionalFees:    fees,
		Total:             total,
		PayNow:            payNow.Round(),
		PayLater:          split.PayLater.Round(),
		MembershipCharged: split.MembershipZeroed.Round(),
		GiftCardApplied:   giftApplied.Round(),
	}

	res.Lines = make([]LineBreakdown, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		lt := taxFor(line.ItemID)
		res.Lines = append(res.Lines, LineBreakdown{
			ItemID:        line.ItemID,
			Name:          line.Name,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			Total:         line.Total(),
			Discounted:    discountedTotal(evaluated, line),
			Tax:           lt.Tax,
			PaymentOption: line.PaymentOption,
			TaxBreakdown:  lt.Breakdown,
		})
	}

	res.Violations = res.Errors.Violations()
	return res, nil
}

func discountedTotal(evaluated discount.Result, line catalog.Line) money.Money {
	if amount, ok := evaluated.LineTotals[line.ItemID]; ok {
		return amount
	}
	return line.Total()
}

func (e *Engine) resolveShipping(ctx context.Context, c *cart.Cart, snap catalog.Snapshot, errs *CalculationErrors) shipping.Resolved {
	zero := shipping.Resolved{
		BaseCost:   money.Zero(c.Currency),
		Surcharges: money.Zero(c.Currency),
		Total:      money.Zero(c.Currency),
	}
	shippable := false
	for _, line := range snap.Lines {
		if line.Shippable {
			shippable = true
			break
		}
	}
	if !shippable {
		return zero
	}
	if c.Pickup != nil {
		return shipping.ResolvePickup(c.Currency)
	}
	if e.col.Carriers == nil || c.ShippingAddress == nil {
		errs.Shipping = shipping.ErrNoOptions
		return zero
	}
	options, err := e.col.Carriers.ListOptions(ctx, *c.ShippingAddress, 0)
	if err != nil {
		errs.Shipping = fmt.Errorf("list carrier options: %w", err)
		return zero
	}
	resolved, err := shipping.Resolve(options, c.SelectedShippingCode)
	if err != nil {
		errs.Shipping = err
		return zero
	}
	return resolved
}

func (e *Engine) computeTax(ctx context.Context, c *cart.Cart, snap catalog.Snapshot, evaluated discount.Result, resolved shipping.Resolved, errs *CalculationErrors) tax.Summary {
	calc := &tax.Calculator{
		Provider:    e.col.Tax,
		Mode:        e.cfg.TaxMode,
		ManualBps:   e.cfg.ManualTaxBps,
		FallbackBps: e.cfg.FallbackTaxBps,
		Timeout:     e.cfg.TaxTimeout,
	}
	lines := make([]tax.TaxableLine, 0, len(snap.Lines)+1)
	for _, line := range snap.Lines {
		lines = append(lines, tax.TaxableLine{
			ItemID:     line.ItemID,
			TaxGroupID: line.TaxGroupID,
			Amount:     discountedTotal(evaluated, line),
		})
	}
	if e.cfg.TaxShipping && resolved.Total.IsPositive() {
		lines = append(lines, tax.TaxableLine{ItemID: shippingTaxLineID, Amount: resolved.Total})
	}
	summary, err := calc.Compute(ctx, tax.Input{
		Currency: c.Currency,
		Lines:    lines,
		Addresses: tax.Addresses{
			Shipping: c.ShippingAddress,
			Billing:  c.BillingAddress,
		},
		TaxInclusive: e.cfg.TaxInclusive,
	})
	if err != nil {
		errs.Tax = err
	}
	return summary
}

func (e *Engine) applyGiftCards(c *cart.Cart, payNow money.Money, errs *CalculationErrors) money.Money {
	applied := money.Zero(c.Currency)
	for _, gc := range c.GiftCards {
		if gc.Balance.Currency != c.Currency {
			errs.GiftCard = fmt.Errorf("gift card %s: %w", gc.ID, money.ErrCurrencyMismatch)
			continue
		}
		if !gc.Balance.IsPositive() {
			continue
		}
		applied, _ = applied.Add(gc.Balance)
	}
	if cmp, err := applied.Cmp(payNow); err == nil && cmp > 0 {
		applied = payNow
	}
	return applied
}
