// Package discount evaluates coupon, merchant and rule-based discounts
// against a catalog snapshot and produces the discounted per-line prices the
// tax calculator consumes.
package discount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/catalog"
	"github.com/noah-isme/checkout-pricing/internal/money"
)

// ErrCouponNotFound indicates the supplied coupon code does not exist.
var ErrCouponNotFound = errors.New("discount: coupon not found")

// CouponResolver turns a coupon code into its discount definition.
type CouponResolver interface {
	Resolve(ctx context.Context, code string) (Coupon, error)
}

// Evaluator merges the three discount sources with a deterministic
// application order: percentage discounts are computed against the
// pre-discount price first, then fixed-amount and fixed-price discounts carve
// into the percentage-discounted remainder. Within each phase the order is
// coupon, merchant discounts, then policy-selected rules.
type Evaluator struct {
	Coupons CouponResolver
	Custom  CustomTriggerProvider
	Policy  StackingPolicy
	Now     func() time.Time
}

// Input bundles everything a single evaluation pass reads.
type Input struct {
	Snapshot          catalog.Snapshot
	Rules             []Rule
	CouponCode        string
	MerchantDiscounts []MerchantDiscount
}

// Result is the outcome of one evaluation pass.
type Result struct {
	Applied       []Applied
	LineTotals    map[uuid.UUID]money.Money
	TotalDiscount money.Money
	// CouponErr is a soft failure: the coupon is omitted but every other
	// discount source still applies.
	CouponErr error
}

type application struct {
	source   Source
	sourceID string
	value    Value
	scope    []string
}

// lineState tracks a line's price as discounts are carved off. The original
// total is the fixed base for percentage discounts.
type lineState struct {
	line      catalog.Line
	original  money.Money
	remaining money.Money
}

func (e *Evaluator) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Evaluator) policy() StackingPolicy {
	if e != nil && e.Policy != nil {
		return e.Policy
	}
	return SingleRulePolicy{}
}

// Evaluate runs one discount pass. Only malformed input yields a non-nil
// error; collaborator failures degrade per-source.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (Result, error) {
	res := Result{
		LineTotals:    make(map[uuid.UUID]money.Money, len(in.Snapshot.Lines)),
		TotalDiscount: money.Zero(in.Snapshot.Currency),
	}

	states := make([]*lineState, 0, len(in.Snapshot.Lines))
	for _, line := range in.Snapshot.Lines {
		base := line.PriceBeforeDiscount
		if base.Currency == "" {
			base = line.UnitPrice
		}
		states = append(states, &lineState{
			line:      line,
			original:  base.MulInt(line.Quantity),
			remaining: line.Total(),
		})
	}

	var apps []application

	if in.CouponCode != "" {
		if e.Coupons == nil {
			res.CouponErr = fmt.Errorf("%w: %s", ErrCouponNotFound, in.CouponCode)
		} else if coupon, err := e.Coupons.Resolve(ctx, in.CouponCode); err != nil {
			res.CouponErr = fmt.Errorf("coupon %q: %w", in.CouponCode, err)
		} else {
			apps = append(apps, application{source: SourceCoupon, sourceID: coupon.Code, value: coupon.Value, scope: coupon.Scope})
		}
	}

	for _, md := range in.MerchantDiscounts {
		apps = append(apps, application{source: SourceMerchant, sourceID: md.ID, value: md.Value, scope: md.Scope})
	}

	now := e.now()
	var candidates []Candidate
	for _, rule := range in.Rules {
		if rule.Value == nil || !rule.Active(now) {
			continue
		}
		if rule.Trigger != nil && !satisfied(ctx, rule.Trigger, in.Snapshot, e.Custom) {
			continue
		}
		candidates = append(candidates, Candidate{Rule: rule, Amount: standaloneAmount(states, rule)})
	}
	for _, c := range e.policy().Select(candidates) {
		apps = append(apps, application{source: SourceRule, sourceID: c.Rule.ID.String(), value: c.Rule.Value, scope: c.Rule.Scope})
	}

	// Percentage phase first, then fixed-amount/fixed-price, preserving
	// source order within each phase.
	for _, phase := range []bool{true, false} {
		for _, app := range apps {
			_, isPercent := app.value.(Percentage)
			if isPercent != phase {
				continue
			}
			amount, affected := apply(states, app.value, app.scope)
			if !amount.IsPositive() {
				continue
			}
			res.Applied = append(res.Applied, Applied{
				Source:              app.source,
				SourceID:            app.sourceID,
				Amount:              amount,
				AffectedLineItemIDs: affected,
			})
			res.TotalDiscount, _ = res.TotalDiscount.Add(amount)
		}
	}

	for _, st := range states {
		res.LineTotals[st.line.ItemID] = st.remaining
	}
	return res, nil
}

// standaloneAmount simulates a rule in isolation so the stacking policy can
// rank candidates without disturbing the real pass.
func standaloneAmount(states []*lineState, rule Rule) int64 {
	shadow := make([]*lineState, len(states))
	for i, st := range states {
		clone := *st
		shadow[i] = &clone
	}
	amount, _ := apply(shadow, rule.Value, rule.Scope)
	return amount.Round().MinorUnits()
}

// apply mutates the line states with one discount and returns the total
// amount taken plus the affected line IDs.
func apply(states []*lineState, value Value, scope []string) (money.Money, []uuid.UUID) {
	var (
		total    money.Money
		affected []uuid.UUID
	)
	if len(states) == 0 {
		return total, nil
	}
	total = money.Zero(states[0].remaining.Currency)

	switch v := value.(type) {
	case Percentage:
		if v.Bps <= 0 {
			return total, nil
		}
		for _, st := range states {
			if !inScope(st.line, scope) {
				continue
			}
			cut := st.original.ApplyBps(v.Bps)
			if cmp, err := cut.Cmp(st.remaining); err == nil && cmp > 0 {
				cut = st.remaining
			}
			if !cut.IsPositive() {
				continue
			}
			st.remaining, _ = st.remaining.Sub(cut)
			total, _ = total.Add(cut)
			affected = append(affected, st.line.ItemID)
		}
	case FixedAmount:
		// The flat value spans the targeted scope; it is carved from the
		// scoped lines in cart order and clipped so no line goes negative.
		left := v.Amount
		for _, st := range states {
			if !left.IsPositive() {
				break
			}
			if !inScope(st.line, scope) {
				continue
			}
			cut := left
			if cmp, err := cut.Cmp(st.remaining); err == nil && cmp > 0 {
				cut = st.remaining
			}
			if cut.Currency != st.remaining.Currency || !cut.IsPositive() {
				continue
			}
			st.remaining, _ = st.remaining.Sub(cut)
			left, _ = left.Sub(cut)
			total, _ = total.Add(cut)
			affected = append(affected, st.line.ItemID)
		}
	case FixedPrice:
		for _, st := range states {
			if !inScope(st.line, scope) {
				continue
			}
			override := v.Price.MulInt(st.line.Quantity)
			cmp, err := override.Cmp(st.remaining)
			if err != nil || cmp >= 0 {
				continue
			}
			cut, _ := st.remaining.Sub(override)
			st.remaining = override
			total, _ = total.Add(cut)
			affected = append(affected, st.line.ItemID)
		}
	}
	return total, affected
}
