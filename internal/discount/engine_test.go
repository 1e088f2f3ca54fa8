package discount

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/cart"
	"github.com/noah-isme/checkout-pricing/internal/catalog"
	"github.com/noah-isme/checkout-pricing/internal/money"
)

func usd(cents int64) money.Money { return money.MustFromMinorUnits(cents, "USD") }

func snapshotOf(lines ...catalog.Line) catalog.Snapshot {
	return catalog.Snapshot{Currency: "USD", Lines: lines}
}

func line(itemID string, qty int64, unitCents int64) catalog.Line {
	price := usd(unitCents)
	return catalog.Line{
		ItemID:              uuid.New(),
		CatalogRef:          cart.CatalogRef{AppID: "stores", ItemID: itemID},
		Quantity:            qty,
		UnitPrice:           price,
		PriceBeforeDiscount: price,
	}
}

type stubCoupons struct {
	coupons map[string]Coupon
}

func (s *stubCoupons) Resolve(_ context.Context, code string) (Coupon, error) {
	c, ok := s.coupons[code]
	if !ok {
		return Coupon{}, ErrCouponNotFound
	}
	return c, nil
}

type stubCustom struct {
	answer      bool
	err         error
	invocations int
}

func (s *stubCustom) Evaluate(_ context.Context, _, _ string, _ catalog.Snapshot) (bool, error) {
	s.invocations++
	return s.answer, s.err
}

func timePtr(hoursFromNow int) *time.Time {
	t := time.Now().Add(time.Duration(hoursFromNow) * time.Hour)
	return &t
}

func minMoney(cents int64) *money.Money {
	m := usd(cents)
	return &m
}

func TestRuleTriggeredBySubtotalRange(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 10_000))
	rule := Rule{
		ID:      uuid.New(),
		Trigger: SubtotalRange{Min: minMoney(5_000)},
		Value:   Percentage{Bps: 1000},
	}
	e := &Evaluator{}
	res, err := e.Evaluate(context.Background(), Input{Snapshot: snap, Rules: []Rule{rule}})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.TotalDiscount.MinorUnits(); got != 1000 {
		t.Fatalf("expected 1000 discount, got %d", got)
	}
	if got := res.LineTotals[snap.Lines[0].ItemID].MinorUnits(); got != 9000 {
		t.Fatalf("expected discounted total 9000, got %d", got)
	}
}

func TestRuleNotTriggeredBelowRange(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 4_000))
	rule := Rule{
		ID:      uuid.New(),
		Trigger: SubtotalRange{Min: minMoney(5_000)},
		Value:   Percentage{Bps: 1000},
	}
	e := &Evaluator{}
	res, err := e.Evaluate(context.Background(), Input{Snapshot: snap, Rules: []Rule{rule}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TotalDiscount.IsZero() {
		t.Fatalf("expected no discount, got %s", res.TotalDiscount)
	}
}

func TestCouponAndMerchantAlwaysStack(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 10_000))
	e := &Evaluator{Coupons: &stubCoupons{coupons: map[string]Coupon{
		"SAVE5": {Code: "SAVE5", Value: FixedAmount{Amount: usd(500)}},
	}}}
	res, err := e.Evaluate(context.Background(), Input{
		Snapshot:   snap,
		CouponCode: "SAVE5",
		MerchantDiscounts: []MerchantDiscount{
			{ID: "md-1", Value: FixedAmount{Amount: usd(200)}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.TotalDiscount.MinorUnits(); got != 700 {
		t.Fatalf("expected 700 discount, got %d", got)
	}
	if len(res.Applied) != 2 {
		t.Fatalf("expected 2 applied discounts, got %d", len(res.Applied))
	}
}

func TestUnknownCouponIsSoft(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 10_000))
	e := &Evaluator{Coupons: &stubCoupons{}}
	res, err := e.Evaluate(context.Background(), Input{
		Snapshot:   snap,
		CouponCode: "NOPE",
		MerchantDiscounts: []MerchantDiscount{
			{ID: "md-1", Value: FixedAmount{Amount: usd(200)}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.CouponErr, ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", res.CouponErr)
	}
	if got := res.TotalDiscount.MinorUnits(); got != 200 {
		t.Fatalf("merchant discount should still apply, got %d", got)
	}
}

func TestPercentageAppliesBeforeFixedAmount(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 10_000))
	e := &Evaluator{Coupons: &stubCoupons{coupons: map[string]Coupon{
		"SAVE5": {Code: "SAVE5", Value: FixedAmount{Amount: usd(500)}},
	}}}
	rule := Rule{ID: uuid.New(), Value: Percentage{Bps: 1000}}
	res, err := e.Evaluate(context.Background(), Input{
		Snapshot:   snap,
		CouponCode: "SAVE5",
		Rules:      []Rule{rule},
	})
	if err != nil {
		t.Fatal(err)
	}
	// 10% of 100.00 first, then 5.00 off the 90.00 remainder.
	if got := res.TotalDiscount.MinorUnits(); got != 1500 {
		t.Fatalf("expected 1500 discount, got %d", got)
	}
	if res.Applied[0].Source != SourceRule || res.Applied[1].Source != SourceCoupon {
		t.Fatalf("unexpected application order: %v then %v", res.Applied[0].Source, res.Applied[1].Source)
	}
	if got := res.LineTotals[snap.Lines[0].ItemID].MinorUnits(); got != 8500 {
		t.Fatalf("expected remainder 8500, got %d", got)
	}
}

func TestFixedAmountNeverGoesNegative(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 3_000))
	e := &Evaluator{}
	res, err := e.Evaluate(context.Background(), Input{
		Snapshot: snap,
		MerchantDiscounts: []MerchantDiscount{
			{ID: "md-1", Value: FixedAmount{Amount: usd(10_000)}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.TotalDiscount.MinorUnits(); got != 3000 {
		t.Fatalf("discount should clip at line price, got %d", got)
	}
	if got := res.LineTotals[snap.Lines[0].ItemID]; !got.IsZero() {
		t.Fatalf("expected zero remainder, got %s", got)
	}
}

func TestFixedPriceOverride(t *testing.T) {
	snap := snapshotOf(line("sku-1", 2, 5_000))
	rule := Rule{ID: uuid.New(), Value: FixedPrice{Price: usd(4_000)}}
	e := &Evaluator{}
	res, err := e.Evaluate(context.Background(), Input{Snapshot: snap, Rules: []Rule{rule}})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.TotalDiscount.MinorUnits(); got != 2000 {
		t.Fatalf("expected 2000 discount, got %d", got)
	}
	if got := res.LineTotals[snap.Lines[0].ItemID].MinorUnits(); got != 8000 {
		t.Fatalf("expected overridden total 8000, got %d", got)
	}
}

func TestFixedPriceNeverRaisesPrice(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 3_000))
	rule := Rule{ID: uuid.New(), Value: FixedPrice{Price: usd(5_000)}}
	e := &Evaluator{}
	res, err := e.Evaluate(context.Background(), Input{Snapshot: snap, Rules: []Rule{rule}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TotalDiscount.IsZero() {
		t.Fatalf("override above current price must be a no-op, got %s", res.TotalDiscount)
	}
}

func TestSingleRulePolicyPicksLargest(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 10_000))
	small := Rule{ID: uuid.New(), Value: Percentage{Bps: 500}}
	big := Rule{ID: uuid.New(), Value: Percentage{Bps: 2000}}
	e := &Evaluator{Policy: SingleRulePolicy{}}
	res, err := e.Evaluate(context.Background(), Input{Snapshot: snap, Rules: []Rule{small, big}})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.TotalDiscount.MinorUnits(); got != 2000 {
		t.Fatalf("expected only the 20%% rule, got %d", got)
	}
	if len(res.Applied) != 1 || res.Applied[0].SourceID != big.ID.String() {
		t.Fatalf("unexpected applied set: %+v", res.Applied)
	}
}

func TestMultiRulePolicyStacksAll(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 10_000))
	a := Rule{ID: uuid.New(), Value: Percentage{Bps: 500}}
	b := Rule{ID: uuid.New(), Value: Percentage{Bps: 2000}}
	e := &Evaluator{Policy: MultiRulePolicy{}}
	res, err := e.Evaluate(context.Background(), Input{Snapshot: snap, Rules: []Rule{a, b}})
	if err != nil {
		t.Fatal(err)
	}
	// Both percentages apply against the original price: 5% + 20% = 25%.
	if got := res.TotalDiscount.MinorUnits(); got != 2500 {
		t.Fatalf("expected 2500 discount, got %d", got)
	}
}

func TestCustomTriggerFailsOpen(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 10_000))
	custom := &stubCustom{err: errors.New("provider unreachable")}
	rule := Rule{
		ID:      uuid.New(),
		Trigger: Custom{ID: "loyalty-tier", AppID: "loyalty"},
		Value:   Percentage{Bps: 1000},
	}
	e := &Evaluator{Custom: custom}
	res, err := e.Evaluate(context.Background(), Input{Snapshot: snap, Rules: []Rule{rule}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TotalDiscount.IsZero() {
		t.Fatalf("unreachable custom trigger must mean no discount, got %s", res.TotalDiscount)
	}
	if custom.invocations != 1 {
		t.Fatalf("expected one provider call, got %d", custom.invocations)
	}
}

func TestTriggerTreeComposition(t *testing.T) {
	snap := snapshotOf(line("sku-1", 3, 2_000), line("sku-2", 1, 1_000))
	minQty := int64(2)
	tree := And{Children: []Trigger{
		SubtotalRange{Min: minMoney(5_000)},
		Or{Children: []Trigger{
			ItemQuantityRange{Min: &minQty, Scope: []string{"sku-1"}},
			Custom{ID: "never", AppID: "x"},
		}},
	}}
	rule := Rule{ID: uuid.New(), Trigger: tree, Value: Percentage{Bps: 1000}}
	e := &Evaluator{}
	res, err := e.Evaluate(context.Background(), Input{Snapshot: snap, Rules: []Rule{rule}})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.TotalDiscount.MinorUnits(); got != 700 {
		t.Fatalf("expected 10%% of 7000, got %d", got)
	}
}

func TestScopedDiscountTargetsOnlyScope(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 5_000), line("sku-2", 1, 7_000))
	rule := Rule{ID: uuid.New(), Value: Percentage{Bps: 1000}, Scope: []string{"sku-2"}}
	e := &Evaluator{}
	res, err := e.Evaluate(context.Background(), Input{Snapshot: snap, Rules: []Rule{rule}})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.TotalDiscount.MinorUnits(); got != 700 {
		t.Fatalf("expected 700, got %d", got)
	}
	if got := res.LineTotals[snap.Lines[0].ItemID].MinorUnits(); got != 5000 {
		t.Fatalf("out-of-scope line must be untouched, got %d", got)
	}
}

func TestExpiredRuleIgnored(t *testing.T) {
	snap := snapshotOf(line("sku-1", 1, 10_000))
	past := timePtr(-2)
	stillPast := timePtr(-1)
	rule := Rule{ID: uuid.New(), Value: Percentage{Bps: 1000}, ActiveFrom: past, ActiveTo: stillPast}
	e := &Evaluator{}
	res, err := e.Evaluate(context.Background(), Input{Snapshot: snap, Rules: []Rule{rule}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TotalDiscount.IsZero() {
		t.Fatalf("expired rule must not apply, got %s", res.TotalDiscount)
	}
}
