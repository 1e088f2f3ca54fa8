package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/cart"
	"github.com/noah-isme/checkout-pricing/internal/money"
)

func usd(cents int64) money.Money { return money.MustFromMinorUnits(cents, "USD") }

type stubMemberships struct {
	validation Validation
	err        error
}

func (s stubMemberships) Validate(context.Context, string, string, []uuid.UUID) (Validation, error) {
	return s.validation, s.err
}

func TestSplitConservation(t *testing.T) {
	lineA := uuid.New() // online
	lineB := uuid.New() // membership
	lineC := uuid.New() // deposit
	lineD := uuid.New() // offline
	deposit := usd(2_000)

	items := []Item{
		{LineID: lineA, Amount: usd(10_000), PaymentOption: cart.FullPaymentOnline},
		{LineID: lineB, Amount: usd(5_000), PaymentOption: cart.MembershipPayment},
		{LineID: lineC, Amount: usd(8_000), PaymentOption: cart.DepositOnline, DepositUnit: &deposit, Quantity: 1},
		{LineID: lineD, Amount: usd(3_000), PaymentOption: cart.FullPaymentOffline},
	}
	memberships := []cart.Membership{{ID: "mem-1", AppID: "loyalty", LineItemIDs: []uuid.UUID{lineB}}}

	s := &Splitter{Memberships: stubMemberships{validation: Validation{Valid: true}}}
	res, soft := s.Split(context.Background(), "USD", items, memberships)
	if len(soft) != 0 {
		t.Fatalf("unexpected soft errors: %v", soft)
	}

	if got := res.PayNow.MinorUnits(); got != 12_000 {
		t.Fatalf("payNow expected 12000, got %d", got)
	}
	if got := res.PayLater.MinorUnits(); got != 9_000 {
		t.Fatalf("payLater expected 9000, got %d", got)
	}
	if got := res.MembershipZeroed.MinorUnits(); got != 5_000 {
		t.Fatalf("membershipZeroed expected 5000, got %d", got)
	}
	if got := res.OfflineDue.MinorUnits(); got != 3_000 {
		t.Fatalf("offlineDue expected 3000, got %d", got)
	}

	total := res.PayNow
	total, _ = total.Add(res.PayLater)
	total, _ = total.Add(res.MembershipZeroed)
	if got := total.MinorUnits(); got != 26_000 {
		t.Fatalf("conservation broken: %d != 26000", got)
	}

	if len(res.Allocations) != 1 || res.Allocations[0].MembershipID != "mem-1" {
		t.Fatalf("expected one membership allocation, got %+v", res.Allocations)
	}
}

func TestInvalidMembershipFallsBackToPayNow(t *testing.T) {
	lineID := uuid.New()
	items := []Item{{LineID: lineID, Amount: usd(5_000), PaymentOption: cart.MembershipPayment}}
	memberships := []cart.Membership{{ID: "mem-1", AppID: "loyalty", LineItemIDs: []uuid.UUID{lineID}}}

	s := &Splitter{Memberships: stubMemberships{validation: Validation{Valid: false, Reason: "expired"}}}
	res, soft := s.Split(context.Background(), "USD", items, memberships)
	if len(soft) != 1 {
		t.Fatalf("expected one soft error, got %v", soft)
	}
	if got := res.PayNow.MinorUnits(); got != 5_000 {
		t.Fatalf("rejected membership line must be paid now, got %d", got)
	}
	if len(res.Allocations) != 0 {
		t.Fatal("no allocation for a rejected membership")
	}
}

func TestMembershipProviderErrorIsSoft(t *testing.T) {
	lineID := uuid.New()
	items := []Item{{LineID: lineID, Amount: usd(5_000), PaymentOption: cart.MembershipPaymentOffline}}
	memberships := []cart.Membership{{ID: "mem-1", AppID: "loyalty", LineItemIDs: []uuid.UUID{lineID}}}

	s := &Splitter{Memberships: stubMemberships{err: errors.New("billing unreachable")}}
	res, soft := s.Split(context.Background(), "USD", items, memberships)
	if len(soft) != 1 {
		t.Fatalf("expected one soft error, got %v", soft)
	}
	if got := res.PayLater.MinorUnits(); got != 5_000 {
		t.Fatalf("offline membership fallback must defer payment, got payLater %d", got)
	}
}

func TestDepositClipsAtLineAmount(t *testing.T) {
	lineID := uuid.New()
	deposit := usd(9_000)
	items := []Item{{LineID: lineID, Amount: usd(6_000), PaymentOption: cart.DepositOnline, DepositUnit: &deposit, Quantity: 1}}

	s := &Splitter{}
	res, soft := s.Split(context.Background(), "USD", items, nil)
	if len(soft) != 0 {
		t.Fatalf("unexpected soft errors: %v", soft)
	}
	if got := res.PayNow.MinorUnits(); got != 6_000 {
		t.Fatalf("deposit must clip at line amount, got %d", got)
	}
	if !res.PayLater.IsZero() {
		t.Fatalf("nothing left to pay later, got %s", res.PayLater)
	}
}

func TestMissingMembershipSelection(t *testing.T) {
	lineID := uuid.New()
	items := []Item{{LineID: lineID, Amount: usd(4_000), PaymentOption: cart.MembershipPayment}}

	s := &Splitter{}
	res, soft := s.Split(context.Background(), "USD", items, nil)
	if len(soft) != 1 {
		t.Fatalf("expected soft error for missing membership, got %v", soft)
	}
	if got := res.PayNow.MinorUnits(); got != 4_000 {
		t.Fatalf("expected fallback to payNow, got %d", got)
	}
}
