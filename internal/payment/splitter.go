// Package payment allocates a checkout total across payment instruments:
// immediate online payment, deferred payment, and membership charges executed
// by the external billing system.
package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/cart"
	"github.com/noah-isme/checkout-pricing/internal/money"
)

// Item is one line's contribution to the split: its post-discount amount and
// its payment option.
type Item struct {
	LineID        uuid.UUID
	Amount        money.Money
	PaymentOption cart.PaymentOption
	DepositUnit   *money.Money
	Quantity      int64
}

// Allocation records a membership charge for the billing collaborator.
type Allocation struct {
	MembershipID string      `json:"membershipId"`
	AppID        string      `json:"appId"`
	LineItemID   uuid.UUID   `json:"lineItemId"`
	Amount       money.Money `json:"amount"`
}

// Result is the computed split. PayNow + PayLater + MembershipZeroed always
// equals the sum of line amounts; offline-due amounts sit inside PayLater and
// are additionally reported for display.
type Result struct {
	PayNow           money.Money
	PayLater         money.Money
	MembershipZeroed money.Money
	OfflineDue       money.Money
	Allocations      []Allocation
}

// Splitter computes payment splits. The membership provider is optional; when
// absent, membership lines are zeroed without validation.
type Splitter struct {
	Memberships MembershipProvider
}

// Split allocates every line amount to exactly one bucket. Membership
// validation failures are soft: the line falls back to regular payment (now
// or later depending on the offline variant) and the error is returned for
// the caller to record.
func (s *Splitter) Split(ctx context.Context, currency string, items []Item, memberships []cart.Membership) (Result, []error) {
	res := Result{
		PayNow:           money.Zero(currency),
		PayLater:         money.Zero(currency),
		MembershipZeroed: money.Zero(currency),
		OfflineDue:       money.Zero(currency),
	}
	var soft []error

	for _, it := range items {
		switch it.PaymentOption {
		case cart.MembershipPayment, cart.MembershipPaymentOffline:
			membership, ok := membershipFor(memberships, it.LineID)
			if !ok {
				soft = append(soft, fmt.Errorf("line %s: no membership selected for membership-paid item", it.LineID))
				s.fallback(&res, it)
				continue
			}
			if s.Memberships != nil {
				validation, err := s.Memberships.Validate(ctx, membership.ID, membership.AppID, []uuid.UUID{it.LineID})
				if err != nil {
					soft = append(soft, fmt.Errorf("membership %s: %w", membership.ID, err))
					s.fallback(&res, it)
					continue
				}
				if !validation.Valid {
					soft = append(soft, fmt.Errorf("membership %s rejected: %s", membership.ID, validation.Reason))
					s.fallback(&res, it)
					continue
				}
			}
			res.MembershipZeroed, _ = res.MembershipZeroed.Add(it.Amount)
			res.Allocations = append(res.Allocations, Allocation{
				MembershipID: membership.ID,
				AppID:        membership.AppID,
				LineItemID:   it.LineID,
				Amount:       it.Amount,
			})
		case cart.DepositOnline:
			deposit := money.Zero(currency)
			if it.DepositUnit != nil {
				deposit = it.DepositUnit.MulInt(it.Quantity)
			}
			if cmp, err := deposit.Cmp(it.Amount); err == nil && cmp > 0 {
				deposit = it.Amount
			}
			remainder, _ := it.Amount.Sub(deposit)
			res.PayNow, _ = res.PayNow.Add(deposit)
			res.PayLater, _ = res.PayLater.Add(remainder)
		case cart.FullPaymentOffline:
			res.PayLater, _ = res.PayLater.Add(it.Amount)
			res.OfflineDue, _ = res.OfflineDue.Add(it.Amount)
		default:
			res.PayNow, _ = res.PayNow.Add(it.Amount)
		}
	}
	return res, soft
}

// fallback routes a membership line the billing system would not honor back
// into regular payment.
func (s *Splitter) fallback(res *Result, it Item) {
	if it.PaymentOption == cart.MembershipPaymentOffline {
		res.PayLater, _ = res.PayLater.Add(it.Amount)
		res.OfflineDue, _ = res.OfflineDue.Add(it.Amount)
		return
	}
	res.PayNow, _ = res.PayNow.Add(it.Amount)
}

func membershipFor(memberships []cart.Membership, lineID uuid.UUID) (cart.Membership, bool) {
	for _, m := range memberships {
		for _, id := range m.LineItemIDs {
			if id == lineID {
				return m, true
			}
		}
	}
	return cart.Membership{}, false
}
