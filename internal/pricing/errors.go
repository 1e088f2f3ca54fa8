package pricing

import "errors"

// ErrHardInput marks a malformed cart. No summary is produced; the caller
// gets the wrapped cause and nothing else.
var ErrHardInput = errors.New("pricing: invalid cart input")

// Severity classifies a violation for the checkout UI.
type Severity string

const (
	// SeverityWarning lets checkout proceed with a notice.
	SeverityWarning Severity = "WARNING"
	// SeverityError should block checkout until resolved.
	SeverityError Severity = "ERROR"
)

// Violation is a user-presentable record of one soft calculation failure.
type Violation struct {
	Severity    Severity `json:"severity"`
	Target      string   `json:"target"`
	Description string   `json:"description"`
}

// CalculationErrors accumulates soft failures per stage. The summary is still
// returned with best-effort values whenever any of these are set.
type CalculationErrors struct {
	Coupon       error
	Tax          error
	Shipping     error
	GiftCard     error
	DiscountRule error
	Membership   []error
	Catalog      []error
}

// HasErrors reports whether any stage recorded a failure.
func (e CalculationErrors) HasErrors() bool {
	return e.Coupon != nil || e.Tax != nil || e.Shipping != nil || e.GiftCard != nil ||
		e.DiscountRule != nil || len(e.Membership) > 0 || len(e.Catalog) > 0
}

// Violations renders the accumulated errors for the UI. Failures that leave
// the buyer with a payable, fulfillable checkout are warnings; failures that
// make the quoted total unreliable for fulfillment are errors.
func (e CalculationErrors) Violations() []Violation {
	var out []Violation
	if e.Coupon != nil {
		out = append(out, Violation{Severity: SeverityWarning, Target: "coupon", Description: e.Coupon.Error()})
	}
	if e.Tax != nil {
		out = append(out, Violation{Severity: SeverityWarning, Target: "tax", Description: e.Tax.Error()})
	}
	if e.Shipping != nil {
		out = append(out, Violation{Severity: SeverityError, Target: "shipping", Description: e.Shipping.Error()})
	}
	if e.GiftCard != nil {
		out = append(out, Violation{Severity: SeverityWarning, Target: "giftCard", Description: e.GiftCard.Error()})
	}
	if e.DiscountRule != nil {
		out = append(out, Violation{Severity: SeverityWarning, Target: "discountRule", Description: e.DiscountRule.Error()})
	}
	for _, err := range e.Membership {
		out = append(out, Violation{Severity: SeverityError, Target: "membership", Description: err.Error()})
	}
	for _, err := range e.Catalog {
		out = append(out, Violation{Severity: SeverityError, Target: "catalog", Description: err.Error()})
	}
	return out
}
