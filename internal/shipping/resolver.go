// Package shipping selects the delivery logistics for a checkout: either a
// carrier option matched against the buyer's selection, or pickup, which
// costs nothing.
package shipping

import (
	"errors"

	"github.com/noah-isme/checkout-pricing/internal/money"
)

// ErrNoOptions is returned when delivery is required but the carrier offered nothing.
var ErrNoOptions = errors.New("shipping: no carrier options available")

// Resolved is the outcome of shipping resolution.
type Resolved struct {
	Option CarrierOption `json:"option"`
	// Requested reports whether the buyer's selected code matched an
	// offered option. When false the first offered option was substituted.
	Requested bool `json:"requested"`
	// Pickup reports the pickup variant; Option is zero-valued then.
	Pickup     bool        `json:"pickup"`
	BaseCost   money.Money `json:"baseCost"`
	Surcharges money.Money `json:"surcharges"`
	Total      money.Money `json:"total"`
}

// ResolvePickup returns a zero-cost resolution for the pickup variant.
func ResolvePickup(currency string) Resolved {
	zero := money.Zero(currency)
	return Resolved{Pickup: true, BaseCost: zero, Surcharges: zero, Total: zero}
}

// Resolve matches the selected code against the offered options. A missing or
// unmatched code falls back to the first option in the list, not the
// cheapest. Existing clients rely on that exact behavior.
func Resolve(options []CarrierOption, selectedCode string) (Resolved, error) {
	if len(options) == 0 {
		return Resolved{}, ErrNoOptions
	}
	chosen := options[0]
	requested := false
	if selectedCode != "" {
		for _, opt := range options {
			if opt.Code == selectedCode {
				chosen = opt
				requested = true
				break
			}
		}
	}

	surcharges := chosen.HandlingFee
	if surcharges.Currency == "" {
		surcharges = money.Zero(chosen.Price.Currency)
	}
	if chosen.Insurance.Currency != "" {
		surcharges, _ = surcharges.Add(chosen.Insurance)
	}
	total, _ := chosen.Price.Add(surcharges)

	return Resolved{
		Option:     chosen,
		Requested:  requested,
		BaseCost:   chosen.Price,
		Surcharges: surcharges,
		Total:      total,
	}, nil
}
