// Package tax computes per-line, per-jurisdiction tax for a priced cart. The
// rate source is a small state machine: manual rates bypass the provider
// entirely, auto rates come from the provider and degrade to a configured
// fallback rate when the provider is unreachable, and some jurisdictions
// collect no tax at all.
package tax

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/checkout-pricing/internal/money"
)

// Mode selects the rate source up-front, from site configuration.
type Mode string

const (
	// ModeAuto quotes rates from the external provider.
	ModeAuto Mode = "AUTO"
	// ModeManual uses the merchant-configured flat rate and never calls the provider.
	ModeManual Mode = "MANUAL"
	// ModeNone collects no tax.
	ModeNone Mode = "NONE"
)

// RateSource reports where the rates in a Summary came from.
type RateSource string

const (
	// RateSourceComputed means the auto provider answered.
	RateSourceComputed RateSource = "COMPUTED"
	// RateSourceManual means the manual flat rate was used.
	RateSourceManual RateSource = "MANUAL"
	// RateSourceFallback means the provider failed and the fallback flat rate was used.
	RateSourceFallback RateSource = "FALLBACK"
	// RateSourceNone means no tax is collected.
	RateSourceNone RateSource = "NO_TAX_COLLECTED"
)

// TaxableLine is a post-discount line amount to tax.
type TaxableLine struct {
	ItemID     uuid.UUID
	TaxGroupID string
	Amount     money.Money
}

// BreakdownEntry is one jurisdiction's share of a line's tax.
type BreakdownEntry struct {
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Name         string       `json:"name"`
	RateBps      int64        `json:"rateBps"`
	Amount       money.Money  `json:"amount"`
}

// LineTax is the computed tax for one line. The breakdown entries sum to Tax
// exactly; rounding only happens when the orchestrator assembles the summary.
type LineTax struct {
	ItemID        uuid.UUID
	TaxableAmount money.Money
	RateBps       int64
	Tax           money.Money
	Breakdown     []BreakdownEntry
}

// Summary aggregates the tax computation for a whole cart.
type Summary struct {
	Source         RateSource
	FallbackReason string
	Total          money.Money
	Lines          []LineTax
}

// Input is one tax computation request.
type Input struct {
	Currency  string
	Lines     []TaxableLine
	Addresses Addresses
	// TaxInclusive extracts tax from the line amount instead of adding on top.
	TaxInclusive bool
}

// Calculator owns the rate-source state machine.
type Calculator struct {
	Provider    Provider
	Mode        Mode
	ManualBps   int64
	FallbackBps int64
	Timeout     time.Duration
}

// Compute runs the state machine. The returned error is always soft: when the
// provider fails the summary is still valid, built from the fallback rate,
// and the error describes why so the caller can attach it to the calculation
// result.
func (c *Calculator) Compute(ctx context.Context, in Input) (Summary, error) {
	summary := Summary{Total: money.Zero(in.Currency)}

	switch c.Mode {
	case ModeNone:
		summary.Source = RateSourceNone
		for _, line := range in.Lines {
			summary.Lines = append(summary.Lines, LineTax{
				ItemID:        line.ItemID,
				TaxableAmount: line.Amount,
				Tax:           money.Zero(in.Currency),
			})
		}
		return summary, nil
	case ModeManual:
		summary.Source = RateSourceManual
		c.flatRate(&summary, in, c.ManualBps, "manual")
		return summary, nil
	}

	quote, err := c.quote(ctx, in)
	if err != nil {
		summary.Source = RateSourceFallback
		summary.FallbackReason = err.Error()
		c.flatRate(&summary, in, c.FallbackBps, "fallback")
		return summary, fmt.Errorf("tax provider: %w", err)
	}

	summary.Source = RateSourceComputed
	rates := make(map[uuid.UUID]QuotedLine, len(quote.Lines))
	for _, q := range quote.Lines {
		rates[q.ItemID] = q
	}
	for _, line := range in.Lines {
		q := rates[line.ItemID]
		summary.Lines = append(summary.Lines, computeLine(line, q.RateBps, q.Components, in.TaxInclusive))
	}
	for _, lt := range summary.Lines {
		summary.Total, _ = summary.Total.Add(lt.Tax)
	}
	return summary, nil
}

func (c *Calculator) quote(ctx context.Context, in Input) (Quote, error) {
	if c.Provider == nil {
		return Quote{}, fmt.Errorf("no tax provider configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	lines := make([]QuoteLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, QuoteLine{ItemID: l.ItemID, TaxGroupID: l.TaxGroupID, TaxableAmount: l.Amount})
	}
	return c.Provider.Quote(ctx, in.Addresses, lines)
}

func (c *Calculator) flatRate(summary *Summary, in Input, bps int64, name string) {
	for _, line := range in.Lines {
		summary.Lines = append(summary.Lines, computeLine(line, bps, nil, in.TaxInclusive))
	}
	for _, lt := range summary.Lines {
		summary.Total, _ = summary.Total.Add(lt.Tax)
	}
	if name != "" {
		for i := range summary.Lines {
			for j := range summary.Lines[i].Breakdown {
				summary.Lines[i].Breakdown[j].Name = name
			}
		}
	}
}

// computeLine derives a line's tax and its jurisdiction breakdown. The line
// tax is defined as the sum of its breakdown entries so the two can never
// drift apart.
func computeLine(line TaxableLine, rateBps int64, components []RateComponent, inclusive bool) LineTax {
	out := LineTax{
		ItemID:        line.ItemID,
		TaxableAmount: line.Amount,
		RateBps:       rateBps,
		Tax:           money.Zero(line.Amount.Currency),
	}
	if rateBps <= 0 || !line.Amount.IsPositive() {
		return out
	}
	if len(components) == 0 {
		components = []RateComponent{{Jurisdiction: JurisdictionCountry, Name: "standard", Bps: rateBps}}
	}

	// With inclusive pricing the total tax is amount*r/(1+r); each
	// jurisdiction gets its proportional share so the entries still sum
	// exactly to the line total.
	var totalTax money.Money
	if inclusive {
		rate := decimal.New(rateBps, -4)
		amount := line.Amount.Amount
		totalTax = money.Money{
			Amount:   amount.Mul(rate).Div(decimal.NewFromInt(1).Add(rate)),
			Currency: line.Amount.Currency,
		}
	}

	for _, comp := range components {
		var entryAmount money.Money
		if inclusive {
			entryAmount = money.Money{
				Amount:   totalTax.Amount.Mul(decimal.NewFromInt(comp.Bps)).Div(decimal.NewFromInt(rateBps)),
				Currency: line.Amount.Currency,
			}
		} else {
			entryAmount = line.Amount.ApplyBps(comp.Bps)
		}
		out.Breakdown = append(out.Breakdown, BreakdownEntry{
			Jurisdiction: comp.Jurisdiction,
			Name:         comp.Name,
			RateBps:      comp.Bps,
			Amount:       entryAmount,
		})
		out.Tax, _ = out.Tax.Add(entryAmount)
	}
	return out
}
