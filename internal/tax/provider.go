package tax

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/cart"
	"github.com/noah-isme/checkout-pricing/internal/money"
	"github.com/noah-isme/checkout-pricing/internal/ratecache"
	"github.com/noah-isme/checkout-pricing/internal/resilience"
)

// Jurisdiction is one level of a multi-jurisdiction tax region.
type Jurisdiction string

const (
	// JurisdictionCountry is the national level.
	JurisdictionCountry Jurisdiction = "COUNTRY"
	// JurisdictionState is the state or province level.
	JurisdictionState Jurisdiction = "STATE"
	// JurisdictionCounty is the county level.
	JurisdictionCounty Jurisdiction = "COUNTY"
	// JurisdictionCity is the municipal level.
	JurisdictionCity Jurisdiction = "CITY"
	// JurisdictionSpecial covers special tax districts.
	JurisdictionSpecial Jurisdiction = "SPECIAL"
)

// Addresses carries the address set a tax quote depends on.
type Addresses struct {
	Shipping *cart.Address `json:"shipping,omitempty"`
	Billing  *cart.Address `json:"billing,omitempty"`
}

// QuoteLine is one taxable line sent to the provider.
type QuoteLine struct {
	ItemID        uuid.UUID   `json:"itemId"`
	TaxGroupID    string      `json:"taxGroupId,omitempty"`
	TaxableAmount money.Money `json:"taxableAmount"`
}

// RateComponent is one jurisdiction's share of a line's rate.
type RateComponent struct {
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Name         string       `json:"name"`
	Bps          int64        `json:"bps"`
}

// QuotedLine is the provider's rate answer for one line.
type QuotedLine struct {
	ItemID     uuid.UUID       `json:"itemId"`
	RateBps    int64           `json:"rateBps"`
	Components []RateComponent `json:"components,omitempty"`
}

// Quote is a full provider response.
type Quote struct {
	Lines []QuotedLine `json:"lines"`
}

// Provider quotes tax rates for a set of taxable lines. Implementations are
// thin transports; the calculator owns all fallback behavior.
type Provider interface {
	Quote(ctx context.Context, addrs Addresses, lines []QuoteLine) (Quote, error)
}

// HTTPProvider calls an external tax service over JSON HTTP.
type HTTPProvider struct {
	Caller resilience.HTTPCaller
	URL    string
	APIKey string
}

type quoteRequest struct {
	Addresses Addresses   `json:"addresses"`
	Lines     []QuoteLine `json:"lines"`
}

// Quote implements Provider.
func (p *HTTPProvider) Quote(ctx context.Context, addrs Addresses, lines []QuoteLine) (Quote, error) {
	var out Quote
	headers := map[string]string{}
	if p.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.APIKey
	}
	err := p.Caller.PostJSON(ctx, p.URL, headers, quoteRequest{Addresses: addrs, Lines: lines}, &out)
	if err != nil {
		return Quote{}, err
	}
	return out, nil
}

// CachedProvider memoises quotes by request digest. Collaborator responses
// for an unchanged cart stay stable across passes, which keeps Price()
// idempotent even when the upstream provider is flaky between calls.
type CachedProvider struct {
	Inner Provider
	Cache *ratecache.Cache
}

// Quote implements Provider.
func (p *CachedProvider) Quote(ctx context.Context, addrs Addresses, lines []QuoteLine) (Quote, error) {
	key := ratecache.Key(quoteRequest{Addresses: addrs, Lines: lines})
	var cached Quote
	if found, err := p.Cache.GetJSON(ctx, key, &cached); err == nil && found {
		return cached, nil
	}
	quote, err := p.Inner.Quote(ctx, addrs, lines)
	if err != nil {
		return Quote{}, err
	}
	_ = p.Cache.SetJSON(ctx, key, quote)
	return quote, nil
}

// MockProvider returns a flat rate for every line and is useful for
// development and tests.
type MockProvider struct {
	RateBps int64
}

// Quote implements Provider.
func (m MockProvider) Quote(_ context.Context, _ Addresses, lines []QuoteLine) (Quote, error) {
	out := Quote{Lines: make([]QuotedLine, 0, len(lines))}
	for _, l := range lines {
		out.Lines = append(out.Lines, QuotedLine{ItemID: l.ItemID, RateBps: m.RateBps})
	}
	return out, nil
}
