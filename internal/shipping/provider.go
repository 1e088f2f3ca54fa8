package shipping

import (
	"context"

	"github.com/noah-isme/checkout-pricing/internal/cart"
	"github.com/noah-isme/checkout-pricing/internal/money"
	"github.com/noah-isme/checkout-pricing/internal/resilience"
)

// CarrierOption is one shipping service a carrier offers for the cart.
// Handling fee and insurance stay separate from the base price so the UI can
// itemize them.
type CarrierOption struct {
	Code         string      `json:"code"`
	Carrier      string      `json:"carrier"`
	Title        string      `json:"title"`
	Price        money.Money `json:"price"`
	HandlingFee  money.Money `json:"handlingFee"`
	Insurance    money.Money `json:"insurance"`
	DeliveryTime string      `json:"deliveryTime,omitempty"`
}

// Provider lists carrier options for a destination. Implemented by the
// surrounding platform's carrier integration.
type Provider interface {
	ListOptions(ctx context.Context, dest cart.Address, weightGrams int64) ([]CarrierOption, error)
}

// HTTPProvider quotes carrier options from an external rate service.
type HTTPProvider struct {
	Caller resilience.HTTPCaller
	URL    string
	APIKey string
}

type listRequest struct {
	Destination cart.Address `json:"destination"`
	WeightGrams int64        `json:"weightGrams"`
}

type listResponse struct {
	Options []CarrierOption `json:"options"`
}

// ListOptions implements Provider.
func (p *HTTPProvider) ListOptions(ctx context.Context, dest cart.Address, weightGrams int64) ([]CarrierOption, error) {
	headers := map[string]string{}
	if p.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.APIKey
	}
	var out listResponse
	if err := p.Caller.PostJSON(ctx, p.URL, headers, listRequest{Destination: dest, WeightGrams: weightGrams}, &out); err != nil {
		return nil, err
	}
	return out.Options, nil
}

// MockProvider returns canned options and is useful for testing and development.
type MockProvider struct {
	Currency string
}

// ListOptions returns two static services regardless of the request payload.
func (m MockProvider) ListOptions(_ context.Context, _ cart.Address, _ int64) ([]CarrierOption, error) {
	cur := m.Currency
	if cur == "" {
		cur = "USD"
	}
	return []CarrierOption{
		{
			Code: "standard", Carrier: "acme", Title: "Standard",
			Price:       money.MustFromMinorUnits(500, cur),
			HandlingFee: money.Zero(cur),
			Insurance:   money.Zero(cur),
		},
		{
			Code: "express", Carrier: "acme", Title: "Express",
			Price:       money.MustFromMinorUnits(1500, cur),
			HandlingFee: money.MustFromMinorUnits(100, cur),
			Insurance:   money.Zero(cur),
		},
	}, nil
}
