package tax

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/noah-isme/checkout-pricing/internal/money"
)

func usd(cents int64) money.Money { return money.MustFromMinorUnits(cents, "USD") }

type failingProvider struct{ err error }

func (f failingProvider) Quote(context.Context, Addresses, []QuoteLine) (Quote, error) {
	return Quote{}, f.err
}

type componentProvider struct {
	components []RateComponent
	rateBps    int64
}

func (p componentProvider) Quote(_ context.Context, _ Addresses, lines []QuoteLine) (Quote, error) {
	out := Quote{}
	for _, l := range lines {
		out.Lines = append(out.Lines, QuotedLine{ItemID: l.ItemID, RateBps: p.rateBps, Components: p.components})
	}
	return out, nil
}

func TestAutoRateComputed(t *testing.T) {
	itemID := uuid.New()
	calc := &Calculator{Provider: MockProvider{RateBps: 800}, Mode: ModeAuto}
	summary, err := calc.Compute(context.Background(), Input{
		Currency: "USD",
		Lines:    []TaxableLine{{ItemID: itemID, Amount: usd(9_000)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Source != RateSourceComputed {
		t.Fatalf("expected COMPUTED, got %s", summary.Source)
	}
	if got := summary.Total.Round().MinorUnits(); got != 720 {
		t.Fatalf("expected 720 tax, got %d", got)
	}
}

func TestProviderFailureFallsBack(t *testing.T) {
	boom := errors.New("timeout contacting provider")
	calc := &Calculator{Provider: failingProvider{err: boom}, Mode: ModeAuto, FallbackBps: 500}
	summary, err := calc.Compute(context.Background(), Input{
		Currency: "USD",
		Lines:    []TaxableLine{{ItemID: uuid.New(), Amount: usd(10_000)}},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if summary.Source != RateSourceFallback {
		t.Fatalf("expected FALLBACK, got %s", summary.Source)
	}
	if summary.FallbackReason == "" {
		t.Fatal("fallback reason must be recorded")
	}
	if got := summary.Total.Round().MinorUnits(); got != 500 {
		t.Fatalf("expected fallback 5%% tax, got %d", got)
	}
}

func TestManualModeNeverCallsProvider(t *testing.T) {
	calc := &Calculator{
		Provider:  failingProvider{err: errors.New("must not be called")},
		Mode:      ModeManual,
		ManualBps: 1000,
	}
	summary, err := calc.Compute(context.Background(), Input{
		Currency: "USD",
		Lines:    []TaxableLine{{ItemID: uuid.New(), Amount: usd(5_000)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Source != RateSourceManual {
		t.Fatalf("expected MANUAL, got %s", summary.Source)
	}
	if got := summary.Total.Round().MinorUnits(); got != 500 {
		t.Fatalf("expected 500 tax, got %d", got)
	}
}

func TestNoTaxCollected(t *testing.T) {
	calc := &Calculator{Mode: ModeNone}
	summary, err := calc.Compute(context.Background(), Input{
		Currency: "USD",
		Lines:    []TaxableLine{{ItemID: uuid.New(), Amount: usd(5_000)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Source != RateSourceNone || !summary.Total.IsZero() {
		t.Fatalf("expected zero tax, got %s %s", summary.Source, summary.Total)
	}
}

func TestBreakdownSumsToLineTax(t *testing.T) {
	provider := componentProvider{
		rateBps: 895,
		components: []RateComponent{
			{Jurisdiction: JurisdictionState, Name: "WA", Bps: 650},
			{Jurisdiction: JurisdictionCity, Name: "Seattle", Bps: 215},
			{Jurisdiction: JurisdictionSpecial, Name: "transit", Bps: 30},
		},
	}
	calc := &Calculator{Provider: provider, Mode: ModeAuto}
	summary, err := calc.Compute(context.Background(), Input{
		Currency: "USD",
		Lines:    []TaxableLine{{ItemID: uuid.New(), Amount: usd(12_345)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	line := summary.Lines[0]
	sum := money.Zero("USD")
	for _, entry := range line.Breakdown {
		sum, _ = sum.Add(entry.Amount)
	}
	if !sum.Equal(line.Tax) {
		t.Fatalf("breakdown %s does not sum to line tax %s", sum, line.Tax)
	}
	if len(line.Breakdown) != 3 {
		t.Fatalf("expected 3 jurisdictions, got %d", len(line.Breakdown))
	}
}

func TestInclusiveExtraction(t *testing.T) {
	calc := &Calculator{Provider: MockProvider{RateBps: 1000}, Mode: ModeAuto}
	summary, err := calc.Compute(context.Background(), Input{
		Currency:     "USD",
		Lines:        []TaxableLine{{ItemID: uuid.New(), Amount: usd(11_000)}},
		TaxInclusive: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	// 110.00 gross at 10% inclusive contains exactly 10.00 of tax.
	if got := summary.Total.Round().MinorUnits(); got != 1000 {
		t.Fatalf("expected extracted tax 1000, got %d", got)
	}
}
