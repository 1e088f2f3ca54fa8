package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch is returned when arithmetic mixes two currencies.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// ErrInvalidCurrency is returned when a currency code is not a three-letter ISO-4217 code.
var ErrInvalidCurrency = errors.New("money: invalid currency code")

// minorUnitExponents lists currencies whose minor unit is not two decimal places.
var minorUnitExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// Money is an exact decimal amount tagged with an ISO-4217 currency code.
// Arithmetic keeps full precision; rounding to the currency's minor unit is
// explicit via Round and happens once at summary assembly.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// New builds a Money from a decimal amount and currency code.
func New(amount decimal.Decimal, currency string) (Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if len(code) != 3 {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return Money{Amount: amount, Currency: code}, nil
}

// FromMinorUnits builds a Money from an amount expressed in the currency's
// minor unit (cents for USD, fils for BHD, whole yen for JPY).
func FromMinorUnits(units int64, currency string) (Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if len(code) != 3 {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return Money{Amount: decimal.New(units, -exponent(code)), Currency: code}, nil
}

// MustFromMinorUnits behaves like FromMinorUnits but panics on error. Useful in tests.
func MustFromMinorUnits(units int64, currency string) Money {
	m, err := FromMinorUnits(units, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the provided currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

func exponent(currency string) int32 {
	if e, ok := minorUnitExponents[currency]; ok {
		return e
	}
	return 2
}

func (m Money) check(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.check(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.check(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// MulInt returns m multiplied by a whole quantity.
func (m Money) MulInt(qty int64) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(qty)), Currency: m.Currency}
}

// ApplyBps returns the given fraction of m expressed in basis points
// (10000 bps == 100%). The result keeps full precision.
func (m Money) ApplyBps(bps int64) Money {
	return Money{
		Amount:   m.Amount.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10000)),
		Currency: m.Currency,
	}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// Cmp compares two amounts: -1 when m < other, 0 when equal, 1 when m > other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.check(other); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// Round returns m rounded half-up to the currency's minor unit.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(exponent(m.Currency)), Currency: m.Currency}
}

// MinorUnits returns the rounded amount expressed in the currency's minor unit.
func (m Money) MinorUnits() int64 {
	exp := exponent(m.Currency)
	return m.Amount.Round(exp).Shift(exp).IntPart()
}

// Equal reports whether two Money values share a currency and an amount.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// MarshalJSON renders the amount as a decimal string with its currency code.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Amount, Currency: m.Currency})
}

// UnmarshalJSON parses the wire form produced by MarshalJSON.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := New(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// String renders the rounded amount with its currency code, e.g. "12.50 USD".
func (m Money) String() string {
	return m.Amount.Round(exponent(m.Currency)).StringFixed(exponent(m.Currency)) + " " + m.Currency
}
