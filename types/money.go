// Package types provides the value types shared across Entitle: money,
// entity timestamps, typed errors and struct validation.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a price in the smallest currency unit.
// Arithmetic on Money is integer-only; decimal math happens at the edges
// (parsing staff-entered prices, applying coupon multipliers) and is
// rounded back to minor units.
//
// Examples:
//   - USD(5000) = $50.00
//   - EUR(200)  = €2.00
type Money struct {
	Amount   int64  `json:"amount"`   // minor units
	Currency string `json:"currency"` // ISO 4217, lowercase
}

// DefaultCurrency is used when a price is configured without a currency.
const DefaultCurrency = "usd"

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// GBP creates a Money value in British Pounds (pence).
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }

// JPY creates a Money value in Japanese Yen (no minor unit).
func JPY(yen int64) Money { return Money{Amount: yen, Currency: "jpy"} }

// Zero returns a zero Money value in the given currency.
func Zero(currency string) Money { return Money{Currency: normalizeCurrency(currency)} }

// ParseMoney parses a major-unit amount such as "50.00" or "2" into Money.
// Amounts with more precision than the currency allows are rounded
// half away from zero.
func ParseMoney(major, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(major))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", major, err)
	}
	return FromDecimal(d, currency), nil
}

// MustParseMoney is like ParseMoney but panics on error. Use for literals.
func MustParseMoney(major, currency string) Money {
	m, err := ParseMoney(major, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal converts a major-unit decimal into Money.
func FromDecimal(d decimal.Decimal, currency string) Money {
	currency = normalizeCurrency(currency)
	minor := d.Shift(int32(currencyDecimals(currency))).Round(0)
	return Money{Amount: minor.IntPart(), Currency: currency}
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -int32(currencyDecimals(m.Currency)))
}

// Scale multiplies the amount by a decimal factor, rounding to minor units.
// Used for percentage-style coupon adjustments.
func (m Money) Scale(factor decimal.Decimal) Money {
	scaled := decimal.NewFromInt(m.Amount).Mul(factor).Round(0)
	return Money{Amount: scaled.IntPart(), Currency: m.Currency}
}

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.currencyWith(other)}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.currencyWith(other)}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal reports whether both values have the same amount and currency.
// Zero amounts compare equal regardless of currency so that a free
// confirmation does not need to name a currency.
func (m Money) Equal(other Money) bool {
	if m.Amount == 0 && other.Amount == 0 {
		return true
	}
	return m.Amount == other.Amount && normalizeCurrency(m.Currency) == normalizeCurrency(other.Currency)
}

// FormatMajor returns the amount in major units without a symbol,
// e.g. "49.00" for USD(4900) and "100" for JPY(100).
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(int32(currencyDecimals(m.Currency)))
}

// String returns a human-readable string with currency symbol.
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

func (m Money) assertSameCurrency(other Money) {
	// Zero values without a currency adopt the other side.
	if m.Currency == "" || other.Currency == "" {
		return
	}
	if normalizeCurrency(m.Currency) != normalizeCurrency(other.Currency) {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func (m Money) currencyWith(other Money) string {
	if m.Currency == "" {
		return other.Currency
	}
	return m.Currency
}

func normalizeCurrency(currency string) string {
	if currency == "" {
		return DefaultCurrency
	}
	return strings.ToLower(currency)
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "usd", "":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	case "jpy":
		return "¥"
	default:
		return strings.ToUpper(currency) + " "
	}
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp", "pyg", "idr":
		return 0
	default:
		return 2
	}
}
