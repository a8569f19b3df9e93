// Package core holds the income tracker's domain types and the pure
// time/currency math everything else is built on.
package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents. Calculations run on cents (or decimals built
// from cents) to avoid floating-point drift; floats only appear at the JSON
// and display boundaries.
type Money struct {
	Cents int64
}

// NewMoneyFromDecimal rounds a decimal currency amount to the nearest cent.
func NewMoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()}
}

// Decimal returns the amount as a currency decimal (cents / 100).
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Amount returns the value as a float64 for display purposes only.
func (m Money) Amount() float64 {
	return float64(m.Cents) / 100.0
}

// MarshalJSON writes the amount as a plain 2-decimal number so persisted
// records and sync payloads read as currency, not cents.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal().StringFixed(2)), nil
}

// UnmarshalJSON accepts any JSON number and rounds it to cents.
func (m *Money) UnmarshalJSON(b []byte) error {
	d, err := decimal.NewFromString(strings.Trim(string(b), `"`))
	if err != nil {
		return fmt.Errorf("parse money %q: %w", b, err)
	}
	*m = NewMoneyFromDecimal(d)
	return nil
}

// FormatCurrency renders an amount with a currency sign and the given
// number of decimal places (clamped to 0-10, default 2).
func FormatCurrency(m Money, precision int) string {
	if precision < 0 || precision > 10 {
		precision = 2
	}
	return "¥" + m.Decimal().StringFixed(int32(precision))
}

// SafeParseFloat parses a string into a finite float64, falling back to
// def on empty input, junk, NaN or infinities.
func SafeParseFloat(s string, def float64) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

// SafeParseInt is SafeParseFloat for integers.
func SafeParseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
