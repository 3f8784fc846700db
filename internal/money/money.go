// Package money holds the Money value used for every amount the checkout
// charges or queues. Amounts are integer cents internally and fixed-point
// strings with two fractional digits on the wire.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegative = errors.New("amount must not be negative")
	ErrInvalid  = errors.New("amount is not a valid number")
)

var hundred = decimal.NewFromInt(100)

// Money is a non-negative amount in cents.
type Money int64

func FromCents(cents int64) Money {
	return Money(cents)
}

// FromDecimal rounds half-up to cents. Negative values are rejected.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("FromDecimal: %s: %w", d.String(), ErrNegative)
	}
	return Money(d.Mul(hundred).Round(0).IntPart()), nil
}

// Parse accepts "100", "100.5", "100.005" or "$1,250.00".
func Parse(s string) (Money, error) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "$")
	clean = strings.ReplaceAll(clean, ",", "")
	if clean == "" {
		return 0, fmt.Errorf("Parse: empty: %w", ErrInvalid)
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("Parse: %q: %w", s, ErrInvalid)
	}
	return FromDecimal(d)
}

func (m Money) Cents() int64 {
	return int64(m)
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) IsZero() bool {
	return m == 0
}

// String formats the amount as a fixed-point string, e.g. "33.33".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// DivideRounded splits m into n parts, each rounded half-up to the cent.
// The remainder is not redistributed.
func (m Money) DivideRounded(n int) Money {
	if n <= 1 {
		return m
	}
	per := decimal.NewFromInt(int64(m)).Div(decimal.NewFromInt(int64(n))).Round(0)
	return Money(per.IntPart())
}

func (m Money) Mul(n int) Money {
	return m * Money(n)
}

// MarshalJSON writes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("money: %w", ErrInvalid)
	}
	parsed, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
