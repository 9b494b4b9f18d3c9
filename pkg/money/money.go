// Package money provides fixed-point decimal arithmetic for balances,
// amounts and rates. Binary floats are never used for money anywhere in
// the core; amounts cross the API as decimal strings and are parsed here.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money errors
var (
	ErrInvalidNumber  = errors.New("invalid number")
	ErrDivisionByZero = errors.New("division by zero")
)

// Default scales per asset class.
const (
	FiatScale   = 2
	CryptoScale = 8
)

// Money is an arbitrary-precision decimal amount.
// The zero value is usable and equals 0.
type Money struct {
	d decimal.Decimal
}

// Zero returns a zero amount.
func Zero() Money {
	return Money{}
}

// Parse parses a decimal string into a Money.
// Scientific notation and binary float formatting are rejected.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty string", ErrInvalidNumber)
	}
	// decimal.NewFromString accepts exponent notation; amounts on the wire
	// must be plain decimal strings.
	if strings.ContainsAny(s, "eE") {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return Money{d: d}, nil
}

// MustParse parses a decimal string and panics on error.
// Intended for constants and tests only.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromInt returns a Money with the given integer value.
func FromInt(v int64) Money {
	return Money{d: decimal.NewFromInt(v)}
}

// String returns the canonical decimal string (no trailing zeros beyond
// the stored exponent, no exponent notation).
func (m Money) String() string {
	return m.d.String()
}

// StringFixed returns the amount rounded half-even to the given scale.
func (m Money) StringFixed(scale int32) string {
	return m.d.RoundBank(scale).StringFixed(scale)
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{d: m.d.Add(o.d)}
}

// Sub returns m - o.
func (m Money) Sub(o Money) Money {
	return Money{d: m.d.Sub(o.d)}
}

// Mul returns m * o.
func (m Money) Mul(o Money) Money {
	return Money{d: m.d.Mul(o.d)}
}

// Div returns m / o rounded half-even to the given scale.
// Returns ErrDivisionByZero when o is zero.
func (m Money) Div(o Money, scale int32) (Money, error) {
	if o.d.IsZero() {
		return Money{}, ErrDivisionByZero
	}
	// Divide with guard digits, then bankers-round to the target scale.
	q := m.d.DivRound(o.d, scale+4)
	return Money{d: q.RoundBank(scale)}, nil
}

// Round returns m rounded half-even to the given scale.
func (m Money) Round(scale int32) Money {
	return Money{d: m.d.RoundBank(scale)}
}

// Abs returns |m|.
func (m Money) Abs() Money {
	return Money{d: m.d.Abs()}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{d: m.d.Neg()}
}

// Cmp compares m and o: -1 if m < o, 0 if equal, +1 if m > o.
func (m Money) Cmp(o Money) int {
	return m.d.Cmp(o.d)
}

// Sign returns -1, 0 or +1.
func (m Money) Sign() int {
	return m.d.Sign()
}

// IsZero reports whether m == 0.
func (m Money) IsZero() bool {
	return m.d.IsZero()
}

// IsNegative reports whether m < 0.
func (m Money) IsNegative() bool {
	return m.d.IsNegative()
}

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool {
	return m.d.IsPositive()
}

// Equal reports whether m and o are numerically equal.
func (m Money) Equal(o Money) bool {
	return m.d.Equal(o.d)
}

// LessThan reports whether m < o.
func (m Money) LessThan(o Money) bool {
	return m.d.LessThan(o.d)
}

// GreaterThanOrEqual reports whether m >= o.
func (m Money) GreaterThanOrEqual(o Money) bool {
	return m.d.GreaterThanOrEqual(o.d)
}
