// Package money implements the exchange's fixed-precision decimal arithmetic.
//
// Every result is rounded to a fixed number of significant digits using
// round-half-even, so that a chain of trades yields the same figures no
// matter which process or platform computed them.
package money

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of significant digits kept by every operation.
const DefaultPrecision = 5

// MaxScale bounds the decimal exponent of values accepted from callers.
const MaxScale = 18

var (
	// ErrNotANumber is returned when a string cannot be parsed as a decimal.
	ErrNotANumber = errors.New("not a decimal number")
	// ErrOutOfRange is returned for values too large or too finely scaled to trade.
	ErrOutOfRange = errors.New("decimal out of range")
)

// Context rounds arithmetic results to a fixed number of significant digits.
type Context struct {
	precision int32
}

// NewContext returns a Context keeping precision significant digits.
func NewContext(precision int) Context {
	if precision < 1 {
		precision = DefaultPrecision
	}
	return Context{precision: int32(precision)}
}

// Precision returns the number of significant digits kept.
func (c Context) Precision() int { return int(c.precision) }

// Round rounds d to the context's significant digits.
func (c Context) Round(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.Zero
	}
	return d.RoundBank(c.precision - 1 - magnitude(d))
}

// CheckRange reports ErrOutOfRange unless d's exponent lies within
// [-(precision+MaxScale), MaxScale] and its most significant digit is below 10^(MaxScale+1).
func (c Context) CheckRange(d decimal.Decimal) error {
	exp := d.Exponent()
	if exp > MaxScale || exp < -(c.precision+MaxScale) || magnitude(d) > MaxScale {
		return fmt.Errorf("%w: exponent %d", ErrOutOfRange, exp)
	}
	return nil
}

// magnitude returns the power of ten of d's most significant digit.
func magnitude(d decimal.Decimal) int32 {
	digits := int32(len(new(big.Int).Abs(d.Coefficient()).String()))
	return digits + d.Exponent() - 1
}

// Mul returns a*b rounded.
func (c Context) Mul(a, b decimal.Decimal) decimal.Decimal { return c.Round(a.Mul(b)) }

// Add returns a+b rounded.
func (c Context) Add(a, b decimal.Decimal) decimal.Decimal { return c.Round(a.Add(b)) }

// Sub returns a-b rounded.
func (c Context) Sub(a, b decimal.Decimal) decimal.Decimal { return c.Round(a.Sub(b)) }

// Parse parses s as an exact decimal. Parsing does not round.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNotANumber, s)
	}
	return d, nil
}

// Format renders d without exponent notation and without trailing zeros.
func Format(d decimal.Decimal) string {
	return d.String()
}
