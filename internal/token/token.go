// Package token provides exact fixed-point amount handling for ERC-20
// tokens of arbitrary decimals.
//
// All amounts are stored as non-negative big.Int in the token's smallest
// unit. Arithmetic never goes through floating point, and two amounts may
// only be combined when their decimals match.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrInvalidAmount    = errors.New("token: invalid amount")
	ErrUnderflow        = errors.New("token: subtraction underflow")
	ErrDecimalsMismatch = errors.New("token: decimals mismatch")
)

// Amount is a token quantity in the token's smallest unit.
// The zero value is 0 with 0 decimals.
type Amount struct {
	raw      *big.Int
	decimals uint8
}

// New builds an Amount from a smallest-unit value. A nil or negative raw
// value returns an error; amounts are never negative.
func New(raw *big.Int, decimals uint8) (Amount, error) {
	if raw == nil || raw.Sign() < 0 {
		return Amount{}, ErrInvalidAmount
	}
	return Amount{raw: new(big.Int).Set(raw), decimals: decimals}, nil
}

// Zero returns the zero amount for the given decimals.
func Zero(decimals uint8) Amount {
	return Amount{raw: new(big.Int), decimals: decimals}
}

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// representation.
//
// Rules:
//   - Empty string parses as zero
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional digits are padded or truncated to the token's decimals
func Parse(s string, decimals uint8) (Amount, error) {
	if s == "" {
		return Zero(decimals), nil
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < int(decimals) {
		frac += "0"
	}
	frac = frac[:decimals]

	combined := whole + frac
	if combined == "" {
		return Zero(decimals), nil
	}
	raw, ok := new(big.Int).SetString(combined, 10)
	if !ok || raw.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{raw: raw, decimals: decimals}, nil
}

// ParseRaw converts a base-10 smallest-unit string (the form indexers emit)
// to an Amount. No decimal point is allowed.
func ParseRaw(s string, decimals uint8) (Amount, error) {
	if s == "" {
		return Zero(decimals), nil
	}
	raw, ok := new(big.Int).SetString(s, 10)
	if !ok || raw.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{raw: raw, decimals: decimals}, nil
}

// Raw returns a copy of the smallest-unit value.
func (a Amount) Raw() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.raw)
}

// Decimals returns the token decimals the amount was built with.
func (a Amount) Decimals() uint8 { return a.decimals }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.raw == nil || a.raw.Sign() == 0 }

// Cmp compares a and b: -1 if a < b, 0 if equal, 1 if a > b.
// Comparing mixed decimals is a programming error and returns an error.
func (a Amount) Cmp(b Amount) (int, error) {
	if a.decimals != b.decimals {
		return 0, ErrDecimalsMismatch
	}
	return a.bigRaw().Cmp(b.bigRaw()), nil
}

// Add returns a + b.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.decimals != b.decimals {
		return Amount{}, ErrDecimalsMismatch
	}
	return Amount{raw: new(big.Int).Add(a.bigRaw(), b.bigRaw()), decimals: a.decimals}, nil
}

// Sub returns a - b, failing with ErrUnderflow if the result would be
// negative. Financial sums in this system are never negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.decimals != b.decimals {
		return Amount{}, ErrDecimalsMismatch
	}
	if a.bigRaw().Cmp(b.bigRaw()) < 0 {
		return Amount{}, ErrUnderflow
	}
	return Amount{raw: new(big.Int).Sub(a.bigRaw(), b.bigRaw()), decimals: a.decimals}, nil
}

// Sum adds a sequence of amounts, all of which must share decimals.
// An empty sequence sums to Zero(decimals).
func Sum(decimals uint8, amounts ...Amount) (Amount, error) {
	total := Zero(decimals)
	var err error
	for _, a := range amounts {
		total, err = total.Add(a)
		if err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}

// Format renders the exact decimal representation, e.g. 1500000 with 6
// decimals becomes "1.500000". String-based division; no precision loss.
func (a Amount) Format() string {
	return FormatRaw(a.bigRaw(), a.decimals)
}

// FormatRaw renders a smallest-unit value with the given decimals.
func FormatRaw(raw *big.Int, decimals uint8) string {
	if raw == nil {
		raw = new(big.Int)
	}
	s := new(big.Int).Abs(raw).String()
	if decimals == 0 {
		return s
	}
	for len(s) < int(decimals)+1 {
		s = "0" + s
	}
	split := len(s) - int(decimals)
	return s[:split] + "." + s[split:]
}

func (a Amount) bigRaw() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return a.raw
}

// String implements fmt.Stringer.
func (a Amount) String() string { return a.Format() }
