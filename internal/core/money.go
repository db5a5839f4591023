// Package core holds the pure computation kernel for the offset ledger:
// money parsing, transaction filtering, bucket aggregation, split label
// resolution and split validation. Nothing in this package performs I/O.
package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Money is a signed currency amount in integer cents. Negative values are
// expenses, positive values income. All arithmetic in the kernel happens in
// cents so that float representation error never reaches a comparison.
type Money struct {
	Cents int64
}

// ParseSignedToCents converts a signed decimal string to cents with half-up
// rounding on the third decimal place. Both dot (12.34) and comma (12,34)
// separators are accepted. Zero is a valid amount.
func ParseSignedToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")

	negative := false
	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if s == "" || s == "." {
		return 0, ErrInvalidAmount
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}

	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}

	// Take the first two fractional digits, half-up rounding on the third.
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}

	cents := iv*100 + fracCents
	if negative {
		cents = -cents
	}
	return cents, nil
}

// ParseLenientCents behaves like ParseSignedToCents but degrades malformed
// input to zero instead of returning an error. Aggregation must never fail on
// a single bad amount.
func ParseLenientCents(s string) Money {
	cents, err := ParseSignedToCents(s)
	if err != nil {
		return Money{}
	}
	return Money{Cents: cents}
}

// Float returns the decimal currency value for display and JSON encoding.
// Use cents for every comparison.
func (m Money) Float() float64 {
	return float64(m.Cents) / 100.0
}

// Abs returns the magnitude in cents.
func (m Money) Abs() int64 {
	if m.Cents < 0 {
		return -m.Cents
	}
	return m.Cents
}

func (m Money) String() string {
	neg := m.Cents < 0
	c := m.Abs()
	s := fmt.Sprintf("%d.%02d", c/100, c%100)
	if neg {
		return "-" + s
	}
	return s
}

// MarshalJSON encodes the amount as a plain decimal number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts amounts as JSON numbers or as strings. Upstream
// payloads use the two interchangeably; normalizing here keeps the duck
// typing out of the kernel.
func (m *Money) UnmarshalJSON(b []byte) error {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}

	switch n := v.(type) {
	case json.Number:
		cents, err := ParseSignedToCents(n.String())
		if err != nil {
			return fmt.Errorf("amount %q: %w", n.String(), err)
		}
		m.Cents = cents
	case string:
		cents, err := ParseSignedToCents(n)
		if err != nil {
			return fmt.Errorf("amount %q: %w", n, err)
		}
		m.Cents = cents
	case nil:
		m.Cents = 0
	default:
		return fmt.Errorf("amount must be a number or string, got %T: %w", v, ErrInvalidAmount)
	}
	return nil
}
