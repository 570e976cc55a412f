package x402

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var priceRE = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ErrInvalidPrice is returned for prices that are not non-negative decimals.
var ErrInvalidPrice = errors.New("invalid price")

// Price is an exact, non-negative decimal amount in USD. The zero value is free.
type Price struct {
	text string
	rat  *big.Rat
}

// ParsePrice parses a plain decimal string such as "0.001" or "2".
func ParsePrice(s string) (Price, error) {
	s = strings.TrimSpace(s)
	if !priceRE.MatchString(s) {
		return Price{}, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Price{}, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return Price{text: canonical(s), rat: r}, nil
}

// MustParsePrice is ParsePrice that panics on error. Intended for tests and
// static tables.
func MustParsePrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsZero reports whether the price is zero.
func (p Price) IsZero() bool {
	return p.rat == nil || p.rat.Sign() == 0
}

// String returns the canonical decimal text, "0" for the zero value.
func (p Price) String() string {
	if p.rat == nil {
		return "0"
	}
	return p.text
}

// Below reports whether the price is less than floor.
func (p Price) Below(floor *big.Rat) bool {
	if p.rat == nil {
		return floor.Sign() > 0
	}
	return p.rat.Cmp(floor) < 0
}

// SmallestUnits returns floor(price × 10^decimals).
func (p Price) SmallestUnits(decimals int) *big.Int {
	if p.rat == nil {
		return new(big.Int)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	num := new(big.Int).Mul(p.rat.Num(), scale)
	return num.Quo(num, p.rat.Denom())
}

// MarshalJSON encodes the price as a JSON number.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (p *Price) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*p = Price{}
		return nil
	}
	parsed, err := ParsePrice(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// canonical strips redundant leading and trailing zeros.
func canonical(s string) string {
	whole, frac, hasFrac := strings.Cut(s, ".")
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	if hasFrac {
		frac = strings.TrimRight(frac, "0")
	}
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
