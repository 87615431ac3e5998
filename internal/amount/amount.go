// Package amount implements the bridge's fixed-point numeric types.
//
// The original bridge mutated a process-wide decimal-library setting
// (`Decimal.set({toExpPos: huge})`) to keep its big-number stringification
// from flipping into scientific notation. That global is not carried
// here: NCG is represented as an integer count of hundredths and wNCG as
// a holiman/uint256.Int count of base units (10^-18), each formatted with
// an explicit radix point instead of relying on any shared state.
package amount

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// NCGScale is the number of base units per whole NCG (2 decimal places).
const NCGScale = 100

// WNCGDecimals is the number of decimal places of the wrapped ERC-20.
const WNCGDecimals = 18

// NCG is a native-asset amount stored as an integer count of hundredths.
// The zero value is zero NCG.
type NCG int64

// NewNCGFromHundredths builds an NCG value directly from its integer
// hundredths representation (no rounding).
func NewNCGFromHundredths(hundredths int64) NCG { return NCG(hundredths) }

// Hundredths returns the integer hundredths backing n.
func (n NCG) Hundredths() int64 { return int64(n) }

// ParseNCG parses a decimal string such as "12.34" or "12" into an NCG,
// rounding down to two decimal places per data-model invariant 4.
func ParseNCG(s string) (NCG, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, fmt.Errorf("amount: invalid decimal %q", s)
	}
	return ratToNCGFloor(r), nil
}

func ratToNCGFloor(r *big.Rat) NCG {
	scaled := new(big.Rat).Mul(r, big.NewRat(NCGScale, 1))
	num := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	// big.Int.Quo above truncates toward zero; for non-negative amounts
	// (the only ones the bridge ever handles) that is floor.
	return NCG(num.Int64())
}

// MulRatioFloor multiplies the decimal amount n represents by ratio and
// rounds the result down to two decimal places, returning the result as
// an integer count of hundredths. Used for fee = floor2(amount * feeRatio).
func (n NCG) MulRatioFloor(ratio float64) NCG {
	r := new(big.Rat).SetFloat64(ratio)
	if r == nil {
		return 0
	}
	// n is already expressed in hundredths, so n*ratio directly yields
	// the fee's hundredths value; only the fractional remainder (e.g. a
	// ratio with more than 2 decimal digits of precision) needs flooring.
	product := new(big.Rat).Mul(big.NewRat(int64(n), 1), r)
	q := new(big.Int).Quo(product.Num(), product.Denom())
	return NCG(q.Int64())
}

func (n NCG) Add(o NCG) NCG { return n + o }
func (n NCG) Sub(o NCG) NCG { return n - o }
func (n NCG) Cmp(o NCG) int {
	switch {
	case n < o:
		return -1
	case n > o:
		return 1
	default:
		return 0
	}
}
func (n NCG) IsZero() bool     { return n == 0 }
func (n NCG) IsNegative() bool { return n < 0 }

// String renders n with an explicit radix point, e.g. "12.34".
func (n NCG) String() string {
	neg := n < 0
	h := int64(n)
	if neg {
		h = -h
	}
	whole, frac := h/NCGScale, h%NCGScale
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%d.%02d", sign, whole, frac)
}

// ToWNCG converts an NCG amount to its base-unit wNCG representation by
// scaling from 10^-2 to 10^-18 (exact, no rounding: 10^16 is an integer
// multiplier).
func (n NCG) ToWNCG() WNCG {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(WNCGDecimals-2), nil)
	v := new(big.Int).Mul(big.NewInt(int64(n)), scale)
	u, _ := uint256.FromBig(v)
	return WNCG{inner: *u}
}

// WNCG is a wrapped-token amount in base units (10^-18), wide enough for
// any on-chain ERC-20 balance.
type WNCG struct {
	inner uint256.Int
}

// NewWNCGFromBaseUnits builds a WNCG from its raw base-unit integer.
func NewWNCGFromBaseUnits(v *uint256.Int) WNCG {
	if v == nil {
		return WNCG{}
	}
	return WNCG{inner: *v}
}

// ParseWNCGBaseUnits parses a base-10 string of base units, e.g. the
// value decoded from a Burn log topic.
func ParseWNCGBaseUnits(s string) (WNCG, error) {
	v, ok := new(uint256.Int).SetString(s)
	if !ok {
		return WNCG{}, fmt.Errorf("amount: invalid base-unit integer %q", s)
	}
	return WNCG{inner: *v}, nil
}

// Int returns the underlying *uint256.Int (never nil, safe to mutate a
// copy of, never the receiver's own field).
func (w WNCG) Int() *uint256.Int {
	v := w.inner
	return &v
}

func (w WNCG) IsZero() bool { return w.inner.IsZero() }

func (w WNCG) Cmp(o WNCG) int { return w.inner.Cmp(&o.inner) }

// ToNCG converts a base-unit wNCG amount down to NCG's 2-decimal scale,
// rounding DOWN per invariant 4.
func (w WNCG) ToNCG() NCG {
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(WNCGDecimals-2), nil)
	q := new(big.Int).Quo(w.inner.ToBig(), divisor)
	if !q.IsInt64() {
		// Values this large never occur for a bridge with a sane MAX
		// policy; clamp defensively rather than overflow silently.
		if q.Sign() > 0 {
			return NCG(1<<63 - 1)
		}
		return 0
	}
	return NCG(q.Int64())
}

// String renders the base-unit amount as a human wNCG decimal, e.g.
// "10.000000000000000000".
func (w WNCG) String() string {
	s := w.inner.ToBig().String()
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for len(s) <= WNCGDecimals {
		s = "0" + s
	}
	whole := s[:len(s)-WNCGDecimals]
	frac := s[len(s)-WNCGDecimals:]
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%s", sign, whole, frac)
}
