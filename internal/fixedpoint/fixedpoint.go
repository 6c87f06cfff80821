// Package fixedpoint implements the signed 64.64 fixed-point numeraire type
// used by every pricing path. Values carry 64 integer bits and 64 fractional
// bits; operations whose integer part would leave the signed 64-bit range
// return ErrOverflow instead of wrapping. No floating point is used.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrOverflow     = errors.New("fixedpoint: integer part out of signed 64-bit range")
	ErrDivideByZero = errors.New("fixedpoint: division by zero")
)

const fracBits = 64

var (
	scale  = new(big.Int).Lsh(big.NewInt(1), fracBits)
	maxRaw = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minRaw = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Number is an immutable signed 64.64 fixed-point value. The zero value is
// usable and equals 0.
type Number struct {
	raw *big.Int
}

// Zero returns the fixed-point zero.
func Zero() Number {
	return Number{raw: new(big.Int)}
}

// One returns the fixed-point one.
func One() Number {
	return Number{raw: new(big.Int).Set(scale)}
}

// Epsilon returns the smallest positive value, one fractional unit. Used to
// bias rounding against the depositor on raw conversions.
func Epsilon() Number {
	return Number{raw: big.NewInt(1)}
}

// FromInt converts a signed integer to fixed point.
func FromInt(v int64) Number {
	return Number{raw: new(big.Int).Lsh(big.NewInt(v), fracBits)}
}

// FromRatio returns num/den as a fixed-point value. The division truncates
// toward zero, matching the rounding of every other pricing step.
func FromRatio(num, den *big.Int) (Number, error) {
	if den == nil || den.Sign() == 0 {
		return Number{}, ErrDivideByZero
	}
	raw := new(big.Int).Lsh(new(big.Int).Set(num), fracBits)
	raw.Quo(raw, den)
	return checked(raw)
}

func checked(raw *big.Int) (Number, error) {
	if raw.Cmp(maxRaw) > 0 || raw.Cmp(minRaw) < 0 {
		return Number{}, ErrOverflow
	}
	return Number{raw: raw}, nil
}

func (n Number) rawVal() *big.Int {
	if n.raw == nil {
		return new(big.Int)
	}
	return n.raw
}

// Int truncates toward zero and returns the integer part.
func (n Number) Int() int64 {
	q := new(big.Int).Quo(n.rawVal(), scale)
	return q.Int64()
}

// BigInt truncates toward zero and returns the integer part as a big.Int.
func (n Number) BigInt() *big.Int {
	return new(big.Int).Quo(n.rawVal(), scale)
}

// MulBig multiplies the fixed-point value by an arbitrary-precision integer
// and returns the integer result, truncated toward zero. Products are exact
// until the final shift, so truncation error is at most one unit.
func (n Number) MulBig(v *big.Int) *big.Int {
	p := new(big.Int).Mul(n.rawVal(), v)
	return p.Quo(p, scale)
}

// Mul returns the fixed-point product n*m.
func (n Number) Mul(m Number) (Number, error) {
	p := new(big.Int).Mul(n.rawVal(), m.rawVal())
	p.Quo(p, scale)
	return checked(p)
}

// Add returns n+m.
func (n Number) Add(m Number) (Number, error) {
	return checked(new(big.Int).Add(n.rawVal(), m.rawVal()))
}

// Sub returns n-m.
func (n Number) Sub(m Number) (Number, error) {
	return checked(new(big.Int).Sub(n.rawVal(), m.rawVal()))
}

// Reciprocal returns 1/n.
func (n Number) Reciprocal() (Number, error) {
	if n.rawVal().Sign() == 0 {
		return Number{}, ErrDivideByZero
	}
	raw := new(big.Int).Lsh(scale, fracBits)
	raw.Quo(raw, n.rawVal())
	return checked(raw)
}

// MulDiv returns a*b/c with a single truncation at the end, keeping the
// intermediate product exact.
func MulDiv(a, b, c Number) (Number, error) {
	if c.rawVal().Sign() == 0 {
		return Number{}, ErrDivideByZero
	}
	p := new(big.Int).Mul(a.rawVal(), b.rawVal())
	p.Quo(p, c.rawVal())
	return checked(p)
}

// Cmp compares n and m, returning -1, 0, or 1.
func (n Number) Cmp(m Number) int {
	return n.rawVal().Cmp(m.rawVal())
}

// Sign reports the sign of n.
func (n Number) Sign() int {
	return n.rawVal().Sign()
}

// Raw returns a copy of the underlying 128-bit representation. Exposed for
// persistence and wire encoding only.
func (n Number) Raw() *big.Int {
	return new(big.Int).Set(n.rawVal())
}

// FromRaw rebuilds a Number from its Raw representation.
func FromRaw(raw *big.Int) (Number, error) {
	if raw == nil {
		return Zero(), nil
	}
	return checked(new(big.Int).Set(raw))
}

// String renders the value as a decimal with up to 18 fractional digits,
// for logs and CLI output.
func (n Number) String() string {
	r := new(big.Rat).SetFrac(n.rawVal(), scale)
	s := r.FloatString(18)
	return trimZeros(s)
}

func trimZeros(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}

// Parse converts a decimal string (e.g. "200", "0.5") to fixed point.
func Parse(s string) (Number, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Number{}, fmt.Errorf("fixedpoint: invalid decimal %q", s)
	}
	return FromRatio(r.Num(), r.Denom())
}
