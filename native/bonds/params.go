package bonds

import (
	"errors"

	"github.com/shopspring/decimal"

	"crestchain/native/fpmath"
)

// Params groups the bond ledger calibration constants.
type Params struct {
	// MaturitySpan is the exponential decay time constant, in ticks, of
	// DECAY positions.
	MaturitySpan decimal.Decimal
	// PortionAtMaturity is the balance/original ratio at or below which a
	// DECAY position is fully redeemed and removed.
	PortionAtMaturity decimal.Decimal
	// MinEpochInterval is the minimum number of ticks between epoch
	// closures; earlier closure requests are silently ignored.
	MinEpochInterval uint64
}

// DefaultParams returns the calibration used by local networks and tests.
// The maturity portion is e^-2: a position matures after two maturity spans
// without intervening accrual.
func DefaultParams() Params {
	return Params{
		MaturitySpan:      fpmath.MustParse("20000"),
		PortionAtMaturity: fpmath.Exp(fpmath.MustParse("-2")),
		MinEpochInterval:  100,
	}
}

var (
	errMaturitySpan      = errors.New("bond params: maturity span must be positive")
	errPortionAtMaturity = errors.New("bond params: portion at maturity must lie in (0, 1)")
	errEpochInterval     = errors.New("bond params: min epoch interval must be positive")
)

// Validate ensures the parameter set is self-consistent.
func (p Params) Validate() error {
	if p.MaturitySpan.Sign() <= 0 {
		return errMaturitySpan
	}
	if p.PortionAtMaturity.Sign() <= 0 || p.PortionAtMaturity.GreaterThanOrEqual(fpmath.One) {
		return errPortionAtMaturity
	}
	if p.MinEpochInterval == 0 {
		return errEpochInterval
	}
	return nil
}
