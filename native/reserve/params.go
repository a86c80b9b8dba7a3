package reserve

import (
	"errors"

	"github.com/shopspring/decimal"

	"crestchain/native/fpmath"
)

// Params groups the governance-controlled calibration constants of the
// reserve engine. All real-valued entries are decimals so the engine never
// touches binary floating point.
type Params struct {
	// LeverageCeiling is the hard upper bound for the leverage cap K.
	LeverageCeiling decimal.Decimal
	// InitialLeverage seeds K at genesis and acts as the K0 reference when
	// scaling leverage growth time constants.
	InitialLeverage decimal.Decimal
	// BootstrapSlipFloor is the virtual slip collateral the bonding curve is
	// anchored on. It stands in for old_slip when the real pool is empty and
	// keeps curve ratios finite.
	BootstrapSlipFloor decimal.Decimal
	// MinOperatingSlip is the smallest real slip pool at which buys are
	// accepted while the price sits below its all-time high.
	MinOperatingSlip decimal.Decimal
	// MaxExpectedSelloff caps the expected selloff fraction used for
	// leverage calibration.
	MaxExpectedSelloff decimal.Decimal
	// BearTolerance is the relative shortfall still counted as a full-length
	// ("major") bear episode when compared against the current estimate.
	BearTolerance decimal.Decimal
	// InitialBearLength seeds both the actual and the estimated bear-market
	// duration, in ticks.
	InitialBearLength decimal.Decimal
	// DrainTimeConstant is the base time constant, in ticks, of the peg pool
	// exponential drain.
	DrainTimeConstant decimal.Decimal
	// DemandTimeConstant is the smoothing time constant, in ticks, of the
	// demand score moving average.
	DemandTimeConstant decimal.Decimal
	// AccrualShareCap bounds the share of a market-cap gain that may be
	// minted for bond accrual. The remainder becomes price appreciation.
	AccrualShareCap decimal.Decimal
	// MinMarketCap is the market capitalisation below which Tick degrades to
	// a pure clock advance.
	MinMarketCap decimal.Decimal
}

// DefaultParams returns the calibration used by local networks and tests.
func DefaultParams() Params {
	return Params{
		LeverageCeiling:    fpmath.MustParse("10"),
		InitialLeverage:    fpmath.MustParse("1.3"),
		BootstrapSlipFloor: fpmath.MustParse("1000"),
		MinOperatingSlip:   fpmath.MustParse("1"),
		MaxExpectedSelloff: fpmath.MustParse("0.95"),
		BearTolerance:      fpmath.MustParse("0.05"),
		InitialBearLength:  fpmath.MustParse("10000"),
		DrainTimeConstant:  fpmath.MustParse("5000"),
		DemandTimeConstant: fpmath.MustParse("1000"),
		AccrualShareCap:    fpmath.MustParse("0.5"),
		MinMarketCap:       fpmath.MustParse("1"),
	}
}

var (
	errCeilingTooLow      = errors.New("reserve params: leverage ceiling must exceed 1")
	errInitialLeverageOOB = errors.New("reserve params: initial leverage must lie in [1, ceiling]")
	errBootstrapFloor     = errors.New("reserve params: bootstrap slip floor must be positive")
	errMinOperatingSlip   = errors.New("reserve params: min operating slip must not be negative")
	errMaxSelloffOOB      = errors.New("reserve params: max expected selloff must lie in (0, 1]")
	errBearToleranceOOB   = errors.New("reserve params: bear tolerance must lie in [0, 1)")
	errBearLength         = errors.New("reserve params: initial bear length must be positive")
	errTimeConstant       = errors.New("reserve params: time constants must be positive")
	errAccrualShareOOB    = errors.New("reserve params: accrual share cap must lie in [0, 0.5]")
)

// Validate ensures the parameter set is self-consistent.
func (p Params) Validate() error {
	one := fpmath.One
	if p.LeverageCeiling.LessThanOrEqual(one) {
		return errCeilingTooLow
	}
	if p.InitialLeverage.LessThan(one) || p.InitialLeverage.GreaterThan(p.LeverageCeiling) {
		return errInitialLeverageOOB
	}
	if p.BootstrapSlipFloor.Sign() <= 0 {
		return errBootstrapFloor
	}
	if p.MinOperatingSlip.Sign() < 0 {
		return errMinOperatingSlip
	}
	if p.MaxExpectedSelloff.Sign() <= 0 || p.MaxExpectedSelloff.GreaterThan(one) {
		return errMaxSelloffOOB
	}
	if p.BearTolerance.Sign() < 0 || p.BearTolerance.GreaterThanOrEqual(one) {
		return errBearToleranceOOB
	}
	if p.InitialBearLength.Sign() <= 0 {
		return errBearLength
	}
	if p.DrainTimeConstant.Sign() <= 0 || p.DemandTimeConstant.Sign() <= 0 {
		return errTimeConstant
	}
	if p.AccrualShareCap.Sign() < 0 || p.AccrualShareCap.GreaterThan(decimal.New(5, -1)) {
		return errAccrualShareOOB
	}
	return nil
}

// MinSelloffFraction is the floor the leverage ceiling implies for the
// expected selloff fraction (1/ceiling^2).
func (p Params) MinSelloffFraction() decimal.Decimal {
	sq := p.LeverageCeiling.Mul(p.LeverageCeiling)
	return fpmath.One.Div(sq)
}
