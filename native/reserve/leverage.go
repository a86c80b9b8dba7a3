package reserve

import (
	"math/big"

	"github.com/shopspring/decimal"

	"crestchain/native/fpmath"
)

// lockedSupply reads the bond ledger aggregate. The engine deliberately has
// no access to individual positions, keeping this O(1).
func (e *Engine) lockedSupply() *big.Int {
	if e.bonds == nil {
		return big.NewInt(0)
	}
	locked := e.bonds.TotalLocked()
	if locked == nil {
		return big.NewInt(0)
	}
	return locked
}

// updateLeverageTarget re-derives the expected selloff fraction from bond
// participation and the realised drawdown, then sets
// K_target = sqrt(1/expected_selloff).
func (e *Engine) updateLeverageTarget() {
	s := e.state

	esf := fpmath.One
	if s.SupplyWatermark.Sign() > 0 {
		hwm := fpmath.FromBig(s.SupplyWatermark)
		lockedFrac := fpmath.FromBig(e.lockedSupply()).Div(hwm)
		circFrac := fpmath.FromBig(s.Circulating).Div(hwm)
		esf = fpmath.Max(fpmath.One.Sub(lockedFrac), fpmath.One.Sub(circFrac))
	}
	esf = fpmath.Clamp(esf, e.params.MinSelloffFraction(), s.MaxExpectedSelloff)
	s.ExpectedSelloff = esf

	target, err := fpmath.Sqrt(fpmath.One.Div(esf))
	if err == nil {
		s.LeverageTarget = fpmath.Min(target, e.params.LeverageCeiling)
	}
	s.refreshEffectiveLeverage()
}

// floorEpsilon guards the peg floor denominators when the effective
// leverage degenerates toward one.
var floorEpsilon = decimal.New(1, -6)

// updatePegFloors re-derives the two peg equilibrium levels:
// safety = Kx*slip/(Ky^2-1) and drain = Kx*reserve/(Ky^2+Kx-1).
func (e *Engine) updatePegFloors() {
	s := e.state
	kx := s.LeverageEffHigh
	ky := s.LeverageEffLow

	safetyDenom := fpmath.Max(ky.Mul(ky).Sub(fpmath.One), floorEpsilon)
	drainDenom := fpmath.Max(ky.Mul(ky).Add(kx).Sub(fpmath.One), floorEpsilon)

	s.PegFloorSafety = kx.Mul(s.SlipPool).Div(safetyDenom)
	s.PegFloorDrain = kx.Mul(s.Reserve()).Div(drainDenom)
	s.PegTarget = s.PegFloorSafety.Add(s.ATHPegPadding)
}

// raisePegTarget records a new peg-pool high-water mark over the safety
// floor. A rising peg target ends the running bear-market episode; the
// returns report whether an episode ended and whether it was a major one.
func (e *Engine) raisePegTarget() (ended, major bool) {
	s := e.state
	excess := s.PegPool.Sub(s.PegFloorSafety)
	if excess.GreaterThan(s.ATHPegPadding) {
		s.ATHPegPadding = excess
	}
	next := s.PegFloorSafety.Add(s.ATHPegPadding)
	if next.GreaterThan(s.PegTarget) {
		s.PegTarget = next
		return e.endBearEpisode()
	}
	return false, false
}
