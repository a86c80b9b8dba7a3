package reserve

import (
	"github.com/shopspring/decimal"

	"crestchain/native/fpmath"
)

// inBearMarket reports whether a bear episode is running: the price trades
// below its peg or the peg pool sits under its target.
func (s *State) inBearMarket() bool {
	if s.Price.LessThan(s.ATHPrice) {
		return true
	}
	return s.PegPool.LessThan(s.PegTarget)
}

// endBearEpisode folds the accumulated bear duration and, when the episode
// ran at least as long as the current estimate (within the configured
// tolerance), reclassifies it as major and recalibrates the leverage cap
// from the observed selloff depth.
func (e *Engine) endBearEpisode() (ended, major bool) {
	s := e.state
	if s.BearCurrent.Sign() <= 0 {
		return false, false
	}
	duration := s.BearCurrent
	s.BearCurrent = decimal.Zero

	threshold := s.BearEstimate.Mul(fpmath.One.Sub(e.params.BearTolerance))
	if duration.LessThan(threshold) {
		return true, false
	}

	// Major episode: it becomes the new calibration basis.
	s.BearActual = duration
	s.BearEstimate = duration

	observed := fpmath.Clamp(s.SelloffWatermark, e.params.MinSelloffFraction(), s.MaxExpectedSelloff)
	s.SelloffWatermark = decimal.Zero
	if observed.Sign() > 0 {
		s.ExpectedSelloff = observed
		if lever, err := fpmath.Sqrt(fpmath.One.Div(observed)); err == nil {
			s.LeverageCap = fpmath.Min(lever, e.params.LeverageCeiling)
			s.LeverageCap = fpmath.Max(s.LeverageCap, s.LeverageRealized)
			s.LeverageTarget = fpmath.Max(s.LeverageTarget, s.LeverageCap)
		}
	}
	s.refreshEffectiveLeverage()
	return true, true
}

// advanceBearClock accrues bear duration over the elapsed ticks and relaxes
// or stretches the episode-length estimate. While under the estimate the
// estimate decays toward the running duration at a rate set by the demand
// score; once over it, both estimate and calibration basis are raised.
func (e *Engine) advanceBearClock(elapsed decimal.Decimal, demand decimal.Decimal, now uint64) {
	s := e.state
	if s.inBearMarket() {
		s.BearCurrent = s.BearCurrent.Add(elapsed)
	}

	switch {
	case s.BearCurrent.GreaterThan(s.BearEstimate):
		s.BearEstimate = s.BearCurrent
		s.BearActual = fpmath.Max(s.BearActual, s.BearCurrent)
	case demand.Sign() > 0 && s.BearActual.Sign() > 0:
		gap := s.BearEstimate.Sub(s.BearCurrent)
		decay := fpmath.Exp(elapsed.Mul(demand).Div(s.BearActual).Neg())
		s.BearEstimate = s.BearCurrent.Add(gap.Mul(decay))
	}
	s.LastBearUpdateTick = now
}
