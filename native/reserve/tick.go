package reserve

import (
	"math/big"

	"github.com/shopspring/decimal"

	nativecommon "crestchain/native/common"
	"crestchain/native/fpmath"
)

// TickResult reports the outcome of a periodic recalibration.
type TickResult struct {
	Elapsed       uint64
	Drained       decimal.Decimal
	AccrualMinted *big.Int
	PriceAfter    decimal.Decimal
}

// Tick advances the engine clock to `now` and performs the time-driven
// recalibration: peg drainage, leverage-target refresh, leverage
// convergence, market-cap routing into bond accrual and price appreciation,
// and bear-duration bookkeeping. A tick with zero elapsed time or a
// negligible market cap is a pure clock advance.
func (e *Engine) Tick(now uint64) (*TickResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	s := e.state
	if now < s.LastUpdateTick {
		return nil, ErrClockRegression
	}
	res := &TickResult{AccrualMinted: big.NewInt(0), PriceAfter: s.Price}
	if now == s.LastUpdateTick {
		return res, nil
	}
	elapsed := decimal.NewFromInt(int64(now - s.LastUpdateTick))
	res.Elapsed = now - s.LastUpdateTick

	if s.Halted || s.MarketCap().LessThan(e.params.MinMarketCap) {
		s.LastUpdateTick = now
		s.LastBearUpdateTick = now
		return res, nil
	}

	demandRaw := e.demandScore()

	// 1. Drain surplus peg collateral into the slip pool.
	if s.PegPool.GreaterThan(s.PegFloorSafety) {
		res.Drained = e.drainPeg(elapsed, demandRaw)
	}

	// 2. Refresh the leverage target from bond participation.
	e.updateLeverageTarget()

	// 3. Converge the leverage cap toward its target.
	e.convergeLeverageCap(elapsed)

	// 4. Grow realised leverage toward the cap and route the market-cap
	// gain into bond accrual and price appreciation.
	res.AccrualMinted = e.growRealizedLeverage(elapsed)

	// 5. Refresh the peg thresholds against the moved pools.
	e.updatePegFloors()

	// 6. Advance the bear-duration counters and smooth the demand score.
	e.advanceBearClock(elapsed, demandRaw, now)
	e.smoothDemand(elapsed, demandRaw)

	s.LastUpdateTick = now
	res.PriceAfter = s.Price
	return res, nil
}

// demandScore is the raw peg strength relative to its target, in [0, 1].
func (e *Engine) demandScore() decimal.Decimal {
	s := e.state
	if s.PegTarget.Sign() <= 0 {
		return fpmath.One
	}
	return fpmath.Clamp(s.PegPool.Div(s.PegTarget), decimal.Zero, fpmath.One)
}

// drainPeg applies exponential decay of the peg pool toward its drain
// equilibrium and moves the drained amount into the slip pool exactly.
//
// The decay time constant is modulated by W = 1 - demand*(floor/peg): high
// demand shrinks W and accelerates drainage. Because the step is evaluated
// at discrete intervals, a too-coarse interval (the raw demand score jumped
// further down than a continuous decay could have moved it) falls back to
// the unmodulated decay driven by the smoothed score instead of the raw one.
func (e *Engine) drainPeg(elapsed, demandRaw decimal.Decimal) decimal.Decimal {
	s := e.state
	excess := s.PegPool.Sub(s.PegFloorDrain)
	if excess.Sign() <= 0 {
		return decimal.Zero
	}

	continuous := fpmath.One.Sub(fpmath.Exp(elapsed.Div(e.params.DrainTimeConstant).Neg()))
	maxDrop := s.DemandPrev.Mul(continuous)
	observedDrop := s.DemandPrev.Sub(demandRaw)

	score := demandRaw
	if observedDrop.GreaterThan(maxDrop) {
		score = s.DemandSmoothed
	}

	weight := fpmath.One.Sub(score.Mul(s.PegFloorDrain.Div(s.PegPool)))
	weight = fpmath.Clamp(weight, floorEpsilon, fpmath.One)

	factor := fpmath.Exp(elapsed.Div(e.params.DrainTimeConstant.Mul(weight)).Neg())
	retained := excess.Mul(factor)
	drained := excess.Sub(retained)

	s.PegPool = s.PegFloorDrain.Add(retained)
	s.SlipPool = s.SlipPool.Add(drained)
	return drained
}

// convergeLeverageCap moves K toward K_target. In conservative mode the cap
// shrinks exponentially without crossing the target or the realised
// leverage, leaving the market cap untouched. In growth mode the cap rises
// with a time constant stretched by how far above its genesis value the
// target sits.
func (e *Engine) convergeLeverageCap(elapsed decimal.Decimal) {
	s := e.state
	if s.BearActual.Sign() <= 0 {
		return
	}
	target := s.LeverageTarget
	switch {
	case target.LessThan(s.LeverageCap):
		decay := fpmath.Exp(elapsed.Div(s.BearActual).Neg())
		next := s.LeverageCap.Mul(decay)
		next = fpmath.Max(next, target)
		next = fpmath.Max(next, s.LeverageRealized)
		s.LeverageCap = next
	case target.GreaterThan(s.LeverageCap):
		tau := s.BearActual.Mul(target).Div(e.params.InitialLeverage)
		step := fpmath.One.Sub(fpmath.Exp(elapsed.Div(tau).Neg()))
		s.LeverageCap = s.LeverageCap.Add(target.Sub(s.LeverageCap).Mul(step))
		s.LeverageCap = fpmath.Min(s.LeverageCap, e.params.LeverageCeiling)
	}
	s.refreshEffectiveLeverage()
}

// growRealizedLeverage converges K_real toward K and splits the implied
// market-cap gain between freshly minted bond accrual (at most the
// configured share, prorated by bond participation) and pure price
// appreciation. Returns the minted accrual in base units.
func (e *Engine) growRealizedLeverage(elapsed decimal.Decimal) *big.Int {
	s := e.state
	minted := big.NewInt(0)
	if s.BearActual.Sign() <= 0 || s.Circulating.Sign() == 0 {
		return minted
	}
	gap := s.LeverageCap.Sub(s.LeverageRealized)
	if gap.Sign() <= 0 {
		return minted
	}
	step := fpmath.One.Sub(fpmath.Exp(elapsed.Div(s.BearActual).Neg()))
	krNext := s.LeverageRealized.Add(gap.Mul(step))
	gain := krNext.Sub(s.LeverageRealized).Mul(e.curveSlip())
	if gain.Sign() <= 0 {
		return minted
	}

	lockedRatio := decimal.Zero
	if s.SupplyWatermark.Sign() > 0 {
		lockedRatio = fpmath.FromBig(e.lockedSupply()).Div(fpmath.FromBig(s.SupplyWatermark))
		lockedRatio = fpmath.Clamp(lockedRatio, decimal.Zero, fpmath.One)
	}
	mintValue := gain.Mul(e.params.AccrualShareCap).Mul(lockedRatio)
	if e.token != nil && e.bonds != nil && mintValue.Sign() > 0 {
		mintUnits := fpmath.FloorBig(mintValue.Div(s.Price))
		if mintUnits.Sign() > 0 {
			if err := e.token.Mint(e.bondAddr, mintUnits); err == nil {
				e.bonds.Accrue(mintUnits)
				s.Circulating = new(big.Int).Add(s.Circulating, mintUnits)
				if s.SupplyWatermark.Cmp(s.Circulating) < 0 {
					s.SupplyWatermark = new(big.Int).Set(s.Circulating)
				}
				minted = mintUnits
			}
		}
	}

	s.LeverageRealized = krNext
	s.refreshEffectiveLeverage()

	// Re-derive the price from the market cap identity; whatever was not
	// minted appreciates the price. The peg only ratchets upward.
	circ := fpmath.FromBig(s.Circulating)
	if circ.Sign() > 0 {
		next := krNext.Mul(e.curveSlip()).Add(s.PegPool).Div(circ)
		if next.GreaterThan(s.Price) {
			if s.PegPool.Sign() > 0 {
				// Peg collateral pins price to the peg, so the peg moves.
				s.Price = next
				s.ATHPrice = next
			} else if next.GreaterThan(s.ATHPrice) {
				s.Price = s.ATHPrice
			} else {
				s.Price = next
			}
		}
		// Keep the curve consistent with the new price.
		if s.Price.Sign() > 0 {
			hyp := s.LeverageEffHigh.Mul(e.curveSlip()).Div(s.Price)
			s.Hypothetical = fpmath.Max(hyp, circ)
		}
	}
	return minted
}

// smoothDemand advances the exponential moving average of the demand score
// and records the raw score for the next discretization check.
func (e *Engine) smoothDemand(elapsed, demandRaw decimal.Decimal) {
	s := e.state
	step := fpmath.One.Sub(fpmath.Exp(elapsed.Div(e.params.DemandTimeConstant).Neg()))
	s.DemandSmoothed = s.DemandSmoothed.Add(demandRaw.Sub(s.DemandSmoothed).Mul(step))
	s.DemandPrev = demandRaw
}
