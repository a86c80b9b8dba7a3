package reserve

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"crestchain/crypto"
	nativecommon "crestchain/native/common"
	"crestchain/native/fpmath"
)

// ModuleName identifies the engine to the operator pause switches.
const ModuleName = "reserve"

var (
	errNilState          = errors.New("reserve engine: state not configured")
	errNilToken          = errors.New("reserve engine: native unit ledger not configured")
	errNilCollateral     = errors.New("reserve engine: collateral asset not configured")
	errInvalidAmount     = errors.New("reserve engine: amount must be positive")
	ErrMarketHalted      = errors.New("reserve engine: market is halted, slip pool drained")
	ErrMarketNotOperable = errors.New("reserve engine: slip pool below operating threshold")
	ErrClockRegression   = errors.New("reserve engine: tick counter moved backwards")
)

// CollateralAsset is the reference collateral capability consumed by the
// engine. Transfers fail the whole calling operation when the holder lacks
// balance or authorisation.
type CollateralAsset interface {
	TransferIn(from crypto.Address, amount *big.Int) error
	TransferOut(to crypto.Address, amount *big.Int) error
	Decimals() uint8
}

// NativeUnit mints and burns the CREST token itself.
type NativeUnit interface {
	Mint(to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
}

// BondRegistry is the aggregate-only view of the bond ledger the engine
// consumes. The engine never touches individual positions.
type BondRegistry interface {
	TotalLocked() *big.Int
	Accrue(amount *big.Int)
}

// Engine owns the reserve state transitions: trading against the two
// collateral pools, leverage calibration and the periodic tick.
type Engine struct {
	state      *State
	params     Params
	token      NativeUnit
	collateral CollateralAsset
	bonds      BondRegistry
	bondAddr   crypto.Address
	pauses     nativecommon.PauseView
}

// NewEngine constructs a reserve engine over the provided state.
func NewEngine(state *State, params Params) *Engine {
	return &Engine{state: state, params: params}
}

// SetToken wires the native unit mint/burn capability.
func (e *Engine) SetToken(token NativeUnit) {
	if e == nil {
		return
	}
	e.token = token
}

// SetCollateral wires the collateral transfer capability.
func (e *Engine) SetCollateral(asset CollateralAsset) {
	if e == nil {
		return
	}
	e.collateral = asset
}

// SetBondRegistry wires the bond ledger aggregate view together with the
// module account that receives bond accrual mints.
func (e *Engine) SetBondRegistry(bonds BondRegistry, bondModule crypto.Address) {
	if e == nil {
		return
	}
	e.bonds = bonds
	e.bondAddr = bondModule
}

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// State exposes the engine state for persistence and queries.
func (e *Engine) State() *State {
	if e == nil {
		return nil
	}
	return e.state
}

// Params returns the engine calibration.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

// BuyResult reports the outcome of a buy.
type BuyResult struct {
	Minted     *big.Int
	SlipIn     decimal.Decimal
	PegIn      decimal.Decimal
	PriceAfter decimal.Decimal
	BearEnded  bool
	MajorBear  bool
}

// SellResult reports the outcome of a sell.
type SellResult struct {
	Payout     *big.Int
	PegOut     decimal.Decimal
	SlipOut    decimal.Decimal
	PriceAfter decimal.Decimal
	Halted     bool
}

// curveSlip is the slip collateral as seen by the bonding curve: the real
// pool plus the virtual bootstrap floor, which keeps curve ratios finite at
// an empty pool.
func (e *Engine) curveSlip() decimal.Decimal {
	return e.state.SlipPool.Add(e.params.BootstrapSlipFloor)
}

var leverageEpsilon = decimal.New(1, -12)

// Buy routes incoming collateral into the slip pool below the all-time-high
// price and into the peg pool at it, minting CREST against the
// constant-leverage bonding curve. The minted amount is returned.
func (e *Engine) Buy(buyer crypto.Address, amount *big.Int) (*BuyResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if e.token == nil {
		return nil, errNilToken
	}
	if e.collateral == nil {
		return nil, errNilCollateral
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	s := e.state
	if s.Halted {
		return nil, ErrMarketHalted
	}
	// A market trading below its peg with a nearly empty slip pool is not
	// operable; the bootstrap path (no supply yet) is exempt.
	if s.Price.LessThan(s.ATHPrice) && s.Circulating.Sign() > 0 &&
		s.SlipPool.LessThan(e.params.MinOperatingSlip) {
		return nil, ErrMarketNotOperable
	}

	if err := e.collateral.TransferIn(buyer, amount); err != nil {
		return nil, err
	}

	res := &BuyResult{Minted: big.NewInt(0)}
	remaining := fpmath.FromBig(amount)
	minted := decimal.Zero

	// Phase 1: slippage pricing along the bonding curve up to the point the
	// price reaches its all-time high.
	if s.Price.LessThan(s.ATHPrice) {
		applied, mintedCurve := e.applySlipBuy(remaining)
		res.SlipIn = applied
		minted = minted.Add(mintedCurve)
		remaining = remaining.Sub(applied)
	}

	// Phase 2: the remainder enters the peg pool 1:1 with zero slippage.
	if remaining.Sign() > 0 {
		mintedPeg := remaining.Div(s.ATHPrice)
		minted = minted.Add(mintedPeg)
		s.Hypothetical = s.Hypothetical.Add(mintedPeg)
		s.PegPool = s.PegPool.Add(remaining)
		res.PegIn = remaining
		res.BearEnded, res.MajorBear = e.raisePegTarget()
	}

	mintUnits := fpmath.FloorBig(minted)
	s.Circulating = new(big.Int).Add(s.Circulating, mintUnits)
	if s.SupplyWatermark.Cmp(s.Circulating) < 0 {
		s.SupplyWatermark = new(big.Int).Set(s.Circulating)
	}

	if res.SlipIn.Sign() > 0 {
		e.recomputeRealizedLeverage()
	}
	e.updateLeverageTarget()
	e.updatePegFloors()

	if mintUnits.Sign() > 0 {
		if err := e.token.Mint(buyer, mintUnits); err != nil {
			return nil, err
		}
	}
	res.Minted = mintUnits
	res.PriceAfter = s.Price
	return res, nil
}

// applySlipBuy moves up to `available` collateral onto the bonding curve and
// returns the applied amount together with the curve-minted supply. The
// price is clamped to the all-time high when the buy exactly reaches it.
func (e *Engine) applySlipBuy(available decimal.Decimal) (applied, minted decimal.Decimal) {
	s := e.state
	kx := s.LeverageEffHigh
	slipBefore := e.curveSlip()

	headroom, bounded := e.slipHeadroom(kx, slipBefore)
	applied = available
	reachesATH := false
	if bounded {
		if applied.GreaterThanOrEqual(headroom) {
			applied = headroom
			reachesATH = true
		}
	}
	if applied.Sign() <= 0 {
		return decimal.Zero, decimal.Zero
	}

	slipAfter := slipBefore.Add(applied)
	ratio := slipAfter.Div(slipBefore)
	growth, err := fpmath.Pow(ratio, fpmath.One.Div(kx))
	if err != nil {
		// ratio >= 1 by construction; an error here means the curve is
		// degenerate, so route nothing through it.
		return decimal.Zero, decimal.Zero
	}
	hypAfter := s.Hypothetical.Mul(growth)
	minted = hypAfter.Sub(s.Hypothetical)

	s.Hypothetical = hypAfter
	s.SlipPool = s.SlipPool.Add(applied)
	if reachesATH {
		s.Price = s.ATHPrice
	} else {
		s.Price = kx.Mul(slipAfter).Div(hypAfter)
		if s.Price.GreaterThan(s.ATHPrice) {
			s.Price = s.ATHPrice
		}
	}
	return applied, minted
}

// slipHeadroom computes how much additional curve collateral moves the price
// exactly to the all-time high: slip * (ath/price)^(K/(K-1)) - slip. The
// second return is false when the curve cannot reach the peg at all
// (leverage at or below one).
func (e *Engine) slipHeadroom(kx, slip decimal.Decimal) (decimal.Decimal, bool) {
	s := e.state
	if kx.LessThanOrEqual(fpmath.One.Add(leverageEpsilon)) {
		return decimal.Zero, false
	}
	if s.Price.Sign() <= 0 {
		return decimal.Zero, false
	}
	exponent := kx.Div(kx.Sub(fpmath.One))
	ratio := s.ATHPrice.Div(s.Price)
	scaled, err := fpmath.Pow(ratio, exponent)
	if err != nil {
		return decimal.Zero, false
	}
	headroom := slip.Mul(scaled).Sub(slip)
	if headroom.Sign() < 0 {
		headroom = decimal.Zero
	}
	return headroom, true
}

// Sell burns the amount first, spends the peg pool at the fixed peg price,
// then walks the inverse bonding curve. Exhausting the slip pool halts the
// market permanently.
func (e *Engine) Sell(seller crypto.Address, amount *big.Int) (*SellResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if e.token == nil {
		return nil, errNilToken
	}
	if e.collateral == nil {
		return nil, errNilCollateral
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	s := e.state
	if s.Halted {
		return nil, ErrMarketHalted
	}

	if err := e.token.Burn(seller, amount); err != nil {
		return nil, err
	}

	res := &SellResult{Payout: big.NewInt(0)}
	s.Circulating = new(big.Int).Sub(s.Circulating, amount)
	if s.Circulating.Sign() < 0 {
		s.Circulating = big.NewInt(0)
	}

	units := fpmath.FromBig(amount)
	payout := decimal.Zero

	// Phase 1: redeem against the peg pool at the fixed peg price.
	if s.PegPool.Sign() > 0 {
		pegUnits := fpmath.Min(units, s.PegPool.Div(s.Price))
		value := pegUnits.Mul(s.Price)
		if value.GreaterThan(s.PegPool) {
			value = s.PegPool
		}
		s.PegPool = s.PegPool.Sub(value)
		s.Hypothetical = s.Hypothetical.Sub(pegUnits)
		payout = payout.Add(value)
		res.PegOut = value
		units = units.Sub(pegUnits)
	}

	// Phase 2: walk the inverse bonding curve with the remainder.
	if units.Sign() > 0 {
		slipOut := e.applySlipSell(units)
		payout = payout.Add(slipOut)
		res.SlipOut = slipOut

		e.recordSelloff()
		e.recomputeRealizedLeverage()
	}

	if s.SlipPool.Sign() <= 0 && s.Price.LessThan(s.ATHPrice) {
		s.SlipPool = decimal.Zero
		s.Halted = true
		res.Halted = true
	}

	e.updateLeverageTarget()
	e.updatePegFloors()

	payoutUnits := fpmath.FloorBig(payout)
	if payoutUnits.Sign() > 0 {
		if err := e.collateral.TransferOut(seller, payoutUnits); err != nil {
			return nil, err
		}
	}
	res.Payout = payoutUnits
	res.PriceAfter = s.Price
	return res, nil
}

// applySlipSell removes `units` of supply along the inverse bonding curve
// and returns the collateral released from the slip pool.
func (e *Engine) applySlipSell(units decimal.Decimal) decimal.Decimal {
	s := e.state
	kx := s.LeverageEffHigh
	slipBefore := e.curveSlip()

	hypBefore := s.Hypothetical
	hypAfter := hypBefore.Sub(units)
	floorHyp := fpmath.FromBig(s.Circulating)
	if hypAfter.LessThan(floorHyp) {
		hypAfter = floorHyp
	}
	if hypAfter.Sign() <= 0 || hypBefore.Sign() <= 0 {
		// Curve fully unwound: everything left in the real pool pays out.
		released := s.SlipPool
		s.SlipPool = decimal.Zero
		s.Hypothetical = fpmath.Max(hypAfter, decimal.Zero)
		return released
	}

	shrink, err := fpmath.Pow(hypAfter.Div(hypBefore), kx)
	if err != nil {
		return decimal.Zero
	}
	slipAfter := slipBefore.Mul(shrink)
	released := slipBefore.Sub(slipAfter)
	if released.GreaterThan(s.SlipPool) {
		released = s.SlipPool
	}
	s.SlipPool = s.SlipPool.Sub(released)
	s.Hypothetical = hypAfter

	// price = K * reserve / hypothetical supply; the peg pool is already
	// exhausted on this branch so the reserve is the curve slip.
	s.Price = kx.Mul(e.curveSlip()).Div(hypAfter)
	if s.Price.GreaterThan(s.ATHPrice) {
		s.Price = s.ATHPrice
	}
	return released
}

// recordSelloff tracks the deepest supply drawdown of the current bear
// cycle, feeding the next major-episode recalibration.
func (e *Engine) recordSelloff() {
	s := e.state
	if s.SupplyWatermark.Sign() <= 0 {
		return
	}
	frac := fpmath.One.Sub(fpmath.FromBig(s.Circulating).Div(fpmath.FromBig(s.SupplyWatermark)))
	frac = fpmath.Clamp(frac, decimal.Zero, fpmath.One)
	if frac.GreaterThan(s.SelloffWatermark) {
		s.SelloffWatermark = frac
	}
}

// recomputeRealizedLeverage re-derives K_real from the market cap identity
// price*circulating = K_real*slip + peg, clamped into [1, K].
func (e *Engine) recomputeRealizedLeverage() {
	s := e.state
	slip := e.curveSlip()
	if slip.Sign() <= 0 {
		return
	}
	kr := s.MarketCap().Sub(s.PegPool).Div(slip)
	s.LeverageRealized = fpmath.Clamp(kr, fpmath.One, s.LeverageCap)
	s.refreshEffectiveLeverage()
}
