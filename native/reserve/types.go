package reserve

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"crestchain/native/fpmath"
)

// State is the single process-wide reserve/AMM state. Supply quantities are
// integers in base units; prices, pools and leverage values are decimals
// carried at fpmath.Precision.
type State struct {
	// Price is the current CREST price in collateral base units. ATHPrice is
	// its monotonically non-decreasing peg.
	Price    decimal.Decimal
	ATHPrice decimal.Decimal

	// Circulating is the minted supply; Hypothetical is the bonding-curve
	// supply, always >= Circulating. Hypothetical is carried as a decimal so
	// curve powers do not compound integer truncation.
	Circulating  *big.Int
	Hypothetical decimal.Decimal

	// SlipPool and PegPool are the two collateral sub-reserves. Their sum is
	// the reserve. The bonding curve additionally sees the virtual bootstrap
	// floor on top of SlipPool.
	SlipPool decimal.Decimal
	PegPool  decimal.Decimal

	// LeverageCap (K), LeverageRealized (K_real <= K) and LeverageTarget
	// (K_target), plus the derived effective pair Ky = min(K, K_target) and
	// Kx = max(K_real, Ky).
	LeverageCap      decimal.Decimal
	LeverageRealized decimal.Decimal
	LeverageTarget   decimal.Decimal
	LeverageEffLow   decimal.Decimal
	LeverageEffHigh  decimal.Decimal

	// ExpectedSelloff and its calibration inputs, all fractions in [0, 1].
	ExpectedSelloff    decimal.Decimal
	MaxExpectedSelloff decimal.Decimal
	SelloffWatermark   decimal.Decimal

	// Peg safety thresholds derived from the leverage pair.
	PegFloorSafety decimal.Decimal
	PegFloorDrain  decimal.Decimal
	ATHPegPadding  decimal.Decimal
	PegTarget      decimal.Decimal

	// Bear-market duration bookkeeping, in tick units.
	BearActual   decimal.Decimal
	BearCurrent  decimal.Decimal
	BearEstimate decimal.Decimal

	// Demand score state used by peg drainage: the exponentially smoothed
	// score and the raw score observed at the previous tick.
	DemandSmoothed decimal.Decimal
	DemandPrev     decimal.Decimal

	// SupplyWatermark is the largest circulating supply ever observed.
	SupplyWatermark *big.Int

	// Halted marks the terminal operating condition reached when a sell
	// fully exhausts the slip pool.
	Halted bool

	LastUpdateTick     uint64
	LastBearUpdateTick uint64
}

// NewState initialises genesis reserve state. The all-time-high price may
// sit above the initial price, leaving headroom for the bootstrap phase to
// trade along the bonding curve.
func NewState(params Params, initialPrice, athPrice decimal.Decimal) *State {
	if athPrice.LessThan(initialPrice) {
		athPrice = initialPrice
	}
	s := &State{
		Price:              initialPrice,
		ATHPrice:           athPrice,
		Circulating:        big.NewInt(0),
		Hypothetical:       decimal.Zero,
		SlipPool:           decimal.Zero,
		PegPool:            decimal.Zero,
		LeverageCap:        params.InitialLeverage,
		LeverageRealized:   fpmath.One,
		LeverageTarget:     params.InitialLeverage,
		ExpectedSelloff:    params.MaxExpectedSelloff,
		MaxExpectedSelloff: params.MaxExpectedSelloff,
		SelloffWatermark:   decimal.Zero,
		BearActual:         params.InitialBearLength,
		BearCurrent:        decimal.Zero,
		BearEstimate:       params.InitialBearLength,
		DemandSmoothed:     decimal.Zero,
		DemandPrev:         decimal.Zero,
		SupplyWatermark:    big.NewInt(0),
	}
	// Seed the hypothetical supply so the virtual bootstrap floor prices the
	// very first buy at the initial price: price = K * floor / hyp.
	s.Hypothetical = params.InitialLeverage.Mul(params.BootstrapSlipFloor).Div(initialPrice)
	s.refreshEffectiveLeverage()
	return s
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Circulating = new(big.Int).Set(s.Circulating)
	clone.SupplyWatermark = new(big.Int).Set(s.SupplyWatermark)
	return &clone
}

// Reserve is the total collateral backing the system.
func (s *State) Reserve() decimal.Decimal {
	return s.SlipPool.Add(s.PegPool)
}

// MarketCap is the circulating supply valued at the current price.
func (s *State) MarketCap() decimal.Decimal {
	return s.Price.Mul(fpmath.FromBig(s.Circulating))
}

// RefreshDerived recomputes the effective leverage pair. Callers rebuilding
// state from persistence use it after filling the stored fields.
func (s *State) RefreshDerived() {
	s.refreshEffectiveLeverage()
}

func (s *State) refreshEffectiveLeverage() {
	s.LeverageEffLow = fpmath.Min(s.LeverageCap, s.LeverageTarget)
	s.LeverageEffHigh = fpmath.Max(s.LeverageRealized, s.LeverageEffLow)
}

// invariantTolerance absorbs the final rounding step of decimal powers.
var invariantTolerance = decimal.New(1, -24)

// CheckInvariants verifies the structural invariants that must hold after
// every public operation. It is used by the property tests and the
// simulator, never on the hot path.
func (s *State) CheckInvariants() error {
	if s == nil {
		return fmt.Errorf("reserve state: nil")
	}
	if !s.LeverageEffLow.Equal(fpmath.Min(s.LeverageCap, s.LeverageTarget)) {
		return fmt.Errorf("reserve state: Ky != min(K, K_target)")
	}
	if !s.LeverageEffHigh.Equal(fpmath.Max(s.LeverageRealized, s.LeverageEffLow)) {
		return fmt.Errorf("reserve state: Kx != max(K_real, Ky)")
	}
	if s.SlipPool.Sign() < 0 || s.PegPool.Sign() < 0 {
		return fmt.Errorf("reserve state: negative pool (slip=%s peg=%s)", s.SlipPool, s.PegPool)
	}
	if s.Hypothetical.Add(invariantTolerance).LessThan(fpmath.FromBig(s.Circulating)) {
		return fmt.Errorf("reserve state: hypothetical supply %s below circulating %s", s.Hypothetical, s.Circulating)
	}
	if s.LeverageRealized.GreaterThan(s.LeverageCap.Add(invariantTolerance)) {
		return fmt.Errorf("reserve state: K_real %s above K %s", s.LeverageRealized, s.LeverageCap)
	}
	if s.PegPool.Sign() > 0 && !s.Price.Sub(s.ATHPrice).Abs().LessThan(invariantTolerance) {
		return fmt.Errorf("reserve state: peg pool %s held while price %s != ath %s", s.PegPool, s.Price, s.ATHPrice)
	}
	if s.Price.GreaterThan(s.ATHPrice.Add(invariantTolerance)) {
		return fmt.Errorf("reserve state: price %s above ath %s", s.Price, s.ATHPrice)
	}
	return nil
}
