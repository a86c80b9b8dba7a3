package reserve

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"crestchain/crypto"
	nativecommon "crestchain/native/common"
	"crestchain/native/fpmath"
)

type mockCollateral struct {
	balances map[string]*big.Int
	pool     *big.Int
}

func newMockCollateral() *mockCollateral {
	return &mockCollateral{balances: make(map[string]*big.Int), pool: big.NewInt(0)}
}

func (m *mockCollateral) fund(addr crypto.Address, amount int64) {
	m.balances[addr.String()] = big.NewInt(amount)
}

func (m *mockCollateral) balance(addr crypto.Address) *big.Int {
	if bal, ok := m.balances[addr.String()]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (m *mockCollateral) TransferIn(from crypto.Address, amount *big.Int) error {
	bal := m.balance(from)
	if bal.Cmp(amount) < 0 {
		return errors.New("mock collateral: insufficient balance")
	}
	m.balances[from.String()] = bal.Sub(bal, amount)
	m.pool.Add(m.pool, amount)
	return nil
}

func (m *mockCollateral) TransferOut(to crypto.Address, amount *big.Int) error {
	if m.pool.Cmp(amount) < 0 {
		return errors.New("mock collateral: reserve overdrawn")
	}
	m.pool.Sub(m.pool, amount)
	bal := m.balance(to)
	m.balances[to.String()] = bal.Add(bal, amount)
	return nil
}

func (m *mockCollateral) Decimals() uint8 { return 6 }

type mockUnit struct {
	balances map[string]*big.Int
	supply   *big.Int
}

func newMockUnit() *mockUnit {
	return &mockUnit{balances: make(map[string]*big.Int), supply: big.NewInt(0)}
}

func (m *mockUnit) balance(addr crypto.Address) *big.Int {
	if bal, ok := m.balances[addr.String()]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (m *mockUnit) Mint(to crypto.Address, amount *big.Int) error {
	bal := m.balance(to)
	m.balances[to.String()] = bal.Add(bal, amount)
	m.supply.Add(m.supply, amount)
	return nil
}

func (m *mockUnit) Burn(from crypto.Address, amount *big.Int) error {
	bal := m.balance(from)
	if bal.Cmp(amount) < 0 {
		return errors.New("mock unit: insufficient balance")
	}
	m.balances[from.String()] = bal.Sub(bal, amount)
	m.supply.Sub(m.supply, amount)
	return nil
}

type mockBonds struct {
	locked  *big.Int
	accrued *big.Int
}

func newMockBonds(locked int64) *mockBonds {
	return &mockBonds{locked: big.NewInt(locked), accrued: big.NewInt(0)}
}

func (m *mockBonds) TotalLocked() *big.Int { return new(big.Int).Set(m.locked) }

func (m *mockBonds) Accrue(amount *big.Int) { m.accrued.Add(m.accrued, amount) }

func testAddr(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[crypto.AddressLength-1] = b
	return crypto.MustNewAddress(crypto.CrestPrefix, raw)
}

func newTestEngine(t *testing.T, state *State) (*Engine, *mockCollateral, *mockUnit) {
	t.Helper()
	engine := NewEngine(state, DefaultParams())
	collateral := newMockCollateral()
	unit := newMockUnit()
	engine.SetCollateral(collateral)
	engine.SetToken(unit)
	return engine, collateral, unit
}

func requireDecimalNear(t *testing.T, want, got decimal.Decimal) {
	t.Helper()
	tolerance := decimal.New(1, -20)
	require.True(t, want.Sub(got).Abs().LessThanOrEqual(tolerance), "want %s got %s", want, got)
}

func TestBootstrapBuyWalksCurve(t *testing.T) {
	params := DefaultParams()
	state := NewState(params, fpmath.One, fpmath.MustParse("2"))
	engine, collateral, unit := newTestEngine(t, state)
	buyer := testAddr(1)
	collateral.fund(buyer, 10_000)

	res, err := engine.Buy(buyer, big.NewInt(1_000))
	require.NoError(t, err)

	requireDecimalNear(t, decimal.NewFromInt(1_000), res.SlipIn)
	require.True(t, res.PegIn.IsZero())
	requireDecimalNear(t, decimal.NewFromInt(1_000), state.SlipPool)
	require.True(t, state.PegPool.IsZero())

	// Doubling the curve collateral grows supply by 2^(1/K).
	growth, err := fpmath.Pow(fpmath.MustParse("2"), fpmath.One.Div(params.InitialLeverage))
	require.NoError(t, err)
	hyp0 := params.InitialLeverage.Mul(params.BootstrapSlipFloor)
	wantMint := fpmath.FloorBig(hyp0.Mul(growth.Sub(fpmath.One)))
	require.Equal(t, wantMint, res.Minted)
	require.True(t, res.Minted.Cmp(big.NewInt(900)) > 0 && res.Minted.Cmp(big.NewInt(930)) < 0,
		"minted %s", res.Minted)

	require.True(t, state.Price.GreaterThan(fpmath.One))
	require.True(t, state.Price.LessThan(state.ATHPrice))
	require.Equal(t, res.Minted, unit.balance(buyer))
	require.Equal(t, big.NewInt(1_000), collateral.pool)
	require.NoError(t, state.CheckInvariants())
}

func TestBuyAtPegFillsPegPool(t *testing.T) {
	state := NewState(DefaultParams(), fpmath.One, fpmath.One)
	engine, collateral, unit := newTestEngine(t, state)
	buyer := testAddr(1)
	collateral.fund(buyer, 10_000)

	res, err := engine.Buy(buyer, big.NewInt(500))
	require.NoError(t, err)

	require.True(t, res.SlipIn.IsZero())
	requireDecimalNear(t, decimal.NewFromInt(500), res.PegIn)
	requireDecimalNear(t, decimal.NewFromInt(500), state.PegPool)
	require.Equal(t, big.NewInt(500), res.Minted)
	require.True(t, state.Price.Equal(state.ATHPrice))
	require.Positive(t, state.PegTarget.Sign())
	require.Equal(t, big.NewInt(500), unit.balance(buyer))
	require.NoError(t, state.CheckInvariants())
}

func TestBuyCrossingPegSplitsExactlyAtATH(t *testing.T) {
	params := DefaultParams()
	state := NewState(params, fpmath.One, fpmath.MustParse("1.1"))
	engine, collateral, _ := newTestEngine(t, state)
	buyer := testAddr(1)
	collateral.fund(buyer, 10_000)

	res, err := engine.Buy(buyer, big.NewInt(1_000))
	require.NoError(t, err)

	require.Positive(t, res.SlipIn.Sign())
	require.Positive(t, res.PegIn.Sign())
	requireDecimalNear(t, decimal.NewFromInt(1_000), res.SlipIn.Add(res.PegIn))

	// The curve leg lands exactly on the peg, not asymptotically near it.
	require.True(t, state.Price.Equal(state.ATHPrice), "price %s ath %s", state.Price, state.ATHPrice)
	requireDecimalNear(t, res.PegIn, state.PegPool)
	require.NoError(t, state.CheckInvariants())
}

func TestBuyRejectedBelowOperatingSlip(t *testing.T) {
	state := NewState(DefaultParams(), fpmath.One, fpmath.MustParse("2"))
	state.Circulating = big.NewInt(100)
	state.SupplyWatermark = big.NewInt(100)
	engine, collateral, _ := newTestEngine(t, state)
	buyer := testAddr(1)
	collateral.fund(buyer, 1_000)

	_, err := engine.Buy(buyer, big.NewInt(100))
	require.ErrorIs(t, err, ErrMarketNotOperable)
	require.Equal(t, big.NewInt(1_000), collateral.balance(buyer))
}

func TestSellRedeemsPegBeforeCurve(t *testing.T) {
	state := NewState(DefaultParams(), fpmath.One, fpmath.One)
	engine, collateral, unit := newTestEngine(t, state)
	buyer := testAddr(1)
	collateral.fund(buyer, 10_000)

	_, err := engine.Buy(buyer, big.NewInt(1_000))
	require.NoError(t, err)

	res, err := engine.Sell(buyer, big.NewInt(400))
	require.NoError(t, err)

	requireDecimalNear(t, decimal.NewFromInt(400), res.PegOut)
	require.True(t, res.SlipOut.IsZero())
	require.Equal(t, big.NewInt(400), res.Payout)
	requireDecimalNear(t, decimal.NewFromInt(600), state.PegPool)
	require.True(t, state.Price.Equal(state.ATHPrice))
	require.Equal(t, big.NewInt(600), unit.balance(buyer))
	require.Equal(t, big.NewInt(9_400), collateral.balance(buyer))
	require.NoError(t, state.CheckInvariants())
}

func TestRoundTripNeverCreatesValue(t *testing.T) {
	state := NewState(DefaultParams(), fpmath.One, fpmath.MustParse("2"))
	engine, collateral, unit := newTestEngine(t, state)
	buyer := testAddr(1)
	collateral.fund(buyer, 10_000)

	res, err := engine.Buy(buyer, big.NewInt(1_000))
	require.NoError(t, err)

	sellRes, err := engine.Sell(buyer, res.Minted)
	require.NoError(t, err)

	require.True(t, sellRes.Payout.Cmp(big.NewInt(1_000)) <= 0, "payout %s", sellRes.Payout)
	require.Zero(t, unit.balance(buyer).Sign())
	require.Zero(t, state.Circulating.Sign())
	require.NoError(t, state.CheckInvariants())
}

func TestSellExhaustingSlipHaltsMarket(t *testing.T) {
	params := DefaultParams()
	state := NewState(params, fpmath.MustParse("1.2"), fpmath.MustParse("2"))
	state.Circulating = big.NewInt(500)
	state.SupplyWatermark = big.NewInt(500)
	state.Hypothetical = fpmath.MustParse("1306")
	state.SlipPool = fpmath.MustParse("5")
	state.LeverageRealized = params.InitialLeverage
	state.refreshEffectiveLeverage()
	engine, collateral, unit := newTestEngine(t, state)
	seller := testAddr(1)
	require.NoError(t, unit.Mint(seller, big.NewInt(500)))
	collateral.pool = big.NewInt(1_000)

	res, err := engine.Sell(seller, big.NewInt(400))
	require.NoError(t, err)
	require.True(t, res.Halted)
	require.True(t, state.Halted)
	require.True(t, state.SlipPool.IsZero())

	// Terminal condition: trading is over for good.
	_, err = engine.Buy(seller, big.NewInt(100))
	require.ErrorIs(t, err, ErrMarketHalted)
	_, err = engine.Sell(seller, big.NewInt(10))
	require.ErrorIs(t, err, ErrMarketHalted)

	// Ticks still advance the clock without touching the market.
	tickRes, err := engine.Tick(500)
	require.NoError(t, err)
	require.True(t, tickRes.Drained.IsZero())
	require.Zero(t, tickRes.AccrualMinted.Sign())
	require.Equal(t, uint64(500), state.LastUpdateTick)
}

func TestTickClockSemantics(t *testing.T) {
	state := NewState(DefaultParams(), fpmath.One, fpmath.One)
	engine, collateral, _ := newTestEngine(t, state)
	buyer := testAddr(1)
	collateral.fund(buyer, 10_000)
	_, err := engine.Buy(buyer, big.NewInt(1_000))
	require.NoError(t, err)

	_, err = engine.Tick(100)
	require.NoError(t, err)

	// Same tick twice: a pure no-op, not an error.
	before := state.Clone()
	res, err := engine.Tick(100)
	require.NoError(t, err)
	require.Zero(t, res.Elapsed)
	require.True(t, before.PegPool.Equal(state.PegPool))
	require.True(t, before.Price.Equal(state.Price))

	_, err = engine.Tick(50)
	require.ErrorIs(t, err, ErrClockRegression)
}

func TestTickDrainsPegIntoSlip(t *testing.T) {
	params := DefaultParams()
	state := NewState(params, fpmath.One, fpmath.One)
	state.Circulating = big.NewInt(20_000)
	state.SupplyWatermark = big.NewInt(20_000)
	state.Hypothetical = decimal.NewFromInt(20_000)
	state.SlipPool = decimal.NewFromInt(2_000)
	state.PegPool = decimal.NewFromInt(10_000)
	state.PegFloorSafety = decimal.NewFromInt(500)
	state.PegFloorDrain = decimal.NewFromInt(1_000)
	state.PegTarget = decimal.NewFromInt(20_000)
	state.DemandPrev = fpmath.MustParse("0.5")
	state.DemandSmoothed = fpmath.MustParse("0.5")
	engine, _, _ := newTestEngine(t, state)

	slipBefore := state.SlipPool
	res, err := engine.Tick(100)
	require.NoError(t, err)

	// excess = 9000 over the drain floor; weight = 1 - 0.5*(1000/10000).
	weight := fpmath.One.Sub(fpmath.MustParse("0.5").Mul(decimal.NewFromInt(1_000).Div(decimal.NewFromInt(10_000))))
	factor := fpmath.Exp(decimal.NewFromInt(100).Div(params.DrainTimeConstant.Mul(weight)).Neg())
	wantDrained := decimal.NewFromInt(9_000).Mul(fpmath.One.Sub(factor))
	requireDecimalNear(t, wantDrained, res.Drained)

	// Drained collateral moves pools without entering or leaving the reserve.
	requireDecimalNear(t, slipBefore.Add(res.Drained), state.SlipPool)
	requireDecimalNear(t, decimal.NewFromInt(10_000).Sub(res.Drained), state.PegPool)
	require.NoError(t, state.CheckInvariants())
}

func TestTickDrainFallsBackOnCoarseInterval(t *testing.T) {
	params := DefaultParams()
	state := NewState(params, fpmath.One, fpmath.One)
	state.Circulating = big.NewInt(20_000)
	state.SupplyWatermark = big.NewInt(20_000)
	state.Hypothetical = decimal.NewFromInt(20_000)
	state.SlipPool = decimal.NewFromInt(2_000)
	state.PegPool = decimal.NewFromInt(2_000)
	state.PegFloorSafety = decimal.NewFromInt(500)
	state.PegFloorDrain = decimal.NewFromInt(1_000)
	// Raw demand collapses from 0.9 to 0.1 in one interval, faster than the
	// continuous decay allows, so the smoothed score takes over.
	state.PegTarget = decimal.NewFromInt(20_000)
	state.DemandPrev = fpmath.MustParse("0.9")
	state.DemandSmoothed = fpmath.MustParse("0.85")
	engine, _, _ := newTestEngine(t, state)

	res, err := engine.Tick(100)
	require.NoError(t, err)

	weight := fpmath.One.Sub(fpmath.MustParse("0.85").Mul(decimal.NewFromInt(1_000).Div(decimal.NewFromInt(2_000))))
	factor := fpmath.Exp(decimal.NewFromInt(100).Div(params.DrainTimeConstant.Mul(weight)).Neg())
	wantDrained := decimal.NewFromInt(1_000).Mul(fpmath.One.Sub(factor))
	requireDecimalNear(t, wantDrained, res.Drained)
}

func TestTickMintsBondAccrual(t *testing.T) {
	params := DefaultParams()
	state := NewState(params, fpmath.One, fpmath.One)
	state.Circulating = big.NewInt(10_000)
	state.SupplyWatermark = big.NewInt(10_000)
	state.Hypothetical = decimal.NewFromInt(10_000)
	state.SlipPool = decimal.NewFromInt(5_000)
	engine, _, unit := newTestEngine(t, state)
	bonds := newMockBonds(5_000)
	bondAddr := crypto.ModuleAddress("bonds")
	engine.SetBondRegistry(bonds, bondAddr)

	res, err := engine.Tick(100)
	require.NoError(t, err)

	require.Positive(t, res.AccrualMinted.Sign())
	require.Equal(t, res.AccrualMinted, bonds.accrued)
	require.Equal(t, res.AccrualMinted, unit.balance(bondAddr))
	require.Equal(t, new(big.Int).Add(big.NewInt(10_000), res.AccrualMinted), state.Circulating)
	require.True(t, state.LeverageRealized.GreaterThan(fpmath.One))
	require.NoError(t, state.CheckInvariants())
}

func TestMajorBearEpisodeRecalibrates(t *testing.T) {
	params := DefaultParams()
	state := NewState(params, fpmath.One, fpmath.One)
	state.BearCurrent = fpmath.MustParse("9800")
	state.BearEstimate = fpmath.MustParse("10000")
	state.SelloffWatermark = fpmath.MustParse("0.25")
	engine := NewEngine(state, params)

	ended, major := engine.endBearEpisode()
	require.True(t, ended)
	require.True(t, major)
	requireDecimalNear(t, fpmath.MustParse("9800"), state.BearActual)
	requireDecimalNear(t, fpmath.MustParse("9800"), state.BearEstimate)
	requireDecimalNear(t, fpmath.MustParse("0.25"), state.ExpectedSelloff)
	requireDecimalNear(t, fpmath.MustParse("2"), state.LeverageCap)
	require.True(t, state.SelloffWatermark.IsZero())
	require.True(t, state.BearCurrent.IsZero())
}

func TestShortBearEpisodeLeavesCalibration(t *testing.T) {
	params := DefaultParams()
	state := NewState(params, fpmath.One, fpmath.One)
	state.BearCurrent = fpmath.MustParse("5000")
	state.BearEstimate = fpmath.MustParse("10000")
	state.SelloffWatermark = fpmath.MustParse("0.25")
	engine := NewEngine(state, params)

	capBefore := state.LeverageCap
	ended, major := engine.endBearEpisode()
	require.True(t, ended)
	require.False(t, major)
	require.True(t, capBefore.Equal(state.LeverageCap))
	requireDecimalNear(t, params.InitialBearLength, state.BearActual)
	requireDecimalNear(t, fpmath.MustParse("0.25"), state.SelloffWatermark)
}

func TestRandomOperationsPreserveInvariants(t *testing.T) {
	state := NewState(DefaultParams(), fpmath.One, fpmath.MustParse("2"))
	engine, collateral, unit := newTestEngine(t, state)
	bonds := newMockBonds(0)
	engine.SetBondRegistry(bonds, crypto.ModuleAddress("bonds"))

	actors := []crypto.Address{testAddr(1), testAddr(2), testAddr(3)}
	for _, a := range actors {
		collateral.fund(a, 10_000_000)
	}

	rng := rand.New(rand.NewSource(42))
	now := uint64(0)
	for i := 0; i < 500; i++ {
		actor := actors[rng.Intn(len(actors))]
		switch rng.Intn(3) {
		case 0:
			amount := big.NewInt(int64(1 + rng.Intn(5_000)))
			if _, err := engine.Buy(actor, amount); err != nil {
				require.True(t,
					errors.Is(err, ErrMarketHalted) || errors.Is(err, ErrMarketNotOperable),
					"op %d: %v", i, err)
			}
		case 1:
			held := unit.balance(actor)
			if held.Sign() <= 0 {
				continue
			}
			amount := new(big.Int).Rsh(held, uint(rng.Intn(3)))
			if amount.Sign() <= 0 {
				continue
			}
			if _, err := engine.Sell(actor, amount); err != nil {
				require.ErrorIs(t, err, ErrMarketHalted, "op %d", i)
			}
		case 2:
			now += uint64(1 + rng.Intn(500))
			_, err := engine.Tick(now)
			require.NoError(t, err, "op %d", i)
		}

		require.NoError(t, state.CheckInvariants(), "op %d", i)
		require.Equal(t, state.Circulating, unit.supply, "op %d", i)
		// Collateral never leaves the reserve unaccounted: the decimal
		// reserve can only round down against the integer pool.
		require.True(t,
			state.Reserve().LessThanOrEqual(fpmath.FromBig(collateral.pool).Add(fpmath.One)),
			"op %d: reserve %s pool %s", i, state.Reserve(), collateral.pool)
	}
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool { return s.modules[module] }

func TestPausedEngineRejectsOperations(t *testing.T) {
	state := NewState(DefaultParams(), fpmath.One, fpmath.One)
	engine, collateral, unit := newTestEngine(t, state)
	buyer := testAddr(1)
	collateral.fund(buyer, 10_000)

	engine.SetPauses(stubPauseView{modules: map[string]bool{ModuleName: true}})

	_, err := engine.Buy(buyer, big.NewInt(1_000))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	_, err = engine.Sell(buyer, big.NewInt(1))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	_, err = engine.Tick(10)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	require.Equal(t, big.NewInt(10_000), collateral.balance(buyer))
	require.Zero(t, unit.supply.Sign())

	engine.SetPauses(stubPauseView{})
	_, err = engine.Buy(buyer, big.NewInt(1_000))
	require.NoError(t, err)
}
