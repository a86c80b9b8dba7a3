package state

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"crestchain/core/ledger"
	"crestchain/crypto"
	"crestchain/native/bonds"
	"crestchain/native/reserve"
)

// fieldParser accumulates the first decode failure across a batch of
// decimal fields, keeping the conversion code flat.
type fieldParser struct {
	err error
}

func (p *fieldParser) parse(name, raw string) decimal.Decimal {
	if p.err != nil {
		return decimal.Decimal{}
	}
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		p.err = fmt.Errorf("state: decode %s: %w", name, err)
		return decimal.Decimal{}
	}
	return d
}

func (p *fieldParser) parseColumn(name string, raw []string) [3]decimal.Decimal {
	var out [3]decimal.Decimal
	for i := range out {
		if i < len(raw) {
			out[i] = p.parse(name, raw[i])
		} else {
			out[i] = decimal.Zero
		}
	}
	return out
}

func column(vals [3]decimal.Decimal) []string {
	out := make([]string, len(vals))
	for i := range vals {
		out[i] = vals[i].String()
	}
	return out
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// FromReserve converts engine state into its wire mirror.
func FromReserve(s *reserve.State) ReserveState {
	return ReserveState{
		Price:              s.Price.String(),
		ATHPrice:           s.ATHPrice.String(),
		Circulating:        bigOrZero(s.Circulating),
		Hypothetical:       s.Hypothetical.String(),
		SlipPool:           s.SlipPool.String(),
		PegPool:            s.PegPool.String(),
		LeverageCap:        s.LeverageCap.String(),
		LeverageRealized:   s.LeverageRealized.String(),
		LeverageTarget:     s.LeverageTarget.String(),
		ExpectedSelloff:    s.ExpectedSelloff.String(),
		MaxExpectedSelloff: s.MaxExpectedSelloff.String(),
		SelloffWatermark:   s.SelloffWatermark.String(),
		PegFloorSafety:     s.PegFloorSafety.String(),
		PegFloorDrain:      s.PegFloorDrain.String(),
		ATHPegPadding:      s.ATHPegPadding.String(),
		PegTarget:          s.PegTarget.String(),
		BearActual:         s.BearActual.String(),
		BearCurrent:        s.BearCurrent.String(),
		BearEstimate:       s.BearEstimate.String(),
		DemandSmoothed:     s.DemandSmoothed.String(),
		DemandPrev:         s.DemandPrev.String(),
		SupplyWatermark:    bigOrZero(s.SupplyWatermark),
		Halted:             s.Halted,
		LastUpdateTick:     s.LastUpdateTick,
		LastBearUpdateTick: s.LastBearUpdateTick,
	}
}

// ToReserve rebuilds engine state from its wire mirror.
func (rs ReserveState) ToReserve() (*reserve.State, error) {
	p := &fieldParser{}
	s := &reserve.State{
		Price:              p.parse("price", rs.Price),
		ATHPrice:           p.parse("ath_price", rs.ATHPrice),
		Circulating:        bigOrZero(rs.Circulating),
		Hypothetical:       p.parse("hypothetical", rs.Hypothetical),
		SlipPool:           p.parse("slip_pool", rs.SlipPool),
		PegPool:            p.parse("peg_pool", rs.PegPool),
		LeverageCap:        p.parse("leverage_cap", rs.LeverageCap),
		LeverageRealized:   p.parse("leverage_realized", rs.LeverageRealized),
		LeverageTarget:     p.parse("leverage_target", rs.LeverageTarget),
		ExpectedSelloff:    p.parse("expected_selloff", rs.ExpectedSelloff),
		MaxExpectedSelloff: p.parse("max_expected_selloff", rs.MaxExpectedSelloff),
		SelloffWatermark:   p.parse("selloff_watermark", rs.SelloffWatermark),
		PegFloorSafety:     p.parse("peg_floor_safety", rs.PegFloorSafety),
		PegFloorDrain:      p.parse("peg_floor_drain", rs.PegFloorDrain),
		ATHPegPadding:      p.parse("ath_peg_padding", rs.ATHPegPadding),
		PegTarget:          p.parse("peg_target", rs.PegTarget),
		BearActual:         p.parse("bear_actual", rs.BearActual),
		BearCurrent:        p.parse("bear_current", rs.BearCurrent),
		BearEstimate:       p.parse("bear_estimate", rs.BearEstimate),
		DemandSmoothed:     p.parse("demand_smoothed", rs.DemandSmoothed),
		DemandPrev:         p.parse("demand_prev", rs.DemandPrev),
		SupplyWatermark:    bigOrZero(rs.SupplyWatermark),
		Halted:             rs.Halted,
		LastUpdateTick:     rs.LastUpdateTick,
		LastBearUpdateTick: rs.LastBearUpdateTick,
	}
	if p.err != nil {
		return nil, p.err
	}
	s.RefreshDerived()
	return s, nil
}

// FromBonds converts a bond ledger export into its wire mirror.
func FromBonds(st *bonds.LedgerState) BondState {
	out := BondState{
		NextID:         st.NextID,
		Closed:         st.Closed,
		LastCloseTick:  st.LastCloseTick,
		Running:        column(st.Running),
		PendingDeposit: column(st.PendingDeposit),
		PendingAccrual: st.PendingAccrual.String(),
		Positions:      make([]BondPosition, 0, len(st.Positions)),
		Epochs:         make([]BondEpoch, 0, len(st.Epochs)),
	}
	for _, pos := range st.Positions {
		out.Positions = append(out.Positions, BondPosition{
			ID:              pos.ID,
			Owner:           pos.Owner.String(),
			Policy:          uint8(pos.Policy),
			Balance:         pos.Balance.String(),
			Pending:         pos.Pending.String(),
			ActivationEpoch: pos.ActivationEpoch,
			Original:        pos.Original.String(),
			LastSettled:     pos.LastSettled,
			Carry:           pos.Carry.String(),
		})
	}
	for _, ep := range st.Epochs {
		out.Epochs = append(out.Epochs, BondEpoch{
			Index:         ep.Index,
			ClosedAtTick:  ep.ClosedAtTick,
			Span:          ep.Span,
			Before:        column(ep.Before),
			After:         column(ep.After),
			Payout:        column(ep.Payout),
			PayoutPerUnit: column(ep.PayoutPerUnit),
			Ratio:         column(ep.Ratio),
		})
	}
	return out
}

// ToBonds rebuilds a bond ledger export from its wire mirror.
func (bs BondState) ToBonds() (*bonds.LedgerState, error) {
	p := &fieldParser{}
	st := &bonds.LedgerState{
		NextID:         bs.NextID,
		Closed:         bs.Closed,
		LastCloseTick:  bs.LastCloseTick,
		Running:        p.parseColumn("running", bs.Running),
		PendingDeposit: p.parseColumn("pending_deposit", bs.PendingDeposit),
		PendingAccrual: p.parse("pending_accrual", bs.PendingAccrual),
		Positions:      make([]bonds.Position, 0, len(bs.Positions)),
		Epochs:         make([]bonds.EpochSnapshot, 0, len(bs.Epochs)),
	}
	for _, pos := range bs.Positions {
		owner, err := crypto.DecodeAddress(pos.Owner)
		if err != nil {
			return nil, fmt.Errorf("state: decode bond owner: %w", err)
		}
		st.Positions = append(st.Positions, bonds.Position{
			ID:              pos.ID,
			Owner:           owner,
			Policy:          bonds.Policy(pos.Policy),
			Balance:         p.parse("balance", pos.Balance),
			Pending:         p.parse("pending", pos.Pending),
			ActivationEpoch: pos.ActivationEpoch,
			Original:        p.parse("original", pos.Original),
			LastSettled:     pos.LastSettled,
			Carry:           p.parse("carry", pos.Carry),
		})
	}
	for _, ep := range bs.Epochs {
		st.Epochs = append(st.Epochs, bonds.EpochSnapshot{
			Index:         ep.Index,
			ClosedAtTick:  ep.ClosedAtTick,
			Span:          ep.Span,
			Before:        p.parseColumn("epoch_before", ep.Before),
			After:         p.parseColumn("epoch_after", ep.After),
			Payout:        p.parseColumn("epoch_payout", ep.Payout),
			PayoutPerUnit: p.parseColumn("epoch_payout_per_unit", ep.PayoutPerUnit),
			Ratio:         p.parseColumn("epoch_ratio", ep.Ratio),
		})
	}
	if p.err != nil {
		return nil, p.err
	}
	return st, nil
}

// FromAccounts converts an account ledger export into its wire mirror.
func FromAccounts(st *ledger.State) AccountState {
	out := AccountState{
		Native:     make([]AccountBalance, 0, len(st.Native)),
		Collateral: make([]AccountBalance, 0, len(st.Collateral)),
		Supply:     bigOrZero(st.Supply),
	}
	for _, b := range st.Native {
		out.Native = append(out.Native, AccountBalance{Account: b.Account, Amount: bigOrZero(b.Amount)})
	}
	for _, b := range st.Collateral {
		out.Collateral = append(out.Collateral, AccountBalance{Account: b.Account, Amount: bigOrZero(b.Amount)})
	}
	return out
}

// ToAccounts rebuilds an account ledger export from its wire mirror.
func (as AccountState) ToAccounts() *ledger.State {
	st := &ledger.State{
		Native:     make([]ledger.Balance, 0, len(as.Native)),
		Collateral: make([]ledger.Balance, 0, len(as.Collateral)),
		Supply:     bigOrZero(as.Supply),
	}
	for _, b := range as.Native {
		st.Native = append(st.Native, ledger.Balance{Account: b.Account, Amount: bigOrZero(b.Amount)})
	}
	for _, b := range as.Collateral {
		st.Collateral = append(st.Collateral, ledger.Balance{Account: b.Account, Amount: bigOrZero(b.Amount)})
	}
	return st
}
