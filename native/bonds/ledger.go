package bonds

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"crestchain/crypto"
	nativecommon "crestchain/native/common"
	"crestchain/native/fpmath"
)

// ModuleName identifies the ledger to the operator pause switches.
const ModuleName = "bonds"

var (
	errNilToken       = errors.New("bond ledger: token ledger not configured")
	errInvalidAmount  = errors.New("bond ledger: amount must be positive")
	errInvalidPolicy  = errors.New("bond ledger: unknown payout policy")
	ErrUnknownBond    = errors.New("bond ledger: position does not exist")
	ErrNotOwner       = errors.New("bond ledger: caller does not own the position")
	errSamePolicy     = errors.New("bond ledger: position already uses that policy")
	errInvalidParams  = errors.New("bond ledger: invalid parameters")
	errEpochRegressed = errors.New("bond ledger: epoch clock moved backwards")
)

// TokenLedger moves native units between accounts. The bond module account
// custodies locked principal and minted accrual.
type TokenLedger interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
}

// Ledger owns the bond positions of all holders and the append-only epoch
// log. All aggregate sums are maintained incrementally so no operation
// iterates over positions.
type Ledger struct {
	params     Params
	token      TokenLedger
	moduleAddr crypto.Address
	pauses     nativecommon.PauseView

	positions map[uint64]*Position
	byOwner   map[string]map[uint64]struct{}
	nextID    uint64

	epochs []EpochSnapshot
	closed uint64

	running        [policyCount]decimal.Decimal
	pendingDeposit [policyCount]decimal.Decimal
	pendingAccrual decimal.Decimal
	lastCloseTick  uint64
}

// NewLedger constructs an empty bond ledger custodied by the given module
// account.
func NewLedger(params Params, token TokenLedger, moduleAddr crypto.Address) (*Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if token == nil {
		return nil, errNilToken
	}
	return &Ledger{
		params:     params,
		token:      token,
		moduleAddr: moduleAddr,
		positions:  make(map[uint64]*Position),
		byOwner:    make(map[string]map[uint64]struct{}),
		nextID:     1,
	}, nil
}

// SetPauses wires the operator pause switches.
func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// Params returns the ledger calibration.
func (l *Ledger) Params() Params {
	if l == nil {
		return Params{}
	}
	return l.params
}

func ownerKey(addr crypto.Address) string {
	return string(addr.Prefix()) + "/" + string(addr.Bytes())
}

// Open creates a new lock-up position. The deposit is held in the pending
// accumulator until the next epoch close so it never shares retroactively
// in previously accrued value. The new position id is returned.
func (l *Ledger) Open(owner crypto.Address, amount *big.Int, policy Policy) (uint64, error) {
	if err := nativecommon.Guard(l.pauses, ModuleName); err != nil {
		return 0, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	if !policy.Valid() {
		return 0, errInvalidPolicy
	}
	if err := l.token.Transfer(owner, l.moduleAddr, amount); err != nil {
		return 0, err
	}

	id := l.nextID
	l.nextID++
	value := fpmath.FromBig(amount)
	pos := &Position{
		ID:              id,
		Owner:           owner,
		Policy:          policy,
		Balance:         decimal.Zero,
		Pending:         value,
		ActivationEpoch: l.closed + 2,
		Original:        value,
		LastSettled:     l.closed,
	}
	l.positions[id] = pos
	key := ownerKey(owner)
	if l.byOwner[key] == nil {
		l.byOwner[key] = make(map[uint64]struct{})
	}
	l.byOwner[key][id] = struct{}{}
	l.pendingDeposit[policy.index()] = l.pendingDeposit[policy.index()].Add(value)
	return id, nil
}

// Add locks additional value into an existing position. The position is
// settled up to the current epoch first, so it carries at most one pending
// tranche at any time.
func (l *Ledger) Add(owner crypto.Address, id uint64, amount *big.Int) error {
	if err := nativecommon.Guard(l.pauses, ModuleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pos, err := l.ownedPosition(owner, id)
	if err != nil {
		return err
	}
	if _, removed, err := l.settlePosition(pos); err != nil {
		return err
	} else if removed {
		return ErrUnknownBond
	}
	if err := l.token.Transfer(owner, l.moduleAddr, amount); err != nil {
		return err
	}

	value := fpmath.FromBig(amount)
	if pos.Pending.Sign() > 0 {
		// Still waiting on the same activation epoch; merge the tranches.
		pos.Pending = pos.Pending.Add(value)
	} else {
		pos.Pending = value
		pos.ActivationEpoch = l.closed + 2
	}
	l.pendingDeposit[pos.Policy.index()] = l.pendingDeposit[pos.Policy.index()].Add(value)
	if total := pos.Balance.Add(pos.Pending); total.GreaterThan(pos.Original) {
		pos.Original = total
	}
	return nil
}

// ChangePolicy migrates a settled position between payout policies, moving
// its value between the aggregate subtotals.
func (l *Ledger) ChangePolicy(owner crypto.Address, id uint64, policy Policy) error {
	if err := nativecommon.Guard(l.pauses, ModuleName); err != nil {
		return err
	}
	if !policy.Valid() {
		return errInvalidPolicy
	}
	pos, err := l.ownedPosition(owner, id)
	if err != nil {
		return err
	}
	if pos.Policy == policy {
		return errSamePolicy
	}
	if _, removed, err := l.settlePosition(pos); err != nil {
		return err
	} else if removed {
		return ErrUnknownBond
	}

	oldIdx, newIdx := pos.Policy.index(), policy.index()
	if pos.Balance.Sign() > 0 {
		l.running[oldIdx] = decimalFloor(l.running[oldIdx].Sub(pos.Balance))
		l.running[newIdx] = l.running[newIdx].Add(pos.Balance)
	}
	if pos.Pending.Sign() > 0 {
		l.pendingDeposit[oldIdx] = decimalFloor(l.pendingDeposit[oldIdx].Sub(pos.Pending))
		l.pendingDeposit[newIdx] = l.pendingDeposit[newIdx].Add(pos.Pending)
	}
	pos.Policy = policy
	return nil
}

// Settle realises all value accrued to the position across the epochs
// elapsed since its last settlement. It returns the paid amount and whether
// the position was removed through maturity.
func (l *Ledger) Settle(owner crypto.Address, id uint64) (*big.Int, bool, error) {
	if err := nativecommon.Guard(l.pauses, ModuleName); err != nil {
		return nil, false, err
	}
	pos, err := l.ownedPosition(owner, id)
	if err != nil {
		return nil, false, err
	}
	return l.settlePosition(pos)
}

// settlePosition walks the epoch log forward from the position's last
// settlement. Payouts are floored to base units; the sub-unit remainder is
// carried on the position.
func (l *Ledger) settlePosition(pos *Position) (*big.Int, bool, error) {
	payout := decimal.Zero
	matured := false

	for e := pos.LastSettled + 1; e <= l.closed; e++ {
		snap := &l.epochs[e-1]
		if pos.Pending.Sign() > 0 && e >= pos.ActivationEpoch {
			pos.Balance = pos.Balance.Add(pos.Pending)
			pos.Pending = decimal.Zero
		}
		if pos.Balance.Sign() <= 0 {
			continue
		}
		idx := pos.Policy.index()
		switch pos.Policy {
		case PolicyDecay:
			payout = payout.Add(snap.PayoutPerUnit[idx].Mul(pos.Balance))
			pos.Balance = pos.Balance.Mul(snap.Ratio[idx])
			if pos.Pending.Sign() == 0 && pos.Original.Sign() > 0 &&
				pos.Balance.Div(pos.Original).LessThanOrEqual(l.params.PortionAtMaturity) {
				// Full redemption: the remaining balance pays out now and
				// its ghost weight is removed from the aggregate.
				payout = payout.Add(pos.Balance)
				ghost := pos.Balance
				for j := e + 1; j <= l.closed; j++ {
					ghost = ghost.Mul(l.epochs[j-1].Ratio[idx])
				}
				l.running[idx] = decimalFloor(l.running[idx].Sub(ghost))
				matured = true
			}
		case PolicyGainsOnly:
			payout = payout.Add(snap.PayoutPerUnit[idx].Mul(pos.Balance))
		case PolicyReinvest:
			pos.Balance = pos.Balance.Mul(snap.Ratio[idx])
		}
		if matured {
			break
		}
	}
	pos.LastSettled = l.closed

	payout = payout.Add(pos.Carry)
	units := fpmath.FloorBig(payout)
	pos.Carry = payout.Sub(fpmath.FromBig(units))
	if matured {
		pos.Carry = decimal.Zero
		l.remove(pos)
	}
	if units.Sign() > 0 {
		if err := l.token.Transfer(l.moduleAddr, pos.Owner, units); err != nil {
			return nil, matured, err
		}
	}
	return units, matured, nil
}

// CloseEpoch distributes the pending accrual across the three policies,
// applies the DECAY shrink and the REINVEST growth, appends the epoch
// snapshot and folds the pending deposits into the running subtotals.
// Requests arriving before the minimum interval elapse silently return
// false with no effect.
func (l *Ledger) CloseEpoch(now uint64) (bool, *EpochSnapshot, error) {
	if err := nativecommon.Guard(l.pauses, ModuleName); err != nil {
		return false, nil, err
	}
	if now < l.lastCloseTick {
		return false, nil, errEpochRegressed
	}
	if l.closed > 0 && now-l.lastCloseTick < l.params.MinEpochInterval {
		return false, nil, nil
	}
	span := now - l.lastCloseTick

	total := decimal.Zero
	for i := 0; i < policyCount; i++ {
		total = total.Add(l.running[i])
	}

	accrual := decimal.Zero
	if total.Sign() > 0 {
		accrual = l.pendingAccrual
	}

	snap := EpochSnapshot{
		Index:        l.closed + 1,
		ClosedAtTick: now,
		Span:         span,
	}

	decayFactor := fpmath.One
	if span > 0 {
		decayFactor = fpmath.Exp(decimal.NewFromInt(int64(span)).Div(l.params.MaturitySpan).Neg())
	}

	for i := 0; i < policyCount; i++ {
		before := l.running[i]
		snap.Before[i] = before
		share := decimal.Zero
		if accrual.Sign() > 0 && before.Sign() > 0 {
			share = accrual.Mul(before).Div(total)
		}
		switch Policy(i + 1) {
		case PolicyDecay:
			after := before.Mul(decayFactor)
			snap.After[i] = after
			snap.Payout[i] = before.Sub(after).Add(share)
			snap.Ratio[i] = decayFactor
		case PolicyGainsOnly:
			snap.After[i] = before
			snap.Payout[i] = share
			snap.Ratio[i] = fpmath.One
		case PolicyReinvest:
			after := before.Add(share)
			snap.After[i] = after
			snap.Payout[i] = decimal.Zero
			if before.Sign() > 0 {
				snap.Ratio[i] = after.Div(before)
			} else {
				snap.Ratio[i] = fpmath.One
			}
		}
		if before.Sign() > 0 {
			snap.PayoutPerUnit[i] = snap.Payout[i].Div(before)
		} else {
			snap.PayoutPerUnit[i] = decimal.Zero
		}
	}

	l.epochs = append(l.epochs, snap)
	l.closed++

	for i := 0; i < policyCount; i++ {
		l.running[i] = snap.After[i].Add(l.pendingDeposit[i])
		l.pendingDeposit[i] = decimal.Zero
	}
	if total.Sign() > 0 {
		l.pendingAccrual = decimal.Zero
	}
	l.lastCloseTick = now
	return true, &snap, nil
}

// TotalLocked reports the aggregate locked value across all positions,
// pending deposits included, floored to base units.
func (l *Ledger) TotalLocked() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	total := l.pendingAccrualFree()
	return fpmath.FloorBig(total)
}

func (l *Ledger) pendingAccrualFree() decimal.Decimal {
	total := decimal.Zero
	for i := 0; i < policyCount; i++ {
		total = total.Add(l.running[i]).Add(l.pendingDeposit[i])
	}
	return total
}

// accrue adds engine-minted value to the pending accrual pot, distributed
// at the next epoch close. Reached through the Manager capability only.
func (l *Ledger) accrue(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.pendingAccrual = l.pendingAccrual.Add(fpmath.FromBig(amount))
}

// Position returns a copy of the identified position.
func (l *Ledger) Position(id uint64) (*Position, bool) {
	pos, ok := l.positions[id]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// OwnerPositions lists the position ids held by an owner.
func (l *Ledger) OwnerPositions(owner crypto.Address) []uint64 {
	ids := make([]uint64, 0, len(l.byOwner[ownerKey(owner)]))
	for id := range l.byOwner[ownerKey(owner)] {
		ids = append(ids, id)
	}
	return ids
}

// EpochCount reports how many epochs have closed.
func (l *Ledger) EpochCount() uint64 {
	if l == nil {
		return 0
	}
	return l.closed
}

// EpochAt returns the snapshot of the 1-indexed epoch.
func (l *Ledger) EpochAt(index uint64) (EpochSnapshot, bool) {
	if index == 0 || index > l.closed {
		return EpochSnapshot{}, false
	}
	return l.epochs[index-1], true
}

// LastCloseTick reports when the newest epoch closed.
func (l *Ledger) LastCloseTick() uint64 {
	if l == nil {
		return 0
	}
	return l.lastCloseTick
}

func (l *Ledger) ownedPosition(owner crypto.Address, id uint64) (*Position, error) {
	pos, ok := l.positions[id]
	if !ok {
		return nil, ErrUnknownBond
	}
	if !pos.Owner.Equal(owner) {
		return nil, ErrNotOwner
	}
	return pos, nil
}

func (l *Ledger) remove(pos *Position) {
	delete(l.positions, pos.ID)
	key := ownerKey(pos.Owner)
	if set, ok := l.byOwner[key]; ok {
		delete(set, pos.ID)
		if len(set) == 0 {
			delete(l.byOwner, key)
		}
	}
}

// decimalFloor clamps incremental subtractions at zero, absorbing the last
// rounding step of long ratio chains.
func decimalFloor(d decimal.Decimal) decimal.Decimal {
	if d.Sign() < 0 {
		return decimal.Zero
	}
	return d
}
