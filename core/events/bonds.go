package events

import (
	"math/big"
	"strconv"
)

const (
	EventBondOpened       = "bonds.opened"
	EventBondAdded        = "bonds.added"
	EventBondSettled      = "bonds.settled"
	EventBondPolicyChange = "bonds.policy_changed"
	EventBondEpochClosed  = "bonds.epoch_closed"
)

// BondOpened records a new lock-up position.
type BondOpened struct {
	Owner    string
	BondID   uint64
	Amount   *big.Int
	Policy   string
	Activate uint64
}

func (BondOpened) EventType() string { return EventBondOpened }

func (e BondOpened) Attributes() map[string]string {
	return map[string]string{
		"owner":            e.Owner,
		"bond_id":          strconv.FormatUint(e.BondID, 10),
		"amount":           bigString(e.Amount),
		"policy":           e.Policy,
		"activation_epoch": strconv.FormatUint(e.Activate, 10),
	}
}

// BondAdded records value locked into an existing position.
type BondAdded struct {
	Owner  string
	BondID uint64
	Amount *big.Int
}

func (BondAdded) EventType() string { return EventBondAdded }

func (e BondAdded) Attributes() map[string]string {
	return map[string]string{
		"owner":   e.Owner,
		"bond_id": strconv.FormatUint(e.BondID, 10),
		"amount":  bigString(e.Amount),
	}
}

// BondSettled records a settlement payout; Removed marks full redemption at
// maturity.
type BondSettled struct {
	Owner   string
	BondID  uint64
	Payout  *big.Int
	Removed bool
}

func (BondSettled) EventType() string { return EventBondSettled }

func (e BondSettled) Attributes() map[string]string {
	return map[string]string{
		"owner":   e.Owner,
		"bond_id": strconv.FormatUint(e.BondID, 10),
		"payout":  bigString(e.Payout),
		"removed": strconv.FormatBool(e.Removed),
	}
}

// BondPolicyChanged records a payout-policy migration.
type BondPolicyChanged struct {
	Owner  string
	BondID uint64
	Policy string
}

func (BondPolicyChanged) EventType() string { return EventBondPolicyChange }

func (e BondPolicyChanged) Attributes() map[string]string {
	return map[string]string{
		"owner":   e.Owner,
		"bond_id": strconv.FormatUint(e.BondID, 10),
		"policy":  e.Policy,
	}
}

// BondEpochClosed records an epoch boundary in the bond ledger.
type BondEpochClosed struct {
	Epoch uint64
	Tick  uint64
	Span  uint64
}

func (BondEpochClosed) EventType() string { return EventBondEpochClosed }

func (e BondEpochClosed) Attributes() map[string]string {
	return map[string]string{
		"epoch": strconv.FormatUint(e.Epoch, 10),
		"tick":  strconv.FormatUint(e.Tick, 10),
		"span":  strconv.FormatUint(e.Span, 10),
	}
}
