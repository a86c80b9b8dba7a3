package bonds

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"crestchain/crypto"
)

// Policy selects how a bond position realises value at epoch boundaries.
type Policy uint8

const (
	// PolicyDecay unlocks principal over time; the shrink is paid out.
	PolicyDecay Policy = iota + 1
	// PolicyGainsOnly keeps principal locked and pays out accrual shares.
	PolicyGainsOnly
	// PolicyReinvest compounds accrual shares into the principal.
	PolicyReinvest
)

// policyCount is the number of payout policies; policies index arrays as
// Policy-1.
const policyCount = 3

// Valid reports whether the policy is one of the three known payout modes.
func (p Policy) Valid() bool {
	return p >= PolicyDecay && p <= PolicyReinvest
}

func (p Policy) String() string {
	switch p {
	case PolicyDecay:
		return "decay"
	case PolicyGainsOnly:
		return "gains_only"
	case PolicyReinvest:
		return "reinvest"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

func (p Policy) index() int { return int(p) - 1 }

// ParsePolicy resolves the wire name of a payout policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "decay":
		return PolicyDecay, nil
	case "gains_only", "gains-only":
		return PolicyGainsOnly, nil
	case "reinvest":
		return PolicyReinvest, nil
	}
	return 0, fmt.Errorf("bonds: unknown policy %q", name)
}

// Position is an individually identified lock-up. Balance is the portion
// already participating in epochs; Pending is a deposit waiting for its
// activation epoch. Carry accumulates sub-unit payout remainders between
// settlements.
type Position struct {
	ID              uint64
	Owner           crypto.Address
	Policy          Policy
	Balance         decimal.Decimal
	Pending         decimal.Decimal
	ActivationEpoch uint64
	Original        decimal.Decimal
	LastSettled     uint64
	Carry           decimal.Decimal
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// EpochSnapshot is one entry of the append-only epoch log. For each policy
// it records the subtotal entering the close, the subtotal after
// decay/accrual, the payout issued, the payout per unit of prior subtotal
// and the balance ratio positions apply at settlement.
type EpochSnapshot struct {
	Index        uint64
	ClosedAtTick uint64
	Span         uint64

	Before        [policyCount]decimal.Decimal
	After         [policyCount]decimal.Decimal
	Payout        [policyCount]decimal.Decimal
	PayoutPerUnit [policyCount]decimal.Decimal
	Ratio         [policyCount]decimal.Decimal
}

// TotalBefore sums the per-policy subtotals entering the close.
func (s EpochSnapshot) TotalBefore() decimal.Decimal {
	total := decimal.Zero
	for i := 0; i < policyCount; i++ {
		total = total.Add(s.Before[i])
	}
	return total
}

// TotalAfter sums the per-policy subtotals after the close.
func (s EpochSnapshot) TotalAfter() decimal.Decimal {
	total := decimal.Zero
	for i := 0; i < policyCount; i++ {
		total = total.Add(s.After[i])
	}
	return total
}
