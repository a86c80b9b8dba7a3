package bonds

import "math/big"

// Manager is the narrow capability handed to the reserve engine. It exposes
// the locked total and the accrual sink without granting access to holder
// positions.
type Manager struct {
	ledger *Ledger
}

// NewManager wraps the ledger in its engine-facing capability.
func NewManager(ledger *Ledger) *Manager {
	return &Manager{ledger: ledger}
}

// TotalLocked reports the aggregate bonded value in base units.
func (m *Manager) TotalLocked() *big.Int {
	if m == nil || m.ledger == nil {
		return big.NewInt(0)
	}
	return m.ledger.TotalLocked()
}

// Accrue credits engine-minted value to the pot distributed at the next
// epoch close.
func (m *Manager) Accrue(amount *big.Int) {
	if m == nil || m.ledger == nil {
		return
	}
	m.ledger.accrue(amount)
}
