package bonds

import (
	"sort"

	"github.com/shopspring/decimal"
)

// LedgerState is the serialisable snapshot of a bond ledger. Positions are
// sorted by id so encodings are deterministic.
type LedgerState struct {
	NextID         uint64
	Closed         uint64
	LastCloseTick  uint64
	Running        [policyCount]decimal.Decimal
	PendingDeposit [policyCount]decimal.Decimal
	PendingAccrual decimal.Decimal
	Positions      []Position
	Epochs         []EpochSnapshot
}

// Export captures the full ledger state for persistence.
func (l *Ledger) Export() *LedgerState {
	st := &LedgerState{
		NextID:         l.nextID,
		Closed:         l.closed,
		LastCloseTick:  l.lastCloseTick,
		Running:        l.running,
		PendingDeposit: l.pendingDeposit,
		PendingAccrual: l.pendingAccrual,
		Positions:      make([]Position, 0, len(l.positions)),
		Epochs:         append([]EpochSnapshot(nil), l.epochs...),
	}
	for _, pos := range l.positions {
		st.Positions = append(st.Positions, *pos.Clone())
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].ID < st.Positions[j].ID })
	return st
}

// Restore replaces the ledger contents with a previously exported snapshot.
func (l *Ledger) Restore(st *LedgerState) {
	if st == nil {
		return
	}
	l.nextID = st.NextID
	l.closed = st.Closed
	l.lastCloseTick = st.LastCloseTick
	l.running = st.Running
	l.pendingDeposit = st.PendingDeposit
	l.pendingAccrual = st.PendingAccrual
	l.epochs = append([]EpochSnapshot(nil), st.Epochs...)
	l.positions = make(map[uint64]*Position, len(st.Positions))
	l.byOwner = make(map[string]map[uint64]struct{})
	for i := range st.Positions {
		pos := st.Positions[i].Clone()
		l.positions[pos.ID] = pos
		key := ownerKey(pos.Owner)
		if l.byOwner[key] == nil {
			l.byOwner[key] = make(map[uint64]struct{})
		}
		l.byOwner[key][pos.ID] = struct{}{}
	}
}
