package ledger

import (
	"math/big"
	"sort"
)

// Balance is one account entry of a serialised ledger.
type Balance struct {
	Account string
	Amount  *big.Int
}

// State is the serialisable snapshot of the account ledger, with entries
// sorted by account so encodings are deterministic.
type State struct {
	Native     []Balance
	Collateral []Balance
	Supply     *big.Int
}

func exportBalances(m map[string]*big.Int) []Balance {
	out := make([]Balance, 0, len(m))
	for account, amount := range m {
		if amount.Sign() == 0 {
			continue
		}
		out = append(out, Balance{Account: account, Amount: new(big.Int).Set(amount)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Export captures the ledger for persistence.
func (l *Ledger) Export() *State {
	return &State{
		Native:     exportBalances(l.native),
		Collateral: exportBalances(l.collateral),
		Supply:     new(big.Int).Set(l.supply),
	}
}

// Restore replaces the ledger contents with a previously exported snapshot.
func (l *Ledger) Restore(st *State) {
	if st == nil {
		return
	}
	l.native = make(map[string]*big.Int, len(st.Native))
	for _, b := range st.Native {
		l.native[b.Account] = new(big.Int).Set(b.Amount)
	}
	l.collateral = make(map[string]*big.Int, len(st.Collateral))
	for _, b := range st.Collateral {
		l.collateral[b.Account] = new(big.Int).Set(b.Amount)
	}
	l.supply = big.NewInt(0)
	if st.Supply != nil {
		l.supply = new(big.Int).Set(st.Supply)
	}
}
