package ledger

import (
	"errors"
	"math/big"

	"crestchain/crypto"
)

var (
	errInvalidAmount     = errors.New("ledger: amount must be positive")
	errInsufficientFunds = errors.New("ledger: insufficient balance")
)

// Ledger tracks the two balances every account carries: the native CREST
// unit and the reference collateral. It is not synchronised; the node owns
// it behind its single writer lock.
type Ledger struct {
	native     map[string]*big.Int
	collateral map[string]*big.Int
	supply     *big.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		native:     make(map[string]*big.Int),
		collateral: make(map[string]*big.Int),
		supply:     big.NewInt(0),
	}
}

func balanceOf(m map[string]*big.Int, addr crypto.Address) *big.Int {
	if bal, ok := m[addr.String()]; ok {
		return bal
	}
	return big.NewInt(0)
}

// NativeBalance returns the CREST balance of an account.
func (l *Ledger) NativeBalance(addr crypto.Address) *big.Int {
	return new(big.Int).Set(balanceOf(l.native, addr))
}

// CollateralBalance returns the collateral balance of an account.
func (l *Ledger) CollateralBalance(addr crypto.Address) *big.Int {
	return new(big.Int).Set(balanceOf(l.collateral, addr))
}

// NativeSupply returns the total minted CREST supply.
func (l *Ledger) NativeSupply() *big.Int {
	return new(big.Int).Set(l.supply)
}

// Mint creates native units into an account. Implements the reserve
// engine's NativeUnit capability.
func (l *Ledger) Mint(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	bal := balanceOf(l.native, to)
	l.native[to.String()] = new(big.Int).Add(bal, amount)
	l.supply = new(big.Int).Add(l.supply, amount)
	return nil
}

// Burn destroys native units held by an account.
func (l *Ledger) Burn(from crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	bal := balanceOf(l.native, from)
	if bal.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	l.native[from.String()] = new(big.Int).Sub(bal, amount)
	l.supply = new(big.Int).Sub(l.supply, amount)
	return nil
}

// Transfer moves native units between accounts. Implements the bond
// ledger's TokenLedger capability.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fromBal := balanceOf(l.native, from)
	if fromBal.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	l.native[from.String()] = new(big.Int).Sub(fromBal, amount)
	toBal := balanceOf(l.native, to)
	l.native[to.String()] = new(big.Int).Add(toBal, amount)
	return nil
}

// CreditCollateral funds an account with collateral. Used by genesis
// allocations and the local faucet.
func (l *Ledger) CreditCollateral(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	bal := balanceOf(l.collateral, to)
	l.collateral[to.String()] = new(big.Int).Add(bal, amount)
	return nil
}

// TransferCollateral moves collateral between accounts.
func (l *Ledger) TransferCollateral(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fromBal := balanceOf(l.collateral, from)
	if fromBal.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	l.collateral[from.String()] = new(big.Int).Sub(fromBal, amount)
	toBal := balanceOf(l.collateral, to)
	l.collateral[to.String()] = new(big.Int).Add(toBal, amount)
	return nil
}
