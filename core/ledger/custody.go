package ledger

import (
	"math/big"

	"crestchain/crypto"
)

// Custody binds the ledger's collateral balances to a module account so the
// reserve engine can pull deposits in and push payouts out without knowing
// about accounts. Implements the engine's CollateralAsset capability.
type Custody struct {
	ledger   *Ledger
	module   crypto.Address
	decimals uint8
}

// NewCustody creates the collateral custody view over a module account.
func NewCustody(l *Ledger, module crypto.Address, decimals uint8) *Custody {
	return &Custody{ledger: l, module: module, decimals: decimals}
}

// TransferIn pulls collateral from the holder into module custody.
func (c *Custody) TransferIn(from crypto.Address, amount *big.Int) error {
	return c.ledger.TransferCollateral(from, c.module, amount)
}

// TransferOut releases custodied collateral back to a holder.
func (c *Custody) TransferOut(to crypto.Address, amount *big.Int) error {
	return c.ledger.TransferCollateral(c.module, to, amount)
}

// Decimals reports the collateral's base-unit exponent.
func (c *Custody) Decimals() uint8 { return c.decimals }

// Holdings reports the collateral currently in module custody.
func (c *Custody) Holdings() *big.Int {
	return c.ledger.CollateralBalance(c.module)
}
