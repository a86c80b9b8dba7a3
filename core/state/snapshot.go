package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// Snapshot is the full node state persisted after every committed
// operation. Decimal quantities are carried as strings so the wire format
// stays independent of the in-memory representation.
type Snapshot struct {
	Tick     uint64
	Reserve  ReserveState
	Bonds    BondState
	Accounts AccountState
}

// ReserveState mirrors the reserve engine state.
type ReserveState struct {
	Price              string
	ATHPrice           string
	Circulating        *big.Int
	Hypothetical       string
	SlipPool           string
	PegPool            string
	LeverageCap        string
	LeverageRealized   string
	LeverageTarget     string
	ExpectedSelloff    string
	MaxExpectedSelloff string
	SelloffWatermark   string
	PegFloorSafety     string
	PegFloorDrain      string
	ATHPegPadding      string
	PegTarget          string
	BearActual         string
	BearCurrent        string
	BearEstimate       string
	DemandSmoothed     string
	DemandPrev         string
	SupplyWatermark    *big.Int
	Halted             bool
	LastUpdateTick     uint64
	LastBearUpdateTick uint64
}

// BondPosition mirrors one bond ledger position.
type BondPosition struct {
	ID              uint64
	Owner           string
	Policy          uint8
	Balance         string
	Pending         string
	ActivationEpoch uint64
	Original        string
	LastSettled     uint64
	Carry           string
}

// BondEpoch mirrors one closed epoch snapshot. The per-policy columns are
// indexed like the in-memory arrays.
type BondEpoch struct {
	Index         uint64
	ClosedAtTick  uint64
	Span          uint64
	Before        []string
	After         []string
	Payout        []string
	PayoutPerUnit []string
	Ratio         []string
}

// BondState mirrors the bond ledger aggregates and its epoch log.
type BondState struct {
	NextID         uint64
	Closed         uint64
	LastCloseTick  uint64
	Running        []string
	PendingDeposit []string
	PendingAccrual string
	Positions      []BondPosition
	Epochs         []BondEpoch
}

// AccountBalance is one account entry.
type AccountBalance struct {
	Account string
	Amount  *big.Int
}

// AccountState mirrors the account ledger.
type AccountState struct {
	Native     []AccountBalance
	Collateral []AccountBalance
	Supply     *big.Int
}

// Encode serialises the snapshot with RLP.
func Encode(s *Snapshot) ([]byte, error) {
	return rlp.EncodeToBytes(s)
}

// Decode deserialises an RLP snapshot.
func Decode(raw []byte) (*Snapshot, error) {
	s := new(Snapshot)
	if err := rlp.DecodeBytes(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}
