package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"crestchain/core/events"
	"crestchain/core/ledger"
	"crestchain/core/state"
	"crestchain/crypto"
	"crestchain/native/bonds"
	"crestchain/native/reserve"
	"crestchain/observability"
	"crestchain/storage"
)

var snapshotKey = []byte("crest/snapshot/v1")

var (
	errNilDatabase = errors.New("node: database not configured")
	// ErrUnknownBond is surfaced by position queries for missing ids.
	ErrUnknownBond = errors.New("node: bond position not found")
)

// Genesis seeds a fresh network: the opening market prices and the initial
// collateral allocations. Prices are decimal strings.
type Genesis struct {
	InitialPrice string
	ATHPrice     string
	Allocations  []Allocation
}

// Allocation funds one account with collateral at genesis.
type Allocation struct {
	Address    crypto.Address
	Collateral *big.Int
}

// Node owns all mutable state behind a single writer lock. Every mutating
// operation runs as a unit: on error the previous state is restored, on
// success the new state is persisted before the lock is released.
type Node struct {
	mu sync.Mutex

	engine     *reserve.Engine
	bondLedger *bonds.Ledger
	accounts   *ledger.Ledger
	custody    *ledger.Custody
	pauses     *Pauses

	db      storage.Database
	emitter events.Emitter
	metrics *observability.ReserveMetrics
	log     *slog.Logger

	reserveParams reserve.Params
	bondParams    bonds.Params
	tick          uint64
}

// NodeConfig collects the node's construction inputs.
type NodeConfig struct {
	ReserveParams      reserve.Params
	BondParams         bonds.Params
	CollateralDecimals uint8
	// PausedModules names the modules to start paused.
	PausedModules []string
	Genesis       Genesis
	Database      storage.Database
	Emitter            events.Emitter
	Metrics            *observability.ReserveMetrics
	Logger             *slog.Logger
}

// NewNode builds the node, restoring a persisted snapshot when one exists
// and otherwise initialising from genesis.
func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.Database == nil {
		return nil, errNilDatabase
	}
	if err := cfg.ReserveParams.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.BondParams.Validate(); err != nil {
		return nil, err
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n := &Node{
		db:            cfg.Database,
		emitter:       emitter,
		metrics:       cfg.Metrics,
		log:           logger,
		reserveParams: cfg.ReserveParams,
		bondParams:    cfg.BondParams,
	}
	pauses, err := NewPauses(cfg.PausedModules...)
	if err != nil {
		return nil, err
	}
	n.pauses = pauses
	n.accounts = ledger.NewLedger()
	n.custody = ledger.NewCustody(n.accounts, crypto.ModuleAddress("reserve"), cfg.CollateralDecimals)

	bondAddr := crypto.ModuleAddress("bonds")
	bondLedger, err := bonds.NewLedger(cfg.BondParams, n.accounts, bondAddr)
	if err != nil {
		return nil, err
	}
	n.bondLedger = bondLedger

	restored, err := n.restore()
	if err != nil {
		return nil, err
	}
	if !restored {
		if err := n.initGenesis(cfg.Genesis); err != nil {
			return nil, err
		}
	}

	n.engine.SetToken(n.accounts)
	n.engine.SetCollateral(n.custody)
	n.engine.SetBondRegistry(bonds.NewManager(n.bondLedger), bondAddr)
	n.engine.SetPauses(n.pauses)
	n.bondLedger.SetPauses(n.pauses)
	n.publishMetrics()
	return n, nil
}

// SetModulePaused flips one module's operator pause switch.
func (n *Node) SetModulePaused(module string, paused bool) error {
	if err := n.pauses.Set(module, paused); err != nil {
		return err
	}
	n.log.Info("pause switch flipped", "module", module, "paused", paused)
	return nil
}

// PausedModules lists the modules currently paused.
func (n *Node) PausedModules() []string {
	return n.pauses.Paused()
}

func (n *Node) initGenesis(g Genesis) error {
	initial, err := parseGenesisPrice("initial_price", g.InitialPrice)
	if err != nil {
		return err
	}
	ath, err := parseGenesisPrice("ath_price", g.ATHPrice)
	if err != nil {
		return err
	}
	st := reserve.NewState(n.reserveParams, initial, ath)
	n.engine = reserve.NewEngine(st, n.reserveParams)
	for _, alloc := range g.Allocations {
		if err := n.accounts.CreditCollateral(alloc.Address, alloc.Collateral); err != nil {
			return fmt.Errorf("node: genesis allocation for %s: %w", alloc.Address, err)
		}
	}
	n.log.Info("initialised from genesis",
		"initial_price", initial.String(), "ath_price", ath.String(),
		"allocations", len(g.Allocations))
	return n.persist()
}

// restore loads the newest snapshot from the database. Returns false when
// no snapshot has ever been written.
func (n *Node) restore() (bool, error) {
	raw, err := n.db.Get(snapshotKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	snap, err := state.Decode(raw)
	if err != nil {
		return false, err
	}
	reserveState, err := snap.Reserve.ToReserve()
	if err != nil {
		return false, err
	}
	bondState, err := snap.Bonds.ToBonds()
	if err != nil {
		return false, err
	}
	n.engine = reserve.NewEngine(reserveState, n.reserveParams)
	n.bondLedger.Restore(bondState)
	n.accounts.Restore(snap.Accounts.ToAccounts())
	n.tick = snap.Tick
	n.log.Info("restored snapshot", "tick", n.tick)
	return true, nil
}

func (n *Node) persist() error {
	snap := &state.Snapshot{
		Tick:     n.tick,
		Reserve:  state.FromReserve(n.engine.State()),
		Bonds:    state.FromBonds(n.bondLedger.Export()),
		Accounts: state.FromAccounts(n.accounts.Export()),
	}
	raw, err := state.Encode(snap)
	if err != nil {
		return err
	}
	return n.db.Put(snapshotKey, raw)
}

// memento captures the full mutable state so a failed operation leaves no
// trace.
type memento struct {
	reserveState *reserve.State
	bondState    *bonds.LedgerState
	accountState *ledger.State
	tick         uint64
}

func (n *Node) capture() memento {
	return memento{
		reserveState: n.engine.State().Clone(),
		bondState:    n.bondLedger.Export(),
		accountState: n.accounts.Export(),
		tick:         n.tick,
	}
}

func (n *Node) rollback(m memento) {
	n.engine = reserve.NewEngine(m.reserveState, n.reserveParams)
	n.engine.SetToken(n.accounts)
	n.engine.SetCollateral(n.custody)
	n.engine.SetBondRegistry(bonds.NewManager(n.bondLedger), crypto.ModuleAddress("bonds"))
	n.bondLedger.Restore(m.bondState)
	n.accounts.Restore(m.accountState)
	n.tick = m.tick
}

// commit runs a mutating operation under the writer lock with rollback and
// persistence.
func (n *Node) commit(operation string, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	before := n.capture()
	if err := fn(); err != nil {
		n.rollback(before)
		n.metrics.ObserveOperation(operation, "rejected")
		return err
	}
	if err := n.persist(); err != nil {
		n.rollback(before)
		n.metrics.ObserveOperation(operation, "persist_error")
		return err
	}
	n.metrics.ObserveOperation(operation, "committed")
	n.publishMetrics()
	return nil
}

func (n *Node) publishMetrics() {
	if n.metrics == nil {
		return
	}
	s := n.engine.State()
	locked, _ := new(big.Float).SetInt(n.bondLedger.TotalLocked()).Float64()
	circ, _ := new(big.Float).SetInt(s.Circulating).Float64()
	n.metrics.SetMarket(observability.MarketSample{
		Price:            s.Price.InexactFloat64(),
		ATHPrice:         s.ATHPrice.InexactFloat64(),
		SlipPool:         s.SlipPool.InexactFloat64(),
		PegPool:          s.PegPool.InexactFloat64(),
		Circulating:      circ,
		Locked:           locked,
		LeverageCap:      s.LeverageCap.InexactFloat64(),
		LeverageRealized: s.LeverageRealized.InexactFloat64(),
		LeverageTarget:   s.LeverageTarget.InexactFloat64(),
		Halted:           s.Halted,
	})
}

// Buy routes collateral into the reserve and mints CREST to the buyer.
func (n *Node) Buy(buyer crypto.Address, amount *big.Int) (*reserve.BuyResult, error) {
	var res *reserve.BuyResult
	err := n.commit("reserve.buy", func() error {
		var innerErr error
		res, innerErr = n.engine.Buy(buyer, amount)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	n.emitter.Emit(events.ReserveBuy{
		Buyer:      buyer.String(),
		AmountIn:   amount,
		Minted:     res.Minted,
		SlipIn:     res.SlipIn,
		PegIn:      res.PegIn,
		PriceAfter: res.PriceAfter,
	})
	if res.BearEnded {
		n.emitter.Emit(events.BearEnded{
			Major:       res.MajorBear,
			LeverageCap: n.ReserveState().LeverageCap,
		})
	}
	return res, nil
}

// Sell burns CREST and pays collateral back to the seller.
func (n *Node) Sell(seller crypto.Address, amount *big.Int) (*reserve.SellResult, error) {
	var res *reserve.SellResult
	err := n.commit("reserve.sell", func() error {
		var innerErr error
		res, innerErr = n.engine.Sell(seller, amount)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	n.emitter.Emit(events.ReserveSell{
		Seller:     seller.String(),
		AmountIn:   amount,
		Payout:     res.Payout,
		PegOut:     res.PegOut,
		SlipOut:    res.SlipOut,
		PriceAfter: res.PriceAfter,
	})
	if res.Halted {
		n.emitter.Emit(events.ReserveHalted{Tick: n.CurrentTick(), Price: res.PriceAfter})
		n.log.Warn("market halted: slip pool exhausted", "price", res.PriceAfter.String())
	}
	return res, nil
}

// Tick advances the engine clock. The counter is supplied by the caller;
// the node never reads a wall clock.
func (n *Node) Tick(now uint64) (*reserve.TickResult, error) {
	var res *reserve.TickResult
	err := n.commit("reserve.tick", func() error {
		var innerErr error
		res, innerErr = n.engine.Tick(now)
		if innerErr == nil {
			n.tick = now
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	if res.Elapsed > 0 {
		n.emitter.Emit(events.ReserveTick{
			Tick:          now,
			Elapsed:       res.Elapsed,
			Drained:       res.Drained,
			AccrualMinted: res.AccrualMinted,
			PriceAfter:    res.PriceAfter,
		})
	}
	return res, nil
}

// BondOpen locks value into a new bond position.
func (n *Node) BondOpen(owner crypto.Address, amount *big.Int, policy bonds.Policy) (uint64, error) {
	var id uint64
	err := n.commit("bonds.open", func() error {
		var innerErr error
		id, innerErr = n.bondLedger.Open(owner, amount, policy)
		return innerErr
	})
	if err != nil {
		return 0, err
	}
	pos, _ := n.BondPosition(id)
	activate := uint64(0)
	if pos != nil {
		activate = pos.ActivationEpoch
	}
	n.emitter.Emit(events.BondOpened{
		Owner:    owner.String(),
		BondID:   id,
		Amount:   amount,
		Policy:   policy.String(),
		Activate: activate,
	})
	return id, nil
}

// BondAdd locks additional value into an existing position.
func (n *Node) BondAdd(owner crypto.Address, id uint64, amount *big.Int) error {
	err := n.commit("bonds.add", func() error {
		return n.bondLedger.Add(owner, id, amount)
	})
	if err != nil {
		return err
	}
	n.emitter.Emit(events.BondAdded{Owner: owner.String(), BondID: id, Amount: amount})
	return nil
}

// BondSettle realises accrued value for a position.
func (n *Node) BondSettle(owner crypto.Address, id uint64) (*big.Int, bool, error) {
	var (
		payout  *big.Int
		removed bool
	)
	err := n.commit("bonds.settle", func() error {
		var innerErr error
		payout, removed, innerErr = n.bondLedger.Settle(owner, id)
		return innerErr
	})
	if err != nil {
		return nil, false, err
	}
	n.emitter.Emit(events.BondSettled{
		Owner:   owner.String(),
		BondID:  id,
		Payout:  payout,
		Removed: removed,
	})
	return payout, removed, nil
}

// BondChangePolicy migrates a position between payout policies.
func (n *Node) BondChangePolicy(owner crypto.Address, id uint64, policy bonds.Policy) error {
	err := n.commit("bonds.change_policy", func() error {
		return n.bondLedger.ChangePolicy(owner, id, policy)
	})
	if err != nil {
		return err
	}
	n.emitter.Emit(events.BondPolicyChanged{Owner: owner.String(), BondID: id, Policy: policy.String()})
	return nil
}

// CloseEpoch attempts a bond epoch boundary at the given tick. Early
// requests are a silent no-op.
func (n *Node) CloseEpoch(now uint64) (bool, error) {
	var (
		done bool
		span uint64
		idx  uint64
	)
	err := n.commit("bonds.close_epoch", func() error {
		ok, snap, innerErr := n.bondLedger.CloseEpoch(now)
		if innerErr != nil {
			return innerErr
		}
		done = ok
		if snap != nil {
			span = snap.Span
			idx = snap.Index
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if done {
		n.metrics.EpochClosed()
		n.emitter.Emit(events.BondEpochClosed{Epoch: idx, Tick: now, Span: span})
	}
	return done, nil
}

// Faucet credits collateral to an account on local networks.
func (n *Node) Faucet(to crypto.Address, amount *big.Int) error {
	return n.commit("faucet", func() error {
		return n.accounts.CreditCollateral(to, amount)
	})
}

// ReserveState returns a copy of the committed engine state.
func (n *Node) ReserveState() *reserve.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.State().Clone()
}

// CurrentTick reports the last committed tick counter.
func (n *Node) CurrentTick() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tick
}

// BondPosition returns a copy of the identified position.
func (n *Node) BondPosition(id uint64) (*bonds.Position, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pos, ok := n.bondLedger.Position(id)
	if !ok {
		return nil, ErrUnknownBond
	}
	return pos, nil
}

// BondPositions lists the position ids owned by an account.
func (n *Node) BondPositions(owner crypto.Address) []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bondLedger.OwnerPositions(owner)
}

// BondEpoch returns a closed epoch snapshot.
func (n *Node) BondEpoch(index uint64) (bonds.EpochSnapshot, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bondLedger.EpochAt(index)
}

// Totals summarises the system-wide aggregates.
type Totals struct {
	NativeSupply *big.Int
	BondLocked   *big.Int
	EpochsClosed uint64
	Collateral   *big.Int
}

// Totals reports the system-wide aggregates.
func (n *Node) Totals() Totals {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Totals{
		NativeSupply: n.accounts.NativeSupply(),
		BondLocked:   n.bondLedger.TotalLocked(),
		EpochsClosed: n.bondLedger.EpochCount(),
		Collateral:   n.custody.Holdings(),
	}
}

// Balances reports an account's native and collateral balances.
func (n *Node) Balances(addr crypto.Address) (native, collateral *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.accounts.NativeBalance(addr), n.accounts.CollateralBalance(addr)
}

func parseGenesisPrice(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("node: genesis %s: %w", field, err)
	}
	if d.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("node: genesis %s must be positive", field)
	}
	return d, nil
}
