package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"os"
	"strings"

	"crestchain/core"
	"crestchain/crypto"
	"crestchain/native/bonds"
	"crestchain/native/fpmath"
	"crestchain/native/reserve"
	"crestchain/observability/logging"
	"crestchain/storage"
)

// crest-sim runs a seeded stream of random operations against an in-memory
// node and checks the reserve invariants after every committed step. It is
// the calibration smoke test: same seed, same trajectory.
func main() {
	seed := flag.Int64("seed", 1, "RNG seed")
	ops := flag.Int("ops", 10_000, "Number of operations to run")
	actors := flag.Int("actors", 5, "Number of simulated accounts")
	funding := flag.Int64("funding", 50_000_000, "Collateral base units per actor")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CREST_ENV"))
	logger := logging.Setup("crest-sim", env)

	if err := run(*seed, *ops, *actors, *funding, logger); err != nil {
		logger.Error("Simulation failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(seed int64, ops, actors int, funding int64, logger *slog.Logger) error {
	if actors < 1 {
		return errors.New("need at least one actor")
	}

	accounts := make([]crypto.Address, actors)
	allocations := make([]core.Allocation, actors)
	for i := range accounts {
		raw := make([]byte, crypto.AddressLength)
		raw[crypto.AddressLength-1] = byte(i + 1)
		accounts[i] = crypto.MustNewAddress(crypto.CrestPrefix, raw)
		allocations[i] = core.Allocation{Address: accounts[i], Collateral: big.NewInt(funding)}
	}

	node, err := core.NewNode(core.NodeConfig{
		ReserveParams:      reserve.DefaultParams(),
		BondParams:         bonds.DefaultParams(),
		CollateralDecimals: 6,
		Genesis: core.Genesis{
			InitialPrice: "1",
			ATHPrice:     "2",
			Allocations:  allocations,
		},
		Database: storage.NewMemDB(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	policies := []bonds.Policy{bonds.PolicyDecay, bonds.PolicyGainsOnly, bonds.PolicyReinvest}

	var (
		now      uint64
		buys     int
		sells    int
		ticks    int
		bondOps  int
		rejected int
	)

	for i := 0; i < ops; i++ {
		actor := accounts[rng.Intn(len(accounts))]
		switch rng.Intn(6) {
		case 0, 1:
			amount := big.NewInt(int64(1 + rng.Intn(10_000)))
			if _, err := node.Buy(actor, amount); err != nil {
				rejected++
			} else {
				buys++
			}
		case 2:
			held, _ := node.Balances(actor)
			if held.Sign() <= 0 {
				continue
			}
			amount := new(big.Int).Rsh(held, uint(1+rng.Intn(3)))
			if amount.Sign() <= 0 {
				continue
			}
			if _, err := node.Sell(actor, amount); err != nil {
				rejected++
			} else {
				sells++
			}
		case 3:
			now += uint64(1 + rng.Intn(500))
			if _, err := node.Tick(now); err != nil {
				return fmt.Errorf("tick at %d: %w", now, err)
			}
			ticks++
			if rng.Intn(4) == 0 {
				if _, err := node.CloseEpoch(now); err != nil {
					return fmt.Errorf("epoch close at %d: %w", now, err)
				}
			}
		case 4:
			held, _ := node.Balances(actor)
			if held.Sign() <= 0 {
				continue
			}
			amount := new(big.Int).Rsh(held, 1)
			if amount.Sign() <= 0 {
				continue
			}
			policy := policies[rng.Intn(len(policies))]
			if _, err := node.BondOpen(actor, amount, policy); err != nil {
				rejected++
			} else {
				bondOps++
			}
		case 5:
			ids := node.BondPositions(actor)
			if len(ids) == 0 {
				continue
			}
			id := ids[rng.Intn(len(ids))]
			if _, _, err := node.BondSettle(actor, id); err != nil {
				rejected++
			} else {
				bondOps++
			}
		}

		if err := checkStep(node); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}

	st := node.ReserveState()
	totals := node.Totals()
	logger.Info("Simulation complete",
		slog.Int("ops", ops),
		slog.Int("buys", buys),
		slog.Int("sells", sells),
		slog.Int("ticks", ticks),
		slog.Int("bond_ops", bondOps),
		slog.Int("rejected", rejected),
		slog.String("price", st.Price.String()),
		slog.String("ath", st.ATHPrice.String()),
		slog.String("reserve", st.Reserve().String()),
		slog.String("supply", totals.NativeSupply.String()),
		slog.String("bond_locked", totals.BondLocked.String()),
		slog.Uint64("epochs", totals.EpochsClosed),
		slog.Bool("halted", st.Halted))
	return nil
}

// checkStep verifies the committed state after an operation: the engine
// invariants hold, and collateral custody covers the decimal reserve.
func checkStep(node *core.Node) error {
	st := node.ReserveState()
	if err := st.CheckInvariants(); err != nil {
		return err
	}
	totals := node.Totals()
	limit := fpmath.FromBig(totals.Collateral).Add(fpmath.One)
	if st.Reserve().GreaterThan(limit) {
		return fmt.Errorf("reserve %s exceeds custody %s", st.Reserve(), totals.Collateral)
	}
	return nil
}
