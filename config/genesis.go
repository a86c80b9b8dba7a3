package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"crestchain/core"
	"crestchain/crypto"
)

// Genesis is the YAML genesis document seeding a fresh network.
type Genesis struct {
	InitialPrice string              `yaml:"initial_price"`
	ATHPrice     string              `yaml:"ath_price"`
	Allocations  []GenesisAllocation `yaml:"allocations"`
}

// GenesisAllocation funds one bech32 account with collateral base units.
type GenesisAllocation struct {
	Address    string `yaml:"address"`
	Collateral string `yaml:"collateral"`
}

// LoadGenesis reads and validates a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g := &Genesis{}
	if err := yaml.Unmarshal(raw, g); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	if g.InitialPrice == "" {
		return nil, errors.New("genesis: initial_price is required")
	}
	if g.ATHPrice == "" {
		g.ATHPrice = g.InitialPrice
	}
	return g, nil
}

// ToCore resolves the document into the node's genesis form.
func (g *Genesis) ToCore() (core.Genesis, error) {
	out := core.Genesis{
		InitialPrice: g.InitialPrice,
		ATHPrice:     g.ATHPrice,
		Allocations:  make([]core.Allocation, 0, len(g.Allocations)),
	}
	for i, alloc := range g.Allocations {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return core.Genesis{}, fmt.Errorf("genesis: allocation %d: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(alloc.Collateral, 10)
		if !ok || amount.Sign() <= 0 {
			return core.Genesis{}, fmt.Errorf("genesis: allocation %d: bad collateral %q", i, alloc.Collateral)
		}
		out.Allocations = append(out.Allocations, core.Allocation{Address: addr, Collateral: amount})
	}
	return out, nil
}
