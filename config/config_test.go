package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"crestchain/crypto"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
RPCAddress = "0.0.0.0:9000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.RPCAddress)
	require.Equal(t, "crest-local", cfg.NetworkName)
	require.Equal(t, int64(1000), cfg.TickInterval)
	require.Equal(t, uint8(6), cfg.CollateralDecimals)
	require.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
RPCAdress = "typo"
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "RPCAdress")
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, "127.0.0.1:8545", cfg.RPCAddress)
}

func TestReserveParamsOverrides(t *testing.T) {
	cfg := &Config{Reserve: ReserveSection{LeverageCeiling: "7", DrainTimeConstant: "2500"}}
	p, err := cfg.ReserveParams()
	require.NoError(t, err)
	require.Equal(t, "7", p.LeverageCeiling.String())
	require.Equal(t, "2500", p.DrainTimeConstant.String())
	// Untouched fields keep their defaults.
	require.Equal(t, "1.3", p.InitialLeverage.String())

	cfg = &Config{Reserve: ReserveSection{InitialLeverage: "50"}}
	_, err = cfg.ReserveParams()
	require.Error(t, err)
}

func TestGenesisRoundTrip(t *testing.T) {
	addr := crypto.MustNewAddress(crypto.CrestPrefix, make([]byte, crypto.AddressLength))
	dir := t.TempDir()
	path := writeFile(t, dir, "genesis.yaml", `
initial_price: "1.5"
allocations:
  - address: `+addr.String()+`
    collateral: "1000000"
`)
	g, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Equal(t, "1.5", g.ATHPrice) // defaults to the initial price

	coreGenesis, err := g.ToCore()
	require.NoError(t, err)
	require.Len(t, coreGenesis.Allocations, 1)
	require.Equal(t, addr.String(), coreGenesis.Allocations[0].Address.String())
	require.Equal(t, "1000000", coreGenesis.Allocations[0].Collateral.String())
}
