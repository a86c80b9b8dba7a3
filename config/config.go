package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node's TOML configuration.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	RPCAuthToken string `toml:"RPCAuthToken"`
	DataDir      string `toml:"DataDir"`
	GenesisFile  string `toml:"GenesisFile"`
	NetworkName  string `toml:"NetworkName"`
	Environment  string `toml:"Environment"`
	LogFile      string `toml:"LogFile"`

	// TickInterval is how often the daemon advances the engine clock, in
	// milliseconds of wall time per tick.
	TickInterval int64 `toml:"TickIntervalMillis"`
	// EpochInterval is how many ticks the daemon waits between bond epoch
	// close attempts.
	EpochInterval uint64 `toml:"EpochIntervalTicks"`

	// RateLimitRPS caps RPC requests per second per node; burst rides on top.
	RateLimitRPS   float64 `toml:"RateLimitRPS"`
	RateLimitBurst int     `toml:"RateLimitBurst"`

	// CollateralDecimals is the base-unit exponent of the reference asset.
	CollateralDecimals uint8 `toml:"CollateralDecimals"`

	// FaucetEnabled allows unauthenticated collateral funding. Local
	// networks only.
	FaucetEnabled bool `toml:"FaucetEnabled"`

	// PausedModules names the modules ("reserve", "bonds") to start paused.
	// The operator pause endpoint can flip them at runtime.
	PausedModules []string `toml:"PausedModules"`

	Reserve ReserveSection `toml:"reserve"`
	Bonds   BondsSection   `toml:"bonds"`
}

// ReserveSection overrides engine calibration. Empty strings keep defaults.
type ReserveSection struct {
	LeverageCeiling    string `toml:"LeverageCeiling"`
	InitialLeverage    string `toml:"InitialLeverage"`
	BootstrapSlipFloor string `toml:"BootstrapSlipFloor"`
	MinOperatingSlip   string `toml:"MinOperatingSlip"`
	MaxExpectedSelloff string `toml:"MaxExpectedSelloff"`
	BearTolerance      string `toml:"BearTolerance"`
	InitialBearLength  string `toml:"InitialBearLength"`
	DrainTimeConstant  string `toml:"DrainTimeConstant"`
	DemandTimeConstant string `toml:"DemandTimeConstant"`
	AccrualShareCap    string `toml:"AccrualShareCap"`
	MinMarketCap       string `toml:"MinMarketCap"`
}

// BondsSection overrides bond ledger calibration.
type BondsSection struct {
	MaturitySpan     string `toml:"MaturitySpan"`
	MinEpochInterval uint64 `toml:"MinEpochInterval"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
	}
	applyDefaults(cfg, path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if strings.TrimSpace(cfg.GenesisFile) == "" {
		cfg.GenesisFile = filepath.Join(filepath.Dir(path), "genesis.yaml")
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "crest-local"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 1000
	}
	if cfg.EpochInterval == 0 {
		cfg.EpochInterval = 100
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
	if cfg.CollateralDecimals == 0 {
		cfg.CollateralDecimals = 6
	}
}

// Validate rejects configurations the daemon cannot run with.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return errors.New("config: RPCAddress must not be empty")
	}
	if cfg.TickInterval <= 0 {
		return errors.New("config: TickIntervalMillis must be positive")
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return errors.New("config: rate limit values must be positive")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg, path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
