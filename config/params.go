package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"crestchain/native/bonds"
	"crestchain/native/reserve"
)

func override(dst *decimal.Decimal, field, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("config: %s: %w", field, err)
	}
	*dst = d
	return nil
}

// ReserveParams merges the [reserve] section over the default calibration.
func (cfg *Config) ReserveParams() (reserve.Params, error) {
	p := reserve.DefaultParams()
	sec := cfg.Reserve
	overrides := []struct {
		dst   *decimal.Decimal
		field string
		raw   string
	}{
		{&p.LeverageCeiling, "reserve.LeverageCeiling", sec.LeverageCeiling},
		{&p.InitialLeverage, "reserve.InitialLeverage", sec.InitialLeverage},
		{&p.BootstrapSlipFloor, "reserve.BootstrapSlipFloor", sec.BootstrapSlipFloor},
		{&p.MinOperatingSlip, "reserve.MinOperatingSlip", sec.MinOperatingSlip},
		{&p.MaxExpectedSelloff, "reserve.MaxExpectedSelloff", sec.MaxExpectedSelloff},
		{&p.BearTolerance, "reserve.BearTolerance", sec.BearTolerance},
		{&p.InitialBearLength, "reserve.InitialBearLength", sec.InitialBearLength},
		{&p.DrainTimeConstant, "reserve.DrainTimeConstant", sec.DrainTimeConstant},
		{&p.DemandTimeConstant, "reserve.DemandTimeConstant", sec.DemandTimeConstant},
		{&p.AccrualShareCap, "reserve.AccrualShareCap", sec.AccrualShareCap},
		{&p.MinMarketCap, "reserve.MinMarketCap", sec.MinMarketCap},
	}
	for _, o := range overrides {
		if err := override(o.dst, o.field, o.raw); err != nil {
			return reserve.Params{}, err
		}
	}
	if err := p.Validate(); err != nil {
		return reserve.Params{}, err
	}
	return p, nil
}

// BondParams merges the [bonds] section over the default calibration.
func (cfg *Config) BondParams() (bonds.Params, error) {
	p := bonds.DefaultParams()
	if err := override(&p.MaturitySpan, "bonds.MaturitySpan", cfg.Bonds.MaturitySpan); err != nil {
		return bonds.Params{}, err
	}
	if cfg.Bonds.MinEpochInterval > 0 {
		p.MinEpochInterval = cfg.Bonds.MinEpochInterval
	}
	if err := p.Validate(); err != nil {
		return bonds.Params{}, err
	}
	return p, nil
}
