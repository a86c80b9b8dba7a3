package events

import (
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	EventReserveBuy    = "reserve.buy"
	EventReserveSell   = "reserve.sell"
	EventReserveTick   = "reserve.tick"
	EventReserveHalted = "reserve.halted"
	EventBearEnded     = "reserve.bear_ended"
)

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ReserveBuy records collateral entering the reserve and the supply minted
// against it.
type ReserveBuy struct {
	Buyer      string
	AmountIn   *big.Int
	Minted     *big.Int
	SlipIn     decimal.Decimal
	PegIn      decimal.Decimal
	PriceAfter decimal.Decimal
}

func (ReserveBuy) EventType() string { return EventReserveBuy }

func (e ReserveBuy) Attributes() map[string]string {
	return map[string]string{
		"buyer":       e.Buyer,
		"amount_in":   bigString(e.AmountIn),
		"minted":      bigString(e.Minted),
		"slip_in":     e.SlipIn.String(),
		"peg_in":      e.PegIn.String(),
		"price_after": e.PriceAfter.String(),
	}
}

// ReserveSell records supply burned back into the reserve and the collateral
// released.
type ReserveSell struct {
	Seller     string
	AmountIn   *big.Int
	Payout     *big.Int
	PegOut     decimal.Decimal
	SlipOut    decimal.Decimal
	PriceAfter decimal.Decimal
}

func (ReserveSell) EventType() string { return EventReserveSell }

func (e ReserveSell) Attributes() map[string]string {
	return map[string]string{
		"seller":      e.Seller,
		"amount_in":   bigString(e.AmountIn),
		"payout":      bigString(e.Payout),
		"peg_out":     e.PegOut.String(),
		"slip_out":    e.SlipOut.String(),
		"price_after": e.PriceAfter.String(),
	}
}

// ReserveTick records a periodic recalibration step.
type ReserveTick struct {
	Tick          uint64
	Elapsed       uint64
	Drained       decimal.Decimal
	AccrualMinted *big.Int
	PriceAfter    decimal.Decimal
}

func (ReserveTick) EventType() string { return EventReserveTick }

func (e ReserveTick) Attributes() map[string]string {
	return map[string]string{
		"tick":           strconv.FormatUint(e.Tick, 10),
		"elapsed":        strconv.FormatUint(e.Elapsed, 10),
		"drained":        e.Drained.String(),
		"accrual_minted": bigString(e.AccrualMinted),
		"price_after":    e.PriceAfter.String(),
	}
}

// ReserveHalted marks the terminal slip-pool exhaustion.
type ReserveHalted struct {
	Tick  uint64
	Price decimal.Decimal
}

func (ReserveHalted) EventType() string { return EventReserveHalted }

func (e ReserveHalted) Attributes() map[string]string {
	return map[string]string{
		"tick":  strconv.FormatUint(e.Tick, 10),
		"price": e.Price.String(),
	}
}

// BearEnded records the close of a bear-market episode.
type BearEnded struct {
	Major       bool
	LeverageCap decimal.Decimal
}

func (BearEnded) EventType() string { return EventBearEnded }

func (e BearEnded) Attributes() map[string]string {
	return map[string]string{
		"major":        strconv.FormatBool(e.Major),
		"leverage_cap": e.LeverageCap.String(),
	}
}
