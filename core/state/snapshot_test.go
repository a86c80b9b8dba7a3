package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"crestchain/native/fpmath"
	"crestchain/native/reserve"
)

func TestSnapshotRoundTripPreservesReserveState(t *testing.T) {
	params := reserve.DefaultParams()
	src := reserve.NewState(params, fpmath.MustParse("1.25"), fpmath.MustParse("2"))
	src.Circulating = big.NewInt(12_345)
	src.SupplyWatermark = big.NewInt(20_000)
	src.SlipPool = fpmath.MustParse("9876.543210123456789")
	src.Halted = true
	src.LastUpdateTick = 777

	snap := &Snapshot{Tick: 777, Reserve: FromReserve(src)}
	raw, err := Encode(snap)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(777), decoded.Tick)

	got, err := decoded.Reserve.ToReserve()
	require.NoError(t, err)
	require.True(t, src.Price.Equal(got.Price))
	require.True(t, src.SlipPool.Equal(got.SlipPool))
	require.Equal(t, src.Circulating, got.Circulating)
	require.Equal(t, src.SupplyWatermark, got.SupplyWatermark)
	require.True(t, got.Halted)
	require.Equal(t, uint64(777), got.LastUpdateTick)
	// Derived leverage fields are rebuilt, not stored.
	require.True(t, got.LeverageEffHigh.Equal(src.LeverageEffHigh))
}

func TestReserveStateRejectsCorruptDecimal(t *testing.T) {
	src := reserve.NewState(reserve.DefaultParams(), fpmath.One, fpmath.One)
	rs := FromReserve(src)
	rs.SlipPool = "not-a-number"
	_, err := rs.ToReserve()
	require.Error(t, err)
	require.Contains(t, err.Error(), "slip_pool")
}
