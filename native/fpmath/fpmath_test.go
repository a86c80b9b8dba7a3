package fpmath

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// decimals match within 1e-30, the correctness bound the engine relies on.
func requireClose(t *testing.T, want, got decimal.Decimal) {
	t.Helper()
	diff := want.Sub(got).Abs()
	limit := decimal.New(1, -30)
	require.True(t, diff.LessThan(limit), "want %s got %s (diff %s)", want, got, diff)
}

func TestExpKnownValues(t *testing.T) {
	requireClose(t, One, Exp(decimal.Zero))
	requireClose(t,
		MustParse("2.718281828459045235360287471352662497757"),
		Exp(One))
	requireClose(t,
		MustParse("0.1353352832366126918939994949724844034076"),
		Exp(MustParse("-2")))
}

func TestPowFractionalExponent(t *testing.T) {
	// 8^(1/3) == 2
	got, err := Pow(decimal.NewFromInt(8), One.Div(decimal.NewFromInt(3)))
	require.NoError(t, err)
	requireClose(t, Two, got)

	// x^0 == 1 for positive x
	got, err = Pow(MustParse("123.456"), decimal.Zero)
	require.NoError(t, err)
	requireClose(t, One, got)

	// 0^k == 0 for positive k
	got, err = Pow(decimal.Zero, Two)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	_, err = Pow(MustParse("-1"), MustParse("0.5"))
	require.Error(t, err)
}

func TestSqrt(t *testing.T) {
	got, err := Sqrt(decimal.NewFromInt(2))
	require.NoError(t, err)
	requireClose(t, MustParse("1.414213562373095048801688724209698078570"), got)

	got, err = Sqrt(decimal.Zero)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	_, err = Sqrt(MustParse("-4"))
	require.Error(t, err)
}

func TestLn(t *testing.T) {
	got, err := Ln(Exp(Two))
	require.NoError(t, err)
	requireClose(t, Two, got)

	_, err = Ln(decimal.Zero)
	require.Error(t, err)
}

func TestFloorBig(t *testing.T) {
	require.Equal(t, big.NewInt(12), FloorBig(MustParse("12.999")))
	require.Equal(t, big.NewInt(0), FloorBig(MustParse("-3.5")))
	require.Equal(t, big.NewInt(0), FloorBig(decimal.Zero))
	require.True(t, FromBig(nil).IsZero())
}

func TestClampMinMax(t *testing.T) {
	lo, hi := One, decimal.NewFromInt(5)
	require.True(t, Clamp(decimal.Zero, lo, hi).Equal(lo))
	require.True(t, Clamp(decimal.NewFromInt(9), lo, hi).Equal(hi))
	require.True(t, Clamp(Two, lo, hi).Equal(Two))
	require.True(t, Min(lo, hi).Equal(lo))
	require.True(t, Max(lo, hi).Equal(hi))
}
