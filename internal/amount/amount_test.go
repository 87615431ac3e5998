package amount

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNCGRoundsDown(t *testing.T) {
	n, err := ParseNCG("12.347")
	require.NoError(t, err)
	require.Equal(t, "12.34", n.String())
}

func TestParseNCGWhole(t *testing.T) {
	n, err := ParseNCG("100")
	require.NoError(t, err)
	require.Equal(t, int64(10000), n.Hundredths())
}

func TestFloor2NeverExceedsInput(t *testing.T) {
	// floor2(amount) <= amount; difference always < 0.01.
	cases := []string{"0.019999", "1.009", "99.995", "0.00", "123.456789"}
	for _, c := range cases {
		exact, ok := new(big.Rat).SetString(c)
		require.True(t, ok)

		n, err := ParseNCG(c)
		require.NoError(t, err)

		floored := new(big.Rat).SetFrac64(n.Hundredths(), NCGScale)
		require.True(t, floored.Cmp(exact) <= 0, "floor2(%s) must not exceed input", c)

		diff := new(big.Rat).Sub(exact, floored)
		require.True(t, diff.Cmp(big.NewRat(1, NCGScale)) < 0, "difference must be < 0.01 for %s", c)
	}
}

func TestMulRatioFloorFee(t *testing.T) {
	amt, err := ParseNCG("150.00")
	require.NoError(t, err)
	fee := amt.MulRatioFloor(0.01)
	require.Equal(t, "1.50", fee.String())
}

func TestSentFeeRefundInvariant(t *testing.T) {
	requested, _ := ParseNCG("150.00")
	max, _ := ParseNCG("100.00")
	excess := requested.Sub(max)
	fee := max.MulRatioFloor(0.01)
	sent := max.Sub(fee)
	require.Equal(t, requested, sent.Add(fee).Add(excess))
}

func TestNCGToWNCGRoundTrip(t *testing.T) {
	n, _ := ParseNCG("10.00")
	w := n.ToWNCG()
	require.Equal(t, "10.000000000000000000", w.String())
	require.Equal(t, n, w.ToNCG())
}

func TestWNCGToNCGFloorsDust(t *testing.T) {
	// 999999999999999 base units is < 0.01 NCG (1e16 base units) after
	// 18-decimal scaling.
	w, err := ParseWNCGBaseUnits("999999999999999")
	require.NoError(t, err)
	require.True(t, w.ToNCG().IsZero())
}

func TestWNCGFromEventAmount(t *testing.T) {
	w, err := ParseWNCGBaseUnits("10000000000000000000") // 10 wNCG
	require.NoError(t, err)
	require.Equal(t, "10.00", w.ToNCG().String())
}
