package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/planetarium/ncg-bridge/internal/amount"
)

func mustNCG(t *testing.T, s string) amount.NCG {
	t.Helper()
	n, err := amount.ParseNCG(s)
	require.NoError(t, err)
	return n
}

func TestBannedSendersCaseInsensitive(t *testing.T) {
	b := NewBannedSenders([]string{"0xDEADBEEF"})
	require.True(t, b.Contains("0xdeadbeef"))
	require.True(t, b.Contains("0xDEADBEEF"))
	require.False(t, b.Contains("0xfeedface"))
}

func TestClampBelowMin(t *testing.T) {
	l := Limits{Min: mustNCG(t, "1.00"), Max: mustNCG(t, "100.00")}
	res := l.Clamp(mustNCG(t, "0.50"))
	require.True(t, res.BelowMin)
}

func TestClampAboveMaxSchedulesRefund(t *testing.T) {
	l := Limits{Min: mustNCG(t, "1.00"), Max: mustNCG(t, "100.00")}
	res := l.Clamp(mustNCG(t, "150.00"))
	require.False(t, res.BelowMin)
	require.Equal(t, "100.00", res.Effective.String())
	require.Equal(t, "50.00", res.Excess.String())
}

func TestClampWithinBoundsPassesThrough(t *testing.T) {
	l := Limits{Min: mustNCG(t, "1.00"), Max: mustNCG(t, "100.00")}
	res := l.Clamp(mustNCG(t, "42.00"))
	require.False(t, res.BelowMin)
	require.Equal(t, "42.00", res.Effective.String())
	require.True(t, res.Excess.IsZero())
}
