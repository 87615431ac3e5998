package gasprice

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTipPolicyScales(t *testing.T) {
	got := TipPolicy(1.5).Apply(big.NewInt(100))
	require.Equal(t, big.NewInt(150), got)
}

func TestLimitPolicyCaps(t *testing.T) {
	got := LimitPolicy(big.NewInt(100)).Apply(big.NewInt(150))
	require.Equal(t, big.NewInt(100), got)

	got = LimitPolicy(big.NewInt(100)).Apply(big.NewInt(50))
	require.Equal(t, big.NewInt(50), got)
}

func TestFloorPolicyRaisesLowSuggestions(t *testing.T) {
	got := FloorPolicy(big.NewInt(100)).Apply(big.NewInt(50))
	require.Equal(t, big.NewInt(100), got)

	got = FloorPolicy(big.NewInt(100)).Apply(big.NewInt(150))
	require.Equal(t, big.NewInt(150), got)
}

// Composite{Tip(r), Limit(cap)}(p) == min(floor(p*r), cap) for all p, r, cap >= 0.
func TestCompositeMatchesClosedForm(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		p := big.NewInt(rng.Int63n(1_000_000_000))
		ratio := rng.Float64() * 3
		cap := big.NewInt(rng.Int63n(1_000_000_000))

		composite := Composite{TipPolicy(ratio), LimitPolicy(cap)}
		got := composite.Apply(p)

		r := new(big.Rat).SetFloat64(ratio)
		scaled := new(big.Rat).Mul(new(big.Rat).SetInt(p), r)
		tipped := new(big.Int).Quo(scaled.Num(), scaled.Denom())
		want := tipped
		if tipped.Cmp(cap) > 0 {
			want = cap
		}
		require.Equal(t, want, got, "p=%s ratio=%f cap=%s", p, ratio, cap)
	}
}
