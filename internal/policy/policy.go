// Package policy implements the ban and amount-clamp rules applied to
// every inbound NCG transfer before a mint is attempted.
package policy

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/planetarium/ncg-bridge/internal/amount"
)

// BannedSenders is an immutable set of disallowed Chain-N addresses,
// compared case-insensitively.
type BannedSenders struct {
	set mapset.Set[string]
}

// NewBannedSenders builds a BannedSenders set from the configured list.
func NewBannedSenders(addrs []string) BannedSenders {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, a := range addrs {
		set.Add(normalize(a))
	}
	return BannedSenders{set: set}
}

func (b BannedSenders) Contains(addr string) bool {
	return b.set.Contains(normalize(addr))
}

func normalize(addr string) string {
	out := make([]byte, len(addr))
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// ClampResult is the outcome of applying the min/max exchange bounds to
// a requested amount.
type ClampResult struct {
	// BelowMin is true if amount < MIN; the transfer is rejected outright.
	BelowMin bool
	// Effective is the amount that should actually be exchanged: either
	// the original amount, or MAX if the original exceeded it.
	Effective amount.NCG
	// Excess is the portion above MAX that must be scheduled for refund;
	// zero unless the amount was clamped down.
	Excess amount.NCG
}

// Limits holds the configured MIN/MAX exchange bounds.
type Limits struct {
	Min amount.NCG
	Max amount.NCG
}

// Clamp applies the MIN/MAX bounds to a requested amount per spec §4.3
// step 4.
func (l Limits) Clamp(requested amount.NCG) ClampResult {
	if requested.Cmp(l.Min) < 0 {
		return ClampResult{BelowMin: true}
	}
	if requested.Cmp(l.Max) > 0 {
		return ClampResult{
			Effective: l.Max,
			Excess:    requested.Sub(l.Max),
		}
	}
	return ClampResult{Effective: requested}
}
