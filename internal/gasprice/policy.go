// Package gasprice composes Chain-E gas-price adjustments: a tip
// multiplier and a hard cap, applied left to right.
package gasprice

import "math/big"

// Policy transforms a base gas price into the price the minter should
// actually use.
type Policy interface {
	Apply(base *big.Int) *big.Int
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(*big.Int) *big.Int

func (f PolicyFunc) Apply(base *big.Int) *big.Int { return f(base) }

// TipPolicy scales the price by ratio (e.g. 1.5 == +50%) and floors the
// result to an integer, mirroring the on-chain wei unit's precision.
func TipPolicy(ratio float64) Policy {
	return PolicyFunc(func(base *big.Int) *big.Int {
		r := new(big.Rat).SetFloat64(ratio)
		if r == nil || base == nil {
			return new(big.Int).Set(base)
		}
		scaled := new(big.Rat).Mul(new(big.Rat).SetInt(base), r)
		return new(big.Int).Quo(scaled.Num(), scaled.Denom())
	})
}

// LimitPolicy hard-caps the price at cap.
func LimitPolicy(cap *big.Int) Policy {
	return PolicyFunc(func(base *big.Int) *big.Int {
		if cap == nil || base.Cmp(cap) <= 0 {
			return new(big.Int).Set(base)
		}
		return new(big.Int).Set(cap)
	})
}

// FloorPolicy raises the price to floor if the network's suggested
// value falls below it, guaranteeing a minimum priority fee even when
// the node under-suggests during a quiet mempool.
func FloorPolicy(floor *big.Int) Policy {
	return PolicyFunc(func(base *big.Int) *big.Int {
		if floor == nil || base.Cmp(floor) >= 0 {
			return new(big.Int).Set(base)
		}
		return new(big.Int).Set(floor)
	})
}

// Composite applies each policy in order, left to right.
type Composite []Policy

func (c Composite) Apply(base *big.Int) *big.Int {
	cur := base
	for _, p := range c {
		cur = p.Apply(cur)
	}
	return cur
}
