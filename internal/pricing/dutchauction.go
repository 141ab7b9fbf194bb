// Package pricing provides the one concrete escrow.AuctionAdapter in this
// module (cmd/escrowd does not wire it), grounded on the teacher's Dutch-auction rate
// interpolator (internal/fusion/auction.go's AuctionEngine and
// internal/types/order.go's FusionOrder.CalculateCurrentRate). The escrow
// core only depends on the escrow.AuctionAdapter interface — per
// SPEC_FULL.md §1's Non-goals, no order-matching or price-discovery logic
// lives in the core itself.
package pricing

import (
	"math/big"

	"github.com/1inch/fusion-escrow/internal/escrow"
)

// basisPoints is the rate-bump denominator: a RateBump of 500 means a 5%
// adjustment, matching the teacher's percentage-as-big.Int convention in
// FusionOrder.CalculateCurrentRate.
const basisPoints = 10_000

// gasCompensationDivisor controls how much of the gas-price signal folds
// into the rate bump. The teacher's auction engine does not itself model
// gas compensation (its PriceCurve is wall-clock only); this divisor is
// this module's own linear gas-compensation term, layered on top of the
// teacher's decay shape per SPEC_FULL.md §4.8's "gas-price compensation"
// requirement.
const gasCompensationDivisor = 1_000

// DutchAuction implements escrow.AuctionAdapter as a linear decay from
// InitialRateBump to zero over cfg.Duration seconds starting at
// cfg.StartTime, plus a gas-price compensation term — the same overall
// shape as the teacher's AuctionEngine/FusionOrder.CalculateCurrentRate
// (before cfg.StartTime: nominal rate; during: linear interpolation; after:
// floor rate), generalized from the teacher's multi-point PriceCurve to a
// single linear segment since SPEC_FULL.md's AuctionConfig only carries a
// start, duration and initial bump.
type DutchAuction struct{}

// New returns a DutchAuction adapter.
func New() *DutchAuction { return &DutchAuction{} }

// RateBump returns the basis-point rate bump for cfg at now, matching the
// teacher's "before start -> nominal, during -> interpolate, after -> floor"
// phases from FusionOrder.CalculateCurrentRate.
func (DutchAuction) RateBump(cfg escrow.AuctionConfig, gasPriceSignal uint64, now uint32) uint64 {
	gasBump := gasPriceSignal / gasCompensationDivisor

	if now <= cfg.StartTime || cfg.Duration == 0 {
		return cfg.InitialRateBump + gasBump
	}

	elapsed := now - cfg.StartTime
	if elapsed >= cfg.Duration {
		return gasBump
	}

	remaining := uint64(cfg.Duration - elapsed)
	decayed := cfg.InitialRateBump * remaining / uint64(cfg.Duration)
	return decayed + gasBump
}

// AdjustedMaking implements the floor half of the rate-bump formula from
// SPEC_FULL.md's glossary: the resolver-owed making amount shrinks as the
// rate bump grows, floored to avoid crediting the resolver for a fraction
// of a token unit.
func (DutchAuction) AdjustedMaking(orderMaking, orderTaking, taking, rateBump uint64) uint64 {
	if orderTaking == 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(int64(taking)), big.NewInt(int64(orderMaking)))
	num.Mul(num, big.NewInt(basisPoints))
	den := new(big.Int).Mul(big.NewInt(int64(orderTaking)), big.NewInt(int64(basisPoints+rateBump)))
	return new(big.Int).Div(num, den).Uint64()
}

// AdjustedTaking implements the ceiling half: the resolver-owed taking
// amount grows with the rate bump, ceiled per the glossary's
// ceil(n/d) = (n + d - 1) / d rule so the maker is never shorted a
// fractional unit.
func (DutchAuction) AdjustedTaking(orderMaking, orderTaking, making, rateBump uint64) uint64 {
	if orderMaking == 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(int64(making)), big.NewInt(int64(orderTaking)))
	num.Mul(num, big.NewInt(int64(basisPoints+rateBump)))
	den := new(big.Int).Mul(big.NewInt(int64(orderMaking)), big.NewInt(basisPoints))

	numMinusOne := new(big.Int).Add(num, den)
	numMinusOne.Sub(numMinusOne, big.NewInt(1))
	return new(big.Int).Div(numMinusOne, den).Uint64()
}
