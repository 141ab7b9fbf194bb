package escrow

import "github.com/ethereum/go-ethereum/common"

// AuctionConfig is the packed Dutch-auction schedule an order carries:
// a starting rate bump that decays linearly to zero over Duration seconds
// from StartTime, consulted by AuctionAdapter.RateBump. This module does
// not interpret auction semantics itself (SPEC_FULL.md §4.7) — it only
// carries the config through to whichever AuctionAdapter the service wires
// up.
type AuctionConfig struct {
	StartTime       uint32
	Duration        uint32
	InitialRateBump uint64
}

// AuctionAdapter is the pure-function collaborator SPEC_FULL.md §4.8
// describes: Dutch-auction rate bump plus the making/taking amount
// adjustments it feeds. The core never implements pricing logic itself —
// only the interface, per the Non-goals in §1. internal/pricing supplies one
// concrete implementation, exercised by its own tests; cmd/escrowd does not
// wire an AuctionAdapter.
type AuctionAdapter interface {
	// RateBump returns the current basis-point rate bump for cfg at now,
	// compensated for gasPriceSignal so resolvers aren't penalized for
	// paying more gas than the auction assumed.
	RateBump(cfg AuctionConfig, gasPriceSignal uint64, now uint32) uint64

	// AdjustedMaking floors the making amount credited to the resolver given
	// rateBump; AdjustedTaking ceils the taking amount the resolver pays the
	// maker. See the
	// "rate bump" glossary entry in SPEC_FULL.md for the rounding rule.
	AdjustedMaking(orderMaking, orderTaking, taking, rateBump uint64) uint64
	AdjustedTaking(orderMaking, orderTaking, making, rateBump uint64) uint64
}

// FeeConfig is the per-order resolver-fee configuration
// OrderInteraction.PostInteraction forwards to FeeAdapter.
type FeeConfig struct {
	Enabled              bool
	ResolverFee          uint64
	AccessTokenThreshold uint64
}

// AccessVerdict is FeeAdapter.ValidateResolverAccess's result: either the
// resolver is admitted for free (whitelisted or holding enough access
// token), or admitted subject to a fee charge.
type AccessVerdict int

const (
	AccessOk AccessVerdict = iota
	AccessCharge
)

// FeeAdapter is the pure-function collaborator SPEC_FULL.md §4.8 describes
// for resolver admission and fee bank custody. Unlike the reference, whose
// deposit returns the coins unmoved, Charge is defined to authoritatively
// move the fee into the bank's custody rather than leaving it with the
// caller — see DESIGN.md's resolution of open question §9.3.
type FeeAdapter interface {
	// ValidateResolverAccess reports whether resolver may proceed for free
	// (whitelisted, or access-token balance at/above cfg.AccessTokenThreshold)
	// or must be charged cfg.ResolverFee. Returns Unauthorized if resolver
	// has neither whitelist membership nor sufficient access token and fee
	// charging is disabled.
	ValidateResolverAccess(resolver common.Address, now uint32, accessTokenBalance uint64, cfg FeeConfig) (AccessVerdict, uint64, error)

	// Charge deposits fee into the fee bank's custody on resolver's behalf.
	Charge(resolver common.Address, fee uint64) error
}
