// Package feebank provides the one concrete escrow.FeeAdapter this module
// wires up: a resolver whitelist plus a fee-custody ledger. Grounded on
// the teacher's internal/fusion/safety.go SafetyDepositManager (deposit
// bookkeeping under a single sync.Mutex, an event-free accounting map)
// and internal/fusion/auction.go's Resolver.KYCCompleted whitelist check —
// generalized from "KYC'd resolver" to "whitelisted or access-token
// holding resolver" per SPEC_FULL.md §4.8.
package feebank

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/1inch/fusion-escrow/internal/escrow"
)

// Bank implements escrow.FeeAdapter: whitelist/access-token admission plus
// fee custody. DESIGN.md resolves SPEC_FULL.md §9.3's flagged "deposit
// returns the input coins unmoved" reference behavior by treating Charge
// as authoritatively transferring the fee into the bank's tracked total —
// the opposite of the reference's apparent bug.
type Bank struct {
	mu        sync.Mutex
	whitelist map[common.Address]bool
	total     uint64
	charged   map[common.Address]uint64
}

// New returns a Bank seeded with an initial whitelist.
func New(whitelist []common.Address) *Bank {
	b := &Bank{
		whitelist: make(map[common.Address]bool, len(whitelist)),
		charged:   make(map[common.Address]uint64),
	}
	for _, w := range whitelist {
		b.whitelist[w] = true
	}
	return b
}

// Whitelist adds resolver to the admission list.
func (b *Bank) Whitelist(resolver common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.whitelist[resolver] = true
}

// ValidateResolverAccess implements escrow.FeeAdapter: a whitelisted
// resolver, or one holding at least cfg.AccessTokenThreshold of the access
// token, is admitted for free; otherwise, if fee charging is enabled, the
// resolver is admitted subject to cfg.ResolverFee; otherwise access is
// refused outright.
func (b *Bank) ValidateResolverAccess(resolver common.Address, now uint32, accessTokenBalance uint64, cfg escrow.FeeConfig) (escrow.AccessVerdict, uint64, error) {
	const op = "feebank.Bank.ValidateResolverAccess"

	b.mu.Lock()
	whitelisted := b.whitelist[resolver]
	b.mu.Unlock()

	if whitelisted || accessTokenBalance >= cfg.AccessTokenThreshold {
		return escrow.AccessOk, 0, nil
	}
	if !cfg.Enabled {
		return escrow.AccessOk, 0, escrow.NewError(op, escrow.KindUnauthorized, nil)
	}
	return escrow.AccessCharge, cfg.ResolverFee, nil
}

// Charge deposits fee into the bank's custody on resolver's behalf.
func (b *Bank) Charge(resolver common.Address, fee uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += fee
	b.charged[resolver] += fee
	return nil
}

// Total returns the bank's cumulative tracked fee custody.
func (b *Bank) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// ChargedTo returns the cumulative fee charged against resolver.
func (b *Bank) ChargedTo(resolver common.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.charged[resolver]
}
