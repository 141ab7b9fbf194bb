package escrow

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MultiFillTakerData is the Merkle membership material a resolver presents
// for a partial fill against a multi-fill order: the proof for secretHash
// at index, folded against root (the full 32-byte root — hashlock_info on
// the order only carries the 30-byte head, per SPEC_FULL.md §4.3, so the
// full root must travel alongside the proof).
type MultiFillTakerData struct {
	Root       common.Hash
	Proof      MerkleProof
	Index      uint64
	SecretHash common.Hash
	Parts      uint64
	ThisFill   uint64
}

// DstComplement mirrors the destination-chain parameters a SrcEscrowCreated
// event carries for observers to independently create the matching
// destination escrow (SPEC_FULL.md §4.6 step 7, §6).
type DstComplement struct {
	MakerOnDst       common.Address
	TakingAmount     uint64
	DstTokenID       string
	DstSafetyDeposit uint64
	DstChainID       uint64
}

// SrcEscrowArgs is the packed per-fill argument set OrderInteraction parses
// out of the order protocol's `extra` blob and hands to
// FactoryRegistry.CreateSource (SPEC_FULL.md §4.6, §4.7).
type SrcEscrowArgs struct {
	HashlockInfo  common.Hash
	Timelocks     Timelocks
	FeeConfig     FeeConfig
	Whitelist     []common.Address
	AccessBalance uint64

	// DepositsHi/DepositsLo are the two 64-bit halves of the reference's
	// packed u128 `deposits` field: src_safety_deposit is the high half,
	// dst_safety_deposit the low half (SPEC_FULL.md §4.6 step 3). Modeled
	// as two explicit uint64 limbs rather than a full big-integer type
	// since nothing in this module needs u128 arithmetic beyond the split.
	DepositsHi uint64
	DepositsLo uint64

	MultiFill     *MultiFillTakerData
	DstComplement DstComplement
}

// SrcCreateParams is FactoryRegistry.CreateSource's full argument set,
// mirroring the order-protocol callback signature in SPEC_FULL.md §4.6.
type SrcCreateParams struct {
	OrderHash             common.Hash
	Maker                 common.Address
	Taker                 common.Address
	TokenID               string
	MakingAmount          uint64
	TakingAmount          uint64
	RemainingMakingAmount uint64
	Args                  SrcEscrowArgs
	Now                   uint32
}

// DstCreateParams is FactoryRegistry.CreateDestination's argument set.
// Immutables carries the maker-signed parameter set (unbound timelocks);
// Amount/SafetyDeposit on it are the exact amounts the destination escrow
// is owed, checked against what the resolver actually provided.
type DstCreateParams struct {
	Caller                   common.Address
	Immutables               Immutables
	TokensProvided           uint64
	SafetyDepositProvided    uint64
	SrcCancellationTimestamp uint32
	Now                      uint32
}

// FactoryRegistry creates Source and Destination escrows on behalf of the
// paired order protocol, enforces the pre-funded-balance invariant, and
// emits deterministic-creation events. Grounded on the teacher's
// SafetyDepositManager/AuctionEngine shape (a single process-wide manager
// guarded by one sync.RWMutex, counters plus a map of tracked objects) —
// generalized from tracking deposits/auctions to tracking escrow addresses.
// SPEC_FULL.md §9 re-architects the reference's capability-based custody
// into a structural one: FactoryRegistry is the only holder of the handle
// (ledger + event bus) an EscrowInstance needs to pay out, so custody
// authority flows from "who can reach the FactoryRegistry", not from a
// runtime signer capability.
type FactoryRegistry struct {
	mu sync.RWMutex

	owner       common.Address
	factoryID   common.Hash
	initialized bool

	srcRescueDelay uint32
	dstRescueDelay uint32
	feeAdapter     FeeAdapter

	merkle  *MerkleIndex
	ledger  FundingLedger
	events  Publisher

	srcCount uint64
	dstCount uint64
	escrows  map[common.Hash]*EscrowInstance
}

// NewFactoryRegistry wires a FactoryRegistry to its shared ledger, event
// bus, and MerkleIndex. Call Initialize before CreateSource/CreateDestination.
func NewFactoryRegistry(ledger FundingLedger, events Publisher, merkle *MerkleIndex) *FactoryRegistry {
	return &FactoryRegistry{
		merkle:  merkle,
		ledger:  ledger,
		events:  events,
		escrows: make(map[common.Hash]*EscrowInstance),
	}
}

// Initialize binds the one-time factory identity and parameters (SPEC_FULL.md
// §4.6). Calling it twice fails — FactoryRegistry is a single process-wide
// instance per factory identity.
func (f *FactoryRegistry) Initialize(owner common.Address, srcRescueDelay, dstRescueDelay uint32, feeAdapter FeeAdapter) error {
	const op = "FactoryRegistry.Initialize"

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return newErr(op, KindInvalidConfiguration, nil)
	}

	f.owner = owner
	f.srcRescueDelay = srcRescueDelay
	f.dstRescueDelay = dstRescueDelay
	f.feeAdapter = feeAdapter
	f.factoryID = common.Hash(sum256(owner.Bytes()))
	f.initialized = true
	return nil
}

// FactoryID returns the identity every escrow address under this registry
// is derived against.
func (f *FactoryRegistry) FactoryID() common.Hash {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.factoryID
}

// Counts returns the monotonic source/destination creation counters.
func (f *FactoryRegistry) Counts() (src, dst uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.srcCount, f.dstCount
}

// Ledger returns the FundingLedger this registry's escrows pay into, for
// callers (startup rehydration) that need to hand the same instance to
// RestoreEscrowInstance.
func (f *FactoryRegistry) Ledger() FundingLedger { return f.ledger }

// Events returns the Publisher this registry's escrows emit on, for the
// same rehydration use as Ledger.
func (f *FactoryRegistry) Events() Publisher { return f.events }

// Escrow looks up a previously created EscrowInstance by its derived
// address.
func (f *FactoryRegistry) Escrow(addr common.Hash) (*EscrowInstance, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.escrows[addr]
	return e, ok
}

// Restore re-registers a previously persisted EscrowInstance (typically
// built via RestoreEscrowInstance from an internal/store record) into the
// registry without re-running CreateSource/CreateDestination's funding
// checks or emitting a creation event. Startup-only: callers are
// responsible for ensuring initial state.
func (f *FactoryRegistry) Restore(inst *EscrowInstance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escrows[inst.Address()] = inst
}

// effectiveHashlock resolves a single-fill order's hashlock directly and a
// multi-fill order's hashlock through Merkle validation. The single/multi
// distinction comes from whether the order attached MultiFillTakerData, not
// from parsing a parts count out of hashlock_info: a genuine single-fill
// hashlock is H(secret), whose trailing 8 bytes are effectively random and
// almost always >= 2, so treating "parts >= 2" as "this is multi-fill"
// would misclassify nearly every single-fill order. ExtractPartsAmount only
// applies once MultiFill has already marked the order as multi-fill, to
// validate the parts count folded into that order's hashlock_info.
func (f *FactoryRegistry) effectiveHashlock(op string, p SrcCreateParams) (common.Hash, error) {
	md := p.Args.MultiFill
	if md == nil {
		return p.Args.HashlockInfo, nil
	}

	if parts := ExtractPartsAmount(p.Args.HashlockInfo); parts < 2 {
		return common.Hash{}, newErr(op, KindInvalidConfiguration, nil)
	}

	if err := f.merkle.ValidateAndRecord(
		p.OrderHash, md.Root, md.Proof, md.Index, md.SecretHash,
		p.MakingAmount, p.RemainingMakingAmount, md.ThisFill, md.Parts,
	); err != nil {
		return common.Hash{}, err
	}

	// effective_hashlock = last_validated_secret_hash (SPEC_FULL.md §4.6
	// step 2) — the specific part's secret hash, not the Merkle root.
	return md.SecretHash, nil
}

// CreateSource implements FactoryRegistry.create_source (SPEC_FULL.md §4.6):
// admits/charges the taker via FeeAdapter, resolves the effective
// hashlock (direct for single-fill, Merkle-validated for multi-fill),
// splits the packed safety-deposit pair, derives the deterministic source
// address, asserts it already holds the maker's pre-routed funds, and
// materializes the EscrowInstance there.
func (f *FactoryRegistry) CreateSource(p SrcCreateParams) (common.Hash, error) {
	const op = "FactoryRegistry.CreateSource"

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return common.Hash{}, newErr(op, KindInvalidConfiguration, nil)
	}

	verdict, fee, err := f.feeAdapter.ValidateResolverAccess(p.Taker, p.Now, p.Args.AccessBalance, p.Args.FeeConfig)
	if err != nil {
		return common.Hash{}, err
	}
	if verdict == AccessCharge {
		if err := f.feeAdapter.Charge(p.Taker, fee); err != nil {
			return common.Hash{}, newErr(op, KindUnauthorized, err)
		}
	}

	hashlock, err := f.effectiveHashlock(op, p)
	if err != nil {
		return common.Hash{}, err
	}

	srcDeposit := p.Args.DepositsHi

	im := Immutables{
		OrderHash:     p.OrderHash,
		Hashlock:      hashlock,
		Maker:         p.Maker,
		Taker:         p.Taker,
		TokenID:       p.TokenID,
		Amount:        p.MakingAmount,
		SafetyDeposit: srcDeposit,
		Timelocks:     p.Args.Timelocks.Bind(p.Now),
	}

	escrowAddr := DeriveEscrowAddress(f.factoryID, im, RoleSource)

	if f.ledger.EscrowTokenBalance(escrowAddr, p.TokenID) < im.Amount {
		return common.Hash{}, newErr(op, KindInsufficientBalance, nil)
	}
	if f.ledger.EscrowNativeBalance(escrowAddr) < im.SafetyDeposit {
		return common.Hash{}, newErr(op, KindInsufficientBalance, nil)
	}

	inst := NewEscrowInstance(escrowAddr, RoleSource, im, f.srcRescueDelay, f.ledger, f.events)
	f.escrows[escrowAddr] = inst
	f.srcCount++

	f.events.Publish(Event{
		Type:          EventSrcEscrowCreated,
		Address:       escrowAddr,
		OrderHash:     p.OrderHash,
		Role:          RoleSource,
		Timestamp:     p.Now,
		Immutables:    im,
		DstComplement: p.Args.DstComplement,
	})

	return escrowAddr, nil
}

// CreateDestination implements FactoryRegistry.create_destination
// (SPEC_FULL.md §4.6): verifies the resolver provided at least the required
// principal and safety deposit, binds deployed_at, enforces the
// cross-chain timelock ordering invariant (dst_cancellation must not
// outlive the counterpart source's cancellation window), returns any
// excess funds to the caller, and materializes the EscrowInstance.
func (f *FactoryRegistry) CreateDestination(p DstCreateParams) (common.Hash, error) {
	const op = "FactoryRegistry.CreateDestination"

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return common.Hash{}, newErr(op, KindInvalidConfiguration, nil)
	}

	if p.TokensProvided < p.Immutables.Amount {
		return common.Hash{}, newErr(op, KindInsufficientBalance, nil)
	}
	if p.SafetyDepositProvided < p.Immutables.SafetyDeposit {
		return common.Hash{}, newErr(op, KindInsufficientBalance, nil)
	}

	im := p.Immutables
	im.Timelocks = im.Timelocks.Bind(p.Now)

	dstCancelAbs, err := im.Timelocks.StageTime(StageDstCancellation)
	if err != nil {
		return common.Hash{}, newErr(op, KindInvalidConfiguration, err)
	}
	if dstCancelAbs > p.SrcCancellationTimestamp {
		return common.Hash{}, newErr(op, KindInvalidCreationTime, nil)
	}

	escrowAddr := DeriveEscrowAddress(f.factoryID, im, RoleDestination)

	if excessTokens := p.TokensProvided - im.Amount; excessTokens > 0 {
		f.ledger.CreditToken(p.Caller, im.TokenID, excessTokens)
	}
	if excessDeposit := p.SafetyDepositProvided - im.SafetyDeposit; excessDeposit > 0 {
		f.ledger.CreditNative(p.Caller, excessDeposit)
	}
	f.ledger.FundEscrow(escrowAddr, im.TokenID, im.Amount)
	f.ledger.FundEscrowNative(escrowAddr, im.SafetyDeposit)

	inst := NewEscrowInstance(escrowAddr, RoleDestination, im, f.dstRescueDelay, f.ledger, f.events)
	f.escrows[escrowAddr] = inst
	f.dstCount++

	f.events.Publish(Event{
		Type:      EventDstEscrowCreated,
		Address:   escrowAddr,
		OrderHash: im.OrderHash,
		Role:      RoleDestination,
		Timestamp: p.Now,
	})

	return escrowAddr, nil
}
