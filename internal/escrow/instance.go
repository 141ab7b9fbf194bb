package escrow

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State is the custody lifecycle of an EscrowInstance. Transitions are
// one-way: Active -> {Withdrawn, Cancelled}, both terminal.
type State int

const (
	StateActive State = iota
	StateWithdrawn
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateWithdrawn:
		return "Withdrawn"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Ledger is the minimal external custody sink an EscrowInstance pays into.
// It models the "principal goes to recipient, safety deposit goes to
// caller" transfers from SPEC_FULL.md §4.5 without requiring a live chain
// connection — this module's core is chain-agnostic by design (§1, §5).
type Ledger interface {
	CreditToken(party common.Address, tokenID string, amount uint64)
	CreditNative(party common.Address, amount uint64)
	DebitEscrowToken(addr common.Hash, tokenID string, amount uint64)
	DebitEscrowNative(addr common.Hash, amount uint64)
}

// FundingLedger extends Ledger with the escrow-address balance queries
// FactoryRegistry needs to verify a source escrow address was pre-funded
// (SPEC_FULL.md §4.6 step 6) before it materializes the EscrowInstance
// there, and the crediting half it needs to fund a destination escrow from
// the resolver's deposited tokens (§4.6 create_destination). Escrow
// addresses are 32-byte content-derived hashes (AddressDeriver), distinct
// from the 20-byte party addresses Ledger.CreditToken/CreditNative use, so
// these live on a separate keyspace rather than overloading common.Address.
type FundingLedger interface {
	Ledger
	FundEscrow(addr common.Hash, tokenID string, amount uint64)
	FundEscrowNative(addr common.Hash, amount uint64)
	EscrowTokenBalance(addr common.Hash, tokenID string) uint64
	EscrowNativeBalance(addr common.Hash) uint64
}

// MemoryLedger is an in-process Ledger, the default wiring for tests and
// for the standalone daemon before a real chain-settlement adapter exists.
type MemoryLedger struct {
	mu           sync.Mutex
	tokens       map[common.Address]map[string]uint64
	native       map[common.Address]uint64
	escrowTokens map[common.Hash]map[string]uint64
	escrowNative map[common.Hash]uint64
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		tokens:       make(map[common.Address]map[string]uint64),
		native:       make(map[common.Address]uint64),
		escrowTokens: make(map[common.Hash]map[string]uint64),
		escrowNative: make(map[common.Hash]uint64),
	}
}

func (l *MemoryLedger) CreditToken(party common.Address, tokenID string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tokens[party] == nil {
		l.tokens[party] = make(map[string]uint64)
	}
	l.tokens[party][tokenID] += amount
}

func (l *MemoryLedger) CreditNative(party common.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native[party] += amount
}

// TokenBalance returns party's tracked balance of tokenID.
func (l *MemoryLedger) TokenBalance(party common.Address, tokenID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens[party][tokenID]
}

// NativeBalance returns party's tracked native-coin balance.
func (l *MemoryLedger) NativeBalance(party common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.native[party]
}

// FundEscrow simulates the maker pre-routing principal to a deterministic
// source escrow address ahead of FactoryRegistry.CreateSource, or a
// resolver funding a destination escrow directly. Test/tooling helper —
// a real chain-settlement adapter would observe this via an on-chain
// transfer instead of a direct call.
func (l *MemoryLedger) FundEscrow(addr common.Hash, tokenID string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.escrowTokens == nil {
		l.escrowTokens = make(map[common.Hash]map[string]uint64)
	}
	if l.escrowTokens[addr] == nil {
		l.escrowTokens[addr] = make(map[string]uint64)
	}
	l.escrowTokens[addr][tokenID] += amount
}

// FundEscrowNative is FundEscrow's native-coin counterpart (the safety
// deposit leg).
func (l *MemoryLedger) FundEscrowNative(addr common.Hash, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.escrowNative == nil {
		l.escrowNative = make(map[common.Hash]uint64)
	}
	l.escrowNative[addr] += amount
}

// EscrowTokenBalance returns the tracked principal balance pre-funded at
// addr, used by FactoryRegistry.CreateSource to enforce the
// InsufficientBalance invariant in SPEC_FULL.md §4.6 step 6.
func (l *MemoryLedger) EscrowTokenBalance(addr common.Hash, tokenID string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrowTokens[addr][tokenID]
}

// EscrowNativeBalance is EscrowTokenBalance's native-coin counterpart.
func (l *MemoryLedger) EscrowNativeBalance(addr common.Hash) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrowNative[addr]
}

// DebitEscrowToken removes amount of tokenID from addr's tracked escrow
// balance, called on a terminal Withdraw/Cancel so the residual balance is
// zero once the principal has been credited out (SPEC_FULL.md §8 property
// 4), and on Rescue for the amount extracted. Clamped at zero rather than
// going negative.
func (l *MemoryLedger) DebitEscrowToken(addr common.Hash, tokenID string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.escrowTokens[addr] == nil {
		return
	}
	if bal := l.escrowTokens[addr][tokenID]; bal <= amount {
		delete(l.escrowTokens[addr], tokenID)
	} else {
		l.escrowTokens[addr][tokenID] = bal - amount
	}
}

// DebitEscrowNative is DebitEscrowToken's native-coin (safety deposit)
// counterpart.
func (l *MemoryLedger) DebitEscrowNative(addr common.Hash, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal := l.escrowNative[addr]; bal <= amount {
		delete(l.escrowNative, addr)
	} else {
		l.escrowNative[addr] = bal - amount
	}
}

// EscrowInstance is the custody container: principal + safety deposit
// bound to a frozen Immutables set, guarded by its own mutex so unrelated
// escrows never contend (SPEC_FULL.md §5).
type EscrowInstance struct {
	mu sync.Mutex

	address     common.Hash
	role        Role
	immutables  Immutables
	state       State
	secret      []byte
	rescueDelay uint32

	ledger Ledger
	events Publisher
}

// NewEscrowInstance materializes an Active escrow at address for role,
// with frozen Immutables. rescueDelay is the factory-level, per-role
// parameter the rescue window opens relative to deployed_at.
func NewEscrowInstance(address common.Hash, role Role, im Immutables, rescueDelay uint32, ledger Ledger, events Publisher) *EscrowInstance {
	return &EscrowInstance{
		address:     address,
		role:        role,
		immutables:  im,
		state:       StateActive,
		rescueDelay: rescueDelay,
		ledger:      ledger,
		events:      events,
	}
}

// RestoreEscrowInstance reconstructs an EscrowInstance in a specific
// lifecycle state and with a specific revealed secret (if any), bypassing
// the funding/validation side effects NewEscrowInstance's callers
// (FactoryRegistry.CreateSource/CreateDestination) perform. Used once at
// daemon startup to rehydrate escrows internal/store persisted before the
// previous process exited.
func RestoreEscrowInstance(address common.Hash, role Role, im Immutables, rescueDelay uint32, state State, secret []byte, ledger Ledger, events Publisher) *EscrowInstance {
	return &EscrowInstance{
		address:     address,
		role:        role,
		immutables:  im,
		state:       state,
		secret:      secret,
		rescueDelay: rescueDelay,
		ledger:      ledger,
		events:      events,
	}
}

func (e *EscrowInstance) Address() common.Hash   { return e.address }
func (e *EscrowInstance) Role() Role             { return e.role }
func (e *EscrowInstance) Immutables() Immutables { return e.immutables }

func (e *EscrowInstance) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Secret returns the secret revealed by a successful Withdraw/PublicWithdraw,
// or nil if the escrow is still Active or settled via Cancel/PublicCancel.
func (e *EscrowInstance) Secret() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.secret
}

// RescueDelay returns the per-role delay the rescue window opens after,
// relative to the bound Timelocks' deployed_at.
func (e *EscrowInstance) RescueDelay() uint32 { return e.rescueDelay }

func (e *EscrowInstance) checkImmutables(op string, supplied Immutables) error {
	if !e.immutables.Equal(supplied) {
		return newErr(op, KindImmutablesMismatch, nil)
	}
	return nil
}

func (e *EscrowInstance) now() uint32 {
	return uint32(time.Now().Unix())
}

func (e *EscrowInstance) privateWithdrawWindow() (start, end Stage) {
	if e.role == RoleSource {
		return StageSrcWithdrawal, StageSrcCancellation
	}
	return StageDstWithdrawal, StageDstCancellation
}

func (e *EscrowInstance) publicWithdrawWindow() (start, end Stage) {
	if e.role == RoleSource {
		return StageSrcPublicWithdrawal, StageSrcCancellation
	}
	return StageDstPublicWithdrawal, StageDstCancellation
}

func (e *EscrowInstance) cancellationStage() Stage {
	if e.role == RoleSource {
		return StageSrcCancellation
	}
	return StageDstCancellation
}

// originalFunder is who principal returns to on cancellation: the maker
// for Source escrows, the taker (resolver) for Destination escrows.
func (e *EscrowInstance) originalFunder() common.Address {
	if e.role == RoleSource {
		return e.immutables.Maker
	}
	return e.immutables.Taker
}

// privateWithdrawCaller is who may trigger the private withdrawal window:
// the resolver reveals the secret on the Source escrow to claim the
// maker's principal (stage 1), while the maker reveals the secret on the
// Destination escrow to claim the resolver's principal (stage 5) — the
// reveal itself is what propagates the secret out-of-band to the
// counterpart chain. See DESIGN.md's resolution of the withdraw-caller
// open question.
func (e *EscrowInstance) privateWithdrawCaller() common.Address {
	if e.role == RoleSource {
		return e.immutables.Taker
	}
	return e.immutables.Maker
}

func (e *EscrowInstance) settle(secret []byte, toState State) {
	e.state = toState
	e.secret = secret
}

func (e *EscrowInstance) emit(ev Event) {
	if e.events == nil {
		return
	}
	e.events.Publish(ev)
}

// Withdraw: caller must be the role-appropriate claimant — taker for
// Source, maker for Destination (DESIGN.md resolves the ambiguity between
// SPEC_FULL.md §4.5's "taker only" text and its own stage-1/stage-5
// descriptions in favor of the worked scenario in §8). Requires Active
// state, matching Immutables, a correct secret, and now inside the
// role-appropriate private withdrawal window.
func (e *EscrowInstance) Withdraw(caller common.Address, secret []byte, im Immutables, recipient common.Address) error {
	const op = "EscrowInstance.Withdraw"

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateActive {
		return newErr(op, KindAlreadySettled, nil)
	}
	if err := e.checkImmutables(op, im); err != nil {
		return err
	}
	if caller != e.privateWithdrawCaller() {
		return newErr(op, KindUnauthorized, nil)
	}
	if !VerifySingle(secret, e.immutables.Hashlock) {
		return newErr(op, KindInvalidSecret, nil)
	}
	start, end := e.privateWithdrawWindow()
	now := e.now()
	if !e.immutables.Timelocks.InWindow(now, start, end) {
		return newErr(op, KindStageWindow, nil)
	}

	e.ledger.CreditToken(recipient, e.immutables.TokenID, e.immutables.Amount)
	e.ledger.CreditNative(caller, e.immutables.SafetyDeposit)
	e.ledger.DebitEscrowToken(e.address, e.immutables.TokenID, e.immutables.Amount)
	e.ledger.DebitEscrowNative(e.address, e.immutables.SafetyDeposit)
	e.settle(secret, StateWithdrawn)

	e.emit(Event{Type: EventWithdrawn, Address: e.address, Secret: secret, Recipient: recipient,
		Amount: e.immutables.Amount, Timestamp: now})
	return nil
}

// PublicWithdraw: anyone may call, within the wider public window. Caller
// receives the safety deposit; recipient receives principal.
func (e *EscrowInstance) PublicWithdraw(caller common.Address, secret []byte, im Immutables, recipient common.Address) error {
	const op = "EscrowInstance.PublicWithdraw"

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateActive {
		return newErr(op, KindAlreadySettled, nil)
	}
	if err := e.checkImmutables(op, im); err != nil {
		return err
	}
	if !VerifySingle(secret, e.immutables.Hashlock) {
		return newErr(op, KindInvalidSecret, nil)
	}
	start, end := e.publicWithdrawWindow()
	now := e.now()
	if !e.immutables.Timelocks.InWindow(now, start, end) {
		return newErr(op, KindStageWindow, nil)
	}

	e.ledger.CreditToken(recipient, e.immutables.TokenID, e.immutables.Amount)
	e.ledger.CreditNative(caller, e.immutables.SafetyDeposit)
	e.ledger.DebitEscrowToken(e.address, e.immutables.TokenID, e.immutables.Amount)
	e.ledger.DebitEscrowNative(e.address, e.immutables.SafetyDeposit)
	e.settle(secret, StateWithdrawn)

	e.emit(Event{Type: EventWithdrawn, Address: e.address, Secret: secret, Recipient: recipient,
		Amount: e.immutables.Amount, Timestamp: now})
	return nil
}

// Cancel: taker only for Destination; maker for Source (the reference
// implementation also permits resolver-triggered source cancel within the
// resolver-private window, i.e. before public cancellation opens — kept
// here per SPEC_FULL.md §4.5's explicit carve-out). Requires time >= the
// role's cancellation stage. Returns principal to the original funder,
// safety deposit to caller.
func (e *EscrowInstance) Cancel(caller common.Address, im Immutables) error {
	const op = "EscrowInstance.Cancel"

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateActive {
		return newErr(op, KindAlreadySettled, nil)
	}
	if err := e.checkImmutables(op, im); err != nil {
		return err
	}

	now := e.now()
	cancelStage := e.cancellationStage()
	if !e.immutables.Timelocks.IsAfter(now, cancelStage) {
		return newErr(op, KindStageWindow, nil)
	}

	authorized := false
	switch e.role {
	case RoleDestination:
		authorized = caller == e.immutables.Taker
	case RoleSource:
		if caller == e.immutables.Maker {
			authorized = true
		} else if caller == e.immutables.Taker {
			authorized = e.immutables.Timelocks.InWindow(now, StageSrcCancellation, StageSrcPublicCancellation)
		}
	}
	if !authorized {
		return newErr(op, KindUnauthorized, nil)
	}

	funder := e.originalFunder()
	e.ledger.CreditToken(funder, e.immutables.TokenID, e.immutables.Amount)
	e.ledger.CreditNative(caller, e.immutables.SafetyDeposit)
	e.ledger.DebitEscrowToken(e.address, e.immutables.TokenID, e.immutables.Amount)
	e.ledger.DebitEscrowNative(e.address, e.immutables.SafetyDeposit)
	e.settle(nil, StateCancelled)

	e.emit(Event{Type: EventCancelled, Address: e.address, Recipient: funder,
		Amount: e.immutables.Amount, Timestamp: now})
	return nil
}

// PublicCancel: anyone, Source only, after src_public_cancellation.
func (e *EscrowInstance) PublicCancel(caller common.Address, im Immutables) error {
	const op = "EscrowInstance.PublicCancel"

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.role != RoleSource {
		return newErr(op, KindUnauthorized, nil)
	}
	if e.state != StateActive {
		return newErr(op, KindAlreadySettled, nil)
	}
	if err := e.checkImmutables(op, im); err != nil {
		return err
	}

	now := e.now()
	if !e.immutables.Timelocks.IsAfter(now, StageSrcPublicCancellation) {
		return newErr(op, KindStageWindow, nil)
	}

	funder := e.originalFunder()
	e.ledger.CreditToken(funder, e.immutables.TokenID, e.immutables.Amount)
	e.ledger.CreditNative(caller, e.immutables.SafetyDeposit)
	e.ledger.DebitEscrowToken(e.address, e.immutables.TokenID, e.immutables.Amount)
	e.ledger.DebitEscrowNative(e.address, e.immutables.SafetyDeposit)
	e.settle(nil, StateCancelled)

	e.emit(Event{Type: EventCancelled, Address: e.address, Recipient: funder,
		Amount: e.immutables.Amount, Timestamp: now})
	return nil
}

// Rescue: taker only, only after deployed_at + role_rescue_delay. Extracts
// up to amount of tokenID for emergency recovery; does not itself
// terminate the escrow's lifecycle state (a rescue is an out-of-band
// emergency hatch, not a settlement).
func (e *EscrowInstance) Rescue(caller common.Address, tokenID string, amount uint64, im Immutables) error {
	const op = "EscrowInstance.Rescue"

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkImmutables(op, im); err != nil {
		return err
	}
	if caller != e.immutables.Taker {
		return newErr(op, KindUnauthorized, nil)
	}

	rescueAt, err := e.immutables.Timelocks.RescueTime(e.rescueDelay)
	if err != nil {
		return newErr(op, KindInvalidConfiguration, err)
	}
	now := e.now()
	if now < rescueAt {
		return newErr(op, KindStageWindow, nil)
	}

	if fl, ok := e.ledger.(FundingLedger); ok {
		if held := fl.EscrowTokenBalance(e.address, tokenID); held < amount {
			amount = held
		}
	}
	e.ledger.DebitEscrowToken(e.address, tokenID, amount)
	e.ledger.CreditToken(caller, tokenID, amount)
	e.emit(Event{Type: EventRescued, Address: e.address, Recipient: caller, Amount: amount, Timestamp: now})
	return nil
}
