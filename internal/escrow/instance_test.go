package escrow

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// activeWindowTimelocks returns a Timelocks bound 100s in the past whose
// private and public withdrawal windows are already open, whose cancellation
// stages are still 900s away and whose public cancellation window is still
// 1900s away, leaving ample margin either side
// of "now" for every assertion below.
func activeWindowTimelocks(t *testing.T) Timelocks {
	t.Helper()
	tl, err := NewTimelocks(0, 50, 1000, 2000, 0, 50, 1000)
	require.NoError(t, err)
	return tl.Bind(uint32(time.Now().Unix()) - 100)
}

// notYetOpenTimelocks binds deployment far enough in the future that every
// stage window remains closed.
func notYetOpenTimelocks(t *testing.T) Timelocks {
	t.Helper()
	tl, err := NewTimelocks(0, 50, 1000, 2000, 0, 50, 1000)
	require.NoError(t, err)
	return tl.Bind(uint32(time.Now().Unix()) + 100_000)
}

func newTestImmutables(t *testing.T, role Role, tl Timelocks, secret []byte) Immutables {
	t.Helper()
	return Immutables{
		OrderHash:     common.HexToHash("0x01"),
		Hashlock:      common.Hash(sum256(secret)),
		Maker:         common.HexToAddress("0xaaaa"),
		Taker:         common.HexToAddress("0xbbbb"),
		TokenID:       "USDC",
		Amount:        10_000,
		SafetyDeposit: 1_000,
		Timelocks:     tl,
	}
}

func TestEscrowInstanceWithdrawSourceRequiresTaker(t *testing.T) {
	secret := []byte("source-secret")
	im := newTestImmutables(t, RoleSource, activeWindowTimelocks(t), secret)
	ledger := NewMemoryLedger()
	inst := NewEscrowInstance(common.HexToHash("0xe1"), RoleSource, im, 10_000, ledger, nil)

	err := inst.Withdraw(im.Maker, secret, im, im.Maker)
	require.Error(t, err)
	require.True(t, Is(err, KindUnauthorized))
	require.Equal(t, StateActive, inst.State())

	err = inst.Withdraw(im.Taker, secret, im, im.Maker)
	require.NoError(t, err)
	require.Equal(t, StateWithdrawn, inst.State())
	require.Equal(t, im.Amount, ledger.TokenBalance(im.Maker, im.TokenID))
	require.Equal(t, im.SafetyDeposit, ledger.NativeBalance(im.Taker))
}

func TestEscrowInstanceWithdrawDestinationRequiresMaker(t *testing.T) {
	secret := []byte("destination-secret")
	im := newTestImmutables(t, RoleDestination, activeWindowTimelocks(t), secret)
	ledger := NewMemoryLedger()
	inst := NewEscrowInstance(common.HexToHash("0xe2"), RoleDestination, im, 10_000, ledger, nil)

	err := inst.Withdraw(im.Taker, secret, im, im.Taker)
	require.Error(t, err)
	require.True(t, Is(err, KindUnauthorized))

	err = inst.Withdraw(im.Maker, secret, im, im.Maker)
	require.NoError(t, err)
	require.Equal(t, im.Amount, ledger.TokenBalance(im.Maker, im.TokenID))
	require.Equal(t, im.SafetyDeposit, ledger.NativeBalance(im.Maker))
}

func TestEscrowInstanceWithdrawWrongSecretFails(t *testing.T) {
	secret := []byte("right-secret")
	im := newTestImmutables(t, RoleSource, activeWindowTimelocks(t), secret)
	inst := NewEscrowInstance(common.HexToHash("0xe3"), RoleSource, im, 10_000, NewMemoryLedger(), nil)

	err := inst.Withdraw(im.Taker, []byte("wrong-secret"), im, im.Maker)
	require.Error(t, err)
	require.True(t, Is(err, KindInvalidSecret))
}

func TestEscrowInstanceWithdrawOutsideWindowFails(t *testing.T) {
	secret := []byte("future-secret")
	im := newTestImmutables(t, RoleSource, notYetOpenTimelocks(t), secret)
	inst := NewEscrowInstance(common.HexToHash("0xe4"), RoleSource, im, 10_000, NewMemoryLedger(), nil)

	err := inst.Withdraw(im.Taker, secret, im, im.Maker)
	require.Error(t, err)
	require.True(t, Is(err, KindStageWindow))
}

func TestEscrowInstanceWithdrawRejectsImmutablesMismatch(t *testing.T) {
	secret := []byte("mismatch-secret")
	im := newTestImmutables(t, RoleSource, activeWindowTimelocks(t), secret)
	inst := NewEscrowInstance(common.HexToHash("0xe5"), RoleSource, im, 10_000, NewMemoryLedger(), nil)

	tampered := im
	tampered.Amount += 1
	err := inst.Withdraw(im.Taker, secret, tampered, im.Maker)
	require.Error(t, err)
	require.True(t, Is(err, KindImmutablesMismatch))
}

func TestEscrowInstancePublicWithdrawAnyCaller(t *testing.T) {
	secret := []byte("public-secret")
	im := newTestImmutables(t, RoleSource, activeWindowTimelocks(t), secret)
	ledger := NewMemoryLedger()
	inst := NewEscrowInstance(common.HexToHash("0xe6"), RoleSource, im, 10_000, ledger, nil)

	stranger := common.HexToAddress("0xdead")
	err := inst.PublicWithdraw(stranger, secret, im, im.Maker)
	require.NoError(t, err)
	require.Equal(t, im.SafetyDeposit, ledger.NativeBalance(stranger))
	require.Equal(t, im.Amount, ledger.TokenBalance(im.Maker, im.TokenID))
}

func TestEscrowInstanceDoubleSettlementFails(t *testing.T) {
	secret := []byte("settle-once")
	im := newTestImmutables(t, RoleSource, activeWindowTimelocks(t), secret)
	inst := NewEscrowInstance(common.HexToHash("0xe7"), RoleSource, im, 10_000, NewMemoryLedger(), nil)

	require.NoError(t, inst.Withdraw(im.Taker, secret, im, im.Maker))

	err := inst.Withdraw(im.Taker, secret, im, im.Maker)
	require.Error(t, err)
	require.True(t, Is(err, KindAlreadySettled))
}

func cancelWindowTimelocks(t *testing.T) Timelocks {
	t.Helper()
	// src_cancellation opens 100s in the past; src_public_cancellation is
	// still 900s away, leaving the taker's private-cancel carve-out open.
	tl, err := NewTimelocks(0, 0, 0, 1000, 0, 0, 0)
	require.NoError(t, err)
	return tl.Bind(uint32(time.Now().Unix()) - 100)
}

func TestEscrowInstanceCancelSourceMakerAfterCancellation(t *testing.T) {
	secret := []byte("cancel-secret")
	im := newTestImmutables(t, RoleSource, cancelWindowTimelocks(t), secret)
	ledger := NewMemoryLedger()
	inst := NewEscrowInstance(common.HexToHash("0xe8"), RoleSource, im, 10_000, ledger, nil)

	require.NoError(t, inst.Cancel(im.Maker, im))
	require.Equal(t, im.Amount, ledger.TokenBalance(im.Maker, im.TokenID))
	require.Equal(t, im.SafetyDeposit, ledger.NativeBalance(im.Maker))
}

func TestEscrowInstanceCancelSourceTakerAllowedInPrivateWindow(t *testing.T) {
	secret := []byte("cancel-secret-2")
	im := newTestImmutables(t, RoleSource, cancelWindowTimelocks(t), secret)
	inst := NewEscrowInstance(common.HexToHash("0xe9"), RoleSource, im, 10_000, NewMemoryLedger(), nil)

	require.NoError(t, inst.Cancel(im.Taker, im))
}

func TestEscrowInstanceCancelDestinationRequiresTaker(t *testing.T) {
	secret := []byte("dst-cancel-secret")
	im := newTestImmutables(t, RoleDestination, cancelWindowTimelocks(t), secret)
	inst := NewEscrowInstance(common.HexToHash("0xea"), RoleDestination, im, 10_000, NewMemoryLedger(), nil)

	err := inst.Cancel(im.Maker, im)
	require.Error(t, err)
	require.True(t, Is(err, KindUnauthorized))

	require.NoError(t, inst.Cancel(im.Taker, im))
}

func TestEscrowInstanceCancelBeforeCancellationStageFails(t *testing.T) {
	secret := []byte("too-early")
	im := newTestImmutables(t, RoleSource, notYetOpenTimelocks(t), secret)
	inst := NewEscrowInstance(common.HexToHash("0xeb"), RoleSource, im, 10_000, NewMemoryLedger(), nil)

	err := inst.Cancel(im.Maker, im)
	require.Error(t, err)
	require.True(t, Is(err, KindStageWindow))
}

func TestEscrowInstancePublicCancelSourceOnly(t *testing.T) {
	secret := []byte("public-cancel")
	tl, err := NewTimelocks(0, 0, 0, 0, 0, 0, 0)
	require.NoError(t, err)
	bound := tl.Bind(uint32(time.Now().Unix()) - 100)

	srcIm := newTestImmutables(t, RoleSource, bound, secret)
	srcInst := NewEscrowInstance(common.HexToHash("0xec"), RoleSource, srcIm, 10_000, NewMemoryLedger(), nil)
	stranger := common.HexToAddress("0xdead")
	require.NoError(t, srcInst.PublicCancel(stranger, srcIm))

	dstIm := newTestImmutables(t, RoleDestination, bound, secret)
	dstInst := NewEscrowInstance(common.HexToHash("0xed"), RoleDestination, dstIm, 10_000, NewMemoryLedger(), nil)
	err = dstInst.PublicCancel(stranger, dstIm)
	require.Error(t, err)
	require.True(t, Is(err, KindUnauthorized))
}

func TestEscrowInstanceRescueRequiresTakerAndWindow(t *testing.T) {
	secret := []byte("rescue-secret")
	im := newTestImmutables(t, RoleSource, activeWindowTimelocks(t), secret)
	ledger := NewMemoryLedger()
	ledger.FundEscrow(common.HexToHash("0xee"), "USDC", 500)
	inst := NewEscrowInstance(common.HexToHash("0xee"), RoleSource, im, 0, ledger, nil)

	err := inst.Rescue(im.Maker, "USDC", 500, im)
	require.Error(t, err)
	require.True(t, Is(err, KindUnauthorized))

	require.NoError(t, inst.Rescue(im.Taker, "USDC", 500, im))
	require.Equal(t, uint64(500), ledger.TokenBalance(im.Taker, "USDC"))
}

func TestEscrowInstanceRescueBeforeDelayFails(t *testing.T) {
	secret := []byte("rescue-too-early")
	im := newTestImmutables(t, RoleSource, activeWindowTimelocks(t), secret)
	inst := NewEscrowInstance(common.HexToHash("0xef"), RoleSource, im, 1_000_000, NewMemoryLedger(), nil)

	err := inst.Rescue(im.Taker, "USDC", 500, im)
	require.Error(t, err)
	require.True(t, Is(err, KindStageWindow))
}

// recordingPublisher is a Publisher stub used to verify escrow transitions
// emit the events SPEC_FULL.md §6 describes.
type recordingPublisher struct {
	events []Event
}

func (r *recordingPublisher) Publish(ev Event) { r.events = append(r.events, ev) }

func TestEscrowInstanceEmitsWithdrawnEvent(t *testing.T) {
	secret := []byte("event-secret")
	im := newTestImmutables(t, RoleSource, activeWindowTimelocks(t), secret)
	pub := &recordingPublisher{}
	inst := NewEscrowInstance(common.HexToHash("0xf0"), RoleSource, im, 10_000, NewMemoryLedger(), pub)

	require.NoError(t, inst.Withdraw(im.Taker, secret, im, im.Maker))
	require.Len(t, pub.events, 1)
	require.Equal(t, EventWithdrawn, pub.events[0].Type)
	require.Equal(t, secret, pub.events[0].Secret)
}

func TestEscrowInstanceWithdrawDrainsEscrowBalanceToZero(t *testing.T) {
	secret := []byte("drain-secret")
	im := newTestImmutables(t, RoleSource, activeWindowTimelocks(t), secret)
	ledger := NewMemoryLedger()
	addr := common.HexToHash("0xe2")
	ledger.FundEscrow(addr, im.TokenID, im.Amount)
	ledger.FundEscrowNative(addr, im.SafetyDeposit)
	inst := NewEscrowInstance(addr, RoleSource, im, 10_000, ledger, nil)

	require.NoError(t, inst.Withdraw(im.Taker, secret, im, im.Maker))
	require.Equal(t, uint64(0), ledger.EscrowTokenBalance(addr, im.TokenID))
	require.Equal(t, uint64(0), ledger.EscrowNativeBalance(addr))
}

func TestEscrowInstanceCancelDrainsEscrowBalanceToZero(t *testing.T) {
	secret := []byte("cancel-drain-secret")
	im := newTestImmutables(t, RoleSource, cancelWindowTimelocks(t), secret)
	ledger := NewMemoryLedger()
	addr := common.HexToHash("0xe3")
	ledger.FundEscrow(addr, im.TokenID, im.Amount)
	ledger.FundEscrowNative(addr, im.SafetyDeposit)
	inst := NewEscrowInstance(addr, RoleSource, im, 10_000, ledger, nil)

	require.NoError(t, inst.Cancel(im.Maker, im))
	require.Equal(t, uint64(0), ledger.EscrowTokenBalance(addr, im.TokenID))
	require.Equal(t, uint64(0), ledger.EscrowNativeBalance(addr))
}
