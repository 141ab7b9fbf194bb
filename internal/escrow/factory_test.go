package escrow

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// alwaysAllowFeeAdapter admits every resolver for free, used by factory
// tests that aren't exercising the fee-charging path itself.
type alwaysAllowFeeAdapter struct {
	charged map[common.Address]uint64
}

func (a *alwaysAllowFeeAdapter) ValidateResolverAccess(common.Address, uint32, uint64, FeeConfig) (AccessVerdict, uint64, error) {
	return AccessOk, 0, nil
}

func (a *alwaysAllowFeeAdapter) Charge(resolver common.Address, fee uint64) error {
	if a.charged == nil {
		a.charged = make(map[common.Address]uint64)
	}
	a.charged[resolver] += fee
	return nil
}

func newTestFactory(t *testing.T) (*FactoryRegistry, *MemoryLedger, *alwaysAllowFeeAdapter) {
	t.Helper()
	ledger := NewMemoryLedger()
	bus := NewEventBus()
	f := NewFactoryRegistry(ledger, bus, NewMerkleIndex())
	fee := &alwaysAllowFeeAdapter{}
	require.NoError(t, f.Initialize(common.HexToAddress("0xf00d"), 10_000, 10_000, fee))
	return f, ledger, fee
}

func standardSrcTimelocks(t *testing.T) Timelocks {
	t.Helper()
	tl, err := NewTimelocks(0, 50, 1000, 2000, 0, 50, 1000)
	require.NoError(t, err)
	return tl
}

func TestFactoryCreateSourceRequiresPreFundedBalance(t *testing.T) {
	f, _, _ := newTestFactory(t)

	args := SrcEscrowArgs{
		HashlockInfo: common.Hash(sum256([]byte("single-fill-secret"))),
		Timelocks:    standardSrcTimelocks(t),
	}
	now := uint32(time.Now().Unix())

	_, err := f.CreateSource(SrcCreateParams{
		OrderHash:             common.HexToHash("0x01"),
		Maker:                 common.HexToAddress("0xaaaa"),
		Taker:                 common.HexToAddress("0xbbbb"),
		TokenID:               "USDC",
		MakingAmount:          10_000,
		TakingAmount:          5_000,
		RemainingMakingAmount: 10_000,
		Args:                  args,
		Now:                   now,
	})
	require.Error(t, err)
	require.True(t, Is(err, KindInsufficientBalance))
}

func TestFactoryCreateSourceSucceedsOncePreFunded(t *testing.T) {
	f, ledger, _ := newTestFactory(t)

	secret := []byte("single-fill-secret")
	args := SrcEscrowArgs{
		HashlockInfo: common.Hash(sum256(secret)),
		Timelocks:    standardSrcTimelocks(t),
	}
	now := uint32(time.Now().Unix())
	params := SrcCreateParams{
		OrderHash:             common.HexToHash("0x01"),
		Maker:                 common.HexToAddress("0xaaaa"),
		Taker:                 common.HexToAddress("0xbbbb"),
		TokenID:               "USDC",
		MakingAmount:          10_000,
		TakingAmount:          5_000,
		RemainingMakingAmount: 10_000,
		Args:                  args,
		Now:                   now,
	}

	im := Immutables{
		OrderHash:     params.OrderHash,
		Hashlock:      args.HashlockInfo,
		Maker:         params.Maker,
		Taker:         params.Taker,
		TokenID:       params.TokenID,
		Amount:        params.MakingAmount,
		SafetyDeposit: args.DepositsHi,
		Timelocks:     args.Timelocks.Bind(now),
	}
	predictedAddr := DeriveEscrowAddress(f.FactoryID(), im, RoleSource)
	ledger.FundEscrow(predictedAddr, "USDC", 10_000)
	ledger.FundEscrowNative(predictedAddr, 0)

	addr, err := f.CreateSource(params)
	require.NoError(t, err)
	require.Equal(t, predictedAddr, addr)

	srcCount, dstCount := f.Counts()
	require.Equal(t, uint64(1), srcCount)
	require.Equal(t, uint64(0), dstCount)

	inst, ok := f.Escrow(addr)
	require.True(t, ok)
	require.Equal(t, RoleSource, inst.Role())
}

func TestFactoryCreateSourceMultiFillUsesValidatedSecretHash(t *testing.T) {
	f, ledger, _ := newTestFactory(t)

	leaves := make([]common.Hash, 4)
	secretHashes := make([]common.Hash, 4)
	for i := range leaves {
		secretHashes[i] = common.Hash(sum256([]byte{byte(i)}))
		leaves[i] = MerkleLeaf(uint64(i), secretHashes[i])
	}
	root, proofs := BuildMerkleTree(leaves)

	var hashlockInfo common.Hash
	copy(hashlockInfo[24:32], []byte{0, 0, 0, 0, 0, 0, 0, 4}) // parts = 4

	args := SrcEscrowArgs{
		HashlockInfo: hashlockInfo,
		Timelocks:    standardSrcTimelocks(t),
		MultiFill: &MultiFillTakerData{
			Root:       root,
			Proof:      proofs[1],
			Index:      1,
			SecretHash: secretHashes[1],
			Parts:      4,
			ThisFill:   25,
		},
	}
	now := uint32(time.Now().Unix())
	orderHash := common.HexToHash("0x02")
	params := SrcCreateParams{
		OrderHash:             orderHash,
		Maker:                 common.HexToAddress("0xaaaa"),
		Taker:                 common.HexToAddress("0xbbbb"),
		TokenID:               "USDC",
		MakingAmount:          100,
		TakingAmount:          50,
		RemainingMakingAmount: 100,
		Args:                  args,
		Now:                   now,
	}

	im := Immutables{
		OrderHash:     orderHash,
		Hashlock:      secretHashes[1],
		Maker:         params.Maker,
		Taker:         params.Taker,
		TokenID:       params.TokenID,
		Amount:        params.MakingAmount,
		SafetyDeposit: 0,
		Timelocks:     args.Timelocks.Bind(now),
	}
	predictedAddr := DeriveEscrowAddress(f.FactoryID(), im, RoleSource)
	ledger.FundEscrow(predictedAddr, "USDC", 100)

	addr, err := f.CreateSource(params)
	require.NoError(t, err)

	inst, ok := f.Escrow(addr)
	require.True(t, ok)
	require.Equal(t, secretHashes[1], inst.Immutables().Hashlock)
}

func TestFactoryCreateSourceChargesFeeOnAccessCharge(t *testing.T) {
	ledger := NewMemoryLedger()
	bus := NewEventBus()
	f := NewFactoryRegistry(ledger, bus, NewMerkleIndex())
	fee := &chargingFeeAdapter{fee: 250}
	require.NoError(t, f.Initialize(common.HexToAddress("0xf00d"), 0, 0, fee))

	secret := []byte("charged-secret")
	args := SrcEscrowArgs{HashlockInfo: common.Hash(sum256(secret)), Timelocks: standardSrcTimelocks(t)}
	now := uint32(time.Now().Unix())
	taker := common.HexToAddress("0xbbbb")
	params := SrcCreateParams{
		OrderHash: common.HexToHash("0x03"), Maker: common.HexToAddress("0xaaaa"), Taker: taker,
		TokenID: "USDC", MakingAmount: 10, TakingAmount: 5, RemainingMakingAmount: 10,
		Args: args, Now: now,
	}
	im := Immutables{
		OrderHash: params.OrderHash, Hashlock: args.HashlockInfo, Maker: params.Maker, Taker: params.Taker,
		TokenID: params.TokenID, Amount: params.MakingAmount, Timelocks: args.Timelocks.Bind(now),
	}
	addr := DeriveEscrowAddress(f.FactoryID(), im, RoleSource)
	ledger.FundEscrow(addr, "USDC", 10)

	_, err := f.CreateSource(params)
	require.NoError(t, err)
	require.Equal(t, uint64(250), fee.charged[taker])
}

type chargingFeeAdapter struct {
	fee     uint64
	charged map[common.Address]uint64
}

func (c *chargingFeeAdapter) ValidateResolverAccess(common.Address, uint32, uint64, FeeConfig) (AccessVerdict, uint64, error) {
	return AccessCharge, c.fee, nil
}

func (c *chargingFeeAdapter) Charge(resolver common.Address, fee uint64) error {
	if c.charged == nil {
		c.charged = make(map[common.Address]uint64)
	}
	c.charged[resolver] += fee
	return nil
}

func TestFactoryCreateDestinationRejectsExcessiveCancellationWindow(t *testing.T) {
	f, _, _ := newTestFactory(t)

	tl := standardSrcTimelocks(t)
	im := Immutables{
		OrderHash: common.HexToHash("0x04"), Hashlock: common.HexToHash("0x05"),
		Maker: common.HexToAddress("0xaaaa"), Taker: common.HexToAddress("0xbbbb"),
		TokenID: "USDC", Amount: 100, SafetyDeposit: 10, Timelocks: tl,
	}
	now := uint32(time.Now().Unix())

	_, err := f.CreateDestination(DstCreateParams{
		Caller: im.Taker, Immutables: im, TokensProvided: 100, SafetyDepositProvided: 10,
		SrcCancellationTimestamp: now + 1, // dst_cancellation (now+1000) outlives this
		Now:                      now,
	})
	require.Error(t, err)
	require.True(t, Is(err, KindInvalidCreationTime))
}

func TestFactoryCreateDestinationRefundsExcessAndFundsEscrow(t *testing.T) {
	f, ledger, _ := newTestFactory(t)

	tl := standardSrcTimelocks(t)
	caller := common.HexToAddress("0xcafe")
	im := Immutables{
		OrderHash: common.HexToHash("0x06"), Hashlock: common.HexToHash("0x07"),
		Maker: common.HexToAddress("0xaaaa"), Taker: common.HexToAddress("0xbbbb"),
		TokenID: "USDC", Amount: 100, SafetyDeposit: 10, Timelocks: tl,
	}
	now := uint32(time.Now().Unix())

	addr, err := f.CreateDestination(DstCreateParams{
		Caller: caller, Immutables: im, TokensProvided: 150, SafetyDepositProvided: 30,
		SrcCancellationTimestamp: now + 100_000,
		Now:                      now,
	})
	require.NoError(t, err)

	require.Equal(t, uint64(50), ledger.TokenBalance(caller, "USDC"))
	require.Equal(t, uint64(20), ledger.NativeBalance(caller))
	require.Equal(t, uint64(100), ledger.EscrowTokenBalance(addr, "USDC"))
	require.Equal(t, uint64(10), ledger.EscrowNativeBalance(addr))

	inst, ok := f.Escrow(addr)
	require.True(t, ok)
	require.Equal(t, RoleDestination, inst.Role())
}

func TestFactoryInitializeTwiceFails(t *testing.T) {
	f, _, fee := newTestFactory(t)
	err := f.Initialize(common.HexToAddress("0xf00d"), 1, 1, fee)
	require.Error(t, err)
	require.True(t, Is(err, KindInvalidConfiguration))
}
