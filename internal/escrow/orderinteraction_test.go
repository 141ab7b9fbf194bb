package escrow

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestSrcEscrowArgsCodecRoundTrip(t *testing.T) {
	tl := standardSrcTimelocks(t).Bind(uint32(time.Now().Unix()))

	original := SrcEscrowArgs{
		HashlockInfo:  common.HexToHash("0x0a"),
		Timelocks:     tl,
		DepositsHi:    1_000,
		DepositsLo:    2_000,
		AccessBalance: 42,
		FeeConfig: FeeConfig{
			Enabled:              true,
			ResolverFee:          100,
			AccessTokenThreshold: 10,
		},
		Whitelist: []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")},
		MultiFill: &MultiFillTakerData{
			Root:       common.HexToHash("0x0b"),
			Proof:      MerkleProof{common.HexToHash("0x0c"), common.HexToHash("0x0d")},
			Index:      3,
			SecretHash: common.HexToHash("0x0e"),
			Parts:      8,
			ThisFill:   50,
		},
		DstComplement: DstComplement{
			MakerOnDst:       common.HexToAddress("0x03"),
			TakingAmount:     500,
			DstTokenID:       "SUI",
			DstSafetyDeposit: 20,
			DstChainID:       101,
		},
	}

	blob := EncodeSrcEscrowArgs(original)
	decoded, err := DecodeSrcEscrowArgs(blob)
	require.NoError(t, err)

	require.Equal(t, original.HashlockInfo, decoded.HashlockInfo)
	require.Equal(t, original.DepositsHi, decoded.DepositsHi)
	require.Equal(t, original.DepositsLo, decoded.DepositsLo)
	require.Equal(t, original.AccessBalance, decoded.AccessBalance)
	require.Equal(t, original.FeeConfig, decoded.FeeConfig)
	require.Equal(t, original.Whitelist, decoded.Whitelist)
	require.Equal(t, original.DstComplement, decoded.DstComplement)
	require.NotNil(t, decoded.MultiFill)
	require.Equal(t, *original.MultiFill, *decoded.MultiFill)

	wantStage, err := original.Timelocks.StageTime(StageDstCancellation)
	require.NoError(t, err)
	gotStage, err := decoded.Timelocks.StageTime(StageDstCancellation)
	require.NoError(t, err)
	require.Equal(t, wantStage, gotStage)
}

func TestSrcEscrowArgsCodecRoundTripWithoutMultiFill(t *testing.T) {
	tl := standardSrcTimelocks(t).Bind(uint32(time.Now().Unix()))
	original := SrcEscrowArgs{
		HashlockInfo: common.HexToHash("0x0a"),
		Timelocks:    tl,
		DstComplement: DstComplement{
			MakerOnDst: common.HexToAddress("0x03"),
			DstTokenID: "SUI",
		},
	}

	blob := EncodeSrcEscrowArgs(original)
	decoded, err := DecodeSrcEscrowArgs(blob)
	require.NoError(t, err)
	require.Nil(t, decoded.MultiFill)
	require.Empty(t, decoded.Whitelist)
}

func TestDecodeSrcEscrowArgsRejectsTruncatedBlob(t *testing.T) {
	_, err := DecodeSrcEscrowArgs([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestOrderInteractionPostInteractionCreatesSourceEscrow(t *testing.T) {
	ledger := NewMemoryLedger()
	bus := NewEventBus()
	sub := bus.Subscribe(8)
	factory := NewFactoryRegistry(ledger, bus, NewMerkleIndex())
	require.NoError(t, factory.Initialize(common.HexToAddress("0xf00d"), 0, 0, &alwaysAllowFeeAdapter{}))

	oi := NewOrderInteraction(factory, nil, bus)

	secret := []byte("post-interaction-secret")
	tl := standardSrcTimelocks(t)
	args := SrcEscrowArgs{HashlockInfo: common.Hash(sum256(secret)), Timelocks: tl}
	now := uint32(time.Now().Unix())

	orderHash := common.HexToHash("0x99")
	maker := common.HexToAddress("0xaaaa")
	taker := common.HexToAddress("0xbbbb")

	im := Immutables{
		OrderHash: orderHash, Hashlock: args.HashlockInfo, Maker: maker, Taker: taker,
		TokenID: "USDC", Amount: 10, Timelocks: args.Timelocks.Bind(now),
	}
	predictedAddr := DeriveEscrowAddress(factory.FactoryID(), im, RoleSource)
	ledger.FundEscrow(predictedAddr, "USDC", 10)

	addr, err := oi.PostInteraction(PostInteractionParams{
		OrderHash: orderHash, Maker: maker, Taker: taker, TokenID: "USDC",
		MakingAmount: 10, TakingAmount: 5, RemainingMakingAmount: 10,
		Extra: EncodeSrcEscrowArgs(args), Now: now,
	})
	require.NoError(t, err)
	require.Equal(t, predictedAddr, addr)

	var gotFilled, gotCreated bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub:
			if ev.Type == EventOrderFilled {
				gotFilled = true
			}
			if ev.Type == EventSrcEscrowCreated {
				gotCreated = true
			}
		default:
		}
	}
	require.True(t, gotFilled)
	require.True(t, gotCreated)
}
