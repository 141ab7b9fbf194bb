package escrow

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func sampleImmutables(t *testing.T) Immutables {
	t.Helper()
	tl, err := NewTimelocks(10, 20, 30, 40, 5, 15, 25)
	require.NoError(t, err)
	return Immutables{
		OrderHash:     common.HexToHash("0x01"),
		Hashlock:      common.HexToHash("0x02"),
		Maker:         common.HexToAddress("0xaaaa"),
		Taker:         common.HexToAddress("0xbbbb"),
		TokenID:       "USDC",
		Amount:        10_000,
		SafetyDeposit: 1_000,
		Timelocks:     tl.Bind(100),
	}
}

func TestImmutablesHashStable(t *testing.T) {
	im := sampleImmutables(t)
	require.Equal(t, im.Hash(), im.Hash())
}

func TestImmutablesEqualDetectsSingleFieldMutation(t *testing.T) {
	base := sampleImmutables(t)

	withDifferentAmount := base
	withDifferentAmount.Amount++
	require.False(t, base.Equal(withDifferentAmount))

	withDifferentDeposit := base
	withDifferentDeposit.SafetyDeposit++
	require.False(t, base.Equal(withDifferentDeposit))

	withDifferentMaker := base
	withDifferentMaker.Maker = common.HexToAddress("0xcccc")
	require.False(t, base.Equal(withDifferentMaker))

	withDifferentToken := base
	withDifferentToken.TokenID = "DAI"
	require.False(t, base.Equal(withDifferentToken))

	identical := base
	require.True(t, base.Equal(identical))
}

func TestImmutablesEncodeIsLengthPrefixedAgainstTokenIDAmbiguity(t *testing.T) {
	a := sampleImmutables(t)
	a.TokenID = "AB"

	b := sampleImmutables(t)
	b.TokenID = "A"
	// Shifting a byte from TokenID into nothing would collide under naive
	// concatenation; length-prefixing must keep these distinct.
	require.NotEqual(t, a.Hash(), b.Hash())
}
